package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const validConfig = `version: "1.0"
title: "Bus Stop"
stage_rule: conversation
world:
  reference: city
  bible:
    city: "A rainy harbour town."
orchestrator:
  turn_timeout: 5s
  history_window: 10
actors:
  alice:
    name: Alice
    persona: "A retired sailor"
    secrets: ["She owns the bus company"]
    generator:
      kind: scripted
      lines: ["Hello there."]
  bob:
    persona: "A nervous student"
    generator:
      kind: command
      command: ["./bob.sh"]
script:
  - id: s1
    title: Arrival
    description: "Two strangers wait for a bus"
    actors: [alice, bob]
    max_turns: 4
  - id: s2
    description: "The bus never comes"
    actors: [bob]
`

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "stage.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(validConfig), 0644))

	config, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "1.0", config.Version)
	assert.Equal(t, "Bus Stop", config.Title)
	assert.Equal(t, "conversation", config.StageRule)
	assert.Equal(t, "city", config.World.Reference)
	assert.Len(t, config.Actors, 2)
	assert.Equal(t, "Alice", config.Actors["alice"].Name)
	assert.Equal(t, []string{"./bob.sh"}, config.Actors["bob"].Generator.Command)
	assert.Equal(t, []string{"alice", "bob"}, config.Roster())

	require.Len(t, config.Script, 2)
	assert.Equal(t, 4, config.Script[0].MaxTurns)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	config, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	o := config.Orchestrator
	require.NotNil(t, o)
	assert.Equal(t, 5*time.Second, o.TurnTimeout.Std())
	assert.Equal(t, DefaultAdaptationTimeout, o.AdaptationTimeout.Std())
	assert.Equal(t, DefaultEndMarker, o.EndMarker)
	assert.Equal(t, 10, o.HistoryWindow)
	assert.Equal(t, DefaultCommandBuffer, o.CommandBuffer)
	assert.Equal(t, DefaultObserverBuffer, o.ObserverBuffer)

	// Scene defaults inherit from the orchestrator and session
	s2 := config.Script[1]
	assert.Equal(t, DefaultMaxTurns, s2.MaxTurns)
	assert.Equal(t, DefaultEndMarker, s2.EndMarker)
	assert.Equal(t, "conversation", s2.StageRule)

	require.NotNil(t, config.Director)
	assert.Equal(t, DirectorNone, config.Director.Kind)
	require.NotNil(t, config.Persistence)
	assert.Equal(t, PersistenceNone, config.Persistence.Kind)
	assert.Equal(t, DefaultNamespace, config.Persistence.Namespace)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/stage.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestParse_InvalidYAML(t *testing.T) {
	config, err := Parse([]byte("actors: [unterminated"))
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *SessionConfig)
		field  string
	}{
		{"bad version", func(c *SessionConfig) { c.Version = "2.0" }, "version"},
		{"no actors", func(c *SessionConfig) { c.Actors = nil }, "actors"},
		{"missing persona", func(c *SessionConfig) {
			a := c.Actors["alice"]
			a.Persona = ""
			c.Actors["alice"] = a
		}, "actors.alice"},
		{"missing generator kind", func(c *SessionConfig) {
			a := c.Actors["alice"]
			a.Generator.Kind = ""
			c.Actors["alice"] = a
		}, "actors.alice.generator"},
		{"scripted without lines", func(c *SessionConfig) {
			a := c.Actors["alice"]
			a.Generator.Lines = nil
			c.Actors["alice"] = a
		}, "actors.alice.generator"},
		{"command without command", func(c *SessionConfig) {
			a := c.Actors["bob"]
			a.Generator.Command = nil
			c.Actors["bob"] = a
		}, "actors.bob.generator"},
		{"empty script", func(c *SessionConfig) { c.Script = nil }, "script"},
		{"unknown scene actor", func(c *SessionConfig) { c.Script[0].Actors = []string{"carol"} }, "script[0]"},
		{"duplicate scene id", func(c *SessionConfig) { c.Script[1].ID = "s1" }, "script[1]"},
		{"scene without description", func(c *SessionConfig) { c.Script[1].Description = "" }, "script[1]"},
		{"negative max turns", func(c *SessionConfig) { c.Script[0].MaxTurns = -1 }, "script[0]"},
		{"negative timeout", func(c *SessionConfig) {
			c.Orchestrator.TurnTimeout = Duration(-time.Second)
		}, "orchestrator.turn_timeout"},
		{"placeholder with two verbs", func(c *SessionConfig) {
			c.Orchestrator.PlaceholderText = "%s and %s"
		}, "orchestrator.placeholder_text"},
		{"director without command", func(c *SessionConfig) {
			c.Director = &DirectorConfig{Kind: DirectorCommand}
		}, "director"},
		{"unknown director", func(c *SessionConfig) {
			c.Director = &DirectorConfig{Kind: "oracle"}
		}, "director"},
		{"redis without url", func(c *SessionConfig) {
			c.Persistence = &PersistenceConfig{Kind: PersistenceRedis}
		}, "persistence.redis_url"},
		{"sqlite without path", func(c *SessionConfig) {
			c.Persistence = &PersistenceConfig{Kind: PersistenceSQLite}
		}, "persistence.sqlite_path"},
		{"unknown persistence", func(c *SessionConfig) {
			c.Persistence = &PersistenceConfig{Kind: "s3"}
		}, "persistence"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var config SessionConfig
			require.NoError(t, yaml.Unmarshal([]byte(validConfig), &config))
			tt.mutate(&config)

			err := config.Validate()
			require.Error(t, err)
			ce, ok := AsConfigError(err)
			require.True(t, ok, "expected ConfigError, got %T", err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestParse_JSONBody(t *testing.T) {
	body := `{
		"title": "JSON session",
		"orchestrator": {"turn_timeout": 2},
		"actors": {"a": {"persona": "p", "generator": {"kind": "scripted", "lines": ["hi"]}}},
		"script": [{"id": "s1", "description": "d", "actors": ["a"], "max_turns": 1}]
	}`

	var config SessionConfig
	require.NoError(t, json.Unmarshal([]byte(body), &config))
	require.NoError(t, config.Validate())

	assert.Equal(t, "1.0", config.Version)
	assert.Equal(t, 2*time.Second, config.Orchestrator.TurnTimeout.Std())
	assert.Equal(t, 1, config.Script[0].MaxTurns)
	assert.Equal(t, DefaultStageRule, config.Script[0].StageRule)
}

func TestDuration(t *testing.T) {
	t.Run("yaml string and number", func(t *testing.T) {
		var v struct {
			A Duration `yaml:"a"`
			B Duration `yaml:"b"`
		}
		require.NoError(t, yaml.Unmarshal([]byte("a: 1m30s\nb: 3\n"), &v))
		assert.Equal(t, 90*time.Second, v.A.Std())
		assert.Equal(t, 3*time.Second, v.B.Std())
	})

	t.Run("json round trip keeps the string form", func(t *testing.T) {
		data, err := json.Marshal(Duration(1500 * time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, `"1.5s"`, string(data))

		var d Duration
		require.NoError(t, json.Unmarshal(data, &d))
		assert.Equal(t, 1500*time.Millisecond, d.Std())
	})

	t.Run("rejects garbage", func(t *testing.T) {
		var d Duration
		assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
		assert.Error(t, json.Unmarshal([]byte(`true`), &d))
	})

	t.Run("schema describes a string", func(t *testing.T) {
		schema := Duration(0).JSONSchema()
		assert.Equal(t, "string", schema.Type)
	})
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("actors", "no actors defined")
	assert.Equal(t, "config error: actors: no actors defined", err.Error())
	assert.True(t, IsConfigError(err))
	assert.False(t, IsConfigError(os.ErrNotExist))

	bare := &ConfigError{Reason: "broken"}
	assert.Equal(t, "config error: broken", bare.Error())
}
