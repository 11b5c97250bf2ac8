package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/troupe/pkg/blackboard"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when a field is omitted.
const (
	DefaultTurnTimeout       = 30 * time.Second
	DefaultAdaptationTimeout = 60 * time.Second
	DefaultEndMarker         = "[SCENE_END]"
	DefaultMaxTurns          = 8
	DefaultHistoryWindow     = 20
	DefaultPlaceholderText   = "%s falls silent."
	DefaultCommandBuffer     = 32
	DefaultObserverBuffer    = 64
	DefaultStageRule         = "chat_group"
	DefaultNamespace         = "default"
)

// Generator and director kinds.
const (
	GeneratorScripted = "scripted"
	GeneratorCommand  = "command"

	DirectorNone    = "none"
	DirectorCommand = "command"

	PersistenceNone   = "none"
	PersistenceRedis  = "redis"
	PersistenceSQLite = "sqlite"
)

// SessionConfig represents a stage.yml file or the JSON body of a session
// init request. YAML and JSON share field names.
type SessionConfig struct {
	Version      string              `yaml:"version" json:"version"`
	Title        string              `yaml:"title,omitempty" json:"title,omitempty"`
	StageRule    string              `yaml:"stage_rule,omitempty" json:"stage_rule,omitempty"`
	World        WorldConfig         `yaml:"world,omitempty" json:"world,omitempty"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator,omitempty" json:"orchestrator,omitempty"`
	Actors       map[string]Actor    `yaml:"actors" json:"actors"`
	Director     *DirectorConfig     `yaml:"director,omitempty" json:"director,omitempty"`
	Script       []blackboard.Scene  `yaml:"script" json:"script"`
	Persistence  *PersistenceConfig  `yaml:"persistence,omitempty" json:"persistence,omitempty"`
}

// WorldConfig points at the world-knowledge the actors share.
type WorldConfig struct {
	Reference string            `yaml:"reference,omitempty" json:"reference,omitempty"`
	Bible     map[string]string `yaml:"bible,omitempty" json:"bible,omitempty"`
}

// OrchestratorConfig specifies stage loop behaviour.
type OrchestratorConfig struct {
	TurnTimeout       Duration `yaml:"turn_timeout,omitempty" json:"turn_timeout,omitempty"`
	AdaptationTimeout Duration `yaml:"adaptation_timeout,omitempty" json:"adaptation_timeout,omitempty"`
	EndMarker         string   `yaml:"end_marker,omitempty" json:"end_marker,omitempty"`
	DefaultMaxTurns   int      `yaml:"default_max_turns,omitempty" json:"default_max_turns,omitempty"`
	HistoryWindow     int      `yaml:"history_window,omitempty" json:"history_window,omitempty"`
	PlaceholderText   string   `yaml:"placeholder_text,omitempty" json:"placeholder_text,omitempty"`
	CommandBuffer     int      `yaml:"command_buffer,omitempty" json:"command_buffer,omitempty"`
	ObserverBuffer    int      `yaml:"observer_buffer,omitempty" json:"observer_buffer,omitempty"`
}

// Actor is one roster member.
type Actor struct {
	Name      string          `yaml:"name,omitempty" json:"name,omitempty"`
	Persona   string          `yaml:"persona" json:"persona"`
	Secrets   []string        `yaml:"secrets,omitempty" json:"secrets,omitempty"`
	Memory    []string        `yaml:"memory,omitempty" json:"memory,omitempty"`
	Generator GeneratorConfig `yaml:"generator" json:"generator"`
}

// GeneratorConfig selects the actor-generation collaborator variant.
type GeneratorConfig struct {
	Kind    string   `yaml:"kind" json:"kind"`
	Command []string `yaml:"command,omitempty" json:"command,omitempty"`
	Lines   []string `yaml:"lines,omitempty" json:"lines,omitempty"`
}

// DirectorConfig selects the adaptation collaborator variant.
type DirectorConfig struct {
	Kind    string   `yaml:"kind" json:"kind"`
	Command []string `yaml:"command,omitempty" json:"command,omitempty"`
}

// PersistenceConfig selects where a headless run records its events.
type PersistenceConfig struct {
	Kind       string `yaml:"kind" json:"kind"`
	RedisURL   string `yaml:"redis_url,omitempty" json:"redis_url,omitempty"`
	Namespace  string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	SQLitePath string `yaml:"sqlite_path,omitempty" json:"sqlite_path,omitempty"`
}

// Validate performs strict validation on the configuration and applies defaults.
// Every failure is a *ConfigError.
func (c *SessionConfig) Validate() error {
	// Version defaults to 1.0 for init requests that omit it
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Version != "1.0" {
		return newConfigError("version", "unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.StageRule == "" {
		c.StageRule = DefaultStageRule
	}

	if err := c.applyOrchestratorDefaults(); err != nil {
		return err
	}

	// Required: at least one actor
	if len(c.Actors) == 0 {
		return newConfigError("actors", "no actors defined")
	}
	for id, actor := range c.Actors {
		if err := actor.Validate(id); err != nil {
			return err
		}
	}

	if c.Director == nil {
		c.Director = &DirectorConfig{Kind: DirectorNone}
	}
	if err := c.Director.Validate(); err != nil {
		return err
	}

	if c.Persistence == nil {
		c.Persistence = &PersistenceConfig{Kind: PersistenceNone}
	}
	if err := c.Persistence.Validate(); err != nil {
		return err
	}

	return c.validateScript()
}

func (c *SessionConfig) applyOrchestratorDefaults() error {
	if c.Orchestrator == nil {
		c.Orchestrator = &OrchestratorConfig{}
	}
	o := c.Orchestrator

	if o.TurnTimeout == 0 {
		o.TurnTimeout = Duration(DefaultTurnTimeout)
	}
	if o.AdaptationTimeout == 0 {
		o.AdaptationTimeout = Duration(DefaultAdaptationTimeout)
	}
	if o.EndMarker == "" {
		o.EndMarker = DefaultEndMarker
	}
	if o.DefaultMaxTurns == 0 {
		o.DefaultMaxTurns = DefaultMaxTurns
	}
	if o.HistoryWindow == 0 {
		o.HistoryWindow = DefaultHistoryWindow
	}
	if o.PlaceholderText == "" {
		o.PlaceholderText = DefaultPlaceholderText
	}
	if o.CommandBuffer == 0 {
		o.CommandBuffer = DefaultCommandBuffer
	}
	if o.ObserverBuffer == 0 {
		o.ObserverBuffer = DefaultObserverBuffer
	}

	switch {
	case o.TurnTimeout < 0:
		return newConfigError("orchestrator.turn_timeout", "must be > 0, got %s", o.TurnTimeout)
	case o.AdaptationTimeout < 0:
		return newConfigError("orchestrator.adaptation_timeout", "must be > 0, got %s", o.AdaptationTimeout)
	case o.DefaultMaxTurns < 1:
		return newConfigError("orchestrator.default_max_turns", "must be >= 1, got %d", o.DefaultMaxTurns)
	case o.HistoryWindow < 0:
		return newConfigError("orchestrator.history_window", "must be >= 0 (0 = unlimited), got %d", o.HistoryWindow)
	case o.CommandBuffer < 1:
		return newConfigError("orchestrator.command_buffer", "must be >= 1, got %d", o.CommandBuffer)
	case o.ObserverBuffer < 1:
		return newConfigError("orchestrator.observer_buffer", "must be >= 1, got %d", o.ObserverBuffer)
	case strings.Count(o.PlaceholderText, "%s") > 1:
		return newConfigError("orchestrator.placeholder_text", "may contain at most one %%s")
	}
	return nil
}

// validateScript applies per-scene defaults and checks every scene against the roster.
func (c *SessionConfig) validateScript() error {
	// Required: a non-empty script queue
	if len(c.Script) == 0 {
		return newConfigError("script", "script queue is empty")
	}

	seen := make(map[string]bool, len(c.Script))
	for i := range c.Script {
		scene := &c.Script[i]
		field := fmt.Sprintf("script[%d]", i)

		if scene.MaxTurns == 0 {
			scene.MaxTurns = c.Orchestrator.DefaultMaxTurns
		}
		if scene.EndMarker == "" {
			scene.EndMarker = c.Orchestrator.EndMarker
		}
		if scene.StageRule == "" {
			scene.StageRule = c.StageRule
		}

		if err := scene.Validate(); err != nil {
			return newConfigError(field, "%v", err)
		}
		if seen[scene.ID] {
			return newConfigError(field, "duplicate scene id '%s'", scene.ID)
		}
		seen[scene.ID] = true

		for _, actorID := range scene.Actors {
			if _, ok := c.Actors[actorID]; !ok {
				return newConfigError(field, "scene '%s' references unknown actor '%s'", scene.ID, actorID)
			}
		}
	}
	return nil
}

// Validate performs validation on a single actor configuration.
func (a *Actor) Validate(id string) error {
	field := fmt.Sprintf("actors.%s", id)

	if strings.TrimSpace(id) == "" {
		return newConfigError("actors", "actor id cannot be empty")
	}

	// Required: persona
	if strings.TrimSpace(a.Persona) == "" {
		return newConfigError(field, "persona is required")
	}

	switch a.Generator.Kind {
	case GeneratorScripted:
		if len(a.Generator.Lines) == 0 {
			return newConfigError(field+".generator", "scripted generator needs at least one line")
		}
	case GeneratorCommand:
		if len(a.Generator.Command) == 0 {
			return newConfigError(field+".generator", "command is required")
		}
	case "":
		return newConfigError(field+".generator", "kind is required")
	default:
		return newConfigError(field+".generator", "invalid kind: %s (must be '%s' or '%s')",
			a.Generator.Kind, GeneratorScripted, GeneratorCommand)
	}
	return nil
}

// Validate checks the director configuration.
func (d *DirectorConfig) Validate() error {
	switch d.Kind {
	case "", DirectorNone:
		d.Kind = DirectorNone
	case DirectorCommand:
		if len(d.Command) == 0 {
			return newConfigError("director", "command is required")
		}
	default:
		return newConfigError("director", "invalid kind: %s (must be '%s' or '%s')", d.Kind, DirectorNone, DirectorCommand)
	}
	return nil
}

// Validate checks the persistence configuration and applies defaults.
func (p *PersistenceConfig) Validate() error {
	switch p.Kind {
	case "", PersistenceNone:
		p.Kind = PersistenceNone
	case PersistenceRedis:
		if p.RedisURL == "" {
			return newConfigError("persistence.redis_url", "required when kind is redis")
		}
	case PersistenceSQLite:
		if p.SQLitePath == "" {
			return newConfigError("persistence.sqlite_path", "required when kind is sqlite")
		}
	default:
		return newConfigError("persistence", "invalid kind: %s (must be 'none', 'redis' or 'sqlite')", p.Kind)
	}
	if p.Namespace == "" {
		p.Namespace = DefaultNamespace
	}
	return nil
}

// Roster returns the actor ids in sorted order.
func (c *SessionConfig) Roster() []string {
	ids := make([]string, 0, len(c.Actors))
	for id := range c.Actors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Parse decodes and validates a YAML (or JSON) session configuration.
func Parse(data []byte) (*SessionConfig, error) {
	var config SessionConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Load reads and validates a stage.yml from the specified path.
func Load(path string) (*SessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}
