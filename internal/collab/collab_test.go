package collab

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/troupe/internal/config"
	"github.com/dyluth/troupe/internal/parse"
	"github.com/dyluth/troupe/internal/stage"
	"github.com/dyluth/troupe/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestScripted(t *testing.T) {
	actor := NewScripted([]string{"one", "two"})
	ctx := context.Background()

	for _, want := range []string{"one", "two", parse.PassToken, parse.PassToken} {
		resp, err := actor.Generate(ctx, stage.ActorRequest{ActorID: "a"})
		require.NoError(t, err)
		assert.Equal(t, want, resp.Text)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := actor.Generate(cancelled, stage.ActorRequest{ActorID: "a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRoster(t *testing.T) {
	roster := NewRoster()
	roster.Add("alice", NewScripted([]string{"hello"}))

	resp, err := roster.Generate(context.Background(), stage.ActorRequest{ActorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)

	_, err = roster.Generate(context.Background(), stage.ActorRequest{ActorID: "bob"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bob")
}

func TestCommandActor(t *testing.T) {
	requireShell(t)
	ctx := context.Background()

	t.Run("json response", func(t *testing.T) {
		actor := NewCommandActor([]string{"sh", "-c", `cat >/dev/null; echo '{"text":"Goodbye","markers":["scene_end"]}'`})
		resp, err := actor.Generate(ctx, stage.ActorRequest{ActorID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, "Goodbye", resp.Text)
		assert.Equal(t, []string{"scene_end"}, resp.Markers)
	})

	t.Run("plain text response", func(t *testing.T) {
		actor := NewCommandActor([]string{"sh", "-c", `cat >/dev/null; echo "  Just talking.  "`})
		resp, err := actor.Generate(ctx, stage.ActorRequest{ActorID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, "Just talking.", resp.Text)
		assert.Empty(t, resp.Markers)
	})

	t.Run("receives the request on stdin", func(t *testing.T) {
		actor := NewCommandActor([]string{"sh", "-c", `cat`})
		req := stage.ActorRequest{SessionID: "sess", ActorID: "alice", Repair: true}
		resp, err := actor.Generate(ctx, req)
		require.NoError(t, err)

		var echoed stage.ActorRequest
		require.NoError(t, json.Unmarshal([]byte(resp.Text), &echoed))
		assert.Equal(t, "alice", echoed.ActorID)
		assert.True(t, echoed.Repair)
	})

	t.Run("non-zero exit includes stderr", func(t *testing.T) {
		actor := NewCommandActor([]string{"sh", "-c", `cat >/dev/null; echo "model overloaded" >&2; exit 3`})
		_, err := actor.Generate(ctx, stage.ActorRequest{ActorID: "alice"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "code 3")
		assert.Contains(t, err.Error(), "model overloaded")
	})

	t.Run("deadline kills the process", func(t *testing.T) {
		actor := NewCommandActor([]string{"sh", "-c", `sleep 5`})
		short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := actor.Generate(short, stage.ActorRequest{ActorID: "alice"})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 3*time.Second)
	})
}

func TestRunCommand_EmptyCommand(t *testing.T) {
	_, err := runCommand(context.Background(), nil, "", map[string]string{})
	assert.Error(t, err)
}

func TestLimitedWriter(t *testing.T) {
	var sb strings.Builder
	lw := &limitedWriter{w: &sb, limit: 5}

	n, err := lw.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = lw.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = lw.Write([]byte("ijk"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, "abcde", sb.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
}

func TestCommandDirector(t *testing.T) {
	requireShell(t)
	ctx := context.Background()

	t.Run("decodes fenced json", func(t *testing.T) {
		script := "cat >/dev/null; printf '```json\\n{\"revised_scene\":{\"id\":\"s2\",\"description\":\"Rain\",\"actors\":[\"a\"]},\"facts\":[{\"key\":\"weather\",\"value\":\"rain\"}]}\\n```\\n'"
		director := NewCommandDirector([]string{"sh", "-c", script})

		resp, err := director.Adapt(ctx, stage.AdaptationRequest{SessionID: "sess"})
		require.NoError(t, err)
		require.NotNil(t, resp.RevisedScene)
		assert.Equal(t, "Rain", resp.RevisedScene.Description)
		require.Len(t, resp.Facts, 1)
		assert.Equal(t, "weather", resp.Facts[0].Key)
	})

	t.Run("empty output keeps the draft", func(t *testing.T) {
		director := NewCommandDirector([]string{"sh", "-c", "cat >/dev/null"})
		resp, err := director.Adapt(ctx, stage.AdaptationRequest{})
		require.NoError(t, err)
		assert.Nil(t, resp.RevisedScene)
		assert.Empty(t, resp.Facts)
	})

	t.Run("garbage is an error", func(t *testing.T) {
		director := NewCommandDirector([]string{"sh", "-c", "cat >/dev/null; echo 'no idea'"})
		_, err := director.Adapt(ctx, stage.AdaptationRequest{})
		assert.Error(t, err)
	})
}

func TestStaticWorld(t *testing.T) {
	world := NewStaticWorld(map[string]string{
		"city":     "A rainy harbour town.",
		"bus-stop": "A shelter with a broken bench.",
		"s1":       "  ",
	})
	scene := blackboard.Scene{ID: "s1", Location: "bus-stop"}

	text, err := world.Lookup(context.Background(), "city", scene)
	require.NoError(t, err)
	assert.Equal(t, "A rainy harbour town.\n\nA shelter with a broken bench.", text)

	text, err = world.Lookup(context.Background(), "", blackboard.Scene{ID: "unknown"})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestFromConfig(t *testing.T) {
	cfg := &config.SessionConfig{
		Actors: map[string]config.Actor{
			"alice": {Persona: "p", Generator: config.GeneratorConfig{Kind: config.GeneratorScripted, Lines: []string{"hi"}}},
			"bob":   {Persona: "p", Generator: config.GeneratorConfig{Kind: config.GeneratorCommand, Command: []string{"./bob"}}},
		},
		World: config.WorldConfig{Bible: map[string]string{"city": "x"}},
	}

	t.Run("no director", func(t *testing.T) {
		deps, err := FromConfig(cfg)
		require.NoError(t, err)
		require.NotNil(t, deps.Actors)
		assert.Nil(t, deps.Director)
		assert.NotNil(t, deps.Knowledge)

		resp, err := deps.Actors.Generate(context.Background(), stage.ActorRequest{ActorID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, "hi", resp.Text)
	})

	t.Run("command director", func(t *testing.T) {
		withDirector := *cfg
		withDirector.Director = &config.DirectorConfig{Kind: config.DirectorCommand, Command: []string{"./director"}}
		deps, err := FromConfig(&withDirector)
		require.NoError(t, err)
		assert.IsType(t, &CommandDirector{}, deps.Director)
	})

	t.Run("unknown generator", func(t *testing.T) {
		broken := &config.SessionConfig{Actors: map[string]config.Actor{
			"x": {Generator: config.GeneratorConfig{Kind: "telepathy"}},
		}}
		_, err := FromConfig(broken)
		require.Error(t, err)
		assert.True(t, config.IsConfigError(err))
	})
}

func TestSchema(t *testing.T) {
	for _, kind := range SchemaKinds() {
		t.Run(kind, func(t *testing.T) {
			data, err := Schema(kind)
			require.NoError(t, err)

			var doc map[string]any
			require.NoError(t, json.Unmarshal(data, &doc))
			assert.Equal(t, "object", doc["type"])
		})
	}

	data, err := Schema("actor-response")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"markers"`)

	_, err = Schema("nope")
	assert.Error(t, err)
}
