package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/troupe/internal/filter"
	"github.com/dyluth/troupe/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEvent(t *testing.T, eventType blackboard.EventType, seq uint64, payload any) blackboard.Event {
	t.Helper()
	ev, err := blackboard.NewEvent(eventType, payload)
	require.NoError(t, err)
	ev.SessionID = "sess"
	ev.Seq = seq
	return ev
}

func TestFormatters(t *testing.T) {
	tests := []struct {
		name     string
		event    blackboard.Event
		contains []string
	}{
		{
			name: "session started",
			event: mustEvent(t, blackboard.EventSessionStarted, 1, blackboard.SessionView{
				Title: "Bus Stop", StageRule: "conversation", Roster: []string{"alice", "bob"},
				Upcoming: []blackboard.Scene{{ID: "s1"}},
			}),
			contains: []string{"🎬 Session started", `title="Bus Stop"`, "roster=alice,bob", "scenes=1"},
		},
		{
			name:     "state changed",
			event:    mustEvent(t, blackboard.EventStateChanged, 2, blackboard.StatePayload{Previous: "Initializing", Lifecycle: "SceneActive"}),
			contains: []string{"🔁 State: Initializing → SceneActive"},
		},
		{
			name: "scene started",
			event: mustEvent(t, blackboard.EventSceneStarted, 3, blackboard.Scene{
				ID: "s1", Title: "Arrival", Actors: []string{"alice"},
				TerminationPolicy: blackboard.TerminationPolicy{MaxTurns: 4},
			}),
			contains: []string{"🎭 Scene started: Arrival", "id=s1", "max_turns=4"},
		},
		{
			name:     "turn with marker",
			event:    mustEvent(t, blackboard.EventTurnAppended, 4, blackboard.Turn{Seq: 1, ActorID: "alice", Text: "Goodbye", Markers: []string{"scene_end"}}),
			contains: []string{"💬 #1 alice: Goodbye [scene_end]"},
		},
		{
			name:     "pass turn",
			event:    mustEvent(t, blackboard.EventTurnAppended, 5, blackboard.Turn{Seq: 2, ActorID: "bob", Markers: []string{"pass"}}),
			contains: []string{"💬 #2 bob: (passes)"},
		},
		{
			name:     "placeholder turn",
			event:    mustEvent(t, blackboard.EventTurnAppended, 6, blackboard.Turn{Seq: 3, ActorID: "bob", Text: "Bob falls silent.", Placeholder: true}),
			contains: []string{"🤐 #3 bob: Bob falls silent."},
		},
		{
			name:     "actor silent",
			event:    mustEvent(t, blackboard.EventActorSilent, 7, blackboard.ActorSilentPayload{ActorID: "bob", SceneID: "s1", Reason: "timeout"}),
			contains: []string{"Actor silent", "actor=bob", "reason=timeout"},
		},
		{
			name:     "keyed fact",
			event:    mustEvent(t, blackboard.EventFactSet, 8, blackboard.PublicFact{Key: "weather", Value: "rain", Source: "operator"}),
			contains: []string{"📌 Fact set: weather=rain (source=operator)"},
		},
		{
			name:     "free text fact",
			event:    mustEvent(t, blackboard.EventFactSet, 9, blackboard.PublicFact{Value: "a storm", Source: "operator"}),
			contains: []string{"📌 Fact: a storm"},
		},
		{
			name:     "scene ended",
			event:    mustEvent(t, blackboard.EventSceneEnded, 10, blackboard.SceneEndedPayload{SceneID: "s1", Reason: "max_turns", Turns: 4}),
			contains: []string{"🏁 Scene ended: id=s1, reason=max_turns, turns=4"},
		},
		{
			name:     "adaptation applied",
			event:    mustEvent(t, blackboard.EventAdaptationApplied, 11, blackboard.AdaptationPayload{SceneID: "s2", Applied: true}),
			contains: []string{"🪄 Next scene adapted: id=s2"},
		},
		{
			name:     "adaptation degraded",
			event:    mustEvent(t, blackboard.EventAdaptationApplied, 12, blackboard.AdaptationPayload{SceneID: "s2", Reason: "invalid_revision"}),
			contains: []string{"Adaptation skipped", "reason=invalid_revision", "draft kept"},
		},
		{
			name:     "paused",
			event:    mustEvent(t, blackboard.EventPaused, 13, blackboard.StatePayload{Paused: true}),
			contains: []string{"⏸️  Paused"},
		},
		{
			name:     "session ended",
			event:    mustEvent(t, blackboard.EventSessionEnded, 14, blackboard.SessionView{Lifecycle: "Ended"}),
			contains: []string{"🎉 Session ended: state=Ended"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &defaultFormatter{writer: buf}

			require.NoError(t, formatter.FormatEvent(&tt.event))
			output := buf.String()
			for _, want := range tt.contains {
				assert.Contains(t, output, want)
			}
			assert.True(t, strings.HasSuffix(output, "\n"))
		})
	}

	t.Run("jsonFormatter writes the event as one line", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &jsonFormatter{writer: buf}
		ev := mustEvent(t, blackboard.EventTurnAppended, 4, blackboard.Turn{Seq: 1, ActorID: "alice", Text: "hi"})

		require.NoError(t, formatter.FormatEvent(&ev))
		assert.Equal(t, 1, strings.Count(buf.String(), "\n"))

		var decoded blackboard.Event
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, blackboard.EventTurnAppended, decoded.Type)
		assert.Equal(t, uint64(4), decoded.Seq)
	})

	t.Run("malformed payload is an error", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &defaultFormatter{writer: buf}
		ev := blackboard.Event{Type: blackboard.EventTurnAppended, Payload: []byte("{")}
		assert.Error(t, formatter.FormatEvent(&ev))
	})
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("default")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatDefault, f)

	f, err = ParseOutputFormat("jsonl")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSON, f)

	_, err = ParseOutputFormat("xml")
	assert.Error(t, err)
}

func TestStreamActivity(t *testing.T) {
	t.Run("stops at session end", func(t *testing.T) {
		events := make(chan blackboard.Event, 4)
		events <- mustEvent(t, blackboard.EventTurnAppended, 1, blackboard.Turn{Seq: 1, ActorID: "alice", Text: "hi"})
		events <- mustEvent(t, blackboard.EventSessionEnded, 2, blackboard.SessionView{Lifecycle: "Ended"})
		events <- mustEvent(t, blackboard.EventPaused, 3, blackboard.StatePayload{})

		buf := &bytes.Buffer{}
		err := StreamActivity(context.Background(), events, OutputFormatDefault, nil, buf)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "alice: hi")
		assert.Contains(t, buf.String(), "Session ended")
		assert.NotContains(t, buf.String(), "Paused")
	})

	t.Run("applies criteria", func(t *testing.T) {
		events := make(chan blackboard.Event, 3)
		events <- mustEvent(t, blackboard.EventTurnAppended, 1, blackboard.Turn{Seq: 1, ActorID: "alice", Text: "from alice"})
		events <- mustEvent(t, blackboard.EventTurnAppended, 2, blackboard.Turn{Seq: 2, ActorID: "bob", Text: "from bob"})
		close(events)

		buf := &bytes.Buffer{}
		err := StreamActivity(context.Background(), events, OutputFormatDefault, &filter.Criteria{ActorID: "bob"}, buf)
		require.NoError(t, err)
		assert.NotContains(t, buf.String(), "from alice")
		assert.Contains(t, buf.String(), "from bob")
	})

	t.Run("returns on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := StreamActivity(ctx, make(chan blackboard.Event), OutputFormatJSON, nil, &bytes.Buffer{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPollForSession(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns")
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()

	t.Run("returns session once recorded", func(t *testing.T) {
		ev := mustEvent(t, blackboard.EventSessionStarted, 1, blackboard.SessionView{Title: "Late"})
		go func() {
			time.Sleep(300 * time.Millisecond)
			_ = client.Append(ctx, "sess", ev)
		}()

		meta, err := PollForSession(ctx, client, "sess", 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "Late", meta.Title)
	})

	t.Run("times out", func(t *testing.T) {
		_, err := PollForSession(ctx, client, "missing", 300*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("respects context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := PollForSession(cancelled, client, "missing", time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
