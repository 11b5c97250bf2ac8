package blackboard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

// sessionEvents builds a short but complete event log for one session
func sessionEvents(t *testing.T, sessionID string) []Event {
	t.Helper()

	started, err := NewEvent(EventSessionStarted, SessionView{
		SessionID: sessionID,
		Title:     "Bus Stop",
		StageRule: "conversation",
		Lifecycle: "Initializing",
		Roster:    []string{"alice", "bob"},
		Upcoming:  []Scene{validScene()},
	})
	require.NoError(t, err)

	turn, err := NewEvent(EventTurnAppended, Turn{Seq: 1, SceneID: "s1", ActorID: "alice", Text: "Hello"})
	require.NoError(t, err)

	changed, err := NewEvent(EventStateChanged, StatePayload{Lifecycle: "Ended", Previous: "SceneActive"})
	require.NoError(t, err)

	events := []Event{started, turn, changed}
	for i := range events {
		events[i].SessionID = sessionID
		events[i].Seq = uint64(i + 1)
	}
	return events
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-ns", client.namespace)
	})

	t.Run("rejects empty namespace", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "namespace cannot be empty")
	})

	t.Run("parses redis url", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := NewClientFromURL("redis://"+mr.Addr(), "url-ns")
		require.NoError(t, err)
		defer client.Close()
		assert.NoError(t, client.Ping(context.Background()))

		_, err = NewClientFromURL("://bad", "url-ns")
		assert.Error(t, err)
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestAppendAndLoadSession(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()
	sessionID := uuid.New().String()

	for _, ev := range sessionEvents(t, sessionID) {
		require.NoError(t, client.Append(ctx, sessionID, ev))
	}

	record, err := client.LoadSession(ctx, sessionID)
	require.NoError(t, err)

	assert.Equal(t, sessionID, record.Meta.ID)
	assert.Equal(t, "Bus Stop", record.Meta.Title)
	assert.Equal(t, "Ended", record.Meta.Lifecycle)
	assert.Equal(t, []string{"alice", "bob"}, record.Meta.Roster)
	assert.Equal(t, 1, record.Meta.SceneCount)
	assert.Equal(t, uint64(3), record.Meta.LastSeq)

	require.Len(t, record.Events, 3)
	for i, ev := range record.Events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}

	var turn Turn
	require.NoError(t, record.Events[1].Decode(&turn))
	assert.Equal(t, "Hello", turn.Text)

	// Raw keys follow the namespaced layout
	assert.True(t, mr.Exists(SessionKey("test-ns", sessionID)))
	assert.True(t, mr.Exists(SessionEventsKey("test-ns", sessionID)))
}

func TestAppend_Errors(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("empty session id", func(t *testing.T) {
		err := client.Append(ctx, "", Event{Type: EventPaused, Seq: 1})
		assert.Error(t, err)
	})

	t.Run("invalid event", func(t *testing.T) {
		err := client.Append(ctx, "sess", Event{Seq: 1})
		assert.Error(t, err)
	})

	t.Run("fills in session id", func(t *testing.T) {
		ev, err := NewEvent(EventPaused, StatePayload{Lifecycle: "SceneActive", Paused: true})
		require.NoError(t, err)
		ev.Seq = 1
		require.NoError(t, client.Append(ctx, "filled", ev))

		record, err := client.LoadSession(ctx, "filled")
		require.NoError(t, err)
		assert.Equal(t, "filled", record.Events[0].SessionID)
	})
}

func TestLoadSession_NotFound(t *testing.T) {
	client, _ := setupTestClient(t)

	_, err := client.LoadSession(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestListSessions(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	first := uuid.New().String()
	second := uuid.New().String()

	for _, id := range []string{first, second} {
		for _, ev := range sessionEvents(t, id) {
			require.NoError(t, client.Append(ctx, id, ev))
		}
	}

	sessions, err := client.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	ids := []string{sessions[0].ID, sessions[1].ID}
	assert.ElementsMatch(t, []string{first, second}, ids)
}

func TestSubscribeSessionEvents(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	sessionID := uuid.New().String()

	t.Run("receives appended events", func(t *testing.T) {
		sub, err := client.SubscribeSessionEvents(ctx, sessionID)
		require.NoError(t, err)
		defer sub.Close()

		events := sessionEvents(t, sessionID)
		for _, ev := range events {
			require.NoError(t, client.Append(ctx, sessionID, ev))
		}

		for _, want := range events {
			select {
			case received := <-sub.Events():
				assert.Equal(t, want.Seq, received.Seq)
				assert.Equal(t, want.Type, received.Type)
			case <-time.After(1 * time.Second):
				t.Fatal("timeout waiting for event")
			}
		}
	})

	t.Run("ignores other sessions", func(t *testing.T) {
		sub, err := client.SubscribeSessionEvents(ctx, sessionID)
		require.NoError(t, err)
		defer sub.Close()

		other := uuid.New().String()
		for _, ev := range sessionEvents(t, other) {
			require.NoError(t, client.Append(ctx, other, ev))
		}

		select {
		case ev := <-sub.Events():
			t.Fatalf("unexpected event from another session: %+v", ev)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("reports malformed messages", func(t *testing.T) {
		sub, err := client.SubscribeSessionEvents(ctx, sessionID)
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, client.rdb.Publish(ctx, SessionEventsChannel("test-ns", sessionID), "not json").Err())

		select {
		case err := <-sub.Errors():
			assert.Error(t, err)
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for error")
		}
	})

	t.Run("cleanup on context cancellation", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)

		sub, err := client.SubscribeSessionEvents(cancelCtx, sessionID)
		require.NoError(t, err)

		cancel()

		select {
		case _, ok := <-sub.Events():
			assert.False(t, ok, "channel should be closed")
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for channel close")
		}
	})
}

func TestNamespacing(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := NewClient(&redis.Options{Addr: mr.Addr()}, "ns-a")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewClient(&redis.Options{Addr: mr.Addr()}, "ns-b")
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	sessionID := uuid.New().String()
	for _, ev := range sessionEvents(t, sessionID) {
		require.NoError(t, a.Append(ctx, sessionID, ev))
	}

	_, err = b.LoadSession(ctx, sessionID)
	assert.True(t, IsNotFound(err))

	sessions, err := b.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
