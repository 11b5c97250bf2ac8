package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/troupe/internal/stage"
	"github.com/dyluth/troupe/pkg/blackboard"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialLive(t *testing.T, s *Server, sessionID string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sessions/" + sessionID + "/live"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// liveMessage holds either an event or a command reply.
type liveMessage struct {
	Type      string          `json:"type"`
	Seq       uint64          `json:"seq"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
	CommandID string          `json:"command_id"`
	Ack       *stage.Ack      `json:"ack"`
	Error     string          `json:"error"`
}

func readMessage(t *testing.T, conn *websocket.Conn) liveMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg liveMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil reads messages until match returns true and returns that message.
func readUntil(t *testing.T, conn *websocket.Conn, match func(liveMessage) bool) liveMessage {
	t.Helper()
	for i := 0; i < 10000; i++ {
		msg := readMessage(t, conn)
		if match(msg) {
			return msg
		}
	}
	t.Fatal("expected message never arrived")
	return liveMessage{}
}

func TestLive_SnapshotThenDeltas(t *testing.T) {
	s := newTestServer(t, nil, slowDeps)
	sessionID := startSession(t, s, longSession)
	conn := dialLive(t, s, sessionID)

	snap := readMessage(t, conn)
	require.Equal(t, string(blackboard.EventSnapshot), snap.Type)
	assert.Equal(t, sessionID, snap.SessionID)

	var view blackboard.SessionView
	require.NoError(t, json.Unmarshal(snap.Payload, &view))
	assert.Equal(t, "Endless Queue", view.Title)

	last := snap.Seq
	for i := 0; i < 5; i++ {
		msg := readMessage(t, conn)
		require.NotEqual(t, string(blackboard.EventSnapshot), msg.Type)
		assert.Equal(t, last+1, msg.Seq, "deltas are gapless after the snapshot")
		last = msg.Seq
	}
}

func TestLive_CommandsOverSocket(t *testing.T) {
	s := newTestServer(t, nil, slowDeps)
	sessionID := startSession(t, s, longSession)
	conn := dialLive(t, s, sessionID)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(commandRequest{ID: "p1", Type: "pause"}))
	ack := readUntil(t, conn, func(m liveMessage) bool { return m.Type == ReplyAck })
	require.NotNil(t, ack.Ack)
	assert.Equal(t, "p1", ack.CommandID)
	assert.True(t, ack.Ack.Accepted)
	assert.True(t, ack.Ack.Paused)

	require.NoError(t, conn.WriteJSON(commandRequest{ID: "bad", Type: "rewind"}))
	rejected := readUntil(t, conn, func(m liveMessage) bool { return m.Type == ReplyCommandRejected })
	assert.Equal(t, "bad", rejected.CommandID)
	assert.Contains(t, rejected.Error, "unknown command")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	rejected = readUntil(t, conn, func(m liveMessage) bool { return m.Type == ReplyCommandRejected })
	assert.Contains(t, rejected.Error, "invalid command")

	require.NoError(t, conn.WriteJSON(commandRequest{ID: "end", Type: "force_end"}))
	readUntil(t, conn, func(m liveMessage) bool { return m.Type == string(blackboard.EventSessionEnded) })

	// The server closes the socket once the session has ended
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
	}
}

func TestLive_Errors(t *testing.T) {
	t.Run("unknown session", func(t *testing.T) {
		s := newTestServer(t, nil, nil)
		w := doJSON(t, s, http.MethodGet, "/sessions/missing/live", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("ended session", func(t *testing.T) {
		s := newTestServer(t, nil, nil)
		sessionID := startSession(t, s, shortSession)
		waitSession(t, s, sessionID)

		w := doJSON(t, s, http.MethodGet, "/sessions/"+sessionID+"/live", "")
		assert.Equal(t, http.StatusGone, w.Code)
	})
}
