package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/dyluth/troupe/internal/broadcast"
	"github.com/dyluth/troupe/internal/stage"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	maxCloseReason = 123
)

// Live channel reply types. Events keep their own type names.
const (
	ReplyAck             = "Ack"
	ReplyCommandQueued   = "CommandQueued"
	ReplyCommandRejected = "CommandRejected"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API carries no authentication; any origin may observe
	CheckOrigin: func(r *http.Request) bool { return true },
}

// liveReply answers a command received on the live channel.
type liveReply struct {
	Type      string     `json:"type"`
	CommandID string     `json:"command_id,omitempty"`
	Ack       *stage.Ack `json:"ack,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type liveClient struct {
	sessionID string
	conn      *websocket.Conn
	manager   *stage.Manager
	sub       *broadcast.Subscriber
	ackWait   time.Duration

	replies chan liveReply
	done    chan struct{}
}

// live streams a snapshot followed by every delta. Inbound text messages are
// control commands; each gets exactly one reply.
func (s *Server) live(c *gin.Context) {
	sessionID := c.Param("id")
	m, ok := s.registry.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "session not found: " + sessionID})
		return
	}

	sub, err := m.Subscribe()
	if err != nil {
		if errors.Is(err, stage.ErrSessionClosed) {
			c.JSON(http.StatusGone, errorResponse{Error: "session has ended: " + sessionID})
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Close()
		log.Printf("[API] Live upgrade failed for session %s: %v", sessionID, err)
		return
	}

	client := &liveClient{
		sessionID: sessionID,
		conn:      conn,
		manager:   m,
		sub:       sub,
		ackWait:   s.cfg.AckWait,
		replies:   make(chan liveReply, 16),
		done:      make(chan struct{}),
	}
	log.Printf("[API] Observer %d joined session %s", sub.ID(), sessionID)
	client.serve()
	log.Printf("[API] Observer %d left session %s", sub.ID(), sessionID)
}

func (lc *liveClient) serve() {
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		lc.readLoop()
	}()

	lc.writeLoop(readerDone)

	close(lc.done)
	lc.sub.Close()
	lc.conn.Close()
	<-readerDone
}

func (lc *liveClient) writeLoop(readerDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-lc.sub.Events():
			if !ok {
				lc.closeWith(lc.sub.Err())
				return
			}
			if err := lc.writeJSON(ev); err != nil {
				log.Printf("[API] Live write to session %s failed: %v", lc.sessionID, err)
				return
			}

		case reply := <-lc.replies:
			if err := lc.writeJSON(reply); err != nil {
				log.Printf("[API] Live write to session %s failed: %v", lc.sessionID, err)
				return
			}

		case <-ticker.C:
			lc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := lc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-readerDone:
			return
		}
	}
}

func (lc *liveClient) writeJSON(v any) error {
	lc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return lc.conn.WriteJSON(v)
}

// closeWith sends a close frame once the subscription has ended. A dropped
// observer is told to retry; otherwise the session has ended.
func (lc *liveClient) closeWith(dropErr error) {
	code, reason := websocket.CloseNormalClosure, "session ended"
	if dropErr != nil {
		code, reason = websocket.CloseTryAgainLater, dropErr.Error()
	}
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = lc.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (lc *liveClient) readLoop() {
	lc.conn.SetReadLimit(maxMessageSize)
	lc.conn.SetReadDeadline(time.Now().Add(pongWait))
	lc.conn.SetPongHandler(func(string) error {
		lc.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := lc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[API] Live read from session %s failed: %v", lc.sessionID, err)
			}
			return
		}
		lc.conn.SetReadDeadline(time.Now().Add(pongWait))
		lc.handleCommand(data)
	}
}

func (lc *liveClient) handleCommand(data []byte) {
	var req commandRequest
	if err := json.Unmarshal(data, &req); err != nil {
		lc.reply(liveReply{Type: ReplyCommandRejected, Error: "invalid command: " + err.Error()})
		return
	}
	cmd, err := req.command()
	if err != nil {
		lc.reply(liveReply{Type: ReplyCommandRejected, CommandID: req.ID, Error: err.Error()})
		return
	}

	ackCh, err := lc.manager.SubmitGodCommand(cmd)
	if err != nil {
		lc.reply(liveReply{Type: ReplyCommandRejected, CommandID: cmd.ID, Error: err.Error()})
		return
	}

	// Acks arrive at the next turn boundary; reading continues meanwhile
	go func() {
		timer := time.NewTimer(lc.ackWait)
		defer timer.Stop()
		select {
		case ack := <-ackCh:
			lc.reply(liveReply{Type: ReplyAck, CommandID: ack.CommandID, Ack: &ack})
		case <-timer.C:
			lc.reply(liveReply{Type: ReplyCommandQueued, CommandID: cmd.ID})
		case <-lc.done:
		}
	}()
}

func (lc *liveClient) reply(r liveReply) {
	select {
	case lc.replies <- r:
	case <-lc.done:
	}
}
