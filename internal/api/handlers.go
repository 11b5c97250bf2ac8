package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dyluth/troupe/internal/config"
	"github.com/dyluth/troupe/internal/filter"
	"github.com/dyluth/troupe/internal/stage"
	"github.com/dyluth/troupe/internal/timespec"
	"github.com/dyluth/troupe/pkg/blackboard"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const storeTimeout = 5 * time.Second

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// commandRequest is the body of a control command, over HTTP or the live channel.
type commandRequest struct {
	ID    string `json:"id,omitempty"`
	Type  string `json:"type"`
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
}

func (r commandRequest) command() (stage.Command, error) {
	t, err := stage.ParseCommandType(r.Type)
	if err != nil {
		return stage.Command{}, err
	}
	id := r.ID
	if id == "" {
		id = uuid.New().String()
	}
	return stage.Command{ID: id, Type: t, Key: r.Key, Value: r.Value}, nil
}

func respondError(c *gin.Context, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	if ce, ok := config.AsConfigError(err); ok {
		resp.Field = ce.Field
	}
	c.JSON(status, resp)
}

// commandStatus maps a rejected submission onto an HTTP status.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, stage.ErrCommandQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, stage.ErrSessionClosed), errors.Is(err, stage.ErrNotInitialized):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) healthz(c *gin.Context) {
	kind := s.cfg.Persistence().Kind
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "store": kind, "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "store": kind, "sessions": len(s.registry.Statuses())})
}

func (s *Server) createSession(c *gin.Context) {
	var cfg config.SessionConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}

	sessionID, err := s.registry.Start(&cfg)
	if err != nil {
		if config.IsConfigError(err) {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": sessionID})
}

func (s *Server) listSessions(c *gin.Context) {
	resp := gin.H{"sessions": s.registry.Statuses()}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
		defer cancel()
		recorded, err := s.store.ListSessions(ctx)
		if err != nil {
			respondError(c, http.StatusInternalServerError, err)
			return
		}
		resp["recorded"] = recorded
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) sessionStatus(c *gin.Context) {
	sessionID := c.Param("id")
	if m, ok := s.registry.Get(sessionID); ok {
		c.JSON(http.StatusOK, m.Status())
		return
	}

	// Sessions from an earlier process are only known to the store
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
		defer cancel()
		record, err := s.store.LoadSession(ctx, sessionID)
		if err == nil {
			c.JSON(http.StatusOK, statusFromMeta(record.Meta))
			return
		}
		if !blackboard.IsNotFound(err) {
			respondError(c, http.StatusInternalServerError, err)
			return
		}
	}
	c.JSON(http.StatusNotFound, errorResponse{Error: "session not found: " + sessionID})
}

func statusFromMeta(meta blackboard.SessionMeta) stage.Status {
	return stage.Status{
		SessionID: meta.ID,
		Title:     meta.Title,
		State:     stage.Lifecycle(meta.Lifecycle),
		LastSeq:   meta.LastSeq,
	}
}

func (s *Server) submitCommand(c *gin.Context) {
	sessionID := c.Param("id")
	m, ok := s.registry.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "session not found: " + sessionID})
		return
	}

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	cmd, err := req.command()
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	ackCh, err := m.SubmitGodCommand(cmd)
	if err != nil {
		respondError(c, commandStatus(err), err)
		return
	}

	timer := time.NewTimer(s.cfg.AckWait)
	defer timer.Stop()
	select {
	case ack := <-ackCh:
		c.JSON(http.StatusOK, ack)
	case <-timer.C:
		c.JSON(http.StatusAccepted, gin.H{"command_id": cmd.ID, "type": cmd.Type, "status": "queued"})
	case <-c.Request.Context().Done():
	}
}

func (s *Server) sessionEvents(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "no event store configured"})
		return
	}

	window, err := timespec.ParseWindow(c.Query("since"), c.Query("until"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	criteria := &filter.Criteria{
		SinceTimestampMs: window.SinceMs,
		UntilTimestampMs: window.UntilMs,
		TypeGlob:         c.Query("type"),
		ActorID:          c.Query("actor"),
		SceneID:          c.Query("scene"),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()
	record, err := s.store.LoadSession(ctx, c.Param("id"))
	if err != nil {
		if blackboard.IsNotFound(err) {
			c.JSON(http.StatusNotFound, errorResponse{Error: "session not found: " + c.Param("id")})
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	events := make([]blackboard.Event, 0, len(record.Events))
	for i := range record.Events {
		if criteria.Matches(&record.Events[i]) {
			events = append(events, record.Events[i])
		}
	}
	c.JSON(http.StatusOK, gin.H{"session": record.Meta, "events": events})
}
