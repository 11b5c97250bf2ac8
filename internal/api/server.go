// Package api serves running sessions over HTTP: session init, status,
// control commands, the persisted event log and a websocket live channel.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dyluth/troupe/internal/store"
	"github.com/dyluth/troupe/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// Server routes HTTP requests onto the session registry.
type Server struct {
	cfg      ServerConfig
	store    store.Store
	registry *Registry
	engine   *gin.Engine
}

// NewServer builds the router. st may be nil, in which case sessions are not
// recorded and the event log endpoint is unavailable.
func NewServer(cfg ServerConfig, st store.Store, newDeps DepsFactory) *Server {
	if cfg.AckWait <= 0 {
		cfg.AckWait = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		cfg:      cfg,
		store:    st,
		registry: NewRegistry(st, newDeps),
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.healthz)

	sessions := r.Group("/sessions")
	{
		sessions.POST("", s.createSession)
		sessions.GET("", s.listSessions)
		sessions.GET("/:id/status", s.sessionStatus)
		sessions.POST("/:id/commands", s.submitCommand)
		sessions.GET("/:id/events", s.sessionEvents)
		sessions.GET("/:id/live", s.live)
	}

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Registry returns the sessions started through this server.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Run serves on the configured address until ctx is cancelled, then stops
// every session and drains open connections.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[API] Listening on %s", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve %s: %w", s.cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("[API] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	// Sessions first so live observers receive SessionEnded before the
	// listener goes away
	if err := s.registry.Shutdown(shutdownCtx); err != nil {
		log.Printf("[API] %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("[API] %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

// Serve installs tracing, opens the configured store and serves until ctx is
// cancelled.
func Serve(ctx context.Context, cfg ServerConfig) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry())
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("[API] Failed to flush traces: %v", err)
		}
	}()
	if cfg.Telemetry().Active() {
		log.Printf("[API] Exporting traces to %s", cfg.OTelEndpoint)
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	st, err := store.Open(openCtx, cfg.Persistence())
	cancel()
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	if st != nil {
		defer st.Close()
		log.Printf("[API] Recording sessions to %s", cfg.Store)
	}

	return NewServer(cfg, st, nil).Run(ctx)
}
