package api

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/dyluth/troupe/internal/collab"
	"github.com/dyluth/troupe/internal/config"
	"github.com/dyluth/troupe/internal/stage"
	"github.com/dyluth/troupe/internal/store"
)

// DepsFactory builds the collaborators for a validated session config.
type DepsFactory func(cfg *config.SessionConfig) (stage.Deps, error)

type runningSession struct {
	manager *stage.Manager
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Registry owns the sessions started by this process. Finished sessions stay
// registered so their status can still be read.
type Registry struct {
	store   store.Store
	newDeps DepsFactory

	mu       sync.RWMutex
	sessions map[string]*runningSession
	wg       sync.WaitGroup
}

// NewRegistry creates a registry recording into st, which may be nil.
func NewRegistry(st store.Store, newDeps DepsFactory) *Registry {
	if newDeps == nil {
		newDeps = collab.FromConfig
	}
	return &Registry{
		store:    st,
		newDeps:  newDeps,
		sessions: make(map[string]*runningSession),
	}
}

// Start initializes a session and runs it in the background.
func (r *Registry) Start(cfg *config.SessionConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if cfg.Persistence != nil && cfg.Persistence.Kind != config.PersistenceNone {
		log.Printf("[API] Ignoring session persistence '%s': the server store is used", cfg.Persistence.Kind)
	}

	deps, err := r.newDeps(cfg)
	if err != nil {
		return "", err
	}
	if r.store != nil {
		deps.Recorder = r.store
	}

	m := stage.NewManager(deps)
	sessionID, err := m.Initialize(cfg)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs := &runningSession{manager: m, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.sessions[sessionID] = rs
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(rs.done)
		if err := m.Run(ctx); err != nil {
			rs.err = err
			log.Printf("[API] Session %s failed: %v", sessionID, err)
			return
		}
		log.Printf("[API] Session %s finished", sessionID)
	}()

	log.Printf("[API] Session %s started (%d scenes)", sessionID, len(cfg.Script))
	return sessionID, nil
}

// Get returns the manager of a registered session.
func (r *Registry) Get(sessionID string) (*stage.Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return rs.manager, true
}

// Wait blocks until the session's loop has returned or ctx is done.
func (r *Registry) Wait(ctx context.Context, sessionID string) error {
	r.mu.RLock()
	rs, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s is not running here", sessionID)
	}
	select {
	case <-rs.done:
		return rs.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Statuses returns the status of every registered session ordered by id.
func (r *Registry) Statuses() []stage.Status {
	r.mu.RLock()
	managers := make([]*stage.Manager, 0, len(r.sessions))
	for _, rs := range r.sessions {
		managers = append(managers, rs.manager)
	}
	r.mu.RUnlock()

	out := make([]stage.Status, 0, len(managers))
	for _, m := range managers {
		out = append(out, m.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Shutdown stops every running session and waits for their loops to finish.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	for _, rs := range r.sessions {
		rs.cancel()
	}
	r.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sessions still running at shutdown: %w", ctx.Err())
	}
}
