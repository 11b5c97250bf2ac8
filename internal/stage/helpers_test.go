package stage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/troupe/internal/config"
	"github.com/dyluth/troupe/pkg/blackboard"
	"github.com/stretchr/testify/require"
)

type generatorFunc func(ctx context.Context, req ActorRequest) (ActorResponse, error)

func (f generatorFunc) Generate(ctx context.Context, req ActorRequest) (ActorResponse, error) {
	return f(ctx, req)
}

type directorFunc func(ctx context.Context, req AdaptationRequest) (AdaptationResponse, error)

func (f directorFunc) Adapt(ctx context.Context, req AdaptationRequest) (AdaptationResponse, error) {
	return f(ctx, req)
}

type knowledgeFunc func(ctx context.Context, reference string, scene blackboard.Scene) (string, error)

func (f knowledgeFunc) Lookup(ctx context.Context, reference string, scene blackboard.Scene) (string, error) {
	return f(ctx, reference, scene)
}

// chatter answers with the actor id and the number of turns it has seen.
func chatter() generatorFunc {
	return func(_ context.Context, req ActorRequest) (ActorResponse, error) {
		return ActorResponse{Text: fmt.Sprintf("%s speaks after %d turns", req.ActorID, len(req.Context.History))}, nil
	}
}

// blockUntilCancelled never answers on its own.
func blockUntilCancelled(ctx context.Context) (ActorResponse, error) {
	<-ctx.Done()
	return ActorResponse{}, ctx.Err()
}

// requestLog records every request a generator receives.
type requestLog struct {
	mu   sync.Mutex
	reqs []ActorRequest
}

func (l *requestLog) wrap(next generatorFunc) generatorFunc {
	return func(ctx context.Context, req ActorRequest) (ActorResponse, error) {
		l.mu.Lock()
		l.reqs = append(l.reqs, req)
		l.mu.Unlock()
		return next(ctx, req)
	}
}

func (l *requestLog) forActor(actorID string) []ActorRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ActorRequest
	for _, r := range l.reqs {
		if r.ActorID == actorID {
			out = append(out, r)
		}
	}
	return out
}

// memoryRecorder collects persisted events.
type memoryRecorder struct {
	mu     sync.Mutex
	events []blackboard.Event
}

func (r *memoryRecorder) Append(_ context.Context, _ string, ev blackboard.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memoryRecorder) ofType(eventType blackboard.EventType) []blackboard.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []blackboard.Event
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (r *memoryRecorder) all() []blackboard.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]blackboard.Event(nil), r.events...)
}

func testScene(id string, maxTurns int, actors ...string) blackboard.Scene {
	return blackboard.Scene{
		ID:                id,
		Title:             "Scene " + id,
		Description:       "Description of " + id,
		Goal:              "Reach the end of " + id,
		Actors:            actors,
		TerminationPolicy: blackboard.TerminationPolicy{MaxTurns: maxTurns},
	}
}

func testConfig(roster []string, scenes ...blackboard.Scene) *config.SessionConfig {
	cfg := &config.SessionConfig{
		Title:  "Test performance",
		Actors: make(map[string]config.Actor, len(roster)),
		Script: scenes,
		Orchestrator: &config.OrchestratorConfig{
			TurnTimeout:       config.Duration(2 * time.Second),
			AdaptationTimeout: config.Duration(2 * time.Second),
		},
	}
	for _, id := range roster {
		cfg.Actors[id] = config.Actor{
			Persona:   "A test persona for " + id,
			Generator: config.GeneratorConfig{Kind: config.GeneratorScripted, Lines: []string{"unused"}},
		}
	}
	return cfg
}

func startManager(t *testing.T, deps Deps, cfg *config.SessionConfig) *Manager {
	t.Helper()
	m := NewManager(deps)
	_, err := m.Initialize(cfg)
	require.NoError(t, err)
	return m
}

func runManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.Run(ctx))
}

func decodeSceneEnded(t *testing.T, ev blackboard.Event) blackboard.SceneEndedPayload {
	t.Helper()
	var p blackboard.SceneEndedPayload
	require.NoError(t, ev.Decode(&p))
	return p
}

func waitAck(t *testing.T, ch <-chan Ack) Ack {
	t.Helper()
	select {
	case ack := <-ch:
		return ack
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for command ack")
		return Ack{}
	}
}
