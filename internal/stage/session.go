package stage

import (
	"github.com/dyluth/troupe/internal/config"
	"github.com/dyluth/troupe/pkg/blackboard"
	"github.com/google/uuid"
)

// Session is one performance: its script, its blackboard and the private
// memory of every actor. It is created by Manager.Initialize.
type Session struct {
	ID        string
	Title     string
	StageRule string
	World     config.WorldConfig
	Roster    []string
	Actors    map[string]config.Actor
	Settings  config.OrchestratorConfig

	Queue  *ScriptQueue
	Board  *blackboard.Blackboard
	Memory map[string]*MemoryBank
}

// NewSession builds a session from a validated configuration.
func NewSession(cfg *config.SessionConfig) *Session {
	roster := cfg.Roster()
	s := &Session{
		ID:        uuid.New().String(),
		Title:     cfg.Title,
		StageRule: cfg.StageRule,
		World:     cfg.World,
		Roster:    roster,
		Actors:    make(map[string]config.Actor, len(cfg.Actors)),
		Queue:     NewScriptQueue(cfg.Script),
		Board:     blackboard.New(roster),
		Memory:    make(map[string]*MemoryBank, len(cfg.Actors)),
	}
	if cfg.Orchestrator != nil {
		s.Settings = *cfg.Orchestrator
	}
	for id, actor := range cfg.Actors {
		s.Actors[id] = actor
		s.Memory[id] = NewMemoryBank(actor.Secrets, actor.Memory)
	}
	if s.Title == "" {
		s.Title = s.ID
	}
	return s
}

// DisplayName returns the actor's stage name, falling back to its id.
func (s *Session) DisplayName(actorID string) string {
	if actor, ok := s.Actors[actorID]; ok && actor.Name != "" {
		return actor.Name
	}
	return actorID
}
