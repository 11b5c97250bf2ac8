package stage

import (
	"context"

	"github.com/dyluth/troupe/pkg/blackboard"
)

// ActorGenerator produces one actor's next utterance. Implementations must
// honour ctx cancellation; the gateway enforces the per-call timeout.
type ActorGenerator interface {
	Generate(ctx context.Context, req ActorRequest) (ActorResponse, error)
}

// DirectorAdapter rewrites the next planned scene given what just happened.
type DirectorAdapter interface {
	Adapt(ctx context.Context, req AdaptationRequest) (AdaptationResponse, error)
}

// KnowledgeSource supplies world-knowledge context for a scene by reference key.
type KnowledgeSource interface {
	Lookup(ctx context.Context, reference string, scene blackboard.Scene) (string, error)
}

// ActorRequest is the gateway -> actor collaborator contract.
type ActorRequest struct {
	SessionID string        `json:"session_id"`
	ActorID   string        `json:"actor_id"`
	Context   ContextBundle `json:"context"`
	Repair    bool          `json:"repair,omitempty"`
}

// ActorResponse is the actor collaborator -> gateway contract. Text may carry
// in-band markers ([SCENE_END], [PASS]) or be a JSON action object.
type ActorResponse struct {
	Text    string   `json:"text"`
	Markers []string `json:"markers,omitempty"`
}

// ContextBundle is everything an actor may see when generating a turn.
type ContextBundle struct {
	ActorName   string                   `json:"actor_name"`
	Persona     string                   `json:"persona"`
	World       string                   `json:"world,omitempty"`
	StageRule   string                   `json:"stage_rule"`
	Scene       blackboard.Scene         `json:"scene"`
	Facts       []blackboard.PublicFact  `json:"facts"`
	Secrets     []string                 `json:"secrets,omitempty"`
	Memory      []string                 `json:"memory,omitempty"`
	History     []blackboard.LabeledTurn `json:"history"`
	Instruction string                   `json:"instruction"`
}

// AdaptationRequest is the coordinator -> director collaborator contract.
type AdaptationRequest struct {
	SessionID      string                  `json:"session_id"`
	SceneSummary   string                  `json:"scene_summary"`
	FactsDelta     []blackboard.PublicFact `json:"facts_delta"`
	NextSceneDraft blackboard.Scene        `json:"next_scene_draft"`
	Roster         []string                `json:"roster"`
}

// AdaptationResponse is the director collaborator -> coordinator contract.
// A nil RevisedScene means "keep the draft".
type AdaptationResponse struct {
	RevisedScene *blackboard.Scene `json:"revised_scene,omitempty"`
	Facts        []FactUpdate      `json:"facts,omitempty"`
}

// FactUpdate is a public fact proposed by the director.
type FactUpdate struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}
