package blackboard

import (
	"fmt"
	"strings"

	"github.com/jinzhu/copier"
)

// Turn markers recognised by the stage loop.
const (
	// MarkerSceneEnd flags an utterance that closes the current scene.
	MarkerSceneEnd = "scene_end"

	// MarkerPass flags an actor that yielded its turn without speaking.
	MarkerPass = "pass"

	// MarkerSilent flags a placeholder turn substituted after repeated generation failures.
	MarkerSilent = "silent"
)

// Fact sources.
const (
	FactSourceOperator = "operator"
	FactSourceDirector = "director"
	FactSourceSystem   = "system"
)

// TerminationPolicy bounds a scene. A scene ends when an utterance carries the
// end marker or when MaxTurns turns have been appended, whichever comes first.
type TerminationPolicy struct {
	MaxTurns  int    `json:"max_turns" yaml:"max_turns"`
	EndMarker string `json:"end_marker,omitempty" yaml:"end_marker,omitempty"`
}

// Scene is one bounded unit of the performance. It is immutable once started;
// only scenes that have not started yet may be rewritten by adaptation.
type Scene struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title,omitempty" yaml:"title,omitempty"`
	Description string   `json:"description" yaml:"description"`
	Goal        string   `json:"goal,omitempty" yaml:"goal,omitempty"`
	Location    string   `json:"location,omitempty" yaml:"location,omitempty"`
	Timeline    string   `json:"timeline,omitempty" yaml:"timeline,omitempty"`
	Actors      []string `json:"actors" yaml:"actors"`
	StageRule   string   `json:"stage_rule,omitempty" yaml:"stage_rule,omitempty"`

	TerminationPolicy `yaml:",inline"`
}

// Validate checks that the scene carries every required field.
func (s *Scene) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("scene id is required")
	}
	if strings.TrimSpace(s.Description) == "" {
		return fmt.Errorf("scene '%s': description is required", s.ID)
	}
	if len(s.Actors) == 0 {
		return fmt.Errorf("scene '%s': at least one actor is required", s.ID)
	}

	seen := make(map[string]bool, len(s.Actors))
	for _, actor := range s.Actors {
		if strings.TrimSpace(actor) == "" {
			return fmt.Errorf("scene '%s': actor id cannot be empty", s.ID)
		}
		if seen[actor] {
			return fmt.Errorf("scene '%s': actor '%s' listed twice", s.ID, actor)
		}
		seen[actor] = true
	}

	if s.MaxTurns < 1 {
		return fmt.Errorf("scene '%s': max_turns must be >= 1, got %d", s.ID, s.MaxTurns)
	}

	return nil
}

// HasActor reports whether actorID is eligible to speak in the scene.
func (s *Scene) HasActor(actorID string) bool {
	for _, a := range s.Actors {
		if a == actorID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the scene.
func (s Scene) Clone() Scene {
	var out Scene
	if err := copier.CopyWithOption(&out, &s, copier.Option{DeepCopy: true}); err != nil {
		out = s
		out.Actors = append([]string(nil), s.Actors...)
	}
	return out
}

// Turn is one appended utterance. Turns are never mutated after append.
type Turn struct {
	Seq         int64    `json:"seq"`
	SceneID     string   `json:"scene_id"`
	ActorID     string   `json:"actor_id"`
	Text        string   `json:"text"`
	Markers     []string `json:"markers,omitempty"`
	Placeholder bool     `json:"placeholder,omitempty"`
	CreatedAtMs int64    `json:"created_at_ms"`
}

// HasMarker reports whether the turn carries the given marker.
func (t *Turn) HasMarker(marker string) bool {
	for _, m := range t.Markers {
		if m == marker {
			return true
		}
	}
	return false
}

// PublicFact is visible to every actor and the audience. Keyed facts follow
// latest-write-wins; free-text facts have an empty Key and always accumulate.
type PublicFact struct {
	Seq          int64  `json:"seq"`
	Key          string `json:"key,omitempty"`
	Value        string `json:"value"`
	Source       string `json:"source"`
	AfterTurnSeq int64  `json:"after_turn_seq"`
	CreatedAtMs  int64  `json:"created_at_ms"`
}

// Authorship tags a history entry relative to the actor the view is rendered for.
type Authorship string

const (
	AuthoredBySelf  Authorship = "self"
	AuthoredByOther Authorship = "other"
)

// LabeledTurn is a Turn as seen from one actor's point of view.
type LabeledTurn struct {
	Turn
	Authorship Authorship `json:"authorship"`
}

// SceneSlice is the dialogue and fact delta of a single scene.
type SceneSlice struct {
	SceneID string       `json:"scene_id"`
	Turns   []Turn       `json:"turns"`
	Facts   []PublicFact `json:"facts"`
	Ended   bool         `json:"ended"`
}

// State is a full copy of the blackboard.
type State struct {
	CurrentSceneID string       `json:"current_scene_id,omitempty"`
	LastSeq        int64        `json:"last_seq"`
	Turns          []Turn       `json:"turns"`
	Facts          []PublicFact `json:"facts"`
	EndedScenes    []string     `json:"ended_scenes"`
}

// SessionView is the full observable state of a performance session. It is the
// payload of snapshot, session-start and session-end events.
type SessionView struct {
	SessionID    string   `json:"session_id"`
	Title        string   `json:"title,omitempty"`
	StageRule    string   `json:"stage_rule,omitempty"`
	Lifecycle    string   `json:"lifecycle"`
	Paused       bool     `json:"paused"`
	Roster       []string `json:"roster"`
	CurrentScene *Scene   `json:"current_scene,omitempty"`
	Upcoming     []Scene  `json:"upcoming"`
	Board        State    `json:"board"`
}
