package blackboard

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a delta on the live channel.
type EventType string

const (
	EventSnapshot          EventType = "Snapshot"
	EventSessionStarted    EventType = "SessionStarted"
	EventStateChanged      EventType = "StateChanged"
	EventSceneStarted      EventType = "SceneStarted"
	EventTurnAppended      EventType = "TurnAppended"
	EventActorSilent       EventType = "ActorSilent"
	EventFactSet           EventType = "FactSet"
	EventSceneEnded        EventType = "SceneEnded"
	EventAdaptationApplied EventType = "AdaptationApplied"
	EventPaused            EventType = "Paused"
	EventResumed           EventType = "Resumed"
	EventSessionEnded      EventType = "SessionEnded"
)

// Scene end reasons, in priority order.
const (
	EndReasonMarker   = "end_marker"
	EndReasonMaxTurns = "max_turns"
	EndReasonSkipped  = "skipped"
	EndReasonForced   = "forced"
	// EndReasonColdField ends a scene once every cast actor in a row has
	// passed or fallen silent.
	EndReasonColdField = "cold_field"
)

// Event is one sequenced message on the live channel. Seq is assigned by the
// broadcaster and is gapless per session; snapshots carry the seq of the last
// delta they include.
type Event struct {
	Type        EventType       `json:"type"`
	Seq         uint64          `json:"seq"`
	SessionID   string          `json:"session_id"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAtMs int64           `json:"created_at_ms"`
}

// NewEvent encodes payload once so the event can be fanned out without re-marshalling.
func NewEvent(eventType EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{
		Type:        eventType,
		Payload:     data,
		CreatedAtMs: time.Now().UnixMilli(),
	}, nil
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Validate checks that a decoded event is usable.
func (e *Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.SessionID == "" {
		return fmt.Errorf("event session_id is required")
	}
	if e.Type != EventSnapshot && e.Seq == 0 {
		return fmt.Errorf("event %s: seq must be > 0", e.Type)
	}
	return nil
}

// SceneEndedPayload is the payload of SceneEnded.
type SceneEndedPayload struct {
	SceneID string `json:"scene_id"`
	Reason  string `json:"reason"`
	Turns   int    `json:"turns"`
}

// ActorSilentPayload is the payload of ActorSilent.
type ActorSilentPayload struct {
	ActorID string `json:"actor_id"`
	SceneID string `json:"scene_id"`
	TurnSeq int64  `json:"turn_seq"`
	Reason  string `json:"reason"`
}

// AdaptationPayload is the payload of AdaptationApplied. Applied is false when
// the director failed or returned an invalid revision and the draft was kept.
type AdaptationPayload struct {
	SceneID string `json:"scene_id"`
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
	Scene   *Scene `json:"scene,omitempty"`
}

// StatePayload is the payload of StateChanged, Paused and Resumed.
type StatePayload struct {
	Lifecycle string `json:"lifecycle"`
	Previous  string `json:"previous,omitempty"`
	Paused    bool   `json:"paused"`
	Reason    string `json:"reason,omitempty"`
}
