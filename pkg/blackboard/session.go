package blackboard

import (
	"fmt"
)

// SessionMeta is the summary record a store keeps per session alongside its
// event log.
type SessionMeta struct {
	ID          string   `json:"id"`
	Title       string   `json:"title,omitempty"`
	StageRule   string   `json:"stage_rule,omitempty"`
	Lifecycle   string   `json:"lifecycle"`
	Roster      []string `json:"roster"`
	SceneCount  int      `json:"scene_count"`
	LastSeq     uint64   `json:"last_seq"`
	CreatedAtMs int64    `json:"created_at_ms"`
	UpdatedAtMs int64    `json:"updated_at_ms"`
}

// SessionRecord is a persisted session: its summary and ordered event log.
type SessionRecord struct {
	Meta   SessionMeta `json:"meta"`
	Events []Event     `json:"events"`
}

// ApplyEvent folds ev into the session summary. Stores call it on every append
// so the summary always reflects the last persisted event.
func (m *SessionMeta) ApplyEvent(ev Event) error {
	if m.ID == "" {
		m.ID = ev.SessionID
	}
	if ev.Seq > m.LastSeq {
		m.LastSeq = ev.Seq
	}
	if m.CreatedAtMs == 0 {
		m.CreatedAtMs = ev.CreatedAtMs
	}
	m.UpdatedAtMs = ev.CreatedAtMs

	switch ev.Type {
	case EventSessionStarted, EventSessionEnded:
		var view SessionView
		if err := ev.Decode(&view); err != nil {
			return fmt.Errorf("failed to apply %s to session meta: %w", ev.Type, err)
		}
		m.Title = view.Title
		m.StageRule = view.StageRule
		m.Lifecycle = view.Lifecycle
		m.Roster = append([]string(nil), view.Roster...)
		if ev.Type == EventSessionStarted {
			m.SceneCount = len(view.Upcoming)
		}
	case EventStateChanged:
		var state StatePayload
		if err := ev.Decode(&state); err != nil {
			return fmt.Errorf("failed to apply %s to session meta: %w", ev.Type, err)
		}
		m.Lifecycle = state.Lifecycle
	}
	return nil
}
