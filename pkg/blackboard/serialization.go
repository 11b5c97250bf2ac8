package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Array fields are
// JSON-encoded into single hash fields so that scalar fields stay queryable
// with HGET.

// SessionMetaToHash converts a SessionMeta struct to a Redis hash format.
// The roster array is JSON-encoded.
func SessionMetaToHash(m *SessionMeta) (map[string]interface{}, error) {
	roster := m.Roster
	if roster == nil {
		roster = []string{}
	}
	rosterJSON, err := json.Marshal(roster)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal roster: %w", err)
	}

	return map[string]interface{}{
		"id":            m.ID,
		"title":         m.Title,
		"stage_rule":    m.StageRule,
		"lifecycle":     m.Lifecycle,
		"roster":        string(rosterJSON),
		"scene_count":   m.SceneCount,
		"last_seq":      m.LastSeq,
		"created_at_ms": m.CreatedAtMs,
		"updated_at_ms": m.UpdatedAtMs,
	}, nil
}

// HashToSessionMeta converts a Redis hash to a SessionMeta struct.
func HashToSessionMeta(hash map[string]string) (*SessionMeta, error) {
	m := &SessionMeta{
		ID:        hash["id"],
		Title:     hash["title"],
		StageRule: hash["stage_rule"],
		Lifecycle: hash["lifecycle"],
	}
	if m.ID == "" {
		return nil, fmt.Errorf("session hash has no id")
	}

	if rosterJSON := hash["roster"]; rosterJSON != "" {
		if err := json.Unmarshal([]byte(rosterJSON), &m.Roster); err != nil {
			return nil, fmt.Errorf("failed to unmarshal roster: %w", err)
		}
	}

	var err error
	if m.SceneCount, err = parseIntField(hash, "scene_count"); err != nil {
		return nil, err
	}
	lastSeq, err := parseIntField(hash, "last_seq")
	if err != nil {
		return nil, err
	}
	m.LastSeq = uint64(lastSeq)

	created, err := parseInt64Field(hash, "created_at_ms")
	if err != nil {
		return nil, err
	}
	m.CreatedAtMs = created

	updated, err := parseInt64Field(hash, "updated_at_ms")
	if err != nil {
		return nil, err
	}
	m.UpdatedAtMs = updated

	return m, nil
}

// EventToJSON encodes an event for the session event list and the live channel.
func EventToJSON(ev Event) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}
	return string(data), nil
}

// JSONToEvent decodes an event written by EventToJSON and validates it.
func JSONToEvent(raw string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, fmt.Errorf("invalid event: %w", err)
	}
	return ev, nil
}

func parseIntField(hash map[string]string, field string) (int, error) {
	raw := hash[field]
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s field: %w", field, err)
	}
	return v, nil
}

func parseInt64Field(hash map[string]string, field string) (int64, error) {
	raw := hash[field]
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s field: %w", field, err)
	}
	return v, nil
}
