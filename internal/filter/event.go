// Package filter selects session events for the log and watch commands.
package filter

import (
	"encoding/json"
	"path/filepath"

	"github.com/dyluth/troupe/pkg/blackboard"
)

// Criteria defines filtering criteria for session events.
// All filters are ANDed together - an event must match ALL criteria to pass.
type Criteria struct {
	SinceTimestampMs int64  // Unix timestamp in milliseconds, 0 = no filter
	UntilTimestampMs int64  // Unix timestamp in milliseconds, 0 = no filter
	TypeGlob         string // Glob pattern for event type, empty = no filter
	ActorID          string // Exact match for the acting actor, empty = no filter
	SceneID          string // Exact match for the scene, empty = no filter
}

// subject holds the fields of a payload the criteria look at.
type subject struct {
	ActorID string `json:"actor_id"`
	SceneID string `json:"scene_id"`
	ID      string `json:"id"`
}

// Matches returns true if the event matches all filter criteria.
// Empty/zero criteria values are treated as "match all" for that criterion.
// Snapshots always pass so that consumers keep their starting state.
func (c *Criteria) Matches(ev *blackboard.Event) bool {
	if ev.Type == blackboard.EventSnapshot {
		return true
	}

	if c.SinceTimestampMs > 0 && ev.CreatedAtMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && ev.CreatedAtMs > c.UntilTimestampMs {
		return false
	}

	if c.TypeGlob != "" {
		matched, err := filepath.Match(c.TypeGlob, string(ev.Type))
		if err != nil || !matched {
			return false
		}
	}

	if c.ActorID == "" && c.SceneID == "" {
		return true
	}

	var s subject
	if len(ev.Payload) > 0 {
		_ = json.Unmarshal(ev.Payload, &s)
	}

	// Actor filtering only applies to events that name an actor
	if c.ActorID != "" && s.ActorID != c.ActorID {
		return false
	}

	if c.SceneID != "" {
		scene := s.SceneID
		if ev.Type == blackboard.EventSceneStarted {
			scene = s.ID
		}
		if scene != c.SceneID {
			return false
		}
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 ||
		c.UntilTimestampMs > 0 ||
		c.TypeGlob != "" ||
		c.ActorID != "" ||
		c.SceneID != ""
}
