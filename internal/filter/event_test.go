package filter

import (
	"testing"

	"github.com/dyluth/troupe/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEvent(t *testing.T, eventType blackboard.EventType, payload any, createdAt int64) *blackboard.Event {
	t.Helper()
	ev, err := blackboard.NewEvent(eventType, payload)
	require.NoError(t, err)
	ev.CreatedAtMs = createdAt
	return &ev
}

func TestCriteriaMatches(t *testing.T) {
	turn := mustEvent(t, blackboard.EventTurnAppended, blackboard.Turn{SceneID: "s1", ActorID: "alice", Text: "hi"}, 2000)
	started := mustEvent(t, blackboard.EventSceneStarted, blackboard.Scene{ID: "s1"}, 1000)
	fact := mustEvent(t, blackboard.EventFactSet, blackboard.PublicFact{Key: "k", Value: "v"}, 3000)
	snapshot := mustEvent(t, blackboard.EventSnapshot, blackboard.SessionView{}, 0)

	tests := []struct {
		name     string
		criteria Criteria
		event    *blackboard.Event
		want     bool
	}{
		{"empty criteria matches all", Criteria{}, turn, true},
		{"since excludes older", Criteria{SinceTimestampMs: 2500}, turn, false},
		{"since includes newer", Criteria{SinceTimestampMs: 1500}, turn, true},
		{"until excludes newer", Criteria{UntilTimestampMs: 1500}, turn, false},
		{"type glob matches", Criteria{TypeGlob: "Turn*"}, turn, true},
		{"type glob rejects", Criteria{TypeGlob: "Scene*"}, turn, false},
		{"actor matches", Criteria{ActorID: "alice"}, turn, true},
		{"actor rejects other actor", Criteria{ActorID: "bob"}, turn, false},
		{"actor rejects event without actor", Criteria{ActorID: "alice"}, fact, false},
		{"scene matches turn", Criteria{SceneID: "s1"}, turn, true},
		{"scene matches scene start", Criteria{SceneID: "s1"}, started, true},
		{"scene rejects other scene", Criteria{SceneID: "s2"}, started, false},
		{"snapshot always passes", Criteria{TypeGlob: "Fact*", SinceTimestampMs: 99999}, snapshot, true},
		{"invalid glob rejects", Criteria{TypeGlob: "["}, turn, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criteria.Matches(tt.event))
		})
	}
}

func TestHasFilters(t *testing.T) {
	assert.False(t, (&Criteria{}).HasFilters())
	assert.True(t, (&Criteria{ActorID: "alice"}).HasFilters())
	assert.True(t, (&Criteria{SinceTimestampMs: 1}).HasFilters())
}
