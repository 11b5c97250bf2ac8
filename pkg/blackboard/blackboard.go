package blackboard

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// sceneMark records the fact window of a scene so its delta can be sliced later.
type sceneMark struct {
	factSeqAtStart int64
	factSeqAtEnd   int64
	ended          bool
}

// Blackboard holds the public facts and dialogue history of one session.
//
// All mutation happens on the stage loop goroutine. The lock only protects
// readers (snapshots, status endpoints) from observing a half-applied write.
type Blackboard struct {
	mu sync.RWMutex

	roster  map[string]bool
	turns   []Turn
	facts   []PublicFact
	latest  map[string]int // fact key -> index into facts
	scenes  map[string]*sceneMark
	order   []string // scene ids in start order
	current string

	now func() time.Time
}

// New creates an empty blackboard for the given roster.
func New(roster []string) *Blackboard {
	members := make(map[string]bool, len(roster))
	for _, id := range roster {
		members[id] = true
	}
	return &Blackboard{
		roster: members,
		latest: make(map[string]int),
		scenes: make(map[string]*sceneMark),
		now:    time.Now,
	}
}

// InRoster reports whether actorID is a member of the session roster.
func (b *Blackboard) InRoster(actorID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.roster[actorID]
}

// BeginScene makes sceneID the current scene. A scene can only begin once.
func (b *Blackboard) BeginScene(sceneID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sceneID == "" {
		return fmt.Errorf("scene id cannot be empty")
	}
	if _, exists := b.scenes[sceneID]; exists {
		return &InvariantViolation{
			Invariant: InvariantSceneEndsOnce,
			Detail:    fmt.Sprintf("scene '%s' already started", sceneID),
		}
	}
	if b.current != "" && !b.scenes[b.current].ended {
		return &InvariantViolation{
			Invariant: InvariantSceneEndsOnce,
			Detail:    fmt.Sprintf("scene '%s' started while '%s' is still open", sceneID, b.current),
		}
	}

	b.scenes[sceneID] = &sceneMark{factSeqAtStart: b.lastFactSeqLocked()}
	b.order = append(b.order, sceneID)
	b.current = sceneID
	return nil
}

// EndScene closes the current scene. Ending a scene twice, or ending a scene
// that is not current, is an invariant violation.
func (b *Blackboard) EndScene(sceneID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	mark, exists := b.scenes[sceneID]
	if !exists || sceneID != b.current {
		return &InvariantViolation{
			Invariant: InvariantSceneEndsOnce,
			Detail:    fmt.Sprintf("scene '%s' is not the current scene", sceneID),
		}
	}
	if mark.ended {
		return &InvariantViolation{
			Invariant: InvariantSceneEndsOnce,
			Detail:    fmt.Sprintf("scene '%s' already ended", sceneID),
		}
	}

	mark.ended = true
	mark.factSeqAtEnd = b.lastFactSeqLocked()
	return nil
}

// CurrentScene returns the current scene id and whether it is still open.
func (b *Blackboard) CurrentScene() (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.current == "" {
		return "", false
	}
	return b.current, !b.scenes[b.current].ended
}

// AppendTurn appends t to the dialogue history and returns the stored copy.
// The sequence number is always assigned here so the history stays gapless.
func (b *Blackboard) AppendTurn(t Turn) (Turn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.roster[t.ActorID] {
		return Turn{}, &InvariantViolation{
			Invariant: InvariantRoster,
			Detail:    fmt.Sprintf("actor '%s' is not in the roster", t.ActorID),
		}
	}
	mark, exists := b.scenes[t.SceneID]
	if !exists || t.SceneID != b.current || mark.ended {
		return Turn{}, &InvariantViolation{
			Invariant: InvariantSceneOpen,
			Detail:    fmt.Sprintf("scene '%s' is not open for turns", t.SceneID),
		}
	}

	t.Seq = int64(len(b.turns)) + 1
	if t.CreatedAtMs == 0 {
		t.CreatedAtMs = b.now().UnixMilli()
	}
	t.Markers = append([]string(nil), t.Markers...)
	b.turns = append(b.turns, t)
	return t, nil
}

// SetFact records a public fact. An empty key records a free-text fact.
// Earlier values of the same key stay in the history.
func (b *Blackboard) SetFact(key, value, source string) (PublicFact, error) {
	key = strings.TrimSpace(key)
	if strings.TrimSpace(value) == "" {
		return PublicFact{}, fmt.Errorf("fact value is required")
	}
	if source == "" {
		source = FactSourceSystem
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fact := PublicFact{
		Seq:          b.lastFactSeqLocked() + 1,
		Key:          key,
		Value:        value,
		Source:       source,
		AfterTurnSeq: int64(len(b.turns)),
		CreatedAtMs:  b.now().UnixMilli(),
	}
	b.facts = append(b.facts, fact)
	if key != "" {
		b.latest[key] = len(b.facts) - 1
	}
	return fact, nil
}

// Facts returns the current fact view: the latest value of every key plus all
// free-text facts, ordered by fact sequence.
func (b *Blackboard) Facts() []PublicFact {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentFactsLocked()
}

// FactHistory returns every fact write in order, including superseded values.
func (b *Blackboard) FactHistory() []PublicFact {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]PublicFact(nil), b.facts...)
}

// Fact returns the latest value for key.
func (b *Blackboard) Fact(key string) (PublicFact, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	idx, ok := b.latest[key]
	if !ok {
		return PublicFact{}, false
	}
	return b.facts[idx], true
}

// LastSeq returns the sequence number of the most recent turn (0 when empty).
func (b *Blackboard) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.turns))
}

// Turns returns a copy of the full dialogue history.
func (b *Blackboard) Turns() []Turn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyTurns(b.turns)
}

// Snapshot returns the dialogue slice and fact delta of one scene.
func (b *Blackboard) Snapshot(sceneID string) SceneSlice {
	b.mu.RLock()
	defer b.mu.RUnlock()

	slice := SceneSlice{SceneID: sceneID, Turns: []Turn{}, Facts: []PublicFact{}}
	mark, exists := b.scenes[sceneID]
	if !exists {
		return slice
	}
	slice.Ended = mark.ended

	for _, t := range b.turns {
		if t.SceneID == sceneID {
			slice.Turns = append(slice.Turns, copyTurn(t))
		}
	}
	for _, f := range b.facts {
		if f.Seq <= mark.factSeqAtStart {
			continue
		}
		if mark.ended && f.Seq > mark.factSeqAtEnd {
			break
		}
		slice.Facts = append(slice.Facts, f)
	}
	return slice
}

// RenderContextFor returns the most recent limit turns (all when limit <= 0)
// labeled relative to actorID. A turn is labeled self if and only if actorID
// authored it.
func (b *Blackboard) RenderContextFor(actorID string, limit int) []LabeledTurn {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := 0
	if limit > 0 && len(b.turns) > limit {
		start = len(b.turns) - limit
	}

	view := make([]LabeledTurn, 0, len(b.turns)-start)
	for _, t := range b.turns[start:] {
		label := AuthoredByOther
		if t.ActorID == actorID {
			label = AuthoredBySelf
		}
		view = append(view, LabeledTurn{Turn: copyTurn(t), Authorship: label})
	}
	return view
}

// State returns a full copy of the blackboard.
func (b *Blackboard) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ended := make([]string, 0, len(b.order))
	for _, id := range b.order {
		if b.scenes[id].ended {
			ended = append(ended, id)
		}
	}
	return State{
		CurrentSceneID: b.current,
		LastSeq:        int64(len(b.turns)),
		Turns:          copyTurns(b.turns),
		Facts:          b.currentFactsLocked(),
		EndedScenes:    ended,
	}
}

func (b *Blackboard) lastFactSeqLocked() int64 {
	if len(b.facts) == 0 {
		return 0
	}
	return b.facts[len(b.facts)-1].Seq
}

func (b *Blackboard) currentFactsLocked() []PublicFact {
	view := make([]PublicFact, 0, len(b.facts))
	for i, f := range b.facts {
		if f.Key != "" && b.latest[f.Key] != i {
			continue
		}
		view = append(view, f)
	}
	sort.SliceStable(view, func(i, j int) bool { return view[i].Seq < view[j].Seq })
	return view
}

func copyTurn(t Turn) Turn {
	t.Markers = append([]string(nil), t.Markers...)
	return t
}

func copyTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = copyTurn(t)
	}
	return out
}
