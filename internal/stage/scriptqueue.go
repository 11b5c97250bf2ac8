package stage

import (
	"fmt"
	"sync"

	"github.com/dyluth/troupe/pkg/blackboard"
)

// ScriptQueue is the ordered list of scenes of a performance. Scenes before the
// cursor have started and are frozen; scenes at or after it are planned and
// may be replaced by adaptation.
type ScriptQueue struct {
	mu      sync.RWMutex
	scenes  []blackboard.Scene
	started int
}

// NewScriptQueue copies scenes into a new queue.
func NewScriptQueue(scenes []blackboard.Scene) *ScriptQueue {
	q := &ScriptQueue{scenes: make([]blackboard.Scene, len(scenes))}
	for i, s := range scenes {
		q.scenes[i] = s.Clone()
	}
	return q
}

// Start marks the next planned scene as started and returns it.
func (q *ScriptQueue) Start() (blackboard.Scene, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started >= len(q.scenes) {
		return blackboard.Scene{}, false
	}
	scene := q.scenes[q.started].Clone()
	q.started++
	return scene, true
}

// Current returns the most recently started scene.
func (q *ScriptQueue) Current() (blackboard.Scene, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.started == 0 {
		return blackboard.Scene{}, false
	}
	return q.scenes[q.started-1].Clone(), true
}

// Next returns the first planned (not yet started) scene.
func (q *ScriptQueue) Next() (blackboard.Scene, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.started >= len(q.scenes) {
		return blackboard.Scene{}, false
	}
	return q.scenes[q.started].Clone(), true
}

// Replace swaps the planned scene with the given id for revised. Replacing a
// scene that has already started is an invariant violation.
func (q *ScriptQueue) Replace(sceneID string, revised blackboard.Scene) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.scenes {
		if q.scenes[i].ID != sceneID {
			continue
		}
		if i < q.started {
			return &blackboard.InvariantViolation{
				Invariant: blackboard.InvariantUnstarted,
				Detail:    fmt.Sprintf("scene '%s' has already started", sceneID),
			}
		}
		q.scenes[i] = revised.Clone()
		return nil
	}
	return fmt.Errorf("scene '%s' not found in script queue", sceneID)
}

// Upcoming returns copies of the planned scenes.
func (q *ScriptQueue) Upcoming() []blackboard.Scene {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]blackboard.Scene, 0, len(q.scenes)-q.started)
	for _, s := range q.scenes[q.started:] {
		out = append(out, s.Clone())
	}
	return out
}

// Remaining returns the number of planned scenes.
func (q *ScriptQueue) Remaining() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.scenes) - q.started
}

// Len returns the total number of scenes, started or planned.
func (q *ScriptQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.scenes)
}
