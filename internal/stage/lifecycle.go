package stage

import "fmt"

// Lifecycle is the StageManager state. Paused is tracked separately because it
// is orthogonal: a paused session is still SceneActive.
type Lifecycle string

const (
	StateIdle             Lifecycle = "Idle"
	StateInitializing     Lifecycle = "Initializing"
	StateSceneActive      Lifecycle = "SceneActive"
	StateSceneSummarizing Lifecycle = "SceneSummarizing"
	StateAdapting         Lifecycle = "Adapting"
	StateEnded            Lifecycle = "Ended"
	StateFailed           Lifecycle = "Failed"
)

// Terminal reports whether no further transitions are possible.
func (l Lifecycle) Terminal() bool {
	return l == StateEnded || l == StateFailed
}

var transitions = map[Lifecycle][]Lifecycle{
	StateIdle:             {StateInitializing},
	StateInitializing:     {StateSceneActive, StateIdle, StateFailed},
	StateSceneActive:      {StateSceneSummarizing, StateEnded, StateFailed},
	StateSceneSummarizing: {StateAdapting, StateSceneActive, StateEnded, StateFailed},
	StateAdapting:         {StateSceneActive, StateEnded, StateFailed},
}

// checkTransition returns ErrInvalidTransition unless from -> to is allowed.
func checkTransition(from, to Lifecycle) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
