package stage

import (
	"fmt"

	"github.com/dyluth/troupe/pkg/blackboard"
)

// SchedulePolicy picks the speakers of the next tick. history holds the turns
// of the current scene only. Implementations must be deterministic.
type SchedulePolicy interface {
	Next(scene blackboard.Scene, history []blackboard.Turn) []string
}

// RoundRobin gives the floor to the eligible actor after the last speaker.
type RoundRobin struct{}

func (RoundRobin) Next(scene blackboard.Scene, history []blackboard.Turn) []string {
	if len(scene.Actors) == 0 {
		return nil
	}
	if len(history) == 0 {
		return []string{scene.Actors[0]}
	}
	last := indexOf(scene.Actors, history[len(history)-1].ActorID)
	return []string{scene.Actors[(last+1)%len(scene.Actors)]}
}

// Moderated alternates between the moderator (the first eligible actor) and
// the other actors in order. The moderator opens the scene.
type Moderated struct{}

func (Moderated) Next(scene blackboard.Scene, history []blackboard.Turn) []string {
	if len(scene.Actors) == 0 {
		return nil
	}
	moderator := scene.Actors[0]
	speakers := scene.Actors[1:]
	if len(speakers) == 0 || len(history) == 0 || history[len(history)-1].ActorID != moderator {
		return []string{moderator}
	}

	// Resume after the most recent non-moderator speaker
	for i := len(history) - 1; i >= 0; i-- {
		if idx := indexOf(speakers, history[i].ActorID); idx >= 0 {
			return []string{speakers[(idx+1)%len(speakers)]}
		}
	}
	return []string{speakers[0]}
}

// Ensemble lets every eligible actor speak concurrently. Results are appended
// in the order generations complete, not in roster order.
type Ensemble struct{}

func (Ensemble) Next(scene blackboard.Scene, _ []blackboard.Turn) []string {
	return append([]string(nil), scene.Actors...)
}

// TurnScheduler resolves the policy for a scene's stage rule and checks that
// every batch it returns is valid for the scene.
type TurnScheduler struct {
	policies map[string]SchedulePolicy
}

// NewTurnScheduler creates a scheduler with the built-in policies.
func NewTurnScheduler() *TurnScheduler {
	return &TurnScheduler{
		policies: map[string]SchedulePolicy{
			PolicyRoundRobin: RoundRobin{},
			PolicyModerator:  Moderated{},
			PolicyEnsemble:   Ensemble{},
		},
	}
}

// Register installs or replaces a policy.
func (s *TurnScheduler) Register(name string, policy SchedulePolicy) {
	s.policies[name] = policy
}

// PolicyFor returns the policy used for scene.
func (s *TurnScheduler) PolicyFor(scene blackboard.Scene) (SchedulePolicy, error) {
	rule, ok := LookupStageRule(scene.StageRule)
	if !ok {
		return nil, fmt.Errorf("unknown stage rule '%s'", scene.StageRule)
	}
	policy, ok := s.policies[rule.Policy]
	if !ok {
		return nil, fmt.Errorf("no scheduling policy '%s' for stage rule '%s'", rule.Policy, rule.Tag)
	}
	return policy, nil
}

// Next returns the ordered speaker batch for the next tick. A batch that is
// empty, repeats an actor, or names an actor outside the scene is reported as
// an InvariantViolation.
func (s *TurnScheduler) Next(scene blackboard.Scene, history []blackboard.Turn) ([]string, error) {
	policy, err := s.PolicyFor(scene)
	if err != nil {
		return nil, err
	}

	batch := policy.Next(scene, history)
	if len(batch) == 0 {
		return nil, &blackboard.InvariantViolation{
			Invariant: blackboard.InvariantSchedule,
			Detail:    fmt.Sprintf("no speaker selected for scene '%s'", scene.ID),
		}
	}

	seen := make(map[string]bool, len(batch))
	for _, actorID := range batch {
		if !scene.HasActor(actorID) {
			return nil, &blackboard.InvariantViolation{
				Invariant: blackboard.InvariantSchedule,
				Detail:    fmt.Sprintf("actor '%s' is not eligible in scene '%s'", actorID, scene.ID),
			}
		}
		if seen[actorID] {
			return nil, &blackboard.InvariantViolation{
				Invariant: blackboard.InvariantSchedule,
				Detail:    fmt.Sprintf("actor '%s' selected twice in one batch", actorID),
			}
		}
		seen[actorID] = true
	}
	return batch, nil
}

func indexOf(list []string, item string) int {
	for i, v := range list {
		if v == item {
			return i
		}
	}
	return -1
}
