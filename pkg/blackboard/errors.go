package blackboard

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Invariant names carried by InvariantViolation.
const (
	InvariantRoster        = "roster_membership"
	InvariantSceneOpen     = "append_to_open_scene"
	InvariantSceneEndsOnce = "scene_ends_once"
	InvariantUnstarted     = "adapt_unstarted_only"
	InvariantSchedule      = "schedule_eligibility"
)

// InvariantViolation reports a state change that would corrupt dialogue ordering
// or roster consistency. It is fatal to the session.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation (%s): %s", e.Invariant, e.Detail)
}

// IsInvariantViolation reports whether err wraps an InvariantViolation.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}

// ErrSessionNotFound is returned by stores that are not backed by Redis when a
// session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil)
// or ErrSessionNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil) || errors.Is(err, ErrSessionNotFound)
}
