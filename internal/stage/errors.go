package stage

import (
	"errors"
	"fmt"
)

// Generation failure kinds. Both are recovered locally by the gateway.
var (
	ErrGenerationTimeout   = errors.New("generation timed out")
	ErrGenerationMalformed = errors.New("generation output malformed")
	ErrGenerationFailed    = errors.New("generation failed")
)

// Control surface errors.
var (
	ErrNotInitialized    = errors.New("session not initialized")
	ErrAlreadyStarted    = errors.New("session already initialized")
	ErrSessionClosed     = errors.New("session closed")
	ErrCommandQueueFull  = errors.New("command queue full")
	ErrUnknownCommand    = errors.New("unknown command")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrNoSceneInProgress = errors.New("no scene in progress")
)

// GenerationError describes one failed actor-generation attempt.
type GenerationError struct {
	ActorID string
	Attempt int
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("actor '%s' attempt %d: %v", e.ActorID, e.Attempt, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsGenerationTimeout reports whether err is a timed-out generation.
func IsGenerationTimeout(err error) bool {
	return errors.Is(err, ErrGenerationTimeout)
}

// IsGenerationMalformed reports whether err is unparseable generation output.
func IsGenerationMalformed(err error) bool {
	return errors.Is(err, ErrGenerationMalformed)
}

// AdaptationFailure records why a director revision was not applied. It is a
// diagnostic: the original scene draft stays queued.
type AdaptationFailure struct {
	SceneID string
	Reason  string
	Err     error
}

func (e *AdaptationFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("adaptation of scene '%s' failed: %s: %v", e.SceneID, e.Reason, e.Err)
	}
	return fmt.Sprintf("adaptation of scene '%s' failed: %s", e.SceneID, e.Reason)
}

func (e *AdaptationFailure) Unwrap() error {
	return e.Err
}

// IsAdaptationFailure reports whether err wraps an AdaptationFailure.
func IsAdaptationFailure(err error) bool {
	var af *AdaptationFailure
	return errors.As(err, &af)
}
