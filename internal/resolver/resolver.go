// Package resolver expands short session ids typed on the command line.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dyluth/troupe/pkg/blackboard"
)

// MinShortIDLength is the shortest prefix accepted for a session id.
const MinShortIDLength = 6

// SessionLister is the part of a store the resolver needs.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]blackboard.SessionMeta, error)
}

// ResolveSessionID returns the full id of the single session whose id starts
// with shortID. A full UUID is returned only if the session exists.
func ResolveSessionID(ctx context.Context, store SessionLister, shortID string) (string, error) {
	shortID = strings.TrimSpace(shortID)
	isFull := len(shortID) == 36 && strings.Count(shortID, "-") == 4
	if !isFull && len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to search for session: %w", err)
	}

	var matches []string
	for _, s := range sessions {
		if s.ID == shortID {
			return s.ID, nil
		}
		if !isFull && strings.HasPrefix(s.ID, shortID) {
			matches = append(matches, s.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no session matches the short id.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no sessions found matching '%s'", e.ShortID)
}

// AmbiguousError indicates more than one session matches the short id.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d sessions", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError lists up to ten candidates for the user.
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: ambiguous short ID '%s' matches %d sessions:\n", err.ShortID, len(err.Matches))

	displayCount := len(err.Matches)
	if displayCount > 10 {
		displayCount = 10
	}
	for i := 0; i < displayCount; i++ {
		fmt.Fprintf(&b, "  %s\n", err.Matches[i])
	}
	if len(err.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-10)
	}

	b.WriteString("\nUse a longer prefix to uniquely identify the session.")
	return b.String()
}

// IsNotFoundError reports whether err is a NotFoundError.
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAmbiguousError reports whether err is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	var ae *AmbiguousError
	return errors.As(err, &ae)
}
