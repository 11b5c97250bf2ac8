// Package watch renders live session events for humans and machines.
package watch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/troupe/internal/filter"
	"github.com/dyluth/troupe/pkg/blackboard"
)

// OutputFormat selects how events are written.
type OutputFormat string

const (
	// OutputFormatDefault is human-readable output with timestamps and emojis
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON is line-delimited JSON, one event per line
	OutputFormatJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, "":
		return OutputFormatDefault, nil
	case OutputFormatJSON, "jsonl":
		return OutputFormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}

// Formatter writes one event.
type Formatter interface {
	FormatEvent(ev *blackboard.Event) error
}

// NewFormatter returns the formatter for format writing to w.
func NewFormatter(format OutputFormat, w io.Writer) Formatter {
	if format == OutputFormatJSON {
		return &jsonFormatter{writer: w}
	}
	return &defaultFormatter{writer: w}
}

// StreamActivity writes every event received on events until the session ends,
// the channel closes or ctx is cancelled. Events failing criteria are skipped.
func StreamActivity(ctx context.Context, events <-chan blackboard.Event, format OutputFormat, criteria *filter.Criteria, w io.Writer) error {
	formatter := NewFormatter(format, w)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if criteria != nil && !criteria.Matches(&ev) {
				if ev.Type == blackboard.EventSessionEnded {
					return nil
				}
				continue
			}
			if err := formatter.FormatEvent(&ev); err != nil {
				return err
			}
			if ev.Type == blackboard.EventSessionEnded {
				return nil
			}
		}
	}
}

// SessionLookup is the part of a store PollForSession needs.
type SessionLookup interface {
	LoadSession(ctx context.Context, sessionID string) (*blackboard.SessionRecord, error)
}

// PollForSession polls a store until the session has been recorded.
// Polls every 200ms for the specified timeout duration.
func PollForSession(ctx context.Context, store SessionLookup, sessionID string, timeout time.Duration) (*blackboard.SessionMeta, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for session %s after %v", sessionID, timeout)

		case <-ticker.C:
			record, err := store.LoadSession(ctx, sessionID)
			if err != nil {
				if blackboard.IsNotFound(err) {
					// Not recorded yet, continue polling
					continue
				}
				return nil, fmt.Errorf("failed to query for session: %w", err)
			}
			return &record.Meta, nil
		}
	}
}
