package transcript

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/troupe/internal/filter"
	"github.com/dyluth/troupe/internal/watch"
	"github.com/dyluth/troupe/pkg/blackboard"
)

// OutputFormat specifies how sessions and logs are written.
type OutputFormat string

const (
	// OutputFormatDefault is a table for lists and a timestamped activity log for sessions
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete records as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"

	// OutputFormatScript outputs a session's dialogue as a play script
	OutputFormatScript OutputFormat = "script"
)

// Store is the read side of a session store.
type Store interface {
	LoadSession(ctx context.Context, sessionID string) (*blackboard.SessionRecord, error)
	ListSessions(ctx context.Context) ([]blackboard.SessionMeta, error)
}

// ListSessions writes every recorded session, oldest first.
func ListSessions(ctx context.Context, store Store, source string, format OutputFormat, w io.Writer) error {
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	switch format {
	case OutputFormatDefault:
		FormatSessionTable(w, sessions, source)
	case OutputFormatJSONL:
		if err := FormatJSONL(w, sessions); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}

// ShowSession replays one recorded session. Criteria only apply to the
// default and jsonl formats; a script always shows the whole dialogue.
func ShowSession(ctx context.Context, store Store, sessionID string, format OutputFormat, criteria *filter.Criteria, w io.Writer) error {
	record, err := store.LoadSession(ctx, sessionID)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return &SessionNotFoundError{SessionID: sessionID}
		}
		return fmt.Errorf("failed to load session: %w", err)
	}

	switch format {
	case OutputFormatScript:
		return FormatScript(w, record)
	case OutputFormatDefault, OutputFormatJSONL:
		watchFormat := watch.OutputFormatDefault
		if format == OutputFormatJSONL {
			watchFormat = watch.OutputFormatJSON
		}
		formatter := watch.NewFormatter(watchFormat, w)
		for i := range record.Events {
			ev := &record.Events[i]
			if criteria != nil && !criteria.Matches(ev) {
				continue
			}
			if err := formatter.FormatEvent(ev); err != nil {
				return fmt.Errorf("event %d: %w", ev.Seq, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// SessionNotFoundError represents a specific "session not found" error.
// This allows callers to distinguish not-found errors from other failures.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session with ID '%s' not found", e.SessionID)
}

// IsNotFound returns true if the error is a SessionNotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*SessionNotFoundError)
	return ok
}
