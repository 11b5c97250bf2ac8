// Package timespec parses the --since/--until flags of the log and watch commands.
package timespec

import (
	"fmt"
	"time"
)

// Window is a closed time range in Unix milliseconds. Zero values indicate
// "no bound" for that end of the range.
type Window struct {
	SinceMs int64
	UntilMs int64
}

// Contains reports whether tsMs falls inside the window.
func (w Window) Contains(tsMs int64) bool {
	if w.SinceMs > 0 && tsMs < w.SinceMs {
		return false
	}
	if w.UntilMs > 0 && tsMs > w.UntilMs {
		return false
	}
	return true
}

// Parse parses a time specification into a Unix timestamp (milliseconds).
// Supports two formats:
//   - Go duration format: "1h", "30m", "1h30m", "2h45m30s"
//   - RFC3339 timestamps: "2025-10-29T13:00:00Z"
//
// Duration specifications are relative to now: "1h" means "1 hour ago".
func Parse(spec string, now time.Time) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative duration: %s", spec)
		}
		return now.Add(-d).UnixMilli(), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}

// ParseWindow parses both --since and --until flags into a Window.
// Validates that since < until if both are specified.
func ParseWindow(since, until string) (Window, error) {
	var w Window
	var err error
	now := time.Now()

	if since != "" {
		w.SinceMs, err = Parse(since, now)
		if err != nil {
			return Window{}, fmt.Errorf("invalid --since: %w", err)
		}
	}

	if until != "" {
		w.UntilMs, err = Parse(until, now)
		if err != nil {
			return Window{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if w.SinceMs > 0 && w.UntilMs > 0 && w.SinceMs >= w.UntilMs {
		return Window{}, fmt.Errorf("--since must be before --until")
	}

	return w, nil
}
