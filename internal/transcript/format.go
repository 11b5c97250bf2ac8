// Package transcript lists recorded sessions and replays their event logs.
package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/troupe/pkg/blackboard"
)

// FormatSessionTable writes session summaries as a table.
// Returns the number of sessions formatted.
func FormatSessionTable(w io.Writer, sessions []blackboard.SessionMeta, source string) int {
	if len(sessions) == 0 {
		fmt.Fprintf(w, "No sessions found in %s\n", source)
		return 0
	}

	fmt.Fprintf(w, "Sessions in %s:\n\n", source)

	fmt.Fprintf(w, "%-10s %-24s %-18s %-7s %-7s %s\n",
		"ID", "TITLE", "STATE", "SCENES", "EVENTS", "UPDATED")
	fmt.Fprintf(w, "%-10s %-24s %-18s %-7s %-7s %s\n",
		"----------", "------------------------", "------------------", "-------", "-------", "--------")

	for _, s := range sessions {
		fmt.Fprintf(w, "%-10s %-24s %-18s %-7d %-7d %s\n",
			formatID(s.ID),
			formatTitle(s.Title),
			formatState(s.Lifecycle),
			s.SceneCount,
			s.LastSeq,
			formatTimestamp(s.UpdatedAtMs),
		)
	}

	countMsg := "session"
	if len(sessions) != 1 {
		countMsg = "sessions"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(sessions), countMsg)

	return len(sessions)
}

// FormatJSONL writes values as line-delimited JSON, one per line.
func FormatJSONL[T any](w io.Writer, items []T) error {
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes v as pretty-printed JSON followed by a newline.
func FormatSingleJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// FormatScript writes the dialogue of a session as a play script: one heading
// per scene, one line per turn, facts indented underneath.
func FormatScript(w io.Writer, record *blackboard.SessionRecord) error {
	fmt.Fprintf(w, "%s\n", scriptTitle(record.Meta))

	for i := range record.Events {
		ev := &record.Events[i]
		switch ev.Type {
		case blackboard.EventSceneStarted:
			var scene blackboard.Scene
			if err := ev.Decode(&scene); err != nil {
				return err
			}
			fmt.Fprintf(w, "\n== %s ==\n", sceneHeading(scene))
			if scene.Description != "" {
				fmt.Fprintf(w, "(%s)\n\n", strings.TrimSpace(scene.Description))
			}

		case blackboard.EventTurnAppended:
			var turn blackboard.Turn
			if err := ev.Decode(&turn); err != nil {
				return err
			}
			switch {
			case turn.Placeholder:
				fmt.Fprintf(w, "  [%s]\n", turn.Text)
			case turn.HasMarker(blackboard.MarkerPass) && turn.Text == "":
				fmt.Fprintf(w, "%s: ...\n", strings.ToUpper(turn.ActorID))
			default:
				fmt.Fprintf(w, "%s: %s\n", strings.ToUpper(turn.ActorID), turn.Text)
			}

		case blackboard.EventFactSet:
			var fact blackboard.PublicFact
			if err := ev.Decode(&fact); err != nil {
				return err
			}
			if fact.Source == blackboard.FactSourceSystem {
				continue
			}
			if fact.Key == "" {
				fmt.Fprintf(w, "    * %s\n", fact.Value)
			} else {
				fmt.Fprintf(w, "    * %s: %s\n", fact.Key, fact.Value)
			}

		case blackboard.EventSceneEnded:
			var ended blackboard.SceneEndedPayload
			if err := ev.Decode(&ended); err != nil {
				return err
			}
			fmt.Fprintf(w, "-- end of scene (%s) --\n", ended.Reason)
		}
	}
	return nil
}

func scriptTitle(meta blackboard.SessionMeta) string {
	title := meta.Title
	if title == "" {
		title = meta.ID
	}
	return fmt.Sprintf("%s\n%s", title, strings.Repeat("=", len([]rune(title))))
}

func sceneHeading(scene blackboard.Scene) string {
	parts := []string{scene.ID}
	if scene.Title != "" {
		parts = append(parts, scene.Title)
	}
	if scene.Location != "" {
		parts = append(parts, scene.Location)
	}
	return strings.Join(parts, " / ")
}

// formatID truncates session ID to first 8 characters for compact display.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatTitle keeps titles within the table column.
func formatTitle(title string) string {
	if title == "" {
		return "-"
	}
	if len(title) > 24 {
		return title[:21] + "..."
	}
	return title
}

func formatState(state string) string {
	if state == "" {
		return "-"
	}
	return state
}

// formatTimestamp formats Unix timestamp in milliseconds as relative time like "2m ago".
func formatTimestamp(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := time.Since(time.UnixMilli(timestampMs))

	if diff < time.Minute {
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	} else if diff < time.Hour {
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	} else if diff < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
}
