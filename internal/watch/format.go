package watch

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/troupe/pkg/blackboard"
)

// defaultFormatter writes one human-readable line per event.
type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) FormatEvent(ev *blackboard.Event) error {
	line, err := describe(ev)
	if err != nil {
		return err
	}
	if line == "" {
		return nil
	}
	_, err = fmt.Fprintf(f.writer, "[%s] %s\n", formatClock(ev.CreatedAtMs), line)
	return err
}

// describe renders the event body without the timestamp prefix.
func describe(ev *blackboard.Event) (string, error) {
	switch ev.Type {
	case blackboard.EventSnapshot:
		var view blackboard.SessionView
		if err := ev.Decode(&view); err != nil {
			return "", err
		}
		return fmt.Sprintf("📸 Snapshot at seq=%d: state=%s, turns=%d, facts=%d",
			ev.Seq, view.Lifecycle, len(view.Board.Turns), len(view.Board.Facts)), nil

	case blackboard.EventSessionStarted:
		var view blackboard.SessionView
		if err := ev.Decode(&view); err != nil {
			return "", err
		}
		return fmt.Sprintf("🎬 Session started: title=%q, rule=%s, roster=%s, scenes=%d",
			view.Title, view.StageRule, strings.Join(view.Roster, ","), len(view.Upcoming)), nil

	case blackboard.EventStateChanged:
		var state blackboard.StatePayload
		if err := ev.Decode(&state); err != nil {
			return "", err
		}
		return fmt.Sprintf("🔁 State: %s → %s", state.Previous, state.Lifecycle), nil

	case blackboard.EventSceneStarted:
		var scene blackboard.Scene
		if err := ev.Decode(&scene); err != nil {
			return "", err
		}
		title := scene.Title
		if title == "" {
			title = scene.ID
		}
		return fmt.Sprintf("🎭 Scene started: %s (id=%s, actors=%s, max_turns=%d)",
			title, scene.ID, strings.Join(scene.Actors, ","), scene.MaxTurns), nil

	case blackboard.EventTurnAppended:
		var turn blackboard.Turn
		if err := ev.Decode(&turn); err != nil {
			return "", err
		}
		if turn.Placeholder {
			return fmt.Sprintf("🤐 #%d %s: %s", turn.Seq, turn.ActorID, turn.Text), nil
		}
		text := turn.Text
		if turn.HasMarker(blackboard.MarkerPass) && text == "" {
			text = "(passes)"
		}
		suffix := ""
		if len(turn.Markers) > 0 {
			suffix = fmt.Sprintf(" [%s]", strings.Join(turn.Markers, ","))
		}
		return fmt.Sprintf("💬 #%d %s: %s%s", turn.Seq, turn.ActorID, text, suffix), nil

	case blackboard.EventActorSilent:
		var silent blackboard.ActorSilentPayload
		if err := ev.Decode(&silent); err != nil {
			return "", err
		}
		return fmt.Sprintf("⚠️  Actor silent: actor=%s, scene=%s, reason=%s", silent.ActorID, silent.SceneID, silent.Reason), nil

	case blackboard.EventFactSet:
		var fact blackboard.PublicFact
		if err := ev.Decode(&fact); err != nil {
			return "", err
		}
		if fact.Key == "" {
			return fmt.Sprintf("📌 Fact: %s (source=%s)", fact.Value, fact.Source), nil
		}
		return fmt.Sprintf("📌 Fact set: %s=%s (source=%s)", fact.Key, formatValue(fact.Value), fact.Source), nil

	case blackboard.EventSceneEnded:
		var ended blackboard.SceneEndedPayload
		if err := ev.Decode(&ended); err != nil {
			return "", err
		}
		return fmt.Sprintf("🏁 Scene ended: id=%s, reason=%s, turns=%d", ended.SceneID, ended.Reason, ended.Turns), nil

	case blackboard.EventAdaptationApplied:
		var adapted blackboard.AdaptationPayload
		if err := ev.Decode(&adapted); err != nil {
			return "", err
		}
		if !adapted.Applied {
			return fmt.Sprintf("⚠️  Adaptation skipped: scene=%s, reason=%s (draft kept)", adapted.SceneID, adapted.Reason), nil
		}
		return fmt.Sprintf("🪄 Next scene adapted: id=%s", adapted.SceneID), nil

	case blackboard.EventPaused:
		return "⏸️  Paused", nil

	case blackboard.EventResumed:
		return "▶️  Resumed", nil

	case blackboard.EventSessionEnded:
		var view blackboard.SessionView
		if err := ev.Decode(&view); err != nil {
			return "", err
		}
		return fmt.Sprintf("🎉 Session ended: state=%s, turns=%d", view.Lifecycle, len(view.Board.Turns)), nil
	}

	return fmt.Sprintf("• %s (seq=%d)", ev.Type, ev.Seq), nil
}

// jsonFormatter writes each event as a single JSON line.
type jsonFormatter struct {
	writer io.Writer
}

func (f *jsonFormatter) FormatEvent(ev *blackboard.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}
	_, err = fmt.Fprintf(f.writer, "%s\n", data)
	return err
}

func formatClock(ms int64) string {
	if ms == 0 {
		return "--:--:--"
	}
	return time.UnixMilli(ms).Format("15:04:05")
}

// formatValue keeps fact values on one line.
func formatValue(v string) string {
	v = strings.ReplaceAll(strings.TrimSpace(v), "\n", " ")
	if len(v) > 60 {
		return v[:57] + "..."
	}
	return v
}
