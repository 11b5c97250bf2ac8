package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/troupe/internal/filter"
	"github.com/dyluth/troupe/internal/printer"
	"github.com/dyluth/troupe/internal/timespec"
	"github.com/dyluth/troupe/internal/transcript"
	"github.com/spf13/cobra"
)

var (
	logStore        storeFlags
	logOutputFormat string
	logSince        string
	logUntil        string
	logType         string
	logActor        string
	logScene        string
)

var logCmd = &cobra.Command{
	Use:   "log SESSION_ID",
	Short: "Replay the recorded event log of a session",
	Long: `Replay a recorded session from its persisted event log.
Supports short IDs (e.g., "abc123" instead of the full UUID).

Output Formats:
  default - Timestamped activity log with emojis
  jsonl   - Line-delimited JSON, one event per line
  script  - The dialogue written out as a play script

Time Filters (default and jsonl only):
  --since  - Show events recorded after this time
  --until  - Show events recorded before this time

Content Filters (default and jsonl only):
  --type   - Filter by event type (glob pattern: "Turn*", "*Ended")
  --actor  - Filter by actor id (exact match)
  --scene  - Filter by scene id (exact match)

Examples:
  # Replay a session
  troupe log 3f2a9c

  # Only what bob said in the second scene
  troupe log 3f2a9c --type=TurnAppended --actor=bob --scene=s2

  # Print the performance as a script
  troupe log 3f2a9c --output=script`,
	Args: cobra.ExactArgs(1),
	RunE: runLog,
}

func init() {
	logStore.register(logCmd)
	logCmd.Flags().StringVarP(&logOutputFormat, "output", "o", "default", "Output format: default, jsonl or script")

	// Time-based filters
	logCmd.Flags().StringVar(&logSince, "since", "", "Show events after time (duration or RFC3339)")
	logCmd.Flags().StringVar(&logUntil, "until", "", "Show events before time (duration or RFC3339)")

	// Content-based filters
	logCmd.Flags().StringVar(&logType, "type", "", "Filter by event type (glob pattern)")
	logCmd.Flags().StringVar(&logActor, "actor", "", "Filter by actor id (exact match)")
	logCmd.Flags().StringVar(&logScene, "scene", "", "Filter by scene id (exact match)")

	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var format transcript.OutputFormat
	switch logOutputFormat {
	case "default":
		format = transcript.OutputFormatDefault
	case "jsonl":
		format = transcript.OutputFormatJSONL
	case "script":
		format = transcript.OutputFormatScript
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", logOutputFormat),
			[]string{"Valid formats: default, jsonl, script"},
		)
	}

	window, err := timespec.ParseWindow(logSince, logUntil)
	if err != nil {
		return printer.Error(
			"invalid time filter",
			err.Error(),
			[]string{"Use a duration like '1h30m' or an RFC3339 timestamp like '2025-10-29T13:00:00Z'"},
		)
	}
	criteria := &filter.Criteria{
		SinceTimestampMs: window.SinceMs,
		UntilTimestampMs: window.UntilMs,
		TypeGlob:         logType,
		ActorID:          logActor,
		SceneID:          logScene,
	}

	st, err := logStore.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	sessionID, err := resolveSession(ctx, st, args[0], "troupe log")
	if err != nil {
		return err
	}

	if err := transcript.ShowSession(ctx, st, sessionID, format, criteria, cmd.OutOrStdout()); err != nil {
		if transcript.IsNotFound(err) {
			return printer.Error(
				fmt.Sprintf("session with ID '%s' not found", sessionID),
				"The session is listed but its log could not be loaded.",
				[]string{"List recorded sessions:\n  troupe sessions"},
			)
		}
		return fmt.Errorf("failed to replay session: %w", err)
	}
	return nil
}
