package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/troupe/internal/printer"
	"github.com/dyluth/troupe/internal/transcript"
	"github.com/spf13/cobra"
)

var (
	sessionsStore        storeFlags
	sessionsOutputFormat string
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"list"},
	Short:   "List recorded sessions",
	Long: `List every session recorded in a store, oldest first.

Output Formats:
  default - Table with ID, title, state, scene count and last sequence
  jsonl   - Line-delimited JSON, one session summary per line

Examples:
  # List sessions in the local SQLite file
  troupe sessions

  # List sessions recorded in Redis
  troupe sessions --store=redis --redis-url=redis://localhost:6379/0`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

func init() {
	sessionsStore.register(sessionsCmd)
	sessionsCmd.Flags().StringVarP(&sessionsOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var format transcript.OutputFormat
	switch sessionsOutputFormat {
	case "default":
		format = transcript.OutputFormatDefault
	case "jsonl":
		format = transcript.OutputFormatJSONL
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", sessionsOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	st, err := sessionsStore.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	return transcript.ListSessions(ctx, st, sessionsStore.source(), format, cmd.OutOrStdout())
}
