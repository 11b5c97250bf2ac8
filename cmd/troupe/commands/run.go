package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dyluth/troupe/internal/collab"
	"github.com/dyluth/troupe/internal/config"
	"github.com/dyluth/troupe/internal/printer"
	"github.com/dyluth/troupe/internal/stage"
	"github.com/dyluth/troupe/internal/store"
	"github.com/dyluth/troupe/internal/watch"
	"github.com/spf13/cobra"
)

var (
	runOutputFormat string
	runInteractive  bool
	runNoRecord     bool
)

var runCmd = &cobra.Command{
	Use:   "run [stage.yml]",
	Short: "Run a performance headless",
	Long: `Run every scene of a stage.yml and stream the performance to stdout.

The session is recorded to the store named in the file's persistence block
unless --no-record is given. Ctrl-C ends the open scene and stops the session.

Interactive Mode (--interactive):
  Operator commands are read from stdin, one per line, and applied at the
  next turn boundary:
    pause | resume | skip | end
    fact <key>=<value>    set a keyed public fact
    fact <text>           add a free-text public fact

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON, one event per line

Examples:
  # Run the performance in the current directory
  troupe run

  # Steer the performance while it runs
  troupe run stage.yml --interactive

  # Export the event stream
  troupe run stage.yml --output=json > events.jsonl`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runOutputFormat, "output", "o", "default", "Output format (default or json)")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "Read operator commands from stdin")
	runCmd.Flags().BoolVar(&runNoRecord, "no-record", false, "Do not record the session even if persistence is configured")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	path := "stage.yml"
	if len(args) > 0 {
		path = args[0]
	}

	format, err := watch.ParseOutputFormat(runOutputFormat)
	if err != nil {
		return printer.Error(
			"invalid output format",
			err.Error(),
			[]string{"Valid formats: default, json"},
		)
	}

	cfg, err := loadStageConfig(path)
	if err != nil {
		return err
	}

	deps, err := collab.FromConfig(cfg)
	if err != nil {
		return configFailure(path, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !runNoRecord {
		st, err := store.Open(ctx, cfg.Persistence)
		if err != nil {
			return printer.ErrorWithContext(
				"store connection failed",
				"Could not open the store named in the persistence block.",
				map[string]string{"Config": path, "Error": err.Error()},
				[]string{"Fix the persistence block, or run without recording:\n  troupe run --no-record"},
			)
		}
		if st != nil {
			defer st.Close()
			deps.Recorder = st
		}
	}

	m := stage.NewManager(deps)
	sessionID, err := m.Initialize(cfg)
	if err != nil {
		return configFailure(path, err)
	}

	sub, err := m.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to observe session: %w", err)
	}
	out := cmd.OutOrStdout()
	streamDone := make(chan error, 1)
	go func() {
		streamDone <- watch.StreamActivity(context.Background(), sub.Events(), format, nil, out)
	}()

	if runInteractive {
		go readOperatorCommands(ctx, cmd.InOrStdin(), m, cmd.ErrOrStderr())
	}

	runErr := m.Run(ctx)
	if err := <-streamDone; err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "output error: %v\n", err)
	}

	status := m.Status()
	if runErr != nil {
		return printer.ErrorWithContext(
			"session failed",
			runErr.Error(),
			map[string]string{"Session": sessionID, "State": string(status.State)},
			[]string{fmt.Sprintf("Inspect the recorded log:\n  troupe log %s", sessionID)},
		)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Session %s %s after %d turns (%d silent)\n",
		sessionID, strings.ToLower(string(status.State)), status.Turns, status.SilentTurns)
	return nil
}

// loadStageConfig reads and validates a stage.yml. Errors are already printed.
func loadStageConfig(path string) (*config.SessionConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, printer.Error(
			fmt.Sprintf("%s not found", path),
			"No stage configuration at this path.",
			[]string{"Pass the path explicitly:\n  troupe run path/to/stage.yml"},
		)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, configFailure(path, err)
	}
	return cfg, nil
}

func configFailure(path string, err error) error {
	if ce, ok := config.AsConfigError(err); ok {
		ctx := map[string]string{"File": path}
		if ce.Field != "" {
			ctx["Field"] = ce.Field
		}
		return printer.ErrorWithContext(
			"invalid stage configuration",
			ce.Reason,
			ctx,
			[]string{fmt.Sprintf("Check the configuration:\n  troupe validate %s", path)},
		)
	}
	return printer.Error("failed to load stage configuration", err.Error(), nil)
}

// readOperatorCommands submits one command per stdin line until ctx is done
// or stdin closes.
func readOperatorCommands(ctx context.Context, in io.Reader, m *stage.Manager, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, err := parseOperatorCommand(line)
		if err != nil {
			fmt.Fprintf(out, "✗ %v\n", err)
			continue
		}
		ack, err := m.SubmitGodCommand(cmd)
		if err != nil {
			fmt.Fprintf(out, "✗ %s rejected: %v\n", cmd.Type, err)
			continue
		}

		go func() {
			select {
			case a := <-ack:
				if a.Accepted {
					fmt.Fprintf(out, "✓ %s applied (state %s, paused %t)\n", a.Type, a.State, a.Paused)
				} else {
					fmt.Fprintf(out, "✗ %s not applied: %s\n", a.Type, a.Error)
				}
			case <-ctx.Done():
			}
		}()
	}
}

// parseOperatorCommand turns a line such as "fact weather=rain" into a command.
func parseOperatorCommand(line string) (stage.Command, error) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "fact", "inject":
		if rest == "" {
			return stage.Command{}, fmt.Errorf("usage: fact <key>=<value> or fact <text>")
		}
		cmd := stage.Command{Type: stage.CommandInjectFact, Value: rest}
		if key, value, ok := strings.Cut(rest, "="); ok && !strings.ContainsAny(strings.TrimSpace(key), " \t") {
			cmd.Key = strings.TrimSpace(key)
			cmd.Value = strings.TrimSpace(value)
		}
		return cmd, nil
	}

	t, err := stage.ParseCommandType(verb)
	if err != nil {
		return stage.Command{}, err
	}
	return stage.Command{Type: t}, nil
}
