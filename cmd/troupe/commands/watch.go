package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/dyluth/troupe/internal/config"
	"github.com/dyluth/troupe/internal/filter"
	"github.com/dyluth/troupe/internal/printer"
	"github.com/dyluth/troupe/internal/watch"
	"github.com/dyluth/troupe/pkg/blackboard"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	watchStore        storeFlags
	watchServer       string
	watchOutputFormat string
	watchWait         time.Duration
	watchType         string
	watchActor        string
	watchScene        string
)

var watchCmd = &cobra.Command{
	Use:   "watch SESSION_ID",
	Short: "Follow a running session live",
	Long: `Follow a session as it is performed.

With --server the live channel of a running troupe server is used: a
snapshot first, then every delta. Otherwise the session is followed through
Redis: the recorded log is replayed and live events follow.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Follow a session on a local server
  troupe watch 3f2a9c1e-... --server=http://localhost:8001

  # Follow a session recorded in Redis, waiting for it to start
  troupe watch 3f2a9c1e-... --store=redis --wait=30s

  # Only dialogue
  troupe watch 3f2a9c1e-... --server=http://localhost:8001 --type=TurnAppended`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchStore.register(watchCmd)
	watchCmd.Flags().StringVar(&watchServer, "server", "", "Base URL of a troupe server (uses its websocket live channel)")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().DurationVar(&watchWait, "wait", 0, "Wait this long for the session to be recorded (redis only)")
	watchCmd.Flags().StringVar(&watchType, "type", "", "Filter by event type (glob pattern)")
	watchCmd.Flags().StringVar(&watchActor, "actor", "", "Filter by actor id (exact match)")
	watchCmd.Flags().StringVar(&watchScene, "scene", "", "Filter by scene id (exact match)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	format, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return printer.Error(
			"invalid output format",
			err.Error(),
			[]string{"Valid formats: default, json"},
		)
	}
	criteria := &filter.Criteria{TypeGlob: watchType, ActorID: watchActor, SceneID: watchScene}
	out := cmd.OutOrStdout()

	if watchServer != "" {
		return watchLive(ctx, watchServer, args[0], format, criteria, out)
	}

	if watchStore.kind != config.PersistenceRedis {
		return printer.Error(
			"live watching needs a server or Redis",
			fmt.Sprintf("The %s store has no live channel.", watchStore.kind),
			[]string{
				"Follow a server:\n  troupe watch <id> --server=http://localhost:8001",
				fmt.Sprintf("Replay the recorded log instead:\n  troupe log %s", args[0]),
			},
		)
	}

	st, err := watchStore.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	client := st.(*blackboard.Client)

	sessionID := args[0]
	if watchWait > 0 {
		if _, err := watch.PollForSession(ctx, client, sessionID, watchWait); err != nil {
			return printer.Error(
				"session did not start",
				err.Error(),
				[]string{"Check the session id and the --namespace flag"},
			)
		}
	} else {
		sessionID, err = resolveSession(ctx, client, sessionID, "troupe watch")
		if err != nil {
			return err
		}
	}

	return watchRecorded(ctx, client, sessionID, format, criteria, out)
}

// watchRecorded replays the recorded log and then follows the Redis live
// channel, skipping events already replayed.
func watchRecorded(ctx context.Context, client *blackboard.Client, sessionID string, format watch.OutputFormat, criteria *filter.Criteria, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before loading so nothing falls between the two
	sub, err := client.SubscribeSessionEvents(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	record, err := client.LoadSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	events := make(chan blackboard.Event, 64)
	go func() {
		defer close(events)
		send := func(ev blackboard.Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var last uint64
		errs := sub.Errors()
		for _, ev := range record.Events {
			if !send(ev) {
				return
			}
			last = ev.Seq
		}
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				fmt.Fprintf(os.Stderr, "⚠️  skipped malformed event: %v\n", err)
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if ev.Seq <= last {
					continue
				}
				last = ev.Seq
				if !send(ev) {
					return
				}
			}
		}
	}()

	return watch.StreamActivity(ctx, events, format, criteria, out)
}

// watchLive follows the websocket live channel of a troupe server.
func watchLive(ctx context.Context, server, sessionID string, format watch.OutputFormat, criteria *filter.Criteria, out io.Writer) error {
	liveURL, err := liveChannelURL(server, sessionID)
	if err != nil {
		return printer.Error("invalid server URL", err.Error(), []string{"Use a URL like http://localhost:8001"})
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, liveURL, nil)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusNotFound:
				return printer.Error(
					fmt.Sprintf("session '%s' not found", sessionID),
					"The server is not running a session with this ID.",
					[]string{fmt.Sprintf("List sessions:\n  curl %s/sessions", server)},
				)
			case http.StatusGone:
				return printer.Error(
					fmt.Sprintf("session '%s' has ended", sessionID),
					"Ended sessions have no live channel.",
					[]string{fmt.Sprintf("Replay the recorded log:\n  troupe log %s", sessionID)},
				)
			}
		}
		return printer.ErrorWithContext(
			"live channel connection failed",
			"Could not open the websocket live channel.",
			map[string]string{"URL": liveURL, "Error": err.Error()},
			[]string{"Check that the server is running:\n  troupe serve"},
		)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	events := make(chan blackboard.Event, 64)
	go func() {
		defer close(events)
		for {
			var ev blackboard.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return watch.StreamActivity(ctx, events, format, criteria, out)
}

func liveChannelURL(server, sessionID string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme '%s'", u.Scheme)
	}
	u.Path = path.Join(u.Path, "sessions", sessionID, "live")
	return u.String(), nil
}
