package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/troupe/internal/api"
	"github.com/dyluth/troupe/internal/printer"
	"github.com/spf13/cobra"
)

var (
	serveAddr    string
	serveEnvFile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session API",
	Long: `Start the HTTP API: session init, status, control commands, the
recorded event log and the websocket live channel.

Configuration is read from the environment, after loading --env-file:
  TROUPE_ADDR         listen address (default :8001)
  TROUPE_STORE        none, redis or sqlite (default none)
  TROUPE_REDIS_URL    Redis URL for the redis store
  TROUPE_NAMESPACE    Redis key namespace
  TROUPE_SQLITE_PATH  SQLite file for the sqlite store
  TROUPE_OTEL_ENDPOINT  OTLP/HTTP collector for turn and adaptation spans
  TROUPE_OTEL_ENABLED   set to false to keep tracing off

Examples:
  troupe serve
  TROUPE_STORE=sqlite troupe serve --addr=127.0.0.1:9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides TROUPE_ADDR)")
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", ".env", "Environment file to load if present")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := api.LoadServerConfig(serveEnvFile)
	if err != nil {
		return printer.Error(
			"invalid server configuration",
			err.Error(),
			[]string{"Check the TROUPE_* environment variables and " + serveEnvFile},
		)
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := api.Serve(ctx, cfg); err != nil {
		return printer.ErrorWithContext(
			"server stopped",
			err.Error(),
			map[string]string{"Address": cfg.Addr, "Store": cfg.Store},
			nil,
		)
	}
	printer.Success("Server stopped\n")
	return nil
}
