// Command stage is the troupe daemon. It reads its configuration from the
// environment (and a .env file when present) and serves the session API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/troupe/internal/api"
	"github.com/gin-gonic/gin"
)

func main() {
	// 1. Load .env and TROUPE_* variables
	cfg, err := api.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// 2. Quiet gin's debug banner unless GIN_MODE asks for it
	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 3. Stop on SIGINT/SIGTERM; running sessions end with reason "stopped"
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Stage daemon starting on %s (store: %s)\n", cfg.Addr, cfg.Store)

	// 4. Serve until shutdown
	if err := api.Serve(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Stage daemon stopped")
}
