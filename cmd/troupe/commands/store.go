package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/troupe/internal/config"
	"github.com/dyluth/troupe/internal/printer"
	"github.com/dyluth/troupe/internal/resolver"
	"github.com/dyluth/troupe/internal/store"
	"github.com/spf13/cobra"
)

// storeFlags selects the session store read by log, sessions and watch.
type storeFlags struct {
	kind       string
	redisURL   string
	namespace  string
	sqlitePath string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "store", config.PersistenceSQLite, "Session store: redis or sqlite")
	cmd.Flags().StringVar(&f.redisURL, "redis-url", "redis://localhost:6379/0", "Redis URL (with --store=redis)")
	cmd.Flags().StringVar(&f.namespace, "namespace", config.DefaultNamespace, "Redis key namespace (with --store=redis)")
	cmd.Flags().StringVar(&f.sqlitePath, "sqlite-path", "troupe.db", "SQLite file (with --store=sqlite)")
}

func (f *storeFlags) persistence() *config.PersistenceConfig {
	p := &config.PersistenceConfig{Kind: f.kind, Namespace: f.namespace}
	switch f.kind {
	case config.PersistenceRedis:
		p.RedisURL = f.redisURL
	case config.PersistenceSQLite:
		p.SQLitePath = f.sqlitePath
	}
	return p
}

// source names the store in table headers.
func (f *storeFlags) source() string {
	if f.kind == config.PersistenceRedis {
		return fmt.Sprintf("redis namespace '%s'", f.namespace)
	}
	return f.sqlitePath
}

// open connects to the selected store. Errors are already printed.
func (f *storeFlags) open(ctx context.Context) (store.Store, error) {
	p := f.persistence()
	if err := p.Validate(); err != nil {
		return nil, printer.Error(
			"invalid store selection",
			err.Error(),
			[]string{"Use --store=sqlite --sqlite-path=<file> or --store=redis --redis-url=<url>"},
		)
	}
	if p.Kind == config.PersistenceNone {
		return nil, printer.Error(
			"no store selected",
			"This command reads recorded sessions and needs a store.",
			[]string{"Use --store=sqlite or --store=redis"},
		)
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	st, err := store.Open(openCtx, p)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"store connection failed",
			fmt.Sprintf("Could not open the %s store.", p.Kind),
			map[string]string{"Store": f.source(), "Error": err.Error()},
			[]string{"Check the store flags, or run a session with persistence enabled first"},
		)
	}
	return st, nil
}

// resolveSession expands a short session id. Errors are already printed.
func resolveSession(ctx context.Context, st resolver.SessionLister, shortID, retryCmd string) (string, error) {
	fullID, err := resolver.ResolveSessionID(ctx, st, shortID)
	if err == nil {
		return fullID, nil
	}

	if resolver.IsNotFoundError(err) {
		return "", printer.Error(
			fmt.Sprintf("session with ID '%s' not found", shortID),
			"No recorded session has this ID.",
			[]string{"List recorded sessions:\n  troupe sessions"},
		)
	}
	var ambErr *resolver.AmbiguousError
	if errors.As(err, &ambErr) {
		return "", printer.Error(
			fmt.Sprintf("ambiguous short ID '%s'", shortID),
			resolver.FormatAmbiguousError(ambErr),
			[]string{fmt.Sprintf("Use a longer prefix:\n  %s <longer-id>", retryCmd)},
		)
	}
	return "", printer.Error("invalid session ID", err.Error(), []string{
		fmt.Sprintf("Session IDs need at least %d characters", resolver.MinShortIDLength),
	})
}
