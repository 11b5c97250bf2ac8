// Package store selects where session event logs are recorded.
package store

import (
	"context"
	"fmt"

	"github.com/dyluth/troupe/internal/config"
	"github.com/dyluth/troupe/internal/store/sqlite"
	"github.com/dyluth/troupe/pkg/blackboard"
)

// Store records and replays session event logs. Both the Redis client and the
// SQLite store satisfy it.
type Store interface {
	Append(ctx context.Context, sessionID string, ev blackboard.Event) error
	LoadSession(ctx context.Context, sessionID string) (*blackboard.SessionRecord, error)
	ListSessions(ctx context.Context) ([]blackboard.SessionMeta, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*blackboard.Client)(nil)
	_ Store = (*sqlite.Store)(nil)
)

// Open returns the store described by p, or nil when persistence is disabled.
// The caller owns the returned store and must Close it.
func Open(ctx context.Context, p *config.PersistenceConfig) (Store, error) {
	if p == nil {
		return nil, nil
	}

	switch p.Kind {
	case "", config.PersistenceNone:
		return nil, nil
	case config.PersistenceRedis:
		client, err := blackboard.NewClientFromURL(p.RedisURL, p.Namespace)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis at %s is unreachable: %w", p.RedisURL, err)
		}
		return client, nil
	case config.PersistenceSQLite:
		s, err := sqlite.Open(p.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, config.NewConfigError("persistence", "invalid kind: %s", p.Kind)
	}
}
