// Package sqlite records session event logs in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dyluth/troupe/internal/store/sqlite/migrations"
	"github.com/dyluth/troupe/pkg/blackboard"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed session event persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a session SQLite store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.sqlDB.PingContext(ctx)
}

// Append stores ev and folds it into the session summary in one transaction.
func (s *Store) Append(ctx context.Context, sessionID string, ev blackboard.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if ev.SessionID == "" {
		ev.SessionID = sessionID
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	meta, err := loadMeta(ctx, tx, sessionID)
	if err != nil {
		if !errors.Is(err, blackboard.ErrSessionNotFound) {
			return err
		}
		meta = &blackboard.SessionMeta{ID: sessionID}
	}
	if err := meta.ApplyEvent(ev); err != nil {
		return err
	}
	roster, err := json.Marshal(nonNil(meta.Roster))
	if err != nil {
		return fmt.Errorf("marshal roster: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO sessions (
	id,
	title,
	stage_rule,
	lifecycle,
	roster_json,
	scene_count,
	last_seq,
	created_at,
	updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title = excluded.title,
	stage_rule = excluded.stage_rule,
	lifecycle = excluded.lifecycle,
	roster_json = excluded.roster_json,
	scene_count = excluded.scene_count,
	last_seq = excluded.last_seq,
	updated_at = excluded.updated_at
`,
		meta.ID,
		meta.Title,
		meta.StageRule,
		meta.Lifecycle,
		string(roster),
		meta.SceneCount,
		int64(meta.LastSeq),
		meta.CreatedAtMs,
		meta.UpdatedAtMs,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO events (session_id, seq, event_type, payload_json, created_at)
VALUES (?, ?, ?, ?, ?)
`,
		sessionID,
		int64(ev.Seq),
		string(ev.Type),
		string(ev.Payload),
		ev.CreatedAtMs,
	)
	if err != nil {
		return fmt.Errorf("insert event %d: %w", ev.Seq, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// LoadSession returns the session summary and its ordered event log.
// Returns blackboard.ErrSessionNotFound for unknown ids.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*blackboard.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	meta, err := loadMeta(ctx, s.sqlDB, sessionID)
	if err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT seq, event_type, payload_json, created_at
FROM events
WHERE session_id = ?
ORDER BY seq ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	record := &blackboard.SessionRecord{Meta: *meta, Events: []blackboard.Event{}}
	for rows.Next() {
		var (
			seq       int64
			eventType string
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&seq, &eventType, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		record.Events = append(record.Events, blackboard.Event{
			Type:        blackboard.EventType(eventType),
			Seq:         uint64(seq),
			SessionID:   sessionID,
			Payload:     json.RawMessage(payload),
			CreatedAtMs: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return record, nil
}

// ListSessions returns every known session summary, oldest first.
func (s *Store) ListSessions(ctx context.Context) ([]blackboard.SessionMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, title, stage_rule, lifecycle, roster_json, scene_count, last_seq, created_at, updated_at
FROM sessions
ORDER BY created_at ASC, id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]blackboard.SessionMeta, 0)
	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func loadMeta(ctx context.Context, q queryer, sessionID string) (*blackboard.SessionMeta, error) {
	row := q.QueryRowContext(ctx, `
SELECT id, title, stage_rule, lifecycle, roster_json, scene_count, last_seq, created_at, updated_at
FROM sessions
WHERE id = ?
`, sessionID)
	meta, err := scanMeta(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, blackboard.ErrSessionNotFound)
	}
	return meta, err
}

func scanMeta(row scanner) (*blackboard.SessionMeta, error) {
	var (
		meta    blackboard.SessionMeta
		roster  string
		lastSeq int64
	)
	err := row.Scan(
		&meta.ID,
		&meta.Title,
		&meta.StageRule,
		&meta.Lifecycle,
		&roster,
		&meta.SceneCount,
		&lastSeq,
		&meta.CreatedAtMs,
		&meta.UpdatedAtMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	meta.LastSeq = uint64(lastSeq)
	if err := json.Unmarshal([]byte(roster), &meta.Roster); err != nil {
		return nil, fmt.Errorf("decode roster of %s: %w", meta.ID, err)
	}
	return &meta, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
