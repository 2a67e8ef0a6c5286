package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/metrics"
	_ "modernc.org/sqlite"
)

// PoolConfig configures the underlying *sql.DB connection pool, mirroring
// the teacher's CockroachConfig shape.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPoolConfig returns pool settings suited to sqlite's single-writer
// model: a small pool avoids `database is locked` errors under concurrent
// writers.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// SQLStore persists checkpoints in a SQLite database reached through
// database/sql and the pure-Go modernc.org/sqlite driver (no cgo). Put
// serializes per-thread by relying on a unique (thread_id, sequence)
// constraint: a losing concurrent writer gets a constraint violation, which
// is reported back as ErrStaleParent after the caller re-reads Latest.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (creating if absent) a SQLite-backed checkpoint store
// at dsn, e.g. "file:/var/lib/agentserver/checkpoints.db?_pragma=busy_timeout(5000)".
func NewSQLStore(dsn string, cfg *PoolConfig) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg == nil {
		cfg = DefaultPoolConfig()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLStore{db: db}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id       TEXT NOT NULL,
			sequence        INTEGER NOT NULL,
			parent_sequence INTEGER,
			payload         BLOB NOT NULL,
			created_at      TEXT NOT NULL,
			PRIMARY KEY (thread_id, sequence)
		)
	`)
	return err
}

func (s *SQLStore) Put(ctx context.Context, threadID string, parentSequence *int64, payload []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentLatest *int64
	row := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM checkpoints WHERE thread_id = ?`, threadID)
	var maxSeq sql.NullInt64
	if err := row.Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("read latest: %w", err)
	}
	if maxSeq.Valid {
		v := maxSeq.Int64
		currentLatest = &v
	}

	if !sameParent(currentLatest, parentSequence) {
		metrics.CheckpointWritesTotal.WithLabelValues("sqlite", "stale_parent").Inc()
		return 0, ErrStaleParent
	}

	next := int64(1)
	if currentLatest != nil {
		next = *currentLatest + 1
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, sequence, parent_sequence, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		threadID, next, parentSequence, payload, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			metrics.CheckpointWritesTotal.WithLabelValues("sqlite", "stale_parent").Inc()
			return 0, ErrStaleParent
		}
		metrics.CheckpointWritesTotal.WithLabelValues("sqlite", "error").Inc()
		return 0, fmt.Errorf("insert checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		metrics.CheckpointWritesTotal.WithLabelValues("sqlite", "error").Inc()
		return 0, fmt.Errorf("commit: %w", err)
	}
	metrics.CheckpointWritesTotal.WithLabelValues("sqlite", "ok").Inc()
	return next, nil
}

func (s *SQLStore) Latest(ctx context.Context, threadID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT thread_id, sequence, parent_sequence, payload FROM checkpoints
		 WHERE thread_id = ? ORDER BY sequence DESC LIMIT 1`, threadID)
	return scanEntry(row)
}

func (s *SQLStore) List(ctx context.Context, threadID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, sequence, parent_sequence, payload FROM checkpoints
		 WHERE thread_id = ? ORDER BY sequence ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var parent sql.NullInt64
		if err := rows.Scan(&e.ThreadID, &e.Sequence, &parent, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if parent.Valid {
			v := parent.Int64
			e.ParentSequence = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) Reset(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("reset thread: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var parent sql.NullInt64
	if err := row.Scan(&e.ThreadID, &e.Sequence, &parent, &e.Payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("scan checkpoint: %w", err)
	}
	if parent.Valid {
		v := parent.Int64
		e.ParentSequence = &v
	}
	return e, nil
}
