package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"workerwatch/collector"
)

// SQLite keeps the registry in a SQLite database, one row per worker.
// The table is emptied on open so entries never outlive the process that
// wrote them.
type SQLite struct {
	mu  sync.Mutex
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (or creates) the SQLite database at dbPath and runs the
// migration that creates the `workers` table. dbPath ":memory:" keeps the
// database in process memory.
// The caller must call Close() when the program shuts down.
func NewSQLite(dbPath string, log *zap.Logger, opts ...Option) (*SQLite, error) {
	// The modernc.org driver is pure-go and works without CGO.
	dsn := fmt.Sprintf("file:%s?_fk=1", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	o := buildOptions(opts)
	s := &SQLite{db: db, log: log, now: o.now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	const stmt = `
CREATE TABLE IF NOT EXISTS workers (
    key         TEXT PRIMARY KEY,
    metrics     TEXT NOT NULL,
    last_update INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workers_last_update ON workers(last_update);
DELETE FROM workers;
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create workers table: %w", err)
	}
	s.log.Info("SQLite migration applied")
	return nil
}

func (s *SQLite) Upsert(ctx context.Context, key string, metrics []collector.Metric) error {
	raw, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("encode metrics for %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UnixNano()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO workers (key, metrics, last_update) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    metrics     = excluded.metrics,
    last_update = max(excluded.last_update, workers.last_update)`,
		key, string(raw), ts)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Snapshot(ctx context.Context) (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT key, metrics, last_update FROM workers`)
	if err != nil {
		return nil, fmt.Errorf("query workers: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Entry)
	for rows.Next() {
		var (
			key, raw string
			ts       int64
		)
		if err := rows.Scan(&key, &raw, &ts); err != nil {
			return nil, fmt.Errorf("scan worker row: %w", err)
		}
		var ms []collector.Metric
		if err := json.Unmarshal([]byte(raw), &ms); err != nil {
			return nil, fmt.Errorf("decode metrics for %s: %w", key, err)
		}
		out[key] = Entry{Key: key, Metrics: ms, LastUpdate: time.Unix(0, ts)}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate worker rows: %w", err)
	}
	return out, nil
}

func (s *SQLite) Sweep(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM workers WHERE last_update < ?`, now.Add(-ttl).UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sweep workers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep rows affected: %w", err)
	}
	if n > 0 {
		s.log.Debug("stale workers deleted", zap.Int64("rows", n))
	}
	return int(n), nil
}

func (s *SQLite) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM workers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count workers: %w", err)
	}
	return n, nil
}

// Close shuts down the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
