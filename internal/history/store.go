// Package history records completed merge runs in a local SQLite ledger so
// repeated crawler sessions stay auditable. The ledger is advisory: callers
// must treat record failures as warnings, never as merge failures.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chunkmerge/internal/aggregate"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Run is one recorded merge.
type Run struct {
	ID           string
	StartedAt    time.Time
	Dir          string
	Pattern      string
	OutputPath   string
	FilesMerged  int
	BytesWritten int64
	Duration     time.Duration
}

// Store persists merge runs to SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// Open initializes the ledger database at the given path, creating the
// schema if needed.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("failed to set sqlite busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("failed to set sqlite journal_mode=WAL", zap.Error(err))
	}

	store := &Store{db: db, logger: logger}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("run ledger ready", zap.String("path", path))
	return store, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		dir TEXT NOT NULL,
		pattern TEXT NOT NULL,
		output_path TEXT NOT NULL,
		files_merged INTEGER NOT NULL,
		bytes_written INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}
	return nil
}

// RecordRun stores one completed merge summary.
func (s *Store) RecordRun(ctx context.Context, summary *aggregate.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, dir, pattern, output_path, files_merged, bytes_written, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID,
		summary.StartedAt.UTC(),
		summary.Dir,
		summary.Pattern,
		summary.OutputPath,
		summary.FilesMerged,
		summary.BytesWritten,
		summary.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	s.logger.Debug("run recorded", zap.String("run_id", summary.RunID))
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, dir, pattern, output_path, files_merged, bytes_written, duration_ms
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var durationMs int64
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.Dir, &r.Pattern, &r.OutputPath,
			&r.FilesMerged, &r.BytesWritten, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

// Close closes the ledger database.
func (s *Store) Close() error {
	return s.db.Close()
}
