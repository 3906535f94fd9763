// Package store persists experiences in SQLite and exposes the aggregate
// queries the learn phase reads.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"ouroboros/internal/logging"
	"ouroboros/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS experiences (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	goal        TEXT    NOT NULL,
	success     INTEGER NOT NULL,
	quality     REAL    NOT NULL,
	insights    TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_experiences_created ON experiences(created_at);
`

// SQLiteStore implements the experience store on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open initializes the SQLite database at the given path, creating the
// directory and schema as needed.
func Open(path string) (*SQLiteStore, error) {
	logging.Store("opening experience store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Store persists one experience.
func (s *SQLiteStore) Store(ctx context.Context, exp types.Experience) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	insights, err := json.Marshal(exp.Insights)
	if err != nil {
		return &types.StorageError{Op: "encode", Err: err}
	}
	ts := exp.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiences (goal, success, quality, insights, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		exp.Goal, boolToInt(exp.Success), exp.QualityScore, string(insights),
		exp.Duration.Milliseconds(), ts.UTC())
	if err != nil {
		logging.StoreError("insert failed: %v", err)
		return &types.StorageError{Op: "insert", Err: err}
	}
	logging.StoreDebug("stored experience goal=%q success=%v", exp.Goal, exp.Success)
	return nil
}

// Recent returns up to limit experiences, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]types.Experience, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT goal, success, quality, insights, duration_ms, created_at
		 FROM experiences ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &types.StorageError{Op: "query", Err: err}
	}
	defer rows.Close()

	var out []types.Experience
	for rows.Next() {
		var (
			exp        types.Experience
			success    int
			insights   sql.NullString
			durationMS int64
		)
		if err := rows.Scan(&exp.Goal, &success, &exp.QualityScore, &insights, &durationMS, &exp.Timestamp); err != nil {
			return nil, &types.StorageError{Op: "scan", Err: err}
		}
		exp.Success = success != 0
		exp.Duration = time.Duration(durationMS) * time.Millisecond
		if insights.Valid && insights.String != "" && insights.String != "null" {
			if err := json.Unmarshal([]byte(insights.String), &exp.Insights); err != nil {
				return nil, &types.StorageError{Op: "decode", Err: err}
			}
		}
		out = append(out, exp)
	}
	return out, rows.Err()
}

// SuccessRate returns the fraction of stored experiences that succeeded,
// or 0 when none exist.
func (s *SQLiteStore) SuccessRate(ctx context.Context) (float64, error) {
	var total, succeeded int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM experiences`).Scan(&total, &succeeded)
	if err != nil {
		return 0, &types.StorageError{Op: "aggregate", Err: err}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(succeeded) / float64(total), nil
}

// Count returns the number of stored experiences.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiences`).Scan(&n); err != nil {
		return 0, &types.StorageError{Op: "count", Err: err}
	}
	return n, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
