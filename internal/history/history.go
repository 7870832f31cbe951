// Package history records build runs in a local SQLite database so past
// versions and artifacts can be inspected with the history subcommand.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Build is one recorded pipeline run.
type Build struct {
	ID        string
	Started   time.Time
	Finished  time.Time
	Status    string // running|success|failed
	Release   string
	Version   string
	Artifacts []string
}

// Store persists build runs. Use ":memory:" for an in-memory database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (and if necessary bootstraps) a history store at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id TEXT PRIMARY KEY,
		started INTEGER NOT NULL,
		finished INTEGER,
		status TEXT NOT NULL,
		release TEXT,
		version TEXT,
		artifacts TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordStart inserts a new run in the running state.
func (s *Store) RecordStart(ctx context.Context, id string, started time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO builds (id, started, status) VALUES (?, ?, 'running')",
		id, started.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}
	return nil
}

// RecordFinish marks a run completed with its outcome and artifacts.
func (s *Store) RecordFinish(ctx context.Context, id, status, release, ver string, artifacts []string, finished time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE builds SET finished = ?, status = ?, release = ?, version = ?, artifacts = ? WHERE id = ?",
		finished.Unix(), status, release, ver, string(artifactsJSON), id,
	)
	if err != nil {
		return fmt.Errorf("update build: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, started, finished, status, release, version, artifacts FROM builds ORDER BY started DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	var builds []Build
	for rows.Next() {
		var (
			b             Build
			started       int64
			finished      sql.NullInt64
			release, ver  sql.NullString
			artifactsJSON sql.NullString
		)
		if err := rows.Scan(&b.ID, &started, &finished, &b.Status, &release, &ver, &artifactsJSON); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		b.Started = time.Unix(started, 0)
		if finished.Valid {
			b.Finished = time.Unix(finished.Int64, 0)
		}
		b.Release = release.String
		b.Version = ver.String
		if artifactsJSON.Valid && artifactsJSON.String != "" {
			if err := json.Unmarshal([]byte(artifactsJSON.String), &b.Artifacts); err != nil {
				return nil, fmt.Errorf("unmarshal artifacts: %w", err)
			}
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
