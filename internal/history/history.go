// Package history persists transfer outcomes in an embedded SQLite
// database. It is an audit trail for the ops surface, never pipeline
// state: recording failures are logged and swallowed, and nothing is
// replayed from it on restart.
package history

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Record is one persisted transfer outcome.
type Record struct {
	ID        int64
	SessionID string
	Worker    string
	Task      string
	Dest      string
	ExitCode  int
	IsRetry   bool
	Duration  time.Duration
	CreatedAt time.Time
}

// Store wraps the transfers database. Safe for concurrent use; SQLite
// writes are serialized by a mutex because the pure-Go driver allows
// one writer at a time.
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	sessionID string
	logger    *slog.Logger
}

// Open opens (creating if needed) the history database and runs the
// embedded migrations.
func Open(path, sessionID string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run history migrations: %w", err)
	}

	return &Store{db: db, sessionID: sessionID, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTransfer persists one outcome. Implements the worker pool's
// Recorder; failures never propagate into the transfer path.
func (s *Store) RecordTransfer(worker, task, dest string, exitCode int, isRetry bool, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO transfers (session_id, worker, task, dest, exit_code, is_retry, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.sessionID, worker, task, dest, exitCode, boolToInt(isRetry), duration.Milliseconds(),
	)
	if err != nil {
		s.logger.Warn("history record failed", "task", task, "error", err)
	}
}

// Recent returns the newest n records, newest first.
func (s *Store) Recent(n int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		`SELECT id, session_id, worker, task, dest, exit_code, is_retry, duration_ms, created_at
		 FROM transfers ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var retry, durMS int64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Worker, &r.Task, &r.Dest,
			&r.ExitCode, &retry, &durMS, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		r.IsRetry = retry != 0
		r.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
