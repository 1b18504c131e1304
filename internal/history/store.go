// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package history persists completed executions to SQLite for later
// inspection. The store is optional; a nil *Store disables recording.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id INTEGER PRIMARY KEY,
	request_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	code TEXT NOT NULL,
	status TEXT NOT NULL,
	events INTEGER NOT NULL DEFAULT 0,
	texts INTEGER NOT NULL DEFAULT 0,
	errors INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_executions_session ON executions(session_id, started_at);
`

// Entry is one recorded execution.
type Entry struct {
	RequestID string        `json:"request_id"`
	SessionID string        `json:"session_id"`
	Code      string        `json:"code"`
	Status    string        `json:"status"`
	Events    int           `json:"events"`
	Texts     int           `json:"texts"`
	Errors    int           `json:"errors"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"-"`

	// DurationMS is the wire form of Duration.
	DurationMS int64 `json:"duration_ms"`
}

// Store records executions in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the database at path and ensures the schema
// exists. Parent directories are created as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts one execution. Safe to call on a nil store.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (request_id, session_id, code, status, events, texts, errors, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.SessionID, e.Code, e.Status, e.Events, e.Texts, e.Errors,
		e.StartedAt.UTC().Format(time.RFC3339Nano), e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("history insert: %w", err)
	}
	return nil
}

// BySession returns the most recent executions for one session, newest
// first. Safe to call on a nil store (returns no rows).
func (s *Store) BySession(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, session_id, code, status, events, texts, errors, started_at, duration_ms
		 FROM executions WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var startedAt string
		if err := rows.Scan(&e.RequestID, &e.SessionID, &e.Code, &e.Status,
			&e.Events, &e.Texts, &e.Errors, &startedAt, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("history scan: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, startedAt); perr == nil {
			e.StartedAt = t
		}
		e.Duration = time.Duration(e.DurationMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database handle. Safe to call on a nil store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
