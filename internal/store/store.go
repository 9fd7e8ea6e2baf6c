// Package store is the persistence layer for sessions, panes, and
// per-project terminal settings. It owns every durable record the service
// keeps; nothing outside this package issues SQL.
//
// The schema is re-expressed from the project's original PostgreSQL
// definitions for modernc.org/sqlite: UUID columns become TEXT holding
// application-generated google/uuid values, and NOW()-style defaults become
// timestamps supplied by the caller at insert/update time rather than
// database-computed ones.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by single-row lookups that find nothing, and by
// updates whose WHERE clause matched zero rows.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS terminal_sessions (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	project_id           TEXT,
	working_dir          TEXT,
	display_order        INTEGER NOT NULL DEFAULT 0,
	mode                 TEXT NOT NULL DEFAULT 'shell' CHECK (mode IN ('shell', 'auxiliary')),
	session_number       INTEGER NOT NULL DEFAULT 1,
	is_alive             INTEGER NOT NULL DEFAULT 1,
	created_at           TEXT NOT NULL,
	last_accessed_at     TEXT NOT NULL,
	last_target_session  TEXT,
	auxiliary_state      TEXT NOT NULL DEFAULT 'not_started'
	                       CHECK (auxiliary_state IN ('not_started', 'starting', 'running', 'stopped', 'error')),
	-- pane_id references terminal_panes(id); cascade-on-delete is enforced
	-- in Go (DeletePane) rather than via sqlite's FK pragma, which is not
	-- on by default per pooled connection.
	pane_id              TEXT
);

CREATE INDEX IF NOT EXISTS idx_terminal_sessions_alive ON terminal_sessions(is_alive);
CREATE INDEX IF NOT EXISTS idx_terminal_sessions_project ON terminal_sessions(project_id);
CREATE INDEX IF NOT EXISTS idx_terminal_sessions_pane ON terminal_sessions(pane_id);

CREATE TABLE IF NOT EXISTS terminal_panes (
	id              TEXT PRIMARY KEY,
	pane_type       TEXT NOT NULL CHECK (pane_type IN ('project', 'adhoc')),
	project_id      TEXT,
	pane_order      INTEGER NOT NULL DEFAULT 0,
	pane_name       TEXT NOT NULL,
	active_mode     TEXT NOT NULL DEFAULT 'shell' CHECK (active_mode IN ('shell', 'auxiliary')),
	created_at      TEXT NOT NULL,
	width_percent   REAL NOT NULL DEFAULT 100.0,
	height_percent  REAL NOT NULL DEFAULT 100.0,
	grid_row        INTEGER NOT NULL DEFAULT 0,
	grid_col        INTEGER NOT NULL DEFAULT 0,
	CHECK (
		(pane_type = 'adhoc' AND project_id IS NULL) OR
		(pane_type = 'project' AND project_id IS NOT NULL)
	)
);

CREATE INDEX IF NOT EXISTS idx_terminal_panes_project ON terminal_panes(project_id);
CREATE INDEX IF NOT EXISTS idx_terminal_panes_order ON terminal_panes(pane_order);

CREATE TABLE IF NOT EXISTS terminal_project_settings (
	project_id     TEXT PRIMARY KEY,
	enabled        INTEGER NOT NULL DEFAULT 0,
	active_mode    TEXT NOT NULL DEFAULT 'shell' CHECK (active_mode IN ('shell', 'auxiliary')),
	display_order  INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
`

// Store wraps a sql.DB with the terminal service's schema and typed
// accessors. The zero value is not usable; construct with Open.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) a sqlite database at path and applies the
// schema. path may be ":memory:" for tests. The pool is bounded to match
// spec: a small connection count is enough for a single-process service
// whose hot path is mostly single-row conditional updates, not long scans.
//
// A bare ":memory:" DSN is pinned to a single connection: modernc.org/sqlite
// gives each pooled connection its own private in-memory database, so a
// pool of more than one against ":memory:" silently scatters writes across
// databases that don't share state — anything exercising more than one
// connection (the conditional auxiliary-state update under concurrent
// callers, in particular) would be testing against a fresh, schema-less DB
// some of the time. A real file path has no such hazard, since every
// connection in the pool opens the same file.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if isInMemoryPath(path) {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// isInMemoryPath reports whether path names a modernc.org/sqlite in-memory
// database, which each pooled connection would otherwise open as its own
// private, unshared instance.
func isInMemoryPath(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// now returns the current time formatted for storage. Kept as a single
// call site so every timestamp column uses the same layout.
func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a timestamp column value back into a time.Time. Callers
// outside this package that need to compare Session/Pane timestamps (e.g.
// the reconciler) use this instead of duplicating the layout.
func ParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// rowsAffectedOrNotFound turns a sql.Result into ErrNotFound when it
// reports zero rows affected, which is how every conditional UPDATE in this
// package signals "no matching row" instead of a driver-level error.
func rowsAffectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
