// Package journal provides a WAL-mode SQLite-backed resume-cursor store
// for watch sessions. A consumer commits the identifier of the last event
// it fully processed under a session name; after a restart, the stored
// cursor is passed to the stream constructor so a new session continues
// from a known point instead of only "from now".
//
// # WAL mode
//
// The database is opened with PRAGMA journal_mode = WAL so that a reader
// (a session loading its cursor at startup) and the single writer (the
// consumer committing cursors as it drains events) can proceed without
// blocking each other.
//
// # Durability
//
// Commit is an upsert of a single row; a committed cursor survives a
// process exit. Losing the very last in-flight commit on a crash only
// means a handful of events are observed twice after restart, which the
// at-most-best-effort delivery contract of the stream already permits.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql

	"github.com/fsbridge/fsbridge/fsev"
)

// Journal is a WAL-mode SQLite-backed cursor store. It is safe for
// concurrent use.
type Journal struct {
	db        *sql.DB
	closeOnce sync.Once
}

// Open opens (or creates) the SQLite database at path, enables WAL
// journal mode, and applies the schema. If path is ":memory:", an
// in-memory database is used; this is suitable for tests but loses all
// data when closed.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time. Limiting the pool to a
	// single connection avoids "database is locked" errors when several
	// goroutines commit concurrently; each call serialises through this
	// connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: set WAL mode: %w", err)
	}

	// NORMAL synchronous: durable across application crashes; not OS
	// crashes. Cursor commits happen on every drained event, so the
	// write-throughput gain over FULL matters here.
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: set synchronous = NORMAL: %w", err)
	}

	// Apply the schema (idempotent: CREATE TABLE IF NOT EXISTS).
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// ddl is the schema DDL, kept here to keep the package self-contained.
//
// Cursors are stored in SQLite's signed 64-bit INTEGER column through a
// two's-complement cast, which round-trips the full uint64 identifier
// range exactly.
const ddl = `
CREATE TABLE IF NOT EXISTS cursors (
    session    TEXT    PRIMARY KEY,
    event_id   INTEGER NOT NULL,
    updated_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
`

// Cursor returns the stored resume cursor for session. When no cursor has
// ever been committed for the session it returns [fsev.SinceNow], so the
// result can be passed straight to the stream constructor.
func (j *Journal) Cursor(ctx context.Context, session string) (fsev.EventID, error) {
	var stored int64
	err := j.db.QueryRowContext(ctx,
		`SELECT event_id FROM cursors WHERE session = ?`, session,
	).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		return fsev.SinceNow, nil
	case err != nil:
		return fsev.SinceNow, fmt.Errorf("journal: load cursor %q: %w", session, err)
	}
	return fsev.EventID(stored), nil
}

// Commit records id as the resume cursor for session, replacing any
// earlier value. Call it after the event carrying id has been fully
// processed.
func (j *Journal) Commit(ctx context.Context, session string, id fsev.EventID) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO cursors (session, event_id, updated_at)
		 VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		 ON CONFLICT(session) DO UPDATE SET
		     event_id   = excluded.event_id,
		     updated_at = excluded.updated_at`,
		session, int64(id),
	)
	if err != nil {
		return fmt.Errorf("journal: commit cursor %q: %w", session, err)
	}
	return nil
}

// Close releases the underlying database. It is idempotent.
func (j *Journal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		if cerr := j.db.Close(); cerr != nil {
			err = fmt.Errorf("journal: close: %w", cerr)
		}
	})
	return err
}
