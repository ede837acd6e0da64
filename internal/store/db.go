package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite database connection for the app-owned chat.db replica.
// It is the sole arbiter of persisted state: every component funnels writes
// through its upsert/delete primitives.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// Pass ":memory:" as path for a throwaway in-memory replica (tests, or the
// in_memory_store config flag).
//
// Foreign keys stay unenforced: entity classes arrive in whatever order the
// server emits them (a live chat delta can precede the conversations refresh
// that creates its parent), and the reconciler owns referential cleanup.
func Open(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path == ":memory:" {
		// A pooled in-memory DB would open one empty database per
		// connection; cap at a single shared connection instead.
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// Now returns the ISO-8601 timestamp format used for created_at/updated_at.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// replica tables, in deletion order for ClearAll (chats before their
// conversation, participants before their conversation).
var tables = []string{
	"chats",
	"conversation_participants",
	"conversations",
	"contacts",
	"stories",
	"viewed_stories",
	"files",
	"users_stored",
}

// ClearAll wipes every replica table. Used at logout; the blob cache is
// cleaned separately by the media sweep.
func (db *DB) ClearAll() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, t := range tables {
		if _, err := tx.Exec("DELETE FROM " + t); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	return tx.Commit()
}

// ids returns the set of primary keys currently in a table. Table names are
// compile-time constants from this package only.
func (db *DB) ids(table string) (map[string]struct{}, error) {
	rows, err := db.Query("SELECT id FROM " + table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	set := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = struct{}{}
	}
	return set, rows.Err()
}

func (db *DB) deleteByID(table, id string) error {
	_, err := db.Exec("DELETE FROM "+table+" WHERE id = ?", id)
	return err
}
