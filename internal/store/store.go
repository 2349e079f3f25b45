// Package store provides the durable local capture store.
//
// The store is an embedded SQLite database (WAL mode) holding captures,
// their derived entities (tasks, events, notes, tags, folders), the sync
// queue, and a small key-value block for sync state. Writes that touch a
// capture and its derived rows run in one transaction so partial
// application is never observable.
//
// Capture writes always succeed locally regardless of network state; the
// sync queue and synchronizers move data to the remote service later.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ChangeAction describes a store mutation reported to observers.
type ChangeAction string

const (
	ChangeCreated ChangeAction = "created"
	ChangeUpdated ChangeAction = "updated"
	ChangeDeleted ChangeAction = "deleted"
)

// ChangeFunc receives store change notifications. It must not call back
// into the store synchronously.
type ChangeFunc func(entityType, id string, action ChangeAction)

// DB wraps the SQLite connection with capture-store functionality.
type DB struct {
	conn *sql.DB
	path string

	// onChange, when set, is invoked after each committed mutation so the
	// presentation layer can observe changes. Optional.
	onChange ChangeFunc
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If it doesn't exist it is created; call InitSchema before first use.
// The caller must Close when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection for packages that share
// the same database file (the sync queue does).
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// SetChangeFunc installs the change-observation hook.
func (db *DB) SetChangeFunc(fn ChangeFunc) {
	db.onChange = fn
}

func (db *DB) notify(entityType, id string, action ChangeAction) {
	if db.onChange != nil {
		db.onChange(entityType, id, action)
	}
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates all tables and indexes if they don't exist.
// Idempotent; safe to call on every startup.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS captures (
		id TEXT PRIMARY KEY,
		original_text TEXT NOT NULL,
		title TEXT,
		type TEXT NOT NULL DEFAULT 'unclassified',
		note_sub_type TEXT,
		confidence TEXT,
		source TEXT NOT NULL DEFAULT 'text',
		confirmed INTEGER NOT NULL DEFAULT 0,
		confirmed_at TEXT,
		lifecycle TEXT NOT NULL DEFAULT 'active',
		trashed_at TEXT,
		deleted_at TEXT,
		image_ref TEXT,
		parent_capture_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		capture_id TEXT NOT NULL,
		deadline TEXT,
		completed INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (capture_id) REFERENCES captures(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		capture_id TEXT NOT NULL,
		start_time TEXT,
		end_time TEXT,
		location TEXT,
		all_day INTEGER NOT NULL DEFAULT 0,
		confidence TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (capture_id) REFERENCES captures(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		capture_id TEXT NOT NULL,
		folder_id TEXT,
		body TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (capture_id) REFERENCES captures(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS capture_tags (
		capture_id TEXT NOT NULL,
		tag_id TEXT NOT NULL,
		PRIMARY KEY (capture_id, tag_id),
		FOREIGN KEY (capture_id) REFERENCES captures(id) ON DELETE CASCADE,
		FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS folders (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'user',
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id TEXT PRIMARY KEY,
		target_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		next_eligible_at TEXT,
		enqueued_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_captures_lifecycle ON captures(lifecycle);
	CREATE INDEX IF NOT EXISTS idx_captures_type ON captures(type);
	CREATE INDEX IF NOT EXISTS idx_captures_updated ON captures(updated_at);
	CREATE INDEX IF NOT EXISTS idx_captures_parent ON captures(parent_capture_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_capture ON tasks(capture_id);
	CREATE INDEX IF NOT EXISTS idx_events_capture ON events(capture_id);
	CREATE INDEX IF NOT EXISTS idx_notes_capture ON notes(capture_id);
	CREATE INDEX IF NOT EXISTS idx_notes_folder ON notes(folder_id);
	CREATE INDEX IF NOT EXISTS idx_queue_drain ON sync_queue(status, next_eligible_at, enqueued_at);
	CREATE INDEX IF NOT EXISTS idx_queue_target ON sync_queue(target_id, kind, status);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db.ensureSystemFolders(ctx)
}

// WipeAll deletes every row from every table, including sync state.
// Used by the session guard when a different account authenticates.
func (db *DB) WipeAll(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin wipe transaction: %w", err)
	}
	defer tx.Rollback()

	// Children before parents to satisfy foreign keys.
	for _, table := range []string{
		"capture_tags", "tasks", "events", "notes",
		"tags", "folders", "captures", "sync_queue", "sync_state",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to wipe %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit wipe: %w", err)
	}

	// System folders are not user data; recreate them immediately.
	return db.ensureSystemFolders(ctx)
}

// withTx runs fn inside a transaction, committing on nil error.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// timeToNullString converts a time pointer to a nullable RFC3339 string.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable RFC3339 string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
