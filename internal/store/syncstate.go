package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Keys in the sync_state table.
const (
	KeyLastSyncAt     = "sync_last_sync_at"
	KeyLastSyncCursor = "sync_last_sync_cursor"
	KeyLastSyncUserID = "sync_last_sync_user_id"
)

// GetState reads one sync-state value. Missing keys return "" and no
// error; absence is the normal first-run state.
func (db *DB) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read sync state %q: %w", key, err)
	}
	return value, nil
}

// SetState writes one sync-state value.
func (db *DB) SetState(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write sync state %q: %w", key, err)
	}
	return nil
}

// DeleteState removes one sync-state value. Deleting a missing key is a
// no-op.
func (db *DB) DeleteState(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM sync_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete sync state %q: %w", key, err)
	}
	return nil
}

// LastSyncAt returns the timestamp of the last successful push, or zero
// if the device has never pushed.
func (db *DB) LastSyncAt(ctx context.Context) (time.Time, error) {
	value, err := db.GetState(ctx, KeyLastSyncAt)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	return parseTime(value), nil
}

// SetLastSyncAt records the server timestamp of a successful push.
func (db *DB) SetLastSyncAt(ctx context.Context, t time.Time) error {
	return db.SetState(ctx, KeyLastSyncAt, formatTime(t))
}

// SyncCursor returns the pull cursor, or "" before the first pull.
func (db *DB) SyncCursor(ctx context.Context) (string, error) {
	return db.GetState(ctx, KeyLastSyncCursor)
}

// SetSyncCursor records the cursor returned by a successful pull.
func (db *DB) SetSyncCursor(ctx context.Context, cursor string) error {
	return db.SetState(ctx, KeyLastSyncCursor, cursor)
}

// LastSyncUserID returns the account the stored sync state belongs to,
// or "" if no sync has happened yet.
func (db *DB) LastSyncUserID(ctx context.Context) (string, error) {
	return db.GetState(ctx, KeyLastSyncUserID)
}

// SetLastSyncUserID binds the stored sync state to an account.
func (db *DB) SetLastSyncUserID(ctx context.Context, userID string) error {
	return db.SetState(ctx, KeyLastSyncUserID, userID)
}
