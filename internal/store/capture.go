package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flitapp/flit-sync/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

const captureColumns = `id, original_text, title, type, note_sub_type, confidence,
	source, confirmed, confirmed_at, lifecycle, trashed_at, deleted_at,
	image_ref, parent_capture_id, created_at, updated_at`

// SaveCapture persists a capture, inserting or updating by id.
// This never fails due to network state; captures are local-first.
func (db *DB) SaveCapture(ctx context.Context, c *model.Capture) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid capture: %w", err)
	}

	query := `
	INSERT INTO captures (` + captureColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		original_text = excluded.original_text,
		title = excluded.title,
		type = excluded.type,
		note_sub_type = excluded.note_sub_type,
		confidence = excluded.confidence,
		source = excluded.source,
		confirmed = excluded.confirmed,
		confirmed_at = excluded.confirmed_at,
		lifecycle = excluded.lifecycle,
		trashed_at = excluded.trashed_at,
		deleted_at = excluded.deleted_at,
		image_ref = excluded.image_ref,
		parent_capture_id = excluded.parent_capture_id,
		updated_at = excluded.updated_at
	`

	_, err := db.conn.ExecContext(ctx, query,
		c.ID,
		c.OriginalText,
		nullIfEmpty(c.Title),
		string(c.Type),
		nullIfEmpty(string(c.NoteSubType)),
		nullIfEmpty(string(c.Confidence)),
		string(c.Source),
		c.Confirmed,
		timeToNullString(c.ConfirmedAt),
		string(c.Lifecycle),
		timeToNullString(c.TrashedAt),
		timeToNullString(c.DeletedAt),
		nullIfEmpty(c.ImageRef),
		nullIfEmpty(c.ParentCaptureID),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save capture %s: %w", c.ID, err)
	}

	db.notify(model.EntityCaptures, c.ID, ChangeCreated)
	return nil
}

// GetCapture retrieves a single capture by id, tombstones included.
// Returns ErrNotFound if the row does not exist.
func (db *DB) GetCapture(ctx context.Context, id string) (*model.Capture, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+captureColumns+` FROM captures WHERE id = ?`, id)
	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListCaptures returns active captures newest-first with pagination.
// Trashed and deleted rows are excluded from user-facing listings.
func (db *DB) ListCaptures(ctx context.Context, limit, offset int) ([]*model.Capture, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+captureColumns+` FROM captures
		WHERE lifecycle = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		string(model.LifecycleActive), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list captures: %w", err)
	}
	defer rows.Close()
	return scanCaptures(rows)
}

// SearchCaptures finds active captures whose text or title matches the
// query substring, newest-first.
func (db *DB) SearchCaptures(ctx context.Context, query string, limit int) ([]*model.Capture, error) {
	pattern := "%" + query + "%"
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+captureColumns+` FROM captures
		WHERE lifecycle = ?
		  AND (original_text LIKE ? OR title LIKE ?)
		ORDER BY created_at DESC
		LIMIT ?`,
		string(model.LifecycleActive), pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search captures: %w", err)
	}
	defer rows.Close()
	return scanCaptures(rows)
}

// ListTrashed returns trashed captures newest-trashed-first.
func (db *DB) ListTrashed(ctx context.Context) ([]*model.Capture, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+captureColumns+` FROM captures
		WHERE lifecycle = ?
		ORDER BY trashed_at DESC`,
		string(model.LifecycleTrashed))
	if err != nil {
		return nil, fmt.Errorf("failed to list trashed captures: %w", err)
	}
	defer rows.Close()
	return scanCaptures(rows)
}

// SoftDelete moves a capture to the trash, stamping trashed_at and
// bumping updated_at so the change is picked up by the next push.
func (db *DB) SoftDelete(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	res, err := db.conn.ExecContext(ctx, `
		UPDATE captures
		SET lifecycle = ?, trashed_at = ?, updated_at = ?
		WHERE id = ? AND lifecycle = ?`,
		string(model.LifecycleTrashed), now, now, id, string(model.LifecycleActive))
	if err != nil {
		return fmt.Errorf("failed to trash capture %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	db.notify(model.EntityCaptures, id, ChangeUpdated)
	return nil
}

// UndoSoftDelete restores a trashed capture. Content, tags, and derived
// rows were never touched, so the capture comes back observably identical
// apart from a newer updated_at.
func (db *DB) UndoSoftDelete(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	res, err := db.conn.ExecContext(ctx, `
		UPDATE captures
		SET lifecycle = ?, trashed_at = NULL, updated_at = ?
		WHERE id = ? AND lifecycle = ?`,
		string(model.LifecycleActive), now, id, string(model.LifecycleTrashed))
	if err != nil {
		return fmt.Errorf("failed to restore capture %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	db.notify(model.EntityCaptures, id, ChangeUpdated)
	return nil
}

// MarkDeleted converts a capture into a delete tombstone. The row stays
// out of user-facing queries but is retained so the deletion propagates
// to the remote service on the next push.
func (db *DB) MarkDeleted(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	res, err := db.conn.ExecContext(ctx, `
		UPDATE captures
		SET lifecycle = ?, deleted_at = ?, updated_at = ?
		WHERE id = ? AND lifecycle != ?`,
		string(model.LifecycleDeleted), now, now, id, string(model.LifecycleDeleted))
	if err != nil {
		return fmt.Errorf("failed to tombstone capture %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	db.notify(model.EntityCaptures, id, ChangeDeleted)
	return nil
}

// HardDelete removes the capture row and every derived row (task, event,
// note, tag links) in one transaction, along with any split children.
func (db *DB) HardDelete(ctx context.Context, id string) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		// Split children first; their derived rows cascade with them.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM captures WHERE parent_capture_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete split children of %s: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM captures WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete capture %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	db.notify(model.EntityCaptures, id, ChangeDeleted)
	return nil
}

// PurgeTombstones hard-deletes tombstoned captures whose deletion the
// remote service has acknowledged, identified by deleted_at at or before
// the given sync time.
func (db *DB) PurgeTombstones(ctx context.Context, ackedAt time.Time) (int, error) {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM captures
		WHERE lifecycle = ? AND deleted_at <= ?`,
		string(model.LifecycleDeleted), formatTime(ackedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeTrashed tombstones captures that have sat in the trash longer than
// the retention window, so the deletion propagates on the next push.
func (db *DB) PurgeTrashed(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := formatTime(time.Now().Add(-retention))
	now := formatTime(time.Now())
	res, err := db.conn.ExecContext(ctx, `
		UPDATE captures
		SET lifecycle = ?, deleted_at = ?, updated_at = ?
		WHERE lifecycle = ? AND trashed_at <= ?`,
		string(model.LifecycleDeleted), now, now,
		string(model.LifecycleTrashed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge trash: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Confirm marks a classified capture as confirmed by the user.
func (db *DB) Confirm(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	res, err := db.conn.ExecContext(ctx, `
		UPDATE captures
		SET confirmed = 1, confirmed_at = ?, updated_at = ?
		WHERE id = ? AND confirmed = 0`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("failed to confirm capture %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	db.notify(model.EntityCaptures, id, ChangeUpdated)
	return nil
}

// ConfirmAll confirms every classified-but-unconfirmed capture.
func (db *DB) ConfirmAll(ctx context.Context) (int, error) {
	now := formatTime(time.Now())
	res, err := db.conn.ExecContext(ctx, `
		UPDATE captures
		SET confirmed = 1, confirmed_at = ?, updated_at = ?
		WHERE confirmed = 0 AND type != ? AND lifecycle = ?`,
		now, now, string(model.TypeUnclassified), string(model.LifecycleActive))
	if err != nil {
		return 0, fmt.Errorf("failed to confirm captures: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UnconfirmedCount returns how many classified captures await user
// confirmation.
func (db *DB) UnconfirmedCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM captures
		WHERE confirmed = 0 AND type != ? AND lifecycle = ?`,
		string(model.TypeUnclassified), string(model.LifecycleActive)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unconfirmed captures: %w", err)
	}
	return count, nil
}

// GetUnclassified returns active captures still awaiting classification,
// oldest first, so re-dispatch preserves submission order.
func (db *DB) GetUnclassified(ctx context.Context) ([]*model.Capture, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+captureColumns+` FROM captures
		WHERE type = ? AND lifecycle = ?
		ORDER BY created_at ASC`,
		string(model.TypeUnclassified), string(model.LifecycleActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query unclassified captures: %w", err)
	}
	defer rows.Close()
	return scanCaptures(rows)
}

// GetCapturesForSync returns every capture, tombstones included, whose
// updated_at is newer than since. A zero since returns everything.
func (db *DB) GetCapturesForSync(ctx context.Context, since time.Time) ([]*model.Capture, error) {
	query := `SELECT ` + captureColumns + ` FROM captures`
	var args []interface{}
	if !since.IsZero() {
		query += ` WHERE updated_at > ?`
		args = append(args, formatTime(since))
	}
	query += ` ORDER BY updated_at ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query captures for sync: %w", err)
	}
	defer rows.Close()
	return scanCaptures(rows)
}

// TagsForCapture returns the names of the tags linked to a capture,
// sorted for stable output.
func (db *DB) TagsForCapture(ctx context.Context, id string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT t.name FROM tags t
		JOIN capture_tags ct ON ct.tag_id = t.id
		WHERE ct.capture_id = ?
		ORDER BY t.name ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags for capture %s: %w", id, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan tag name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCapture(row rowScanner) (*model.Capture, error) {
	var c model.Capture
	var title, subType, confidence, imageRef, parentID sql.NullString
	var confirmedAt, trashedAt, deletedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&c.ID,
		&c.OriginalText,
		&title,
		(*string)(&c.Type),
		&subType,
		&confidence,
		(*string)(&c.Source),
		&c.Confirmed,
		&confirmedAt,
		(*string)(&c.Lifecycle),
		&trashedAt,
		&deletedAt,
		&imageRef,
		&parentID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Title = title.String
	c.NoteSubType = model.NoteSubType(subType.String)
	c.Confidence = model.Confidence(confidence.String)
	c.ImageRef = imageRef.String
	c.ParentCaptureID = parentID.String
	c.ConfirmedAt = nullStringToTime(confirmedAt)
	c.TrashedAt = nullStringToTime(trashedAt)
	c.DeletedAt = nullStringToTime(deletedAt)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func scanCaptures(rows *sql.Rows) ([]*model.Capture, error) {
	var captures []*model.Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan capture: %w", err)
		}
		captures = append(captures, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating captures: %w", err)
	}
	return captures, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
