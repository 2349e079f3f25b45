package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flitapp/flit-sync/internal/model"
)

// ensureSystemFolders inserts the three system folders if missing. Runs
// on every startup and after a session-guard wipe.
func (db *DB) ensureSystemFolders(ctx context.Context) error {
	now := formatTime(time.Now())
	folders := []struct {
		id, name string
		order    int
	}{
		{model.FolderInboxID, "Inbox", 0},
		{model.FolderIdeasID, "Ideas", 1},
		{model.FolderBookmarksID, "Bookmarks", 2},
	}
	for _, f := range folders {
		_, err := db.conn.ExecContext(ctx, `
			INSERT INTO folders (id, name, type, sort_order, created_at)
			VALUES (?, ?, 'system', ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			f.id, f.name, f.order, now)
		if err != nil {
			return fmt.Errorf("failed to ensure system folder %s: %w", f.id, err)
		}
	}
	return nil
}

// GetTask returns the task derived from the given capture.
func (db *DB) GetTask(ctx context.Context, captureID string) (*model.Task, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, capture_id, deadline, completed, completed_at, sort_order,
		       created_at, updated_at
		FROM tasks WHERE capture_id = ?`, captureID)
	return scanTask(row)
}

// CompleteTask marks a task done and bumps the owning capture so the
// change is pushed.
func (db *DB) CompleteTask(ctx context.Context, captureID string) error {
	now := formatTime(time.Now())
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET completed = 1, completed_at = ?, updated_at = ?
			WHERE capture_id = ? AND completed = 0`,
			now, now, captureID)
		if err != nil {
			return fmt.Errorf("failed to complete task for %s: %w", captureID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return touchCapture(ctx, tx, captureID, now)
	})
	if err != nil {
		return err
	}
	db.notify(model.EntityTasks, captureID, ChangeUpdated)
	return nil
}

// GetEvent returns the event derived from the given capture.
func (db *DB) GetEvent(ctx context.Context, captureID string) (*model.Event, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, capture_id, start_time, end_time, location, all_day,
		       confidence, created_at, updated_at
		FROM events WHERE capture_id = ?`, captureID)
	return scanEvent(row)
}

// GetNote returns the note derived from the given capture.
func (db *DB) GetNote(ctx context.Context, captureID string) (*model.Note, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, capture_id, folder_id, body, created_at, updated_at
		FROM notes WHERE capture_id = ?`, captureID)
	return scanNote(row)
}

// ListFolders returns all folders, system folders first.
func (db *DB) ListFolders(ctx context.Context) ([]*model.Folder, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, type, sort_order, created_at
		FROM folders
		ORDER BY type DESC, sort_order ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var folders []*model.Folder
	for rows.Next() {
		var f model.Folder
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Name, &f.Type, &f.SortOrder, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		f.CreatedAt = parseTime(createdAt)
		folders = append(folders, &f)
	}
	return folders, rows.Err()
}

// CreateFolder adds a user folder.
func (db *DB) CreateFolder(ctx context.Context, name string) (*model.Folder, error) {
	f := &model.Folder{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      "user",
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO folders (id, name, type, sort_order, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.Name, f.Type, f.SortOrder, formatTime(f.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create folder %q: %w", name, err)
	}
	db.notify(model.EntityFolders, f.ID, ChangeCreated)
	return f, nil
}

// GetTasksForSync returns tasks updated after since, oldest-change-first.
func (db *DB) GetTasksForSync(ctx context.Context, since time.Time) ([]*model.Task, error) {
	query := `SELECT id, capture_id, deadline, completed, completed_at,
		sort_order, created_at, updated_at FROM tasks`
	var args []interface{}
	if !since.IsZero() {
		query += ` WHERE updated_at > ?`
		args = append(args, formatTime(since))
	}
	query += ` ORDER BY updated_at ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks for sync: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetEventsForSync returns events updated after since.
func (db *DB) GetEventsForSync(ctx context.Context, since time.Time) ([]*model.Event, error) {
	query := `SELECT id, capture_id, start_time, end_time, location, all_day,
		confidence, created_at, updated_at FROM events`
	var args []interface{}
	if !since.IsZero() {
		query += ` WHERE updated_at > ?`
		args = append(args, formatTime(since))
	}
	query += ` ORDER BY updated_at ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for sync: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetNotesForSync returns notes updated after since.
func (db *DB) GetNotesForSync(ctx context.Context, since time.Time) ([]*model.Note, error) {
	query := `SELECT id, capture_id, folder_id, body, created_at, updated_at
		FROM notes`
	var args []interface{}
	if !since.IsZero() {
		query += ` WHERE updated_at > ?`
		args = append(args, formatTime(since))
	}
	query += ` ORDER BY updated_at ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes for sync: %w", err)
	}
	defer rows.Close()

	var notes []*model.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// GetTagsForSync returns tags created after since. Tags are immutable
// once created, so created_at doubles as the change timestamp.
func (db *DB) GetTagsForSync(ctx context.Context, since time.Time) ([]*model.Tag, error) {
	query := `SELECT id, name, created_at FROM tags`
	var args []interface{}
	if !since.IsZero() {
		query += ` WHERE created_at > ?`
		args = append(args, formatTime(since))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags for sync: %w", err)
	}
	defer rows.Close()

	var tags []*model.Tag
	for rows.Next() {
		var t model.Tag
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		t.CreatedAt = parseTime(createdAt)
		tags = append(tags, &t)
	}
	return tags, rows.Err()
}

// GetFoldersForSync returns folders created after since. User renames are
// out of scope; folders only appear, so created_at is the change marker.
func (db *DB) GetFoldersForSync(ctx context.Context, since time.Time) ([]*model.Folder, error) {
	query := `SELECT id, name, type, sort_order, created_at FROM folders`
	var args []interface{}
	if !since.IsZero() {
		query += ` WHERE created_at > ?`
		args = append(args, formatTime(since))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query folders for sync: %w", err)
	}
	defer rows.Close()

	var folders []*model.Folder
	for rows.Next() {
		var f model.Folder
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Name, &f.Type, &f.SortOrder, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		f.CreatedAt = parseTime(createdAt)
		folders = append(folders, &f)
	}
	return folders, rows.Err()
}

// getOrCreateTagTx finds a tag by name or creates it, inside tx.
func getOrCreateTagTx(ctx context.Context, tx *sql.Tx, name string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM tags WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to look up tag %q: %w", name, err)
	}

	id = uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tags (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		id, name, formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("failed to create tag %q: %w", name, err)
	}
	// Re-read in case a concurrent insert won the conflict.
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM tags WHERE name = ?`, name).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to re-read tag %q: %w", name, err)
	}
	return id, nil
}

// replaceTagsForCaptureTx rewrites a capture's tag links inside tx.
func replaceTagsForCaptureTx(ctx context.Context, tx *sql.Tx, captureID string, names []string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM capture_tags WHERE capture_id = ?`, captureID); err != nil {
		return fmt.Errorf("failed to clear tags for %s: %w", captureID, err)
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		tagID, err := getOrCreateTagTx(ctx, tx, name)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO capture_tags (capture_id, tag_id) VALUES (?, ?)
			ON CONFLICT(capture_id, tag_id) DO NOTHING`,
			captureID, tagID); err != nil {
			return fmt.Errorf("failed to link tag %q to %s: %w", name, captureID, err)
		}
	}
	return nil
}

func touchCapture(ctx context.Context, tx *sql.Tx, captureID, now string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE captures SET updated_at = ? WHERE id = ?`, now, captureID); err != nil {
		return fmt.Errorf("failed to touch capture %s: %w", captureID, err)
	}
	return nil
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var deadline, completedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.CaptureID, &deadline, &t.Completed,
		&completedAt, &t.SortOrder, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Deadline = nullStringToTime(deadline)
	t.CompletedAt = nullStringToTime(completedAt)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var e model.Event
	var start, end, location, confidence sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&e.ID, &e.CaptureID, &start, &end, &location,
		&e.AllDay, &confidence, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	e.StartTime = nullStringToTime(start)
	e.EndTime = nullStringToTime(end)
	e.Location = location.String
	e.Confidence = model.Confidence(confidence.String)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

func scanNote(row rowScanner) (*model.Note, error) {
	var n model.Note
	var folderID, body sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&n.ID, &n.CaptureID, &folderID, &body, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan note: %w", err)
	}
	n.FolderID = folderID.String
	n.Body = body.String
	n.CreatedAt = parseTime(createdAt)
	n.UpdatedAt = parseTime(updatedAt)
	return &n, nil
}
