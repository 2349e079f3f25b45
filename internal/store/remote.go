package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/flitapp/flit-sync/internal/model"
)

// RemoteChange is one server-side change to apply locally. The server is
// authoritative for pulled data; local rows are overwritten wholesale.
type RemoteChange struct {
	EntityType string
	Operation  string // create, update, delete
	ID         string
	Data       json.RawMessage
}

// Apply order for upserts: parents before children so foreign keys hold.
var upsertOrder = []string{
	model.EntityFolders, model.EntityTags, model.EntityCaptures,
	model.EntityTasks, model.EntityEvents, model.EntityNotes,
}

// Apply order for deletes: children before parents.
var deleteOrder = []string{
	model.EntityTasks, model.EntityEvents, model.EntityNotes,
	model.EntityTags, model.EntityCaptures, model.EntityFolders,
}

// ApplyRemoteChanges writes a pulled changeset in one transaction.
// Deletes run first (children before parents), then upserts (parents
// before children). A failed apply rolls the whole changeset back so the
// cursor is never advanced past unapplied data.
func (db *DB) ApplyRemoteChanges(ctx context.Context, changes []RemoteChange) error {
	if len(changes) == 0 {
		return nil
	}

	byEntity := make(map[string][]RemoteChange)
	for _, ch := range changes {
		byEntity[ch.EntityType] = append(byEntity[ch.EntityType], ch)
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for _, entity := range deleteOrder {
			for _, ch := range byEntity[entity] {
				if ch.Operation != "delete" {
					continue
				}
				if err := deleteRemoteTx(ctx, tx, entity, ch.ID); err != nil {
					return err
				}
			}
		}
		for _, entity := range upsertOrder {
			for _, ch := range byEntity[entity] {
				if ch.Operation == "delete" {
					continue
				}
				if err := upsertRemoteTx(ctx, tx, entity, ch); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, ch := range changes {
		action := ChangeUpdated
		if ch.Operation == "delete" {
			action = ChangeDeleted
		}
		db.notify(ch.EntityType, ch.ID, action)
	}
	return nil
}

func deleteRemoteTx(ctx context.Context, tx *sql.Tx, entity, id string) error {
	table, ok := entityTable(entity)
	if !ok {
		// Unknown entity from a newer server; skip rather than fail the
		// whole changeset.
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to apply remote delete %s/%s: %w", entity, id, err)
	}
	return nil
}

func upsertRemoteTx(ctx context.Context, tx *sql.Tx, entity string, ch RemoteChange) error {
	switch entity {
	case model.EntityCaptures:
		var c model.Capture
		if err := json.Unmarshal(ch.Data, &c); err != nil {
			return fmt.Errorf("bad remote capture %s: %w", ch.ID, err)
		}
		if c.ID == "" {
			c.ID = ch.ID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO captures (`+captureColumns+`)
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
				created_at = excluded.created_at,
				updated_at = excluded.updated_at`,
			c.ID, c.OriginalText, nullIfEmpty(c.Title), string(c.Type),
			nullIfEmpty(string(c.NoteSubType)), nullIfEmpty(string(c.Confidence)),
			string(c.Source), c.Confirmed, timeToNullString(c.ConfirmedAt),
			string(c.Lifecycle), timeToNullString(c.TrashedAt),
			timeToNullString(c.DeletedAt), nullIfEmpty(c.ImageRef),
			nullIfEmpty(c.ParentCaptureID),
			formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to apply remote capture %s: %w", c.ID, err)
		}

	case model.EntityTasks:
		var t model.Task
		if err := json.Unmarshal(ch.Data, &t); err != nil {
			return fmt.Errorf("bad remote task %s: %w", ch.ID, err)
		}
		if t.ID == "" {
			t.ID = ch.ID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, capture_id, deadline, completed, completed_at, sort_order, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				capture_id = excluded.capture_id,
				deadline = excluded.deadline,
				completed = excluded.completed,
				completed_at = excluded.completed_at,
				sort_order = excluded.sort_order,
				updated_at = excluded.updated_at`,
			t.ID, t.CaptureID, timeToNullString(t.Deadline), t.Completed,
			timeToNullString(t.CompletedAt), t.SortOrder,
			formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to apply remote task %s: %w", t.ID, err)
		}

	case model.EntityEvents:
		var e model.Event
		if err := json.Unmarshal(ch.Data, &e); err != nil {
			return fmt.Errorf("bad remote event %s: %w", ch.ID, err)
		}
		if e.ID == "" {
			e.ID = ch.ID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, capture_id, start_time, end_time, location, all_day, confidence, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				capture_id = excluded.capture_id,
				start_time = excluded.start_time,
				end_time = excluded.end_time,
				location = excluded.location,
				all_day = excluded.all_day,
				confidence = excluded.confidence,
				updated_at = excluded.updated_at`,
			e.ID, e.CaptureID, timeToNullString(e.StartTime),
			timeToNullString(e.EndTime), nullIfEmpty(e.Location), e.AllDay,
			nullIfEmpty(string(e.Confidence)),
			formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to apply remote event %s: %w", e.ID, err)
		}

	case model.EntityNotes:
		var n model.Note
		if err := json.Unmarshal(ch.Data, &n); err != nil {
			return fmt.Errorf("bad remote note %s: %w", ch.ID, err)
		}
		if n.ID == "" {
			n.ID = ch.ID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notes (id, capture_id, folder_id, body, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				capture_id = excluded.capture_id,
				folder_id = excluded.folder_id,
				body = excluded.body,
				updated_at = excluded.updated_at`,
			n.ID, n.CaptureID, nullIfEmpty(n.FolderID), nullIfEmpty(n.Body),
			formatTime(n.CreatedAt), formatTime(n.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to apply remote note %s: %w", n.ID, err)
		}

	case model.EntityTags:
		var t model.Tag
		if err := json.Unmarshal(ch.Data, &t); err != nil {
			return fmt.Errorf("bad remote tag %s: %w", ch.ID, err)
		}
		if t.ID == "" {
			t.ID = ch.ID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tags (id, name, created_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name
			ON CONFLICT(name) DO NOTHING`,
			t.ID, t.Name, formatTime(t.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to apply remote tag %s: %w", t.ID, err)
		}

	case model.EntityFolders:
		var f model.Folder
		if err := json.Unmarshal(ch.Data, &f); err != nil {
			return fmt.Errorf("bad remote folder %s: %w", ch.ID, err)
		}
		if f.ID == "" {
			f.ID = ch.ID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO folders (id, name, type, sort_order, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				type = excluded.type,
				sort_order = excluded.sort_order`,
			f.ID, f.Name, f.Type, f.SortOrder, formatTime(f.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to apply remote folder %s: %w", f.ID, err)
		}
	}
	return nil
}

func entityTable(entity string) (string, bool) {
	switch entity {
	case model.EntityCaptures:
		return "captures", true
	case model.EntityTasks:
		return "tasks", true
	case model.EntityEvents:
		return "events", true
	case model.EntityNotes:
		return "notes", true
	case model.EntityTags:
		return "tags", true
	case model.EntityFolders:
		return "folders", true
	}
	return "", false
}
