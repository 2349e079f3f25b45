package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flitapp/flit-sync/internal/model"
)

// ApplyClassification writes a classification result to a capture in one
// transaction: the capture row, its tag links, its type-specific derived
// row, and any split children. Reclassifying a capture removes the old
// derived rows before inserting the new one, so a capture never carries
// rows for two types at once.
func (db *DB) ApplyClassification(ctx context.Context, captureID string, result *model.Classification) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		return applyClassificationTx(ctx, tx, captureID, result)
	})
	if err != nil {
		return err
	}
	db.notify(model.EntityCaptures, captureID, ChangeUpdated)
	return nil
}

// Reclassify changes a capture's type on user request. The classifier's
// extracted fields are kept only where they still apply; the derived row
// for the new type starts from the capture's text alone.
func (db *DB) Reclassify(ctx context.Context, captureID string, newType model.CaptureType, sub model.NoteSubType) error {
	result := &model.Classification{
		Type:        newType,
		NoteSubType: sub,
		Confidence:  model.ConfidenceHigh,
	}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		return applyClassificationTx(ctx, tx, captureID, result)
	})
	if err != nil {
		return err
	}
	db.notify(model.EntityCaptures, captureID, ChangeUpdated)
	return nil
}

func applyClassificationTx(ctx context.Context, tx *sql.Tx, captureID string, result *model.Classification) error {
	now := formatTime(time.Now())

	var exists int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM captures WHERE id = ?`, captureID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check capture %s: %w", captureID, err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE captures
		SET type = ?, note_sub_type = ?, confidence = ?, title = ?, updated_at = ?
		WHERE id = ?`,
		string(result.Type),
		nullIfEmpty(string(result.NoteSubType)),
		nullIfEmpty(string(result.Confidence)),
		nullIfEmpty(result.Title),
		now, captureID)
	if err != nil {
		return fmt.Errorf("failed to update capture %s: %w", captureID, err)
	}

	if result.Tags != nil {
		if err := replaceTagsForCaptureTx(ctx, tx, captureID, result.Tags); err != nil {
			return err
		}
	}

	// Old derived rows go first so reclassification is a clean rewrite.
	for _, table := range []string{"tasks", "events", "notes"} {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE capture_id = ?`, captureID); err != nil {
			return fmt.Errorf("failed to clear %s for %s: %w", table, captureID, err)
		}
	}

	if err := insertDerivedRowTx(ctx, tx, captureID, result, now); err != nil {
		return err
	}

	for _, split := range result.Splits {
		if err := insertSplitChildTx(ctx, tx, captureID, split, now); err != nil {
			return err
		}
	}
	return nil
}

func insertDerivedRowTx(ctx context.Context, tx *sql.Tx, captureID string, result *model.Classification, now string) error {
	switch result.Type {
	case model.TypeTask:
		var deadline sql.NullString
		if result.Task != nil {
			deadline = timeToNullString(result.Task.Deadline)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, capture_id, deadline, completed, completed_at, sort_order, created_at, updated_at)
			VALUES (?, ?, ?, 0, NULL, 0, ?, ?)`,
			uuid.NewString(), captureID, deadline, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert task for %s: %w", captureID, err)
		}

	case model.TypeSchedule:
		var start, end sql.NullString
		var location string
		var allDay bool
		if result.Schedule != nil {
			start = timeToNullString(result.Schedule.Start)
			end = timeToNullString(result.Schedule.End)
			location = result.Schedule.Location
			allDay = result.Schedule.AllDay
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, capture_id, start_time, end_time, location, all_day, confidence, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), captureID, start, end,
			nullIfEmpty(location), allDay,
			nullIfEmpty(string(result.Confidence)), now, now)
		if err != nil {
			return fmt.Errorf("failed to insert event for %s: %w", captureID, err)
		}

	case model.TypeNote:
		folderID := model.FolderForSubType(result.NoteSubType)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notes (id, capture_id, folder_id, body, created_at, updated_at)
			VALUES (?, ?, ?, NULL, ?, ?)`,
			uuid.NewString(), captureID, folderID, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert note for %s: %w", captureID, err)
		}

	case model.TypeQuickNote, model.TypeUnclassified:
		// Quick notes live on the capture row alone; unclassified has no
		// derived row until a later classification.
	}
	return nil
}

// insertSplitChildTx creates a child capture for one extracted intent and
// its own derived row. Split children never split again.
func insertSplitChildTx(ctx context.Context, tx *sql.Tx, parentID string, split model.SplitItem, now string) error {
	childID := uuid.NewString()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO captures (id, original_text, title, type, note_sub_type, confidence,
			source, confirmed, confirmed_at, lifecycle, trashed_at, deleted_at,
			image_ref, parent_capture_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, NULL, NULL, NULL, ?, ?, ?)`,
		childID, split.Text,
		nullIfEmpty(split.Title),
		string(split.Type),
		nullIfEmpty(string(split.NoteSubType)),
		nullIfEmpty(string(split.Confidence)),
		string(model.SourceSplit),
		string(model.LifecycleActive),
		parentID, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert split child of %s: %w", parentID, err)
	}

	if len(split.Tags) > 0 {
		if err := replaceTagsForCaptureTx(ctx, tx, childID, split.Tags); err != nil {
			return err
		}
	}
	return insertDerivedRowTx(ctx, tx, childID, &split.Classification, now)
}
