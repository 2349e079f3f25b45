package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flitapp/flit-sync/internal/model"
)

func TestApplyClassification_Task(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	c := mustSaveCapture(t, db, "submit report by friday")

	deadline := time.Date(2026, 9, 4, 17, 0, 0, 0, time.UTC)
	result := &model.Classification{
		Type:       model.TypeTask,
		Confidence: model.ConfidenceHigh,
		Title:      "Submit report",
		Tags:       []string{"work", "reports"},
		Task:       &model.TaskInfo{Deadline: &deadline},
	}
	if err := db.ApplyClassification(ctx, c.ID, result); err != nil {
		t.Fatalf("ApplyClassification() failed: %v", err)
	}

	got, err := db.GetCapture(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCapture() failed: %v", err)
	}
	if got.Type != model.TypeTask {
		t.Errorf("type = %q, want task", got.Type)
	}
	if got.Title != "Submit report" {
		t.Errorf("title = %q, want Submit report", got.Title)
	}

	task, err := db.GetTask(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if task.Deadline == nil || !task.Deadline.Equal(deadline) {
		t.Errorf("deadline = %v, want %v", task.Deadline, deadline)
	}

	tags, err := db.TagsForCapture(ctx, c.ID)
	if err != nil {
		t.Fatalf("TagsForCapture() failed: %v", err)
	}
	if len(tags) != 2 {
		t.Errorf("got %d tags, want 2", len(tags))
	}
}

func TestApplyClassification_NoteRouting(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	c := mustSaveCapture(t, db, "an idea about lamps")

	result := &model.Classification{
		Type:        model.TypeNote,
		NoteSubType: model.SubTypeIdea,
		Confidence:  model.ConfidenceMedium,
	}
	if err := db.ApplyClassification(ctx, c.ID, result); err != nil {
		t.Fatalf("ApplyClassification() failed: %v", err)
	}

	note, err := db.GetNote(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetNote() failed: %v", err)
	}
	if note.FolderID != model.FolderIdeasID {
		t.Errorf("folder = %q, want %q", note.FolderID, model.FolderIdeasID)
	}
}

func TestApplyClassification_MissingCapture(t *testing.T) {
	db := setupTestDB(t)
	err := db.ApplyClassification(context.Background(), "missing",
		&model.Classification{Type: model.TypeNote})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestReclassify_RewritesDerivedRows(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	c := mustSaveCapture(t, db, "dentist at noon")

	start := time.Now().Add(4 * time.Hour)
	if err := db.ApplyClassification(ctx, c.ID, &model.Classification{
		Type:     model.TypeSchedule,
		Schedule: &model.ScheduleInfo{Start: &start},
	}); err != nil {
		t.Fatalf("ApplyClassification() failed: %v", err)
	}

	if err := db.Reclassify(ctx, c.ID, model.TypeTask, ""); err != nil {
		t.Fatalf("Reclassify() failed: %v", err)
	}

	if _, err := db.GetEvent(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("event row survived reclassification: %v", err)
	}
	if _, err := db.GetTask(ctx, c.ID); err != nil {
		t.Errorf("task row missing after reclassification: %v", err)
	}

	got, err := db.GetCapture(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCapture() failed: %v", err)
	}
	if got.Type != model.TypeTask {
		t.Errorf("type = %q, want task", got.Type)
	}
}

func TestApplyClassification_Splits(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	c := mustSaveCapture(t, db, "buy milk and call mom tomorrow")

	result := &model.Classification{
		Type:       model.TypeNote,
		Confidence: model.ConfidenceHigh,
		Splits: []model.SplitItem{
			{Text: "buy milk", Classification: model.Classification{Type: model.TypeTask}},
			{Text: "call mom tomorrow", Classification: model.Classification{Type: model.TypeTask}},
		},
	}
	if err := db.ApplyClassification(ctx, c.ID, result); err != nil {
		t.Fatalf("ApplyClassification() failed: %v", err)
	}

	all, err := db.GetCapturesForSync(ctx, time.Time{})
	if err != nil {
		t.Fatalf("GetCapturesForSync() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d captures, want parent plus 2 children", len(all))
	}

	children := 0
	for _, cap := range all {
		if cap.ParentCaptureID == c.ID {
			children++
			if cap.Source != model.SourceSplit {
				t.Errorf("child source = %q, want split", cap.Source)
			}
			if _, err := db.GetTask(ctx, cap.ID); err != nil {
				t.Errorf("child %s missing task row: %v", cap.ID, err)
			}
		}
	}
	if children != 2 {
		t.Errorf("got %d children, want 2", children)
	}
}

func TestGetOrCreateTag_DeduplicatesByName(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	c1 := mustSaveCapture(t, db, "a")
	c2 := mustSaveCapture(t, db, "b")
	for _, c := range []*model.Capture{c1, c2} {
		if err := db.ApplyClassification(ctx, c.ID, &model.Classification{
			Type: model.TypeNote,
			Tags: []string{"shared"},
		}); err != nil {
			t.Fatalf("ApplyClassification() failed: %v", err)
		}
	}

	tags, err := db.GetTagsForSync(ctx, time.Time{})
	if err != nil {
		t.Fatalf("GetTagsForSync() failed: %v", err)
	}
	if len(tags) != 1 {
		t.Errorf("got %d tags, want 1 deduplicated tag", len(tags))
	}
}
