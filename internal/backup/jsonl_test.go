package backup

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flitapp/flit-sync/internal/model"
	"github.com/flitapp/flit-sync/internal/store"
)

func setupDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := setupDB(t)
	ctx := context.Background()

	c := model.NewCapture("meeting with dana friday 2pm", model.SourceText)
	if err := src.SaveCapture(ctx, c); err != nil {
		t.Fatalf("SaveCapture() failed: %v", err)
	}
	start := time.Now().Add(48 * time.Hour).UTC()
	if err := src.ApplyClassification(ctx, c.ID, &model.Classification{
		Type:       model.TypeSchedule,
		Confidence: model.ConfidenceHigh,
		Title:      "Meeting with Dana",
		Tags:       []string{"work"},
		Schedule:   &model.ScheduleInfo{Start: &start},
	}); err != nil {
		t.Fatalf("ApplyClassification() failed: %v", err)
	}

	var buf bytes.Buffer
	exported, err := Export(ctx, src, &buf)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if exported.Captures != 1 || exported.Events != 1 || exported.Tags != 1 {
		t.Errorf("exported = %+v", exported)
	}
	// Three system folders always ride along.
	if exported.Folders != 3 {
		t.Errorf("folders = %d, want 3", exported.Folders)
	}

	dst := setupDB(t)
	imported, err := Import(ctx, dst, &buf)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if imported.Total() != exported.Total() {
		t.Errorf("imported %d records, exported %d", imported.Total(), exported.Total())
	}

	got, err := dst.GetCapture(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCapture() on import target failed: %v", err)
	}
	if got.Title != "Meeting with Dana" {
		t.Errorf("title = %q", got.Title)
	}
	event, err := dst.GetEvent(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetEvent() failed: %v", err)
	}
	if event.StartTime == nil || !event.StartTime.Equal(start) {
		t.Errorf("start = %v, want %v", event.StartTime, start)
	}
}

func TestImport_Idempotent(t *testing.T) {
	src := setupDB(t)
	ctx := context.Background()
	c := model.NewCapture("just a note", model.SourceText)
	if err := src.SaveCapture(ctx, c); err != nil {
		t.Fatalf("SaveCapture() failed: %v", err)
	}

	var buf bytes.Buffer
	if _, err := Export(ctx, src, &buf); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	backup := buf.String()

	dst := setupDB(t)
	for i := 0; i < 2; i++ {
		if _, err := Import(ctx, dst, strings.NewReader(backup)); err != nil {
			t.Fatalf("Import() pass %d failed: %v", i+1, err)
		}
	}

	captures, err := dst.GetCapturesForSync(ctx, time.Time{})
	if err != nil {
		t.Fatalf("GetCapturesForSync() failed: %v", err)
	}
	if len(captures) != 1 {
		t.Errorf("got %d captures after double import, want 1", len(captures))
	}
}

func TestImport_BadRecord(t *testing.T) {
	dst := setupDB(t)
	_, err := Import(context.Background(), dst,
		strings.NewReader(`{"entity_type":"captures","data":{"no_id":true}}`))
	if err == nil {
		t.Error("import accepted a record without an id")
	}
}
