package inbox

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flitapp/flit-sync/internal/model"
	"github.com/flitapp/flit-sync/internal/store"
)

type recordingEnqueuer struct {
	ids []string
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, captureID string) error {
	r.ids = append(r.ids, captureID)
	return nil
}

type countingNotifier struct {
	count int32
}

func (c *countingNotifier) TriggerProcessing() {
	atomic.AddInt32(&c.count, 1)
}

func setupWatcher(t *testing.T) (*Watcher, *store.DB, *recordingEnqueuer, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	enq := &recordingEnqueuer{}
	w, err := New(dir, db, enq, &countingNotifier{}, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return w, db, enq, dir
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestSweep_IngestsExistingFiles(t *testing.T) {
	w, db, enq, dir := setupWatcher(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("preexisting note"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	if len(enq.ids) != 1 {
		t.Fatalf("enqueued %d captures, want 1", len(enq.ids))
	}
	got, err := db.GetCapture(ctx, enq.ids[0])
	if err != nil {
		t.Fatalf("GetCapture() failed: %v", err)
	}
	if got.OriginalText != "preexisting note" {
		t.Errorf("text = %q", got.OriginalText)
	}
	if got.Source != model.SourceShare {
		t.Errorf("source = %q, want share", got.Source)
	}

	if _, err := os.Stat(filepath.Join(dir, "note.txt")); !os.IsNotExist(err) {
		t.Error("ingested file not removed")
	}
}

func TestWatch_IngestsDroppedFile(t *testing.T) {
	w, db, _, dir := setupWatcher(t)
	ctx := context.Background()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "dropped.md"), []byte("buy milk"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	waitFor(t, func() bool {
		captures, err := db.ListCaptures(ctx, 10, 0)
		return err == nil && len(captures) == 1
	})
}

func TestWatch_IgnoresOtherExtensions(t *testing.T) {
	w, db, _, dir := setupWatcher(t)
	ctx := context.Background()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "photo.jpg"), []byte{0xff, 0xd8}, 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	captures, err := db.ListCaptures(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListCaptures() failed: %v", err)
	}
	if len(captures) != 0 {
		t.Errorf("ingested %d captures from a .jpg, want 0", len(captures))
	}
}

func TestIngestFile_EmptyFileDiscarded(t *testing.T) {
	w, db, enq, dir := setupWatcher(t)
	ctx := context.Background()

	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, []byte("  \n"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if err := w.ingestFile(ctx, path); err != nil {
		t.Fatalf("ingestFile() failed: %v", err)
	}

	if len(enq.ids) != 0 {
		t.Error("empty file produced a capture")
	}
	captures, _ := db.ListCaptures(ctx, 10, 0)
	if len(captures) != 0 {
		t.Error("empty file stored a capture")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("empty file not cleaned up")
	}
}

func TestStop_Idempotent(t *testing.T) {
	w, _, _, _ := setupWatcher(t)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	w.Stop()
	w.Stop()
}
