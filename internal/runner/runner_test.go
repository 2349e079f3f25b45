package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flitapp/flit-sync/internal/api"
	"github.com/flitapp/flit-sync/internal/classify"
	"github.com/flitapp/flit-sync/internal/model"
	"github.com/flitapp/flit-sync/internal/queue"
	"github.com/flitapp/flit-sync/internal/store"
	"github.com/flitapp/flit-sync/internal/syncer"
)

type stubClassifier struct {
	calls int32
}

func (s *stubClassifier) Classify(_ context.Context, _ string, _ model.Source) (*model.Classification, error) {
	atomic.AddInt32(&s.calls, 1)
	return &model.Classification{Type: model.TypeQuickNote, Confidence: model.ConfidenceHigh}, nil
}

type runnerEnv struct {
	db     *store.DB
	queue  *queue.Queue
	runner *Runner
	stub   *stubClassifier

	online    atomic.Bool
	pushCount int32
	pullCount int32
}

func setupRunner(t *testing.T) *runnerEnv {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	env := &runnerEnv{db: db, queue: queue.New(db), stub: &stubClassifier{}}
	env.online.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sync/push", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&env.pushCount, 1)
		json.NewEncoder(w).Encode(api.PushResponse{ServerTimestamp: time.Now().UTC()})
	})
	mux.HandleFunc("/v1/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&env.pullCount, 1)
		json.NewEncoder(w).Encode(api.PullResponse{NextCursor: "c"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := api.NewClient(srv.URL, "token", "device-1", api.WithHTTPClient(srv.Client()))
	online := func() bool { return env.online.Load() }
	disp := classify.NewDispatcher(db, env.queue, env.stub, online, nil)
	sync := syncer.New(db, client, nil)

	cfg := DefaultConfig()
	cfg.Interval = time.Hour // only explicit drains in tests
	env.runner = New(db, env.queue, disp, sync, online,
		func() string { return "user-a" }, cfg, nil)
	return env
}

func (e *runnerEnv) addCapture(t *testing.T, kind model.OperationKind) *model.Capture {
	t.Helper()
	ctx := context.Background()
	c := model.NewCapture("some capture text", model.SourceText)
	if err := e.db.SaveCapture(ctx, c); err != nil {
		t.Fatalf("SaveCapture() failed: %v", err)
	}
	if _, _, err := e.queue.Enqueue(ctx, c.ID, kind); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	return c
}

func TestDrainOnce_ClassifiesAndPushes(t *testing.T) {
	env := setupRunner(t)
	ctx := context.Background()
	c := env.addCapture(t, model.OpClassify)

	env.runner.DrainOnce(ctx)

	got, err := env.db.GetCapture(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCapture() failed: %v", err)
	}
	if got.Type != model.TypeQuickNote {
		t.Errorf("type = %q, want quick_note", got.Type)
	}

	// Classification enqueued a push; the next pass uploads it.
	env.runner.DrainOnce(ctx)
	if atomic.LoadInt32(&env.pushCount) != 1 {
		t.Errorf("push count = %d, want 1", env.pushCount)
	}

	pending, err := env.queue.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() failed: %v", err)
	}
	if pending != 0 {
		t.Errorf("pending = %d, want 0 after both passes", pending)
	}
}

func TestDrainOnce_CoalescesPushItems(t *testing.T) {
	env := setupRunner(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.addCapture(t, model.OpPush)
	}

	env.runner.DrainOnce(ctx)
	if atomic.LoadInt32(&env.pushCount) != 1 {
		t.Errorf("push count = %d, want 1 coalesced call", env.pushCount)
	}

	pending, _ := env.queue.PendingCount(ctx)
	if pending != 0 {
		t.Errorf("pending = %d, want all push items settled", pending)
	}
}

func TestDrainOnce_OfflineLeavesQueueIntact(t *testing.T) {
	env := setupRunner(t)
	env.online.Store(false)
	ctx := context.Background()

	env.addCapture(t, model.OpClassify)
	env.addCapture(t, model.OpPush)

	env.runner.DrainOnce(ctx)

	if atomic.LoadInt32(&env.stub.calls) != 0 {
		t.Error("classifier ran while offline")
	}
	if atomic.LoadInt32(&env.pushCount) != 0 {
		t.Error("push ran while offline")
	}

	pending, err := env.queue.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() failed: %v", err)
	}
	if pending != 2 {
		t.Errorf("pending = %d, want 2 untouched items", pending)
	}

	// Back online, the same pass drains everything.
	env.online.Store(true)
	env.runner.DrainOnce(ctx)
	env.runner.DrainOnce(ctx)
	pending, _ = env.queue.PendingCount(ctx)
	if pending != 0 {
		t.Errorf("pending = %d after reconnect, want 0", pending)
	}
}

func TestDrainOnce_PullsOncePerInterval(t *testing.T) {
	env := setupRunner(t)
	ctx := context.Background()

	env.runner.DrainOnce(ctx)
	env.runner.DrainOnce(ctx)

	// Interval is an hour; only the first pass pulls.
	if got := atomic.LoadInt32(&env.pullCount); got != 1 {
		t.Errorf("pull count = %d, want 1", got)
	}

	cursor, err := env.db.SyncCursor(ctx)
	if err != nil {
		t.Fatalf("SyncCursor() failed: %v", err)
	}
	if cursor != "c" {
		t.Errorf("cursor = %q, want %q from pull response", cursor, "c")
	}
}

func TestDrainOnce_SyncListener(t *testing.T) {
	env := setupRunner(t)
	ctx := context.Background()

	var mu sync.Mutex
	var ops []string
	env.runner.SetSyncListener(func(op string, _ *model.SyncResult) {
		mu.Lock()
		ops = append(ops, op)
		mu.Unlock()
	})

	env.addCapture(t, model.OpPush)
	env.runner.DrainOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(ops) != 2 || ops[0] != "push" || ops[1] != "pull" {
		t.Errorf("listener ops = %v, want [push pull]", ops)
	}
}

func TestTriggerProcessing_Coalesces(t *testing.T) {
	env := setupRunner(t)

	// Fill the single-slot channel twice; the second must not block.
	done := make(chan struct{})
	go func() {
		env.runner.TriggerProcessing()
		env.runner.TriggerProcessing()
		env.runner.TriggerProcessing()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("TriggerProcessing blocked")
	}
}

func TestStartStop(t *testing.T) {
	env := setupRunner(t)
	ctx := context.Background()

	c := env.addCapture(t, model.OpClassify)
	// Simulate a crash mid-pass.
	item, _, err := env.queue.Enqueue(ctx, c.ID, model.OpPush)
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if err := env.queue.MarkProcessing(ctx, item.ID); err != nil {
		t.Fatalf("MarkProcessing() failed: %v", err)
	}

	if err := env.runner.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer env.runner.Stop()

	got, err := env.queue.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Status != model.StatusPending {
		t.Errorf("stuck item status = %q after Start, want pending", got.Status)
	}

	env.runner.TriggerProcessing()
	deadline := time.After(5 * time.Second)
	for atomic.LoadInt32(&env.stub.calls) == 0 {
		select {
		case <-deadline:
			t.Fatal("triggered drain never classified the capture")
		case <-time.After(10 * time.Millisecond):
		}
	}

	env.runner.Stop()
	// Stop twice is safe.
	env.runner.Stop()
}
