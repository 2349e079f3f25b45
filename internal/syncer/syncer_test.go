package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/flitapp/flit-sync/internal/api"
	"github.com/flitapp/flit-sync/internal/model"
	"github.com/flitapp/flit-sync/internal/store"
)

type fakeServer struct {
	mux *http.ServeMux

	pushRequests [][]api.Change
	pushStatus   int
	serverTime   time.Time

	pullChanges []api.RemoteChange
	pullCursor  string
	gotCursors  []string
}

func newFakeServer(t *testing.T) (*fakeServer, *api.Client) {
	t.Helper()
	fs := &fakeServer{
		mux:        http.NewServeMux(),
		serverTime: time.Now().UTC(),
		pullCursor: "cursor-1",
	}

	fs.mux.HandleFunc("/v1/sync/push", func(w http.ResponseWriter, r *http.Request) {
		if fs.pushStatus != 0 {
			w.WriteHeader(fs.pushStatus)
			return
		}
		var req struct {
			Changes []api.Change `json:"changes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad push body: %v", err)
		}
		fs.pushRequests = append(fs.pushRequests, req.Changes)
		json.NewEncoder(w).Encode(api.PushResponse{
			ServerTimestamp: fs.serverTime,
			Acknowledged:    len(req.Changes),
		})
	})

	fs.mux.HandleFunc("/v1/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Cursor string `json:"cursor"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		fs.gotCursors = append(fs.gotCursors, req.Cursor)
		json.NewEncoder(w).Encode(api.PullResponse{
			Changes:    fs.pullChanges,
			NextCursor: fs.pullCursor,
		})
	})

	srv := httptest.NewServer(fs.mux)
	t.Cleanup(srv.Close)
	client := api.NewClient(srv.URL, "token", "device-1",
		api.WithHTTPClient(srv.Client()))
	return fs, client
}

func setupSyncer(t *testing.T) (*fakeServer, *Syncer, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	fs, client := newFakeServer(t)
	return fs, New(db, client, nil), db
}

func TestGuard_FirstBindAndSameUser(t *testing.T) {
	_, s, db := setupSyncer(t)
	ctx := context.Background()

	wiped, err := s.guard.Ensure(ctx, "user-a")
	if err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}
	if wiped {
		t.Error("first bind reported a wipe")
	}

	wiped, err = s.guard.Ensure(ctx, "user-a")
	if err != nil {
		t.Fatalf("second Ensure() failed: %v", err)
	}
	if wiped {
		t.Error("same account triggered a wipe")
	}

	owner, _ := db.LastSyncUserID(ctx)
	if owner != "user-a" {
		t.Errorf("owner = %q, want user-a", owner)
	}
}

func TestGuard_AccountSwitchWipes(t *testing.T) {
	_, s, db := setupSyncer(t)
	ctx := context.Background()

	c := model.NewCapture("user a's capture", model.SourceText)
	if err := db.SaveCapture(ctx, c); err != nil {
		t.Fatalf("SaveCapture() failed: %v", err)
	}
	if _, err := s.guard.Ensure(ctx, "user-a"); err != nil {
		t.Fatalf("Ensure(user-a) failed: %v", err)
	}

	wiped, err := s.guard.Ensure(ctx, "user-b")
	if err != nil {
		t.Fatalf("Ensure(user-b) failed: %v", err)
	}
	if !wiped {
		t.Fatal("account switch did not wipe")
	}

	if _, err := db.GetCapture(ctx, c.ID); err == nil {
		t.Error("previous account's capture survived the wipe")
	}
	owner, _ := db.LastSyncUserID(ctx)
	if owner != "user-b" {
		t.Errorf("owner = %q, want user-b", owner)
	}
}

func TestPush_FirstPushSendsEverything(t *testing.T) {
	fs, s, db := setupSyncer(t)
	ctx := context.Background()

	c := model.NewCapture("hello", model.SourceText)
	if err := db.SaveCapture(ctx, c); err != nil {
		t.Fatalf("SaveCapture() failed: %v", err)
	}

	result, err := s.Push(ctx, "user-a")
	if err != nil {
		t.Fatalf("Push() failed: %v", err)
	}
	if !result.Success {
		t.Fatal("push not successful")
	}
	if len(fs.pushRequests) != 1 {
		t.Fatalf("server saw %d pushes, want 1", len(fs.pushRequests))
	}

	changes := fs.pushRequests[0]
	// One capture plus the three system folders.
	if len(changes) != 4 {
		t.Fatalf("pushed %d changes, want 4", len(changes))
	}
	var captureChange *api.Change
	for i := range changes {
		if changes[i].EntityType == model.EntityCaptures {
			captureChange = &changes[i]
		}
	}
	if captureChange == nil {
		t.Fatal("capture not in changeset")
	}
	if captureChange.Operation != "create" {
		t.Errorf("operation = %q, want create", captureChange.Operation)
	}

	last, err := db.LastSyncAt(ctx)
	if err != nil {
		t.Fatalf("LastSyncAt() failed: %v", err)
	}
	if !last.Equal(fs.serverTime) {
		t.Errorf("last sync = %v, want server time %v", last, fs.serverTime)
	}
}

func TestPush_EmptyChangesetAdvancesWithoutRequest(t *testing.T) {
	fs, s, db := setupSyncer(t)
	ctx := context.Background()

	if _, err := s.Push(ctx, "user-a"); err != nil {
		t.Fatalf("first Push() failed: %v", err)
	}
	firstSync, _ := db.LastSyncAt(ctx)

	result, err := s.Push(ctx, "user-a")
	if err != nil {
		t.Fatalf("second Push() failed: %v", err)
	}
	if !result.Success || result.Pushed != 0 {
		t.Errorf("result = %+v, want success with 0 pushed", result)
	}

	// Nothing to send means no round trip; the watermark advances
	// locally all the same.
	if len(fs.pushRequests) != 1 {
		t.Errorf("server saw %d pushes, want 1", len(fs.pushRequests))
	}
	last, _ := db.LastSyncAt(ctx)
	if !last.After(firstSync) {
		t.Errorf("empty push did not advance sync time: %v", last)
	}
}

func TestPush_FailureKeepsSyncTime(t *testing.T) {
	fs, s, db := setupSyncer(t)
	ctx := context.Background()
	fs.pushStatus = http.StatusInternalServerError

	c := model.NewCapture("will retry", model.SourceText)
	if err := db.SaveCapture(ctx, c); err != nil {
		t.Fatalf("SaveCapture() failed: %v", err)
	}

	_, err := s.Push(ctx, "user-a")
	if !api.Retryable(err) {
		t.Fatalf("error = %v, want retryable", err)
	}

	last, _ := db.LastSyncAt(ctx)
	if !last.IsZero() {
		t.Errorf("failed push advanced sync time to %v", last)
	}

	// Recovery resends the same rows.
	fs.pushStatus = 0
	if _, err := s.Push(ctx, "user-a"); err != nil {
		t.Fatalf("retry Push() failed: %v", err)
	}
	found := false
	for _, ch := range fs.pushRequests[len(fs.pushRequests)-1] {
		if ch.ClientID == c.ID {
			found = true
		}
	}
	if !found {
		t.Error("capture missing from resent changeset")
	}
}

func TestPush_TombstonePropagatesAndPurges(t *testing.T) {
	fs, s, db := setupSyncer(t)
	ctx := context.Background()

	c := model.NewCapture("delete me", model.SourceText)
	if err := db.SaveCapture(ctx, c); err != nil {
		t.Fatalf("SaveCapture() failed: %v", err)
	}
	if err := db.MarkDeleted(ctx, c.ID); err != nil {
		t.Fatalf("MarkDeleted() failed: %v", err)
	}

	if _, err := s.Push(ctx, "user-a"); err != nil {
		t.Fatalf("Push() failed: %v", err)
	}

	var deleteOp bool
	for _, ch := range fs.pushRequests[0] {
		if ch.ClientID == c.ID && ch.Operation == "delete" {
			deleteOp = true
		}
	}
	if !deleteOp {
		t.Error("tombstone not pushed as a delete")
	}

	if _, err := db.GetCapture(ctx, c.ID); err == nil {
		t.Error("tombstone survived acknowledged push")
	}
}

func TestPush_AccountSwitchSkips(t *testing.T) {
	fs, s, db := setupSyncer(t)
	ctx := context.Background()

	if err := db.SetLastSyncUserID(ctx, "user-a"); err != nil {
		t.Fatalf("SetLastSyncUserID() failed: %v", err)
	}

	result, err := s.Push(ctx, "user-b")
	if err != nil {
		t.Fatalf("Push() failed: %v", err)
	}
	if !result.Skipped || !result.AccountSwitchRequired {
		t.Errorf("result = %+v, want skipped with account switch", result)
	}
	if len(fs.pushRequests) != 0 {
		t.Errorf("push ran despite account switch: %d requests", len(fs.pushRequests))
	}
}

func TestPull_AppliesAndAdvancesCursor(t *testing.T) {
	fs, s, db := setupSyncer(t)
	ctx := context.Background()

	remote := model.NewCapture("from another device", model.SourceText)
	data, _ := json.Marshal(remote)
	fs.pullChanges = []api.RemoteChange{{
		EntityType:      model.EntityCaptures,
		Operation:       "create",
		ServerID:        remote.ID,
		Data:            data,
		ServerUpdatedAt: time.Now().UTC(),
	}}
	fs.pullCursor = "cursor-9"

	result, err := s.Pull(ctx, "user-a")
	if err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}
	if result.Pulled != 1 {
		t.Errorf("pulled = %d, want 1", result.Pulled)
	}

	got, err := db.GetCapture(ctx, remote.ID)
	if err != nil {
		t.Fatalf("pulled capture not stored: %v", err)
	}
	if got.OriginalText != remote.OriginalText {
		t.Errorf("text = %q, want %q", got.OriginalText, remote.OriginalText)
	}

	cursor, _ := db.SyncCursor(ctx)
	if cursor != "cursor-9" {
		t.Errorf("cursor = %q, want cursor-9", cursor)
	}
	if len(fs.gotCursors) != 1 || fs.gotCursors[0] != "" {
		t.Errorf("first pull sent cursor %v, want empty", fs.gotCursors)
	}
}

func TestPull_RemoteDeleteWins(t *testing.T) {
	fs, s, db := setupSyncer(t)
	ctx := context.Background()

	c := model.NewCapture("local copy", model.SourceText)
	if err := db.SaveCapture(ctx, c); err != nil {
		t.Fatalf("SaveCapture() failed: %v", err)
	}

	fs.pullChanges = []api.RemoteChange{{
		EntityType: model.EntityCaptures,
		Operation:  "delete",
		ServerID:   c.ID,
	}}

	if _, err := s.Pull(ctx, "user-a"); err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}
	if _, err := db.GetCapture(ctx, c.ID); err == nil {
		t.Error("remotely deleted capture still present")
	}
}

func TestSync_FullCycle(t *testing.T) {
	fs, s, db := setupSyncer(t)
	ctx := context.Background()

	c := model.NewCapture("both ways", model.SourceText)
	if err := db.SaveCapture(ctx, c); err != nil {
		t.Fatalf("SaveCapture() failed: %v", err)
	}

	result, err := s.Sync(ctx, "user-a")
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if !result.Success {
		t.Error("sync not successful")
	}
	if len(fs.pushRequests) != 1 {
		t.Errorf("server saw %d pushes, want 1", len(fs.pushRequests))
	}
	if len(fs.gotCursors) != 1 {
		t.Errorf("server saw %d pulls, want 1", len(fs.gotCursors))
	}
}
