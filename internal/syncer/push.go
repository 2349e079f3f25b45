package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flitapp/flit-sync/internal/api"
	"github.com/flitapp/flit-sync/internal/model"
	"github.com/flitapp/flit-sync/internal/store"
)

// Syncer runs push and pull against the remote service.
type Syncer struct {
	db     *store.DB
	client *api.Client
	guard  *Guard
	logger *zap.Logger
}

// New builds a syncer.
func New(db *store.DB, client *api.Client, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		db:     db,
		client: client,
		guard:  NewGuard(db, logger),
		logger: logger,
	}
}

// Push uploads every local change newer than the last acknowledged sync.
// Rows are sent as full snapshots, so resending after a lost response is
// harmless: the server converges on the same state. The sync timestamp
// only advances after the server acknowledges, which makes delivery
// at-least-once.
//
// An empty changeset skips the network round trip; the watermark still
// advances locally so the device records a completed sync.
func (s *Syncer) Push(ctx context.Context, userID string) (*model.SyncResult, error) {
	if userID == "" {
		return &model.SyncResult{Skipped: true, Message: "not signed in"}, nil
	}
	wiped, err := s.guard.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wiped {
		// Local state is gone; nothing to push until the next pull
		// repopulates. Report the switch so the caller runs a pull.
		return &model.SyncResult{
			Skipped:               true,
			AccountSwitchRequired: true,
			Message:               "local data wiped after account switch",
		}, nil
	}

	since, err := s.db.LastSyncAt(ctx)
	if err != nil {
		return nil, err
	}

	collectedAt := time.Now()
	changes, err := s.collectChanges(ctx, since)
	if err != nil {
		return nil, err
	}

	if len(changes) == 0 {
		if err := s.db.SetLastSyncAt(ctx, collectedAt); err != nil {
			return nil, err
		}
		s.logger.Debug("nothing to push", zap.Time("sync_time", collectedAt))
		return &model.SyncResult{Success: true, Pushed: 0}, nil
	}

	resp, err := s.client.Push(ctx, changes)
	if err != nil {
		return nil, err
	}

	if err := s.db.SetLastSyncAt(ctx, resp.ServerTimestamp); err != nil {
		return nil, err
	}

	// Acknowledged tombstones can finally leave the local database.
	purged, err := s.db.PurgeTombstones(ctx, collectedAt)
	if err != nil {
		return nil, err
	}

	s.logger.Info("push completed",
		zap.Int("changes", len(changes)),
		zap.Int("acknowledged", resp.Acknowledged),
		zap.Int("tombstones_purged", purged),
		zap.Time("server_timestamp", resp.ServerTimestamp))

	return &model.SyncResult{Success: true, Pushed: len(changes)}, nil
}

// collectChanges gathers every entity changed since the last sync. A
// zero since means first push: the full local state goes up.
func (s *Syncer) collectChanges(ctx context.Context, since time.Time) ([]api.Change, error) {
	var changes []api.Change

	captures, err := s.db.GetCapturesForSync(ctx, since)
	if err != nil {
		return nil, err
	}
	for _, c := range captures {
		op := operationFor(c.CreatedAt, since)
		if c.IsTombstone() {
			op = "delete"
		}
		ch, err := makeChange(model.EntityCaptures, op, c.ID, c.UpdatedAt, c)
		if err != nil {
			return nil, err
		}
		changes = append(changes, ch)
	}

	tasks, err := s.db.GetTasksForSync(ctx, since)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		ch, err := makeChange(model.EntityTasks, operationFor(t.CreatedAt, since), t.ID, t.UpdatedAt, t)
		if err != nil {
			return nil, err
		}
		changes = append(changes, ch)
	}

	events, err := s.db.GetEventsForSync(ctx, since)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		ch, err := makeChange(model.EntityEvents, operationFor(e.CreatedAt, since), e.ID, e.UpdatedAt, e)
		if err != nil {
			return nil, err
		}
		changes = append(changes, ch)
	}

	notes, err := s.db.GetNotesForSync(ctx, since)
	if err != nil {
		return nil, err
	}
	for _, n := range notes {
		ch, err := makeChange(model.EntityNotes, operationFor(n.CreatedAt, since), n.ID, n.UpdatedAt, n)
		if err != nil {
			return nil, err
		}
		changes = append(changes, ch)
	}

	tags, err := s.db.GetTagsForSync(ctx, since)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		ch, err := makeChange(model.EntityTags, "create", t.ID, t.CreatedAt, t)
		if err != nil {
			return nil, err
		}
		changes = append(changes, ch)
	}

	folders, err := s.db.GetFoldersForSync(ctx, since)
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		ch, err := makeChange(model.EntityFolders, "create", f.ID, f.CreatedAt, f)
		if err != nil {
			return nil, err
		}
		changes = append(changes, ch)
	}

	return changes, nil
}

func operationFor(createdAt, since time.Time) string {
	if since.IsZero() || createdAt.After(since) {
		return "create"
	}
	return "update"
}

func makeChange(entity, op, id string, updatedAt time.Time, payload interface{}) (api.Change, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return api.Change{}, fmt.Errorf("failed to encode %s %s: %w", entity, id, err)
	}
	return api.Change{
		EntityType:      entity,
		Operation:       op,
		ClientID:        id,
		Data:            data,
		ClientUpdatedAt: updatedAt.UTC(),
	}, nil
}
