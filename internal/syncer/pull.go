package syncer

import (
	"context"

	"go.uber.org/zap"

	"github.com/flitapp/flit-sync/internal/model"
	"github.com/flitapp/flit-sync/internal/store"
)

// Pull downloads remote changes since the stored cursor and applies them
// in one transaction. The server is authoritative for pulled data. The
// cursor advances only after the changeset commits, so a crash mid-apply
// re-pulls the same changes; applying them twice converges because each
// apply overwrites whole rows.
func (s *Syncer) Pull(ctx context.Context, userID string) (*model.SyncResult, error) {
	if userID == "" {
		return &model.SyncResult{Skipped: true, Message: "not signed in"}, nil
	}
	if _, err := s.guard.Ensure(ctx, userID); err != nil {
		return nil, err
	}
	// Unlike push, pull proceeds after a wipe: an empty cursor requests
	// the account's full remote state, which is exactly what the fresh
	// database needs.

	cursor, err := s.db.SyncCursor(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Pull(ctx, cursor)
	if err != nil {
		return nil, err
	}

	applied := make([]store.RemoteChange, 0, len(resp.Changes))
	for _, ch := range resp.Changes {
		applied = append(applied, store.RemoteChange{
			EntityType: ch.EntityType,
			Operation:  ch.Operation,
			ID:         ch.ServerID,
			Data:       ch.Data,
		})
	}
	if err := s.db.ApplyRemoteChanges(ctx, applied); err != nil {
		return nil, err
	}

	if resp.NextCursor != "" {
		if err := s.db.SetSyncCursor(ctx, resp.NextCursor); err != nil {
			return nil, err
		}
	}

	s.logger.Info("pull completed",
		zap.Int("changes", len(applied)),
		zap.String("next_cursor", resp.NextCursor))

	return &model.SyncResult{Success: true, Pulled: len(applied)}, nil
}

// Sync runs a full cycle: push local changes, then pull remote ones.
func (s *Syncer) Sync(ctx context.Context, userID string) (*model.SyncResult, error) {
	pushRes, err := s.Push(ctx, userID)
	if err != nil {
		return nil, err
	}
	pullRes, err := s.Pull(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.SyncResult{
		Success: pullRes.Success,
		Skipped: pushRes.Skipped && pullRes.Skipped,
		Pushed:  pushRes.Pushed,
		Pulled:  pullRes.Pulled,
		Message: pushRes.Message,
	}, nil
}
