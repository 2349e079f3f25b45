// Package syncer moves local state to and from the remote capture
// service: push uploads local changes, pull applies remote ones, and the
// session guard keeps accounts from ever seeing each other's data.
package syncer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/flitapp/flit-sync/internal/store"
)

// Guard enforces account isolation. Sync state remembers which account
// it belongs to; when a different account shows up, everything local is
// wiped before any sync runs.
type Guard struct {
	db     *store.DB
	logger *zap.Logger
}

// NewGuard builds the session guard.
func NewGuard(db *store.DB, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{db: db, logger: logger}
}

// Ensure binds local sync state to userID, wiping all local data first
// if the state belongs to a different account. Reports whether a wipe
// happened. An empty userID is an error; sync must never run unowned.
func (g *Guard) Ensure(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("session guard requires a user id")
	}

	owner, err := g.db.LastSyncUserID(ctx)
	if err != nil {
		return false, err
	}

	if owner == userID {
		return false, nil
	}

	if owner == "" {
		// First sync on this device; claim the state.
		if err := g.db.SetLastSyncUserID(ctx, userID); err != nil {
			return false, err
		}
		return false, nil
	}

	g.logger.Warn("account switch detected, wiping local data",
		zap.String("previous_user", owner),
		zap.String("current_user", userID))

	// The wipe clears sync state too, so the cursor and last-sync
	// timestamp cannot leak across accounts.
	if err := g.db.WipeAll(ctx); err != nil {
		return false, fmt.Errorf("account-switch wipe failed: %w", err)
	}
	if err := g.db.SetLastSyncUserID(ctx, userID); err != nil {
		return true, err
	}
	return true, nil
}
