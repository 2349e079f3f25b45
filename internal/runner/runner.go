// Package runner drives queue draining in the background.
//
// One goroutine owns the drain loop. Wake-ups come from a ticker and
// from TriggerProcessing, which coalesces through a single-slot channel:
// any number of triggers during a running pass collapse into exactly one
// follow-up pass, so drains never overlap and never pile up.
package runner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flitapp/flit-sync/internal/api"
	"github.com/flitapp/flit-sync/internal/classify"
	"github.com/flitapp/flit-sync/internal/model"
	"github.com/flitapp/flit-sync/internal/queue"
	"github.com/flitapp/flit-sync/internal/store"
	"github.com/flitapp/flit-sync/internal/syncer"
)

// Config holds runner tunables.
type Config struct {
	// Interval between scheduled drain passes.
	Interval time.Duration
	// BatchSize caps how many items one pass claims.
	BatchSize int
	// TrashRetention is how long trashed captures wait before they are
	// tombstoned for deletion.
	TrashRetention time.Duration
	// CompletedRetention is how long completed queue items are kept.
	CompletedRetention time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:           time.Minute,
		BatchSize:          50,
		TrashRetention:     30 * 24 * time.Hour,
		CompletedRetention: queue.DefaultKeepComplete,
	}
}

// Runner drains the sync queue on a schedule and on demand.
type Runner struct {
	db         *store.DB
	queue      *queue.Queue
	dispatcher *classify.Dispatcher
	syncer     *syncer.Syncer
	online     func() bool
	userID     func() string
	cfg        Config
	logger     *zap.Logger

	trigger chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool

	lastPull time.Time
	onSync   func(op string, result *model.SyncResult)
}

// New wires a runner. userID reports the signed-in account, "" when
// signed out; online reports connectivity.
func New(db *store.DB, q *queue.Queue, d *classify.Dispatcher, s *syncer.Syncer,
	online func() bool, userID func() string, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Runner{
		db:         db,
		queue:      q,
		dispatcher: d,
		syncer:     s,
		online:     online,
		userID:     userID,
		cfg:        cfg,
		logger:     logger,
		trigger:    make(chan struct{}, 1),
	}
}

// Start launches the drain loop. Items stranded in processing by a
// previous crash return to pending first.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	reset, err := r.queue.ResetStuckProcessing(ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		r.logger.Info("recovered stuck queue items", zap.Int("count", reset))
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.started = true

	r.wg.Add(1)
	go r.loop(loopCtx)
	return nil
}

// Stop halts the drain loop and waits for an in-flight pass to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.started = false
	r.mu.Unlock()
	r.wg.Wait()
}

// SetSyncListener installs a callback invoked after each completed push
// or pull. The events feed uses this to broadcast sync activity.
func (r *Runner) SetSyncListener(fn func(op string, result *model.SyncResult)) {
	r.mu.Lock()
	r.onSync = fn
	r.mu.Unlock()
}

func (r *Runner) notifySync(op string, result *model.SyncResult) {
	r.mu.Lock()
	fn := r.onSync
	r.mu.Unlock()
	if fn != nil {
		fn(op, result)
	}
}

// TriggerProcessing requests a drain pass. Non-blocking; triggers during
// a running pass coalesce into one follow-up.
func (r *Runner) TriggerProcessing() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.DrainOnce(ctx)
		case <-r.trigger:
			r.DrainOnce(ctx)
		}
	}
}

// DrainOnce runs one pass: maintenance, the eligible queue items in
// FIFO order, then an interval-gated pull. Connectivity is re-checked
// per item, so going offline mid-pass skips the remainder instead of
// failing it.
func (r *Runner) DrainOnce(ctx context.Context) {
	r.maintain(ctx)

	batch, err := r.queue.NextBatch(ctx, time.Now(), r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("failed to read queue batch", zap.Error(err))
		return
	}

	var pushItems []*model.QueueItem
	for _, item := range batch {
		if ctx.Err() != nil {
			return
		}
		if err := r.queue.MarkProcessing(ctx, item.ID); err != nil {
			r.logger.Error("failed to claim item",
				zap.String("item_id", item.ID), zap.Error(err))
			continue
		}

		switch item.Kind {
		case model.OpClassify:
			if _, err := r.dispatcher.ProcessItem(ctx, item); err != nil {
				r.logger.Error("classify item errored",
					zap.String("item_id", item.ID), zap.Error(err))
			}
		case model.OpPush:
			// Push is whole-state; one call serves every push item.
			pushItems = append(pushItems, item)
		}
	}

	if len(pushItems) > 0 {
		r.settlePush(ctx, pushItems)
	}

	r.maybePull(ctx)
}

// maybePull downloads remote changes at most once per interval. Pull has
// no queue items of its own; remote changes arrive on the schedule, not
// per capture.
func (r *Runner) maybePull(ctx context.Context) {
	if r.online != nil && !r.online() {
		return
	}
	uid := r.userID()
	if uid == "" {
		return
	}

	r.mu.Lock()
	due := time.Since(r.lastPull) >= r.cfg.Interval
	r.mu.Unlock()
	if !due {
		return
	}

	result, err := r.syncer.Pull(ctx, uid)
	if err != nil {
		r.logger.Warn("pull failed", zap.Error(err))
		return
	}

	r.mu.Lock()
	r.lastPull = time.Now()
	r.mu.Unlock()

	if result.Pulled > 0 {
		r.logger.Info("pulled remote changes", zap.Int("count", result.Pulled))
	}
	r.notifySync("pull", result)
}

func (r *Runner) settlePush(ctx context.Context, items []*model.QueueItem) {
	if r.online != nil && !r.online() {
		r.resetAll(ctx, items)
		return
	}

	result, err := r.syncer.Push(ctx, r.userID())
	if err != nil {
		if api.IsAuth(err) {
			// Expired or revoked token. The work is still good; hold it
			// until the user signs in again.
			r.logger.Warn("push needs re-authentication", zap.Error(err))
			r.resetAll(ctx, items)
			return
		}
		r.failAll(ctx, items, err)
		return
	}
	if result.Skipped {
		// Signed out or freshly wiped; keep the work for later.
		r.resetAll(ctx, items)
		return
	}

	for _, item := range items {
		if err := r.queue.MarkCompleted(ctx, item.ID); err != nil {
			r.logger.Error("failed to complete push item",
				zap.String("item_id", item.ID), zap.Error(err))
		}
	}
	r.notifySync("push", result)
}

func (r *Runner) resetAll(ctx context.Context, items []*model.QueueItem) {
	for _, item := range items {
		if err := r.queue.ResetToPending(ctx, item.ID); err != nil {
			r.logger.Error("failed to release item",
				zap.String("item_id", item.ID), zap.Error(err))
		}
	}
}

func (r *Runner) failAll(ctx context.Context, items []*model.QueueItem, cause error) {
	retryable := apiRetryable(cause)
	for _, item := range items {
		if retryable {
			if _, err := r.queue.MarkFailed(ctx, item.ID, time.Now()); err != nil {
				r.logger.Error("failed to schedule retry",
					zap.String("item_id", item.ID), zap.Error(err))
			}
		} else {
			if err := r.queue.MarkTerminallyFailed(ctx, item.ID); err != nil {
				r.logger.Error("failed to fail item",
					zap.String("item_id", item.ID), zap.Error(err))
			}
		}
	}
	r.logger.Warn("push failed", zap.Bool("retryable", retryable), zap.Error(cause))
}

func (r *Runner) maintain(ctx context.Context) {
	if r.cfg.TrashRetention > 0 {
		if n, err := r.db.PurgeTrashed(ctx, r.cfg.TrashRetention); err != nil {
			r.logger.Error("trash purge failed", zap.Error(err))
		} else if n > 0 {
			r.logger.Info("purged expired trash", zap.Int("count", n))
		}
	}
	if r.cfg.CompletedRetention > 0 {
		if _, err := r.queue.PurgeCompleted(ctx, r.cfg.CompletedRetention); err != nil {
			r.logger.Error("completed purge failed", zap.Error(err))
		}
	}
}
