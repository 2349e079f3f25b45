// Package queue implements the durable sync queue.
//
// The queue shares the capture store's SQLite database, so enqueueing
// survives restarts and crashes. Items are drained strictly in enqueue
// order; a failed item backs off with capped exponential delay and a
// skipped item (offline) stays pending with no retry cost.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flitapp/flit-sync/internal/model"
	"github.com/flitapp/flit-sync/internal/store"
)

// Defaults for retry behavior.
const (
	DefaultMaxRetries   = 5
	DefaultBaseDelay    = 5 * time.Second
	DefaultMaxDelay     = 5 * time.Minute
	DefaultKeepComplete = 24 * time.Hour
)

// ErrNotFound is returned when a queue item does not exist.
var ErrNotFound = errors.New("queue: item not found")

// Queue is the durable work queue backed by the capture store's database.
type Queue struct {
	conn *sql.DB

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// New builds a queue on top of the capture store's database.
func New(db *store.DB) *Queue {
	return &Queue{
		conn:       db.RawDB(),
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

// Enqueue adds a pending item for the target unless one already exists
// for the same target and kind. Returns the item and whether it was
// newly created; deduplication keeps retries from piling up work.
func (q *Queue) Enqueue(ctx context.Context, targetID string, kind model.OperationKind) (*model.QueueItem, bool, error) {
	existing, err := q.pendingFor(ctx, targetID, kind)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	item := model.NewQueueItem(targetID, kind)
	if err := item.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid queue item: %w", err)
	}

	_, err = q.conn.ExecContext(ctx, `
		INSERT INTO sync_queue (id, target_id, kind, status, retry_count, next_eligible_at, enqueued_at)
		VALUES (?, ?, ?, ?, 0, NULL, ?)`,
		item.ID, item.TargetID, string(item.Kind), string(item.Status),
		formatTime(item.EnqueuedAt))
	if err != nil {
		return nil, false, fmt.Errorf("failed to enqueue %s/%s: %w", kind, targetID, err)
	}
	return item, true, nil
}

func (q *Queue) pendingFor(ctx context.Context, targetID string, kind model.OperationKind) (*model.QueueItem, error) {
	row := q.conn.QueryRowContext(ctx, `
		SELECT id, target_id, kind, status, retry_count, next_eligible_at, enqueued_at
		FROM sync_queue
		WHERE target_id = ? AND kind = ? AND status IN (?, ?)
		LIMIT 1`,
		targetID, string(kind),
		string(model.StatusPending), string(model.StatusProcessing))
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

// Get retrieves one queue item by id.
func (q *Queue) Get(ctx context.Context, id string) (*model.QueueItem, error) {
	row := q.conn.QueryRowContext(ctx, `
		SELECT id, target_id, kind, status, retry_count, next_eligible_at, enqueued_at
		FROM sync_queue WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

// NextBatch returns pending items eligible to run at now, in strict
// enqueue order. Items still backing off are skipped.
func (q *Queue) NextBatch(ctx context.Context, now time.Time, limit int) ([]*model.QueueItem, error) {
	rows, err := q.conn.QueryContext(ctx, `
		SELECT id, target_id, kind, status, retry_count, next_eligible_at, enqueued_at
		FROM sync_queue
		WHERE status = ?
		  AND (next_eligible_at IS NULL OR next_eligible_at <= ?)
		ORDER BY enqueued_at ASC
		LIMIT ?`,
		string(model.StatusPending), formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue batch: %w", err)
	}
	defer rows.Close()

	var items []*model.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkProcessing claims an item for the current drain pass.
func (q *Queue) MarkProcessing(ctx context.Context, id string) error {
	return q.setStatus(ctx, id, model.StatusProcessing)
}

// MarkCompleted finishes an item. Completed items are kept briefly for
// inspection and removed by PurgeCompleted.
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	return q.setStatus(ctx, id, model.StatusCompleted)
}

// ResetToPending returns a claimed item to the queue without charging a
// retry. Used when a drain pass finds the device offline: skipping costs
// nothing and keeps the item's queue position.
func (q *Queue) ResetToPending(ctx context.Context, id string) error {
	return q.setStatus(ctx, id, model.StatusPending)
}

func (q *Queue) setStatus(ctx context.Context, id string, status model.QueueStatus) error {
	res, err := q.conn.ExecContext(ctx,
		`UPDATE sync_queue SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to mark item %s %s: %w", id, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a failed attempt. The item returns to pending with
// an exponential backoff delay, or becomes terminally failed once the
// retry budget is exhausted. Reports whether the item is terminal.
func (q *Queue) MarkFailed(ctx context.Context, id string, now time.Time) (bool, error) {
	item, err := q.Get(ctx, id)
	if err != nil {
		return false, err
	}

	retries := item.RetryCount + 1
	if retries >= q.MaxRetries {
		_, err := q.conn.ExecContext(ctx, `
			UPDATE sync_queue SET status = ?, retry_count = ? WHERE id = ?`,
			string(model.StatusFailed), retries, id)
		if err != nil {
			return false, fmt.Errorf("failed to mark item %s failed: %w", id, err)
		}
		return true, nil
	}

	delay := model.Backoff(retries, q.BaseDelay, q.MaxDelay)
	_, err = q.conn.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, retry_count = ?, next_eligible_at = ? WHERE id = ?`,
		string(model.StatusPending), retries,
		formatTime(now.Add(delay)), id)
	if err != nil {
		return false, fmt.Errorf("failed to schedule retry for %s: %w", id, err)
	}
	return false, nil
}

// MarkTerminallyFailed fails an item immediately, bypassing the retry
// budget. Used for permanent errors where retrying cannot help.
func (q *Queue) MarkTerminallyFailed(ctx context.Context, id string) error {
	return q.setStatus(ctx, id, model.StatusFailed)
}

// RetryFailed returns terminally failed items to pending with a fresh
// retry budget. Invoked from the CLI when the user asks to try again.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	res, err := q.conn.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = ?, retry_count = 0, next_eligible_at = NULL
		WHERE status = ?`,
		string(model.StatusPending), string(model.StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ResetStuckProcessing returns items left in processing by a crashed
// drain pass to pending. Called once at startup.
func (q *Queue) ResetStuckProcessing(ctx context.Context) (int, error) {
	res, err := q.conn.ExecContext(ctx, `
		UPDATE sync_queue SET status = ? WHERE status = ?`,
		string(model.StatusPending), string(model.StatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeCompleted removes completed items enqueued before the cutoff.
func (q *Queue) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	res, err := q.conn.ExecContext(ctx, `
		DELETE FROM sync_queue WHERE status = ? AND enqueued_at < ?`,
		string(model.StatusCompleted), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PendingCount returns how many items await processing, backoff
// included. This is the number surfaced as the pending-sync indicator.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := q.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_queue WHERE status IN (?, ?)`,
		string(model.StatusPending), string(model.StatusProcessing)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending items: %w", err)
	}
	return count, nil
}

// FailedCount returns how many items have exhausted their retries.
func (q *Queue) FailedCount(ctx context.Context) (int, error) {
	var count int
	err := q.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_queue WHERE status = ?`,
		string(model.StatusFailed)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed items: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*model.QueueItem, error) {
	var item model.QueueItem
	var nextEligible sql.NullString
	var enqueuedAt string
	err := row.Scan(&item.ID, &item.TargetID, (*string)(&item.Kind),
		(*string)(&item.Status), &item.RetryCount, &nextEligible, &enqueuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}
	if nextEligible.Valid {
		t, perr := time.Parse(time.RFC3339Nano, nextEligible.String)
		if perr == nil {
			item.NextEligibleAt = &t
		}
	}
	t, perr := time.Parse(time.RFC3339Nano, enqueuedAt)
	if perr != nil {
		return nil, fmt.Errorf("bad enqueued_at on item %s: %w", item.ID, perr)
	}
	item.EnqueuedAt = t
	return &item, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
