package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OperationKind distinguishes the two kinds of deferred work the sync
// queue carries.
type OperationKind string

const (
	// OpClassify submits the capture's content to the classifier.
	OpClassify OperationKind = "classify"
	// OpPush sends local state to the remote service.
	OpPush OperationKind = "push"
)

// QueueStatus is the state of one queue item. An item is either pending,
// claimed by a running drain pass, completed, or terminally failed.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
)

// QueueItem is one unit of deferred work.
type QueueItem struct {
	ID             string        `json:"id"`
	TargetID       string        `json:"target_id"`
	Kind           OperationKind `json:"kind"`
	Status         QueueStatus   `json:"status"`
	RetryCount     int           `json:"retry_count"`
	NextEligibleAt *time.Time    `json:"next_eligible_at,omitempty"`
	EnqueuedAt     time.Time     `json:"enqueued_at"`
}

// NewQueueItem builds a pending queue item for the given target.
func NewQueueItem(targetID string, kind OperationKind) *QueueItem {
	return &QueueItem{
		ID:         uuid.NewString(),
		TargetID:   targetID,
		Kind:       kind,
		Status:     StatusPending,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Validate checks the queue item's field invariants.
func (q *QueueItem) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("id is required")
	}
	if q.TargetID == "" {
		return fmt.Errorf("target_id is required")
	}
	switch q.Kind {
	case OpClassify, OpPush:
	default:
		return fmt.Errorf("unknown operation kind %q", q.Kind)
	}
	switch q.Status {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("unknown queue status %q", q.Status)
	}
	if q.EnqueuedAt.IsZero() {
		return fmt.Errorf("enqueued_at is required")
	}
	return nil
}

// Backoff returns the delay before retry attempt n using capped
// exponential growth: min(2^n * base, max).
func Backoff(n int, base, max time.Duration) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
