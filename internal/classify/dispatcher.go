package classify

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/flitapp/flit-sync/internal/api"
	"github.com/flitapp/flit-sync/internal/model"
	"github.com/flitapp/flit-sync/internal/queue"
	"github.com/flitapp/flit-sync/internal/store"
)

// Outcome reports what happened to one classify item.
type Outcome string

const (
	// OutcomeCompleted means the classification was applied locally.
	OutcomeCompleted Outcome = "completed"
	// OutcomeSkipped means the device was offline; the item keeps its
	// queue position and retry budget.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeRetried means a transient failure scheduled a backoff retry.
	OutcomeRetried Outcome = "retried"
	// OutcomeFailed means the item is terminally failed.
	OutcomeFailed Outcome = "failed"
)

// Dispatcher drains classify items from the sync queue: it calls the
// classifier and applies results to the store in one transaction, then
// enqueues a push so the classified capture reaches the remote service.
type Dispatcher struct {
	db         *store.DB
	queue      *queue.Queue
	classifier Classifier
	online     func() bool
	logger     *zap.Logger
}

// NewDispatcher wires a dispatcher. online reports current connectivity
// and is consulted per item, not per drain pass.
func NewDispatcher(db *store.DB, q *queue.Queue, c Classifier, online func() bool, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{db: db, queue: q, classifier: c, online: online, logger: logger}
}

// Enqueue adds a classify item for the capture, deduplicated against
// any still-pending one.
func (d *Dispatcher) Enqueue(ctx context.Context, captureID string) error {
	_, _, err := d.queue.Enqueue(ctx, captureID, model.OpClassify)
	return err
}

// ProcessItem handles one claimed classify item and settles its queue
// state. The caller has already marked the item processing.
func (d *Dispatcher) ProcessItem(ctx context.Context, item *model.QueueItem) (Outcome, error) {
	capture, err := d.db.GetCapture(ctx, item.TargetID)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted before classification ran; nothing left to do.
		if err := d.queue.MarkCompleted(ctx, item.ID); err != nil {
			return "", err
		}
		return OutcomeCompleted, nil
	}
	if err != nil {
		return "", err
	}
	if capture.Lifecycle != model.LifecycleActive {
		if err := d.queue.MarkCompleted(ctx, item.ID); err != nil {
			return "", err
		}
		return OutcomeCompleted, nil
	}

	if d.online != nil && !d.online() {
		// Offline is not a failure: no retry charged, position kept.
		if err := d.queue.ResetToPending(ctx, item.ID); err != nil {
			return "", err
		}
		d.logger.Debug("classification skipped offline",
			zap.String("capture_id", capture.ID))
		return OutcomeSkipped, nil
	}

	result, err := d.classifier.Classify(ctx, capture.OriginalText, capture.Source)
	if err != nil {
		return d.settleFailure(ctx, item, err)
	}

	if err := d.db.ApplyClassification(ctx, capture.ID, result); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if err := d.queue.MarkCompleted(ctx, item.ID); err != nil {
				return "", err
			}
			return OutcomeCompleted, nil
		}
		return "", err
	}

	if err := d.queue.MarkCompleted(ctx, item.ID); err != nil {
		return "", err
	}
	// The classified capture now has local changes to upload.
	if _, _, err := d.queue.Enqueue(ctx, capture.ID, model.OpPush); err != nil {
		return "", err
	}

	d.logger.Info("capture classified",
		zap.String("capture_id", capture.ID),
		zap.String("type", string(result.Type)),
		zap.String("confidence", string(result.Confidence)))
	return OutcomeCompleted, nil
}

func (d *Dispatcher) settleFailure(ctx context.Context, item *model.QueueItem, cause error) (Outcome, error) {
	if api.IsAuth(cause) {
		// The work is fine, the session is not. Hold the item until the
		// user signs in again.
		if err := d.queue.ResetToPending(ctx, item.ID); err != nil {
			return "", err
		}
		d.logger.Warn("classification needs re-authentication",
			zap.String("capture_id", item.TargetID), zap.Error(cause))
		return OutcomeSkipped, nil
	}

	if transientCause(cause) {
		terminal, err := d.queue.MarkFailed(ctx, item.ID, time.Now())
		if err != nil {
			return "", err
		}
		if terminal {
			d.logger.Warn("classification retries exhausted",
				zap.String("capture_id", item.TargetID), zap.Error(cause))
			return OutcomeFailed, d.enqueueUnclassifiedPush(ctx, item)
		}
		d.logger.Debug("classification will retry",
			zap.String("capture_id", item.TargetID),
			zap.Int("retry_count", item.RetryCount+1), zap.Error(cause))
		return OutcomeRetried, nil
	}

	if err := d.queue.MarkTerminallyFailed(ctx, item.ID); err != nil {
		return "", err
	}
	d.logger.Warn("classification failed permanently",
		zap.String("capture_id", item.TargetID), zap.Error(cause))
	return OutcomeFailed, d.enqueueUnclassifiedPush(ctx, item)
}

// enqueueUnclassifiedPush queues an upload for a capture whose
// classification gave up. The raw text is still the user's data and must
// reach the server even without a type.
func (d *Dispatcher) enqueueUnclassifiedPush(ctx context.Context, item *model.QueueItem) error {
	_, _, err := d.queue.Enqueue(ctx, item.TargetID, model.OpPush)
	return err
}

// transientCause reports whether the failure is worth a backoff retry.
// Classifier backends other than the remote service wrap raw transport
// errors instead of the typed API error, so plain net errors count too.
func transientCause(err error) bool {
	if api.Retryable(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
