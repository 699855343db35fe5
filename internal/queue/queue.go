// Package queue delivers queue items to the processing pipeline: priority
// claiming, bounded retry with backoff, stalled job recovery and the
// submission boundary used by the API, the CLI and the channel watcher.
package queue

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vrsandeep/setlist-go/internal/config"
	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/store"
)

const stalledMessage = "stalled: worker heartbeat lost"

type Options struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	StallTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:  3,
		BackoffBase:  2 * time.Second,
		BackoffMax:   10 * time.Minute,
		StallTimeout: 2 * time.Minute,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	q := cfg.Queue
	if q.MaxAttempts > 0 {
		opts.MaxAttempts = q.MaxAttempts
	}
	if q.BackoffBaseMs > 0 {
		opts.BackoffBase = time.Duration(q.BackoffBaseMs) * time.Millisecond
	}
	if q.BackoffMaxSeconds > 0 {
		opts.BackoffMax = time.Duration(q.BackoffMaxSeconds) * time.Second
	}
	if q.StallTimeoutSeconds > 0 {
		opts.StallTimeout = time.Duration(q.StallTimeoutSeconds) * time.Second
	}
	return opts
}

// Queue is the durable work queue. Items live in the queue_items table; the
// Queue decides when they become eligible again and wakes workers.
type Queue struct {
	st       *store.Store
	notifier Notifier
	opts     Options
	now      func() time.Time
}

func New(st *store.Store, notifier Notifier, opts Options) *Queue {
	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	return &Queue{st: st, notifier: notifier, opts: opts, now: time.Now}
}

func (q *Queue) Store() *store.Store { return q.st }

func (q *Queue) Notifier() Notifier { return q.notifier }

// Enqueue makes a pending item eligible now at the given priority and wakes
// a worker. An item a worker has already claimed or finished counts as
// delivered.
func (q *Queue) Enqueue(ctx context.Context, videoID string, queueItemID int64, priority int) error {
	err := q.st.SetQueuePriority(ctx, queueItemID, priority)
	if errors.Is(err, store.ErrInvalidTransition) {
		item, gerr := q.st.GetQueueItem(ctx, queueItemID)
		if gerr == nil && (item.Status == models.StatusProcessing || item.Status == models.StatusDone) {
			log.WithFields(log.Fields{"video_id": videoID, "queue_item_id": queueItemID, "status": item.Status}).Debug("already picked up")
			return nil
		}
	}
	if err != nil {
		return err
	}
	q.wake(ctx)
	log.WithFields(log.Fields{"video_id": videoID, "queue_item_id": queueItemID, "priority": priority}).Debug("enqueued")
	return nil
}

func (q *Queue) wake(ctx context.Context) {
	if err := q.notifier.Notify(ctx); err != nil {
		log.WithError(err).Warn("queue wake-up failed, workers will poll")
	}
}

// Backoff returns the delay before attempt n+1 after n failed attempts:
// base·2^(n-1), capped at BackoffMax.
func (q *Queue) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := q.opts.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if q.opts.BackoffMax > 0 && d >= q.opts.BackoffMax {
			return q.opts.BackoffMax
		}
	}
	if q.opts.BackoffMax > 0 && d > q.opts.BackoffMax {
		return q.opts.BackoffMax
	}
	return d
}

// AfterFailure schedules the next attempt of a failed item, or leaves it
// terminal when it is out of attempts. It reports whether a retry was
// scheduled.
func (q *Queue) AfterFailure(ctx context.Context, queueItemID int64) (bool, error) {
	item, err := q.st.GetQueueItem(ctx, queueItemID)
	if err != nil {
		return false, err
	}
	return q.scheduleRetry(ctx, item)
}

func (q *Queue) scheduleRetry(ctx context.Context, item *models.QueueItem) (bool, error) {
	logger := log.WithFields(log.Fields{"video_id": item.VideoID, "queue_item_id": item.ID, "attempts": item.NAttempts})
	if item.Status != models.StatusFailed {
		return false, nil
	}
	if item.NAttempts >= item.MaxAttempts {
		logger.Warn("queue item out of attempts, left for operator")
		return false, nil
	}
	delay := q.Backoff(item.NAttempts)
	if err := q.st.ScheduleRetry(ctx, item.ID, q.now().Add(delay)); err != nil {
		// Someone else already moved it on.
		if errors.Is(err, store.ErrInvalidTransition) {
			return false, nil
		}
		return false, err
	}
	logger.WithField("delay", delay).Info("retry scheduled")
	return true, nil
}

// RecoverReport summarizes a RecoverStalled pass.
type RecoverReport struct {
	Stalled  int64 `json:"stalled"`
	Requeued int   `json:"requeued"`
}

// RecoverStalled fails processing items whose worker stopped heartbeating
// and re-queues every failed item that still has attempts left. It is safe
// to run at any time, including at startup.
func (q *Queue) RecoverStalled(ctx context.Context) (*RecoverReport, error) {
	report := &RecoverReport{}
	n, err := q.st.FailStalledQueueItems(ctx, q.now().Add(-q.opts.StallTimeout), stalledMessage)
	if err != nil {
		return nil, err
	}
	report.Stalled = n
	if n > 0 {
		log.WithField("count", n).Warn("failed stalled queue items")
	}

	items, err := q.st.ListRetryableFailed(ctx)
	if err != nil {
		return report, err
	}
	for _, item := range items {
		ok, err := q.scheduleRetry(ctx, item)
		if err != nil {
			log.WithError(err).WithField("queue_item_id", item.ID).Error("could not requeue failed item")
			continue
		}
		if ok {
			report.Requeued++
		}
	}
	return report, nil
}

// RetryTerminal is the operator override for a failed item: attempts are
// reset and it is dispatched again as soon as possible.
func (q *Queue) RetryTerminal(ctx context.Context, queueItemID int64) (*models.QueueItem, error) {
	item, err := q.st.RetryTerminalQueueItem(ctx, queueItemID)
	if err != nil {
		return nil, err
	}
	q.wake(ctx)
	log.WithFields(log.Fields{"video_id": item.VideoID, "queue_item_id": item.ID}).Info("queue item retried by operator")
	return item, nil
}
