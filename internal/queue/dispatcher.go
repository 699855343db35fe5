package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vrsandeep/setlist-go/internal/config"
	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/store"
)

// Processor runs one queue item leased to workerID. *pipeline.Orchestrator
// implements it. An error wrapping store.ErrLeaseLost means the item now
// belongs to another worker and must be left alone.
type Processor interface {
	ProcessJob(ctx context.Context, videoID string, queueItemID int64, workerID string) error
}

type DispatcherOptions struct {
	Workers      int
	PollInterval time.Duration
	Heartbeat    time.Duration
	JobTimeout   time.Duration
}

func DispatcherOptionsFromConfig(cfg *config.Config) DispatcherOptions {
	q := cfg.Queue
	return DispatcherOptions{
		Workers:      q.Workers,
		PollInterval: time.Duration(q.PollIntervalSeconds) * time.Second,
		Heartbeat:    time.Duration(q.HeartbeatSeconds) * time.Second,
		JobTimeout:   time.Duration(q.JobTimeoutMinutes) * time.Minute,
	}
}

// Dispatcher runs a pool of workers that claim eligible items and hand them
// to the Processor.
type Dispatcher struct {
	queue *Queue
	proc  Processor
	opts  DispatcherOptions

	mu     sync.Mutex
	paused bool
	wg     sync.WaitGroup
}

func NewDispatcher(q *Queue, proc Processor, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	return &Dispatcher{queue: q, proc: proc, opts: opts}
}

// Start launches the workers. They stop when ctx is cancelled; Wait blocks
// until they have.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.opts.Workers; i++ {
		workerID := uuid.NewString()
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.worker(ctx, workerID)
		}()
	}
	log.WithField("workers", d.opts.Workers).Info("queue dispatcher started")
}

func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) worker(ctx context.Context, workerID string) {
	logger := log.WithField("worker", workerID)
	logger.Debug("queue worker started")
	timer := time.NewTimer(d.opts.PollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			logger.Debug("queue worker stopped")
			return
		}
		if !d.IsPaused() {
			worked, err := d.RunOnce(ctx, workerID)
			if err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("claiming queue item failed")
			}
			if worked {
				continue
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d.opts.PollInterval)
		select {
		case <-ctx.Done():
		case <-d.queue.notifier.Wake():
		case <-timer.C:
		}
	}
}

// RunOnce claims and processes at most one item under workerID. It reports
// whether an item was claimed. Processing errors are handled here; only
// claim errors are returned.
func (d *Dispatcher) RunOnce(ctx context.Context, workerID string) (bool, error) {
	item, err := d.queue.st.ClaimNextQueueItem(ctx, workerID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	d.execute(ctx, workerID, item)
	return true, nil
}

func (d *Dispatcher) execute(ctx context.Context, workerID string, item *models.QueueItem) {
	logger := log.WithFields(log.Fields{"worker": workerID, "video_id": item.VideoID, "queue_item_id": item.ID})
	logger.WithField("attempt", item.NAttempts+1).Info("processing queue item")

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if d.opts.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, d.opts.JobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	stopHeartbeat := d.heartbeat(jobCtx, cancel, workerID, item.ID, logger)
	err := d.process(jobCtx, workerID, item)
	stopHeartbeat()

	if err == nil {
		logger.Info("queue item done")
		return
	}
	if errors.Is(err, store.ErrLeaseLost) {
		logger.WithError(err).Warn("queue item lease lost, retry left to its current holder")
		return
	}
	logger.WithError(err).Warn("queue item failed")
	if _, rerr := d.queue.AfterFailure(context.WithoutCancel(ctx), item.ID); rerr != nil {
		logger.WithError(rerr).Error("could not schedule retry")
	}
}

// process calls the Processor and turns a panic into a failed attempt.
func (d *Dispatcher) process(ctx context.Context, workerID string, item *models.QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panicked: %v", r)
			terr := d.queue.st.TransitionLeasedQueueStatus(context.WithoutCancel(ctx), item.ID, workerID, models.StatusFailed, err.Error())
			if errors.Is(terr, store.ErrLeaseLost) {
				err = errors.Join(err, terr)
			} else if terr != nil {
				log.WithError(terr).WithField("queue_item_id", item.ID).Error("could not mark panicked item failed")
			}
		}
	}()
	return d.proc.ProcessJob(ctx, item.VideoID, item.ID, workerID)
}

// heartbeat extends the item's lease until the returned stop func is
// called. Losing the lease cancels the job.
func (d *Dispatcher) heartbeat(ctx context.Context, cancel context.CancelFunc, workerID string, itemID int64, logger *log.Entry) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(d.opts.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := d.queue.st.HeartbeatQueueItem(ctx, itemID, workerID)
				if errors.Is(err, store.ErrLeaseLost) {
					logger.Warn("lease lost, cancelling job")
					cancel()
					return
				}
				if err != nil {
					logger.WithError(err).Debug("heartbeat failed")
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// Pause stops workers from claiming new items. Running jobs finish.
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
	log.Info("queue dispatcher paused")
}

func (d *Dispatcher) Resume() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	log.Info("queue dispatcher resumed")
	d.queue.wake(context.Background())
}

func (d *Dispatcher) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}
