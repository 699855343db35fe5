package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/store"
)

// processorFunc lets a test script what a processing run does to the item.
type processorFunc func(ctx context.Context, videoID string, id int64, workerID string) error

func (f processorFunc) ProcessJob(ctx context.Context, videoID string, id int64, workerID string) error {
	return f(ctx, videoID, id, workerID)
}

type recorder struct {
	mu     sync.Mutex
	videos []string
}

func (r *recorder) add(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videos = append(r.videos, v)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.videos...)
}

// completing marks every item done, the way a successful run does.
func completing(st *store.Store, rec *recorder) Processor {
	return processorFunc(func(ctx context.Context, videoID string, id int64, workerID string) error {
		rec.add(videoID)
		return st.TransitionLeasedQueueStatus(ctx, id, workerID, models.StatusDone, "")
	})
}

func TestRunOnce_EmptyQueue(t *testing.T) {
	q, st, _ := newTestQueue(t, DefaultOptions())
	d := NewDispatcher(q, completing(st, &recorder{}), DispatcherOptions{})

	worked, err := d.RunOnce(context.Background(), "w1")
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestRunOnce_PriorityOrder(t *testing.T) {
	q, st, _ := newTestQueue(t, DefaultOptions())
	ctx := context.Background()
	_, _ = st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "sys00000001", Priority: models.PrioritySystem})
	_, _ = st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "usr00000001", Priority: models.PriorityUser})

	rec := &recorder{}
	d := NewDispatcher(q, completing(st, rec), DispatcherOptions{})
	for i := 0; i < 2; i++ {
		worked, err := d.RunOnce(ctx, "w1")
		require.NoError(t, err)
		assert.True(t, worked)
	}
	assert.Equal(t, []string{"usr00000001", "sys00000001"}, rec.list())

	stats, err := st.CountQueueItemsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Done)
}

func TestRunOnce_FailureSchedulesRetry(t *testing.T) {
	q, st, _ := newTestQueue(t, DefaultOptions())
	ctx := context.Background()
	item, _ := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "aaaaaaaaaaa"})

	proc := processorFunc(func(ctx context.Context, videoID string, id int64, workerID string) error {
		err := errors.New("connection reset")
		require.NoError(t, st.TransitionLeasedQueueStatus(ctx, id, workerID, models.StatusFailed, err.Error()))
		return err
	})
	d := NewDispatcher(q, proc, DispatcherOptions{})

	worked, err := d.RunOnce(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, worked)

	got, _ := st.GetQueueItem(ctx, item.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.NAttempts)
	assert.Equal(t, "connection reset", got.ErrorMessage)
	assert.True(t, got.NextAttemptAt.After(epoch))

	worked, err = d.RunOnce(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, worked, "item is in backoff")
}

func TestRunOnce_PanicCountsAsFailure(t *testing.T) {
	q, st, _ := newTestQueue(t, DefaultOptions())
	ctx := context.Background()
	item, _ := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "aaaaaaaaaaa"})

	d := NewDispatcher(q, processorFunc(func(ctx context.Context, videoID string, id int64, workerID string) error {
		panic("nil map")
	}), DispatcherOptions{})

	worked, err := d.RunOnce(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, worked)

	got, _ := st.GetQueueItem(ctx, item.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.NAttempts)
	assert.Contains(t, got.ErrorMessage, "panicked")
}

func TestRunOnce_LeaseLostLeavesItemToNewHolder(t *testing.T) {
	q, st, now := newTestQueue(t, DefaultOptions())
	ctx := context.Background()
	item, _ := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "aaaaaaaaaaa"})

	proc := processorFunc(func(ctx context.Context, videoID string, id int64, workerID string) error {
		// The run stalls long enough for the sweep to hand the item to w2.
		*now = now.Add(10 * time.Minute)
		_, err := q.RecoverStalled(ctx)
		require.NoError(t, err)
		*now = now.Add(time.Hour)
		claimed, err := st.ClaimNextQueueItem(ctx, "w2")
		require.NoError(t, err)
		require.Equal(t, id, claimed.ID)

		return st.TransitionLeasedQueueStatus(ctx, id, workerID, models.StatusFailed, "late failure")
	})
	d := NewDispatcher(q, proc, DispatcherOptions{})

	worked, err := d.RunOnce(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, worked)

	got, _ := st.GetQueueItem(ctx, item.ID)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Equal(t, "w2", got.LockedBy)
	assert.Equal(t, 1, got.NAttempts, "only the sweep counted an attempt")
	assert.Equal(t, stalledMessage, got.ErrorMessage)
}

func TestRunOnce_PanicAfterLeaseLost(t *testing.T) {
	q, st, _ := newTestQueue(t, DefaultOptions())
	ctx := context.Background()
	item, _ := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "aaaaaaaaaaa"})

	d := NewDispatcher(q, processorFunc(func(ctx context.Context, videoID string, id int64, workerID string) error {
		require.NoError(t, st.TransitionQueueStatus(ctx, id, models.StatusFailed, "stalled"))
		require.NoError(t, st.ScheduleRetry(ctx, id, epoch))
		_, err := st.ClaimNextQueueItem(ctx, "w2")
		require.NoError(t, err)
		panic("nil map")
	}), DispatcherOptions{})

	worked, err := d.RunOnce(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, worked)

	got, _ := st.GetQueueItem(ctx, item.ID)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Equal(t, "w2", got.LockedBy)
	assert.Equal(t, 1, got.NAttempts)
}

func TestRunOnce_JobTimeout(t *testing.T) {
	q, st, _ := newTestQueue(t, DefaultOptions())
	ctx := context.Background()
	_, _ = st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "aaaaaaaaaaa"})

	var sawDeadline bool
	d := NewDispatcher(q, processorFunc(func(ctx context.Context, videoID string, id int64, workerID string) error {
		_, sawDeadline = ctx.Deadline()
		<-ctx.Done()
		return ctx.Err()
	}), DispatcherOptions{JobTimeout: 20 * time.Millisecond})

	worked, err := d.RunOnce(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, worked)
	assert.True(t, sawDeadline)
}

func TestDispatcher_PauseResume(t *testing.T) {
	q, st, _ := newTestQueue(t, DefaultOptions())
	rec := &recorder{}
	d := NewDispatcher(q, completing(st, rec), DispatcherOptions{Workers: 2, PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		d.Wait()
	}()

	d.Pause()
	assert.True(t, d.IsPaused())
	d.Start(ctx)

	item, err := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "aaaaaaaaaaa"})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, item.VideoID, item.ID, models.PriorityUser))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.list(), "paused dispatcher claims nothing")

	d.Resume()
	assert.Eventually(t, func() bool {
		got, err := st.GetQueueItem(context.Background(), item.ID)
		return err == nil && got.Status == models.StatusDone
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"aaaaaaaaaaa"}, rec.list())
}
