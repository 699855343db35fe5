package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/store"
	"github.com/vrsandeep/setlist-go/internal/testutil"
)

var epoch = time.UnixMilli(1_700_000_000_000)

// newTestQueue returns a queue and store that both read the time from *now.
func newTestQueue(t *testing.T, opts Options) (*Queue, *store.Store, *time.Time) {
	t.Helper()
	now := epoch
	clock := func() time.Time { return now }
	st := store.New(testutil.SetupTestDB(t)).WithClock(clock)
	q := New(st, NewLocalNotifier(), opts)
	q.now = clock
	return q, st, &now
}

func failItem(t *testing.T, st *store.Store, id int64, msg string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.TransitionQueueStatus(ctx, id, models.StatusProcessing, ""))
	require.NoError(t, st.TransitionQueueStatus(ctx, id, models.StatusFailed, msg))
}

func drained(n Notifier) bool {
	select {
	case <-n.Wake():
		return true
	default:
		return false
	}
}

func TestBackoff(t *testing.T) {
	q := New(nil, nil, Options{BackoffBase: 2 * time.Second, BackoffMax: 10 * time.Second})
	testCases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{30, 10 * time.Second},
	}
	for _, tc := range testCases {
		if got := q.Backoff(tc.attempts); got != tc.want {
			t.Errorf("Backoff(%d) = %s, want %s", tc.attempts, got, tc.want)
		}
	}
}

func TestEnqueue(t *testing.T) {
	q, st, _ := newTestQueue(t, DefaultOptions())
	ctx := context.Background()
	item, err := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "aaaaaaaaaaa"})
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, item.VideoID, item.ID, models.PriorityUser))

	got, err := st.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityUser, got.Priority)
	assert.True(t, drained(q.Notifier()), "enqueue wakes a worker")
}

func TestEnqueue_AlreadyClaimed(t *testing.T) {
	q, st, _ := newTestQueue(t, DefaultOptions())
	ctx := context.Background()
	item, err := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "aaaaaaaaaaa"})
	require.NoError(t, err)
	_, err = st.ClaimNextQueueItem(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, item.VideoID, item.ID, models.PriorityUser))

	got, err := st.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Equal(t, "w1", got.LockedBy)

	failItem(t, st, item.ID, "boom")
	assert.ErrorIs(t, q.Enqueue(ctx, item.VideoID, item.ID, models.PriorityUser), store.ErrInvalidTransition, "failed items go through a retry")
}

func TestAfterFailure(t *testing.T) {
	q, st, _ := newTestQueue(t, DefaultOptions())
	ctx := context.Background()
	item, _ := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "aaaaaaaaaaa"})
	failItem(t, st, item.ID, "download: 403")

	retried, err := q.AfterFailure(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, retried)

	got, _ := st.GetQueueItem(ctx, item.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.NAttempts)
	assert.True(t, got.NextAttemptAt.Equal(epoch.Add(2*time.Second)), "next attempt at %s", got.NextAttemptAt)

	// Second failure doubles the delay.
	failItem(t, st, item.ID, "download: 403")
	_, err = q.AfterFailure(ctx, item.ID)
	require.NoError(t, err)
	got, _ = st.GetQueueItem(ctx, item.ID)
	assert.True(t, got.NextAttemptAt.Equal(epoch.Add(4*time.Second)))
}

func TestAfterFailure_Exhausted(t *testing.T) {
	q, st, _ := newTestQueue(t, DefaultOptions())
	ctx := context.Background()
	item, _ := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "aaaaaaaaaaa", MaxAttempts: 1})
	failItem(t, st, item.ID, "boom")

	retried, err := q.AfterFailure(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, retried)

	got, _ := st.GetQueueItem(ctx, item.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.True(t, got.Terminal())

	// The video may be submitted again once its item is terminal.
	_, err = st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "aaaaaaaaaaa"})
	assert.NoError(t, err)
}

func TestAfterFailure_IgnoresDoneItem(t *testing.T) {
	q, st, _ := newTestQueue(t, DefaultOptions())
	ctx := context.Background()
	item, _ := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "aaaaaaaaaaa"})
	require.NoError(t, st.TransitionQueueStatus(ctx, item.ID, models.StatusProcessing, ""))
	require.NoError(t, st.TransitionQueueStatus(ctx, item.ID, models.StatusDone, ""))

	retried, err := q.AfterFailure(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, retried)
}

func TestRecoverStalled(t *testing.T) {
	opts := DefaultOptions()
	opts.StallTimeout = 2 * time.Minute
	q, st, now := newTestQueue(t, opts)
	ctx := context.Background()

	stalled, _ := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "aaaaaaaaaaa"})
	_, err := st.ClaimNextQueueItem(ctx, "dead-worker")
	require.NoError(t, err)

	orphan, _ := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "bbbbbbbbbbb"})
	failItem(t, st, orphan.ID, "crashed before retry")

	*now = now.Add(5 * time.Minute)
	fresh, _ := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "ccccccccccc"})
	_, err = st.ClaimNextQueueItem(ctx, "live-worker")
	require.NoError(t, err)

	report, err := q.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Stalled)
	assert.Equal(t, 2, report.Requeued)

	got, _ := st.GetQueueItem(ctx, stalled.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.NAttempts)
	assert.Equal(t, stalledMessage, got.ErrorMessage)

	got, _ = st.GetQueueItem(ctx, orphan.ID)
	assert.Equal(t, models.StatusPending, got.Status)

	got, _ = st.GetQueueItem(ctx, fresh.ID)
	assert.Equal(t, models.StatusProcessing, got.Status, "a live lease is left alone")
}

func TestRetryTerminal(t *testing.T) {
	q, st, _ := newTestQueue(t, DefaultOptions())
	ctx := context.Background()
	item, _ := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "aaaaaaaaaaa", MaxAttempts: 1})
	failItem(t, st, item.ID, "boom")

	got, err := q.RetryTerminal(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 0, got.NAttempts)
	assert.Empty(t, got.ErrorMessage)
	assert.True(t, drained(q.Notifier()))

	_, err = q.RetryTerminal(ctx, item.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition, "only failed items can be retried")
}
