package jobs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/setlist-go/internal/jobs"
	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/queue"
	"github.com/vrsandeep/setlist-go/internal/store"
	"github.com/vrsandeep/setlist-go/internal/testutil"
	"github.com/vrsandeep/setlist-go/internal/watcher"
)

type staticLister map[string][]models.Upload

func (l staticLister) ListChannelUploads(ctx context.Context, channelID string, max int) ([]models.Upload, error) {
	return l[channelID], nil
}

type staticMetadata struct{}

func (staticMetadata) GetVideoInfo(ctx context.Context, videoID string) (*models.VideoInfo, error) {
	return &models.VideoInfo{VideoID: videoID, Duration: 3600}, nil
}

// setupJobContext wires a real queue and watcher over an in-memory catalog.
func setupJobContext(t *testing.T, lister staticLister) (*fakeJobContext, *store.Store) {
	t.Helper()
	ctx := newFakeContext()
	st := store.New(testutil.SetupTestDB(t))
	ctx.q = queue.New(st, nil, queue.DefaultOptions())
	submitter := queue.NewSubmitter(ctx.q, staticMetadata{}, queue.Limits{})
	ctx.w = watcher.NewService(st, lister, submitter, watcher.Options{})
	ctx.cfg.Temp.Dir = t.TempDir()
	return ctx, st
}

func TestRegisterAll(t *testing.T) {
	mgr := newFakeContext().jobMgr
	jobs.RegisterAll(mgr)
	var ids []string
	for _, s := range mgr.GetStatus() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{jobs.ChannelCheckJobID, jobs.QueueSweepJobID, jobs.TempCleanupJobID}, ids)
}

func TestRunChannelCheck(t *testing.T) {
	app, st := setupJobContext(t, staticLister{"UCone": {{VideoID: "aaaaaaaaaaa"}, {VideoID: "bbbbbbbbbbb"}}})
	_, err := st.UpsertChannel(context.Background(), "UCone", "One", "")
	require.NoError(t, err)

	msg, err := jobs.RunChannelCheck(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, "Checked 1 channels, queued 2 new uploads, 0 failures.", msg)

	stats, err := st.CountQueueItemsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
}

func TestRunQueueSweep(t *testing.T) {
	app, st := setupJobContext(t, nil)
	ctx := context.Background()
	item, err := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "aaaaaaaaaaa"})
	require.NoError(t, err)
	require.NoError(t, st.TransitionQueueStatus(ctx, item.ID, models.StatusProcessing, ""))
	require.NoError(t, st.TransitionQueueStatus(ctx, item.ID, models.StatusFailed, "worker crashed"))

	msg, err := jobs.RunQueueSweep(ctx, app)
	require.NoError(t, err)
	assert.Equal(t, "Failed 0 stalled items, re-queued 1.", msg)

	got, err := st.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestRunTempCleanup(t *testing.T) {
	app, _ := setupJobContext(t, nil)
	app.cfg.Cleanup.MaxAgeHours = 1
	dir := app.cfg.Temp.Dir

	stale := filepath.Join(dir, "aaaaaaaaaaa.mp3")
	fresh := filepath.Join(dir, "bbbbbbbbbbb_segment_0.mp3")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	msg, err := jobs.RunTempCleanup(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, "Removed 1 stale temporary files.", msg)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestRunJobThroughManager(t *testing.T) {
	app, _ := setupJobContext(t, nil)
	jobs.RegisterAll(app.jobMgr)

	require.NoError(t, app.jobMgr.RunJob(context.Background(), jobs.QueueSweepJobID, app))
	status := waitForStatus(t, app.jobMgr, jobs.QueueSweepJobID, "success")
	assert.Equal(t, "Failed 0 stalled items, re-queued 0.", status.Message)
}
