package watcher_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/queue"
	"github.com/vrsandeep/setlist-go/internal/store"
	"github.com/vrsandeep/setlist-go/internal/testutil"
	"github.com/vrsandeep/setlist-go/internal/watcher"
)

type fakeLister struct {
	uploads map[string][]models.Upload
	err     map[string]error
	calls   []string
}

func (f *fakeLister) ListChannelUploads(ctx context.Context, channelID string, max int) ([]models.Upload, error) {
	f.calls = append(f.calls, channelID)
	if err := f.err[channelID]; err != nil {
		return nil, err
	}
	uploads := f.uploads[channelID]
	if len(uploads) > max {
		uploads = uploads[:max]
	}
	return uploads, nil
}

type fakeMetadata struct{}

func (fakeMetadata) GetVideoInfo(ctx context.Context, videoID string) (*models.VideoInfo, error) {
	return &models.VideoInfo{VideoID: videoID, Title: "Set " + videoID, Duration: 3600}, nil
}

func uploads(ids ...string) []models.Upload {
	out := make([]models.Upload, len(ids))
	for i, id := range ids {
		out[i] = models.Upload{VideoID: id}
	}
	return out
}

func setup(t *testing.T, lister *fakeLister) (*watcher.Service, *store.Store) {
	t.Helper()
	st := store.New(testutil.SetupTestDB(t))
	q := queue.New(st, nil, queue.DefaultOptions())
	submitter := queue.NewSubmitter(q, fakeMetadata{}, queue.Limits{MinDuration: time.Minute})
	return watcher.NewService(st, lister, submitter, watcher.Options{MaxVideos: 10}), st
}

func TestCheckChannels_OnlyNewUploadsAreQueued(t *testing.T) {
	lister := &fakeLister{uploads: map[string][]models.Upload{
		"UCone": uploads("catalogued1", "queued00001", "brandnew001"),
	}}
	svc, st := setup(t, lister)
	ctx := context.Background()

	ch, err := st.UpsertChannel(ctx, "UCone", "Channel One", "")
	require.NoError(t, err)
	_, err = st.CreateSetWithTracks(ctx, &models.VideoInfo{VideoID: "catalogued1", Title: "old"}, &ch.ID, nil)
	require.NoError(t, err)
	queued, err := st.CreateQueueItem(ctx, store.NewQueueItem{VideoID: "queued00001", Priority: models.PriorityUser})
	require.NoError(t, err)

	report, err := svc.CheckChannels(ctx, nil)
	require.NoError(t, err)
	require.Len(t, report.Channels, 1)
	cr := report.Channels[0]
	assert.Equal(t, 3, cr.Listed)
	assert.Equal(t, 1, cr.AlreadyCatalogued)
	assert.Equal(t, 1, cr.AlreadyQueued)
	assert.Equal(t, 1, cr.Queued)
	assert.Equal(t, 1, report.Queued)

	item, err := st.FindActiveQueueItemByVideoID(ctx, "brandnew001")
	require.NoError(t, err)
	assert.Equal(t, models.PrioritySystem, item.Priority)

	unchanged, err := st.GetQueueItem(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityUser, unchanged.Priority)

	checked, err := st.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.NotNil(t, checked.LastCheckedAt)

	// A second run finds nothing new.
	report, err = svc.CheckChannels(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Queued)
	assert.Equal(t, 2, report.Channels[0].AlreadyQueued)
}

func TestCheckChannels_FailingChannelDoesNotAbort(t *testing.T) {
	lister := &fakeLister{
		uploads: map[string][]models.Upload{"UCgood": uploads("goodvideo01")},
		err:     map[string]error{"UCbad": errors.New("yt-dlp: HTTP Error 429")},
	}
	svc, st := setup(t, lister)
	ctx := context.Background()

	_, err := st.UpsertChannel(ctx, "UCbad", "Bad", "")
	require.NoError(t, err)
	_, err = st.UpsertChannel(ctx, "UCgood", "Good", "")
	require.NoError(t, err)
	hidden, err := st.UpsertChannel(ctx, "UChidden", "Hidden", "")
	require.NoError(t, err)
	_, err = st.UpdateChannelFlags(ctx, hidden.ID, true, true)
	require.NoError(t, err)

	report, err := svc.CheckChannels(ctx, nil)
	require.NoError(t, err)
	require.Len(t, report.Channels, 2, "hidden channels are not watched")
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 1, report.Queued)
	assert.Equal(t, []string{"UCbad", "UCgood"}, lister.calls)
	assert.Contains(t, report.Channels[0].Errors[0], "HTTP Error 429")
}

func TestCheckChannels_SingleChannel(t *testing.T) {
	lister := &fakeLister{uploads: map[string][]models.Upload{
		"UCone": uploads("videoone001"),
		"UCtwo": uploads("videotwo001"),
	}}
	svc, st := setup(t, lister)
	ctx := context.Background()

	_, err := st.UpsertChannel(ctx, "UCone", "One", "")
	require.NoError(t, err)
	two, err := st.UpsertChannel(ctx, "UCtwo", "Two", "")
	require.NoError(t, err)

	report, err := svc.CheckChannels(ctx, &two.ID)
	require.NoError(t, err)
	require.Len(t, report.Channels, 1)
	assert.Equal(t, "UCtwo", report.Channels[0].ExternalID)
	assert.Equal(t, []string{"UCtwo"}, lister.calls)

	missing := int64(999)
	_, err = svc.CheckChannels(ctx, &missing)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
