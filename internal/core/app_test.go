package core_test

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/setlist-go/internal/config"
	"github.com/vrsandeep/setlist-go/internal/core"
	"github.com/vrsandeep/setlist-go/internal/media"
	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/queue"
	"github.com/vrsandeep/setlist-go/internal/recognition"
	"github.com/vrsandeep/setlist-go/internal/testutil"
)

type stubAcquirer struct{}

func (stubAcquirer) GetVideoInfo(ctx context.Context, videoID string) (*models.VideoInfo, error) {
	return &models.VideoInfo{VideoID: videoID, Title: "Warehouse set", Duration: 30, ChannelID: "UCstub", ChannelName: "Stub"}, nil
}

func (stubAcquirer) DownloadAudio(ctx context.Context, videoID, runKey string) (*media.AudioFile, error) {
	return &media.AudioFile{VideoID: videoID, Duration: 30 * time.Second}, nil
}

func (stubAcquirer) SplitAudio(ctx context.Context, audio *media.AudioFile, windows []media.Window) ([]media.Segment, error) {
	segs := make([]media.Segment, len(windows))
	for i, w := range windows {
		segs[i] = media.Segment{Window: w}
	}
	return segs, nil
}

func (stubAcquirer) ListChannelUploads(ctx context.Context, channelID string, max int) ([]models.Upload, error) {
	return nil, nil
}

func (stubAcquirer) Cleanup(ctx context.Context, runKey string) error { return nil }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Pipeline.SegmentSeconds = 10
	cfg.Pipeline.ConfidenceThreshold = 80
	cfg.Pipeline.MergeConsecutiveMatches = true
	cfg.Queue.MaxAttempts = 3
	return cfg
}

func TestNewAppProcessesSubmission(t *testing.T) {
	rec := recognition.Func(func(ctx context.Context, seg media.Segment) (*models.TrackCandidate, error) {
		return &models.TrackCandidate{KeyTrackShazam: "42", Title: "Track", ArtistName: "Artist", Confidence: 99}, nil
	})
	app := core.NewApp(testConfig(), testutil.SetupTestDB(t), core.Adapters{Acquirer: stubAcquirer{}, Recognizer: rec})
	ctx := context.Background()

	assert.Len(t, app.JobManager().GetStatus(), 3)

	res, err := app.Submitter().Submit(ctx, queue.SubmitRequest{VideoID: "abcdefghijk"})
	require.NoError(t, err)
	require.Equal(t, queue.Accepted, res.Outcome)

	worked, err := app.Dispatcher().RunOnce(ctx, "test-worker")
	require.NoError(t, err)
	require.True(t, worked)

	set, err := app.Store().GetSetByVideoID(ctx, "abcdefghijk")
	require.NoError(t, err)
	require.Len(t, set.Tracks, 1)
	assert.Equal(t, 0, set.Tracks[0].StartTime)
	assert.Equal(t, 30, set.Tracks[0].EndTime)

	item, err := app.Store().GetQueueItem(ctx, res.QueueItem.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, item.Status)
}

func TestSetupLogger(t *testing.T) {
	cfg := &config.Config{}
	cfg.Log.Level = "verbose"
	core.SetupLogger(cfg)
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"
	core.SetupLogger(cfg)
	assert.Equal(t, "debug", log.GetLevel().String())

	core.SetupLogger(&config.Config{})
	assert.Equal(t, "info", log.GetLevel().String())
}
