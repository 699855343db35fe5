package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/setlist-go/internal/api"
	"github.com/vrsandeep/setlist-go/internal/config"
	"github.com/vrsandeep/setlist-go/internal/core"
	"github.com/vrsandeep/setlist-go/internal/media"
	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/recognition"
	"github.com/vrsandeep/setlist-go/internal/testutil"
)

// stubYouTube serves canned metadata. Unknown ids are 20 second videos.
type stubYouTube struct {
	durations    map[string]int
	uploads      map[string][]models.Upload
	downloadErrs map[string]error
}

func (s *stubYouTube) GetVideoInfo(ctx context.Context, videoID string) (*models.VideoInfo, error) {
	if videoID == "uuuuuuuuuuu" {
		return nil, media.ErrUnavailable
	}
	d, ok := s.durations[videoID]
	if !ok {
		d = 20
	}
	return &models.VideoInfo{VideoID: videoID, Title: "Set " + videoID, Duration: d, ChannelID: "UCstub", ChannelName: "Stub"}, nil
}

func (s *stubYouTube) DownloadAudio(ctx context.Context, videoID, runKey string) (*media.AudioFile, error) {
	if err := s.downloadErrs[videoID]; err != nil {
		return nil, err
	}
	d := s.durations[videoID]
	if d == 0 {
		d = 20
	}
	return &media.AudioFile{VideoID: videoID, Duration: time.Duration(d) * time.Second}, nil
}

func (s *stubYouTube) SplitAudio(ctx context.Context, audio *media.AudioFile, windows []media.Window) ([]media.Segment, error) {
	segs := make([]media.Segment, len(windows))
	for i, w := range windows {
		segs[i] = media.Segment{Window: w}
	}
	return segs, nil
}

func (s *stubYouTube) ListChannelUploads(ctx context.Context, channelID string, max int) ([]models.Upload, error) {
	return s.uploads[channelID], nil
}

func (s *stubYouTube) Cleanup(ctx context.Context, runKey string) error { return nil }

// setupTestServer wires a full core.App over an in-memory catalog. Videos
// shorter than 10 seconds are rejected and every segment is recognized as
// the same track.
func setupTestServer(t *testing.T) (*api.Server, *core.App, *stubYouTube) {
	t.Helper()
	yt := &stubYouTube{
		durations:    map[string]int{"sssssssssss": 5},
		uploads:      map[string][]models.Upload{},
		downloadErrs: map[string]error{},
	}
	rec := recognition.Func(func(ctx context.Context, seg media.Segment) (*models.TrackCandidate, error) {
		return &models.TrackCandidate{KeyTrackShazam: "777", Title: "Opening", ArtistName: "Resident", Confidence: 95}, nil
	})

	cfg := &config.Config{}
	cfg.Pipeline.SegmentSeconds = 10
	cfg.Pipeline.ConfidenceThreshold = 80
	cfg.Pipeline.MergeConsecutiveMatches = true
	cfg.Queue.MaxAttempts = 3
	cfg.Limits.MinDurationSeconds = 10
	cfg.Temp.Dir = t.TempDir()

	app := core.NewApp(cfg, testutil.SetupTestDB(t), core.Adapters{Acquirer: yt, Recognizer: rec})
	app.Version = "test"
	return api.NewServer(app), app, yt
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}
