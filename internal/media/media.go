// Package media defines how the pipeline obtains a video's metadata and audio.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vrsandeep/setlist-go/internal/models"
)

// ErrUnavailable is returned when a video cannot be fetched at all (private,
// removed, region locked).
var ErrUnavailable = errors.New("video unavailable")

// AudioFile is a downloaded audio track on local disk.
type AudioFile struct {
	VideoID  string
	Path     string
	Duration time.Duration
}

// Window is a time range of the audio to be fingerprinted.
type Window struct {
	Index    int
	Start    time.Duration
	Duration time.Duration
}

// End returns the end offset of the window.
func (w Window) End() time.Duration {
	return w.Start + w.Duration
}

// Segment is an extracted window ready for recognition.
type Segment struct {
	Window
	Path string
}

// Acquirer fetches video metadata, audio and channel listings.
//
// Audio work happens in a directory private to one processing run, named by
// its run key, so two runs of the same video never share files.
type Acquirer interface {
	GetVideoInfo(ctx context.Context, videoID string) (*models.VideoInfo, error)
	DownloadAudio(ctx context.Context, videoID, runKey string) (*AudioFile, error)
	// SplitAudio writes the segments next to the audio file.
	SplitAudio(ctx context.Context, audio *AudioFile, windows []Window) ([]Segment, error)
	ListChannelUploads(ctx context.Context, channelID string, max int) ([]models.Upload, error)
	// Cleanup removes the run's working directory. It is safe to call more
	// than once.
	Cleanup(ctx context.Context, runKey string) error
}

// RunKey names the working directory of one leased processing run.
func RunKey(queueItemID int64, workerID string) string {
	return fmt.Sprintf("%d-%s", queueItemID, workerID)
}

// ValidRunKey reports whether key can be used as a single directory name.
func ValidRunKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, `/\`)
}

// PlanWindows tiles total with back-to-back windows of the given length.
// The last window is shortened to end exactly at total.
func PlanWindows(total, length time.Duration) []Window {
	if total <= 0 || length <= 0 {
		return nil
	}
	var windows []Window
	for start := time.Duration(0); start < total; start += length {
		d := length
		if start+d > total {
			d = total - start
		}
		windows = append(windows, Window{Index: len(windows), Start: start, Duration: d})
	}
	return windows
}
