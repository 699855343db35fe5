package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vrsandeep/setlist-go/internal/config"
	"github.com/vrsandeep/setlist-go/internal/media"
	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/store"
	"github.com/vrsandeep/setlist-go/internal/util"
)

// Outcome is the result class of a submission.
type Outcome int

const (
	Accepted Outcome = iota + 1
	AlreadyExists
	ValidationFailed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case AlreadyExists:
		return "already_exists"
	case ValidationFailed:
		return "validation_failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

type SubmitRequest struct {
	// VideoID is a bare 11 character id or any YouTube URL carrying one.
	VideoID   string
	UserID    *int64
	Priority  int
	SendEmail bool
}

type SubmitResult struct {
	Outcome   Outcome
	QueueItem *models.QueueItem
	// SetID is set when the video is already catalogued.
	SetID  int64
	Reason string
}

// MetadataSource provides the video snapshot taken at submission time.
type MetadataSource interface {
	GetVideoInfo(ctx context.Context, videoID string) (*models.VideoInfo, error)
}

type Limits struct {
	MinDuration time.Duration
	MaxDuration time.Duration
}

func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		MinDuration: time.Duration(cfg.Limits.MinDurationSeconds) * time.Second,
		MaxDuration: time.Duration(cfg.Limits.MaxDurationSeconds) * time.Second,
	}
}

// Submitter is the single entry point that creates queue items.
type Submitter struct {
	queue  *Queue
	meta   MetadataSource
	limits Limits
}

func NewSubmitter(q *Queue, meta MetadataSource, limits Limits) *Submitter {
	return &Submitter{queue: q, meta: meta, limits: limits}
}

// Submit validates a request and queues the video unless it is already
// catalogued or queued. Duplicate submissions are not errors. The returned
// error is reserved for infrastructure failures.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	videoID, err := util.ExtractVideoID(req.VideoID)
	if err != nil {
		return &SubmitResult{Outcome: ValidationFailed, Reason: err.Error()}, nil
	}
	logger := log.WithField("video_id", videoID)

	if existing, ok, err := s.existing(ctx, videoID); err != nil || ok {
		return existing, err
	}

	info, err := s.meta.GetVideoInfo(ctx, videoID)
	if errors.Is(err, media.ErrUnavailable) {
		return &SubmitResult{Outcome: ValidationFailed, Reason: "video is unavailable"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch metadata of %s: %w", videoID, err)
	}
	if reason := s.checkDuration(info.Duration); reason != "" {
		logger.WithField("duration", info.Duration).Info("submission rejected: " + reason)
		return &SubmitResult{Outcome: ValidationFailed, Reason: reason}, nil
	}

	snapshot, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	priority := req.Priority
	if priority == 0 {
		priority = models.PriorityUser
	}

	item, err := s.queue.st.CreateQueueItem(ctx, store.NewQueueItem{
		VideoID:       videoID,
		UserID:        req.UserID,
		Priority:      priority,
		Duration:      info.Duration,
		NbChapters:    len(info.Chapters),
		VideoInfoJSON: string(snapshot),
		MaxAttempts:   s.queue.opts.MaxAttempts,
		SendEmail:     req.SendEmail,
	})
	if errors.Is(err, store.ErrAlreadyQueued) {
		// Lost a race with a concurrent submission.
		existing, ok, err := s.existing(ctx, videoID)
		if err == nil && !ok {
			existing = &SubmitResult{Outcome: AlreadyExists, Reason: "video already queued"}
		}
		return existing, err
	}
	if err != nil {
		return nil, err
	}

	// The row is already eligible at its priority; a worker may even have
	// claimed it by now. Only the wake-up is left.
	s.queue.wake(ctx)
	logger.WithFields(log.Fields{"queue_item_id": item.ID, "priority": priority}).Info("video submitted")
	return &SubmitResult{Outcome: Accepted, QueueItem: item}, nil
}

// existing reports an existing set or active queue item for the video.
func (s *Submitter) existing(ctx context.Context, videoID string) (*SubmitResult, bool, error) {
	setID, err := s.queue.st.FindSetIDByVideoID(ctx, videoID)
	if err == nil {
		return &SubmitResult{Outcome: AlreadyExists, SetID: setID, Reason: "set already catalogued"}, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	item, err := s.queue.st.FindActiveQueueItemByVideoID(ctx, videoID)
	if err == nil {
		return &SubmitResult{Outcome: AlreadyExists, QueueItem: item, Reason: "video already queued"}, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}
	return nil, false, nil
}

func (s *Submitter) checkDuration(seconds int) string {
	d := time.Duration(seconds) * time.Second
	if s.limits.MinDuration > 0 && d < s.limits.MinDuration {
		return fmt.Sprintf("video is shorter than %s", s.limits.MinDuration)
	}
	if s.limits.MaxDuration > 0 && d > s.limits.MaxDuration {
		return fmt.Sprintf("video is longer than %s", s.limits.MaxDuration)
	}
	return ""
}
