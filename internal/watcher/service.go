// Package watcher discovers new uploads of followed channels and submits
// them to the queue at system priority.
package watcher

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vrsandeep/setlist-go/internal/config"
	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/queue"
	"github.com/vrsandeep/setlist-go/internal/store"
)

// UploadLister lists a channel's most recent uploads, newest first.
type UploadLister interface {
	ListChannelUploads(ctx context.Context, channelID string, max int) ([]models.Upload, error)
}

// Submitter is the queue's submission boundary.
type Submitter interface {
	Submit(ctx context.Context, req queue.SubmitRequest) (*queue.SubmitResult, error)
}

type Options struct {
	MaxVideos    int
	ChannelDelay time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxVideos:    cfg.Watcher.MaxVideos,
		ChannelDelay: time.Duration(cfg.Watcher.ChannelDelayMs) * time.Millisecond,
	}
}

// Service holds the dependencies for the channel checker.
type Service struct {
	st        *store.Store
	lister    UploadLister
	submitter Submitter
	opts      Options
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewService creates a new channel watcher.
func NewService(st *store.Store, lister UploadLister, submitter Submitter, opts Options) *Service {
	if opts.MaxVideos <= 0 {
		opts.MaxVideos = 10
	}
	return &Service{st: st, lister: lister, submitter: submitter, opts: opts, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ChannelReport is the outcome of checking one channel.
type ChannelReport struct {
	ChannelID         int64    `json:"channel_id"`
	ExternalID        string   `json:"external_id"`
	Author            string   `json:"author"`
	Listed            int      `json:"listed"`
	AlreadyCatalogued int      `json:"already_catalogued"`
	AlreadyQueued     int      `json:"already_queued"`
	Queued            int      `json:"queued"`
	Rejected          int      `json:"rejected"`
	Errors            []string `json:"errors,omitempty"`
}

// CheckReport is the outcome of one watcher run.
type CheckReport struct {
	Channels []*ChannelReport `json:"channels"`
	Queued   int              `json:"queued"`
	Failures int              `json:"failures"`
}

// CheckChannels checks channelID, or every followed visible channel when it
// is nil, least recently checked first. A failing channel or video is
// recorded in the report and does not stop the run. Re-running is safe:
// videos already catalogued or queued are skipped.
func (s *Service) CheckChannels(ctx context.Context, channelID *int64) (*CheckReport, error) {
	var channels []*models.Channel
	if channelID != nil {
		ch, err := s.st.GetChannel(ctx, *channelID)
		if err != nil {
			return nil, err
		}
		channels = []*models.Channel{ch}
	} else {
		var err error
		channels, err = s.st.ListWatchableChannels(ctx)
		if err != nil {
			return nil, err
		}
	}

	log.WithField("channels", len(channels)).Info("Running channel check...")
	report := &CheckReport{}
	for i, ch := range channels {
		if i > 0 {
			if err := s.sleep(ctx, s.opts.ChannelDelay); err != nil {
				return report, err
			}
		}
		cr := s.checkChannel(ctx, ch)
		report.Channels = append(report.Channels, cr)
		report.Queued += cr.Queued
		report.Failures += len(cr.Errors)

		if err := s.st.TouchChannelChecked(ctx, ch.ID); err != nil {
			log.WithError(err).WithField("channel_id", ch.ChannelID).Error("could not stamp channel check")
		}
	}
	log.WithFields(log.Fields{"queued": report.Queued, "failures": report.Failures}).Info("Finished channel check.")
	return report, nil
}

func (s *Service) checkChannel(ctx context.Context, ch *models.Channel) *ChannelReport {
	cr := &ChannelReport{ChannelID: ch.ID, ExternalID: ch.ChannelID, Author: ch.Author}
	logger := log.WithFields(log.Fields{"channel_id": ch.ChannelID, "author": ch.Author})
	fail := func(msg string, err error) {
		logger.WithError(err).Warn(msg)
		cr.Errors = append(cr.Errors, msg+": "+err.Error())
	}

	uploads, err := s.lister.ListChannelUploads(ctx, ch.ChannelID, s.opts.MaxVideos)
	if err != nil {
		fail("list uploads", err)
		return cr
	}
	cr.Listed = len(uploads)
	if len(uploads) == 0 {
		return cr
	}

	ids := make([]string, len(uploads))
	for i, u := range uploads {
		ids[i] = u.VideoID
	}
	catalogued, err := s.st.ExistingSetVideoIDs(ctx, ids)
	if err != nil {
		fail("look up existing sets", err)
		return cr
	}
	queued, err := s.st.ActiveQueueVideoIDs(ctx, ids)
	if err != nil {
		fail("look up queued videos", err)
		return cr
	}

	for _, u := range uploads {
		switch {
		case catalogued[u.VideoID]:
			cr.AlreadyCatalogued++
			continue
		case queued[u.VideoID]:
			cr.AlreadyQueued++
			continue
		}

		res, err := s.submitter.Submit(ctx, queue.SubmitRequest{VideoID: u.VideoID, Priority: models.PrioritySystem})
		if err != nil {
			fail("submit "+u.VideoID, err)
			continue
		}
		switch res.Outcome {
		case queue.Accepted:
			cr.Queued++
		case queue.AlreadyExists:
			cr.AlreadyQueued++
		case queue.ValidationFailed:
			cr.Rejected++
			logger.WithFields(log.Fields{"video_id": u.VideoID, "reason": res.Reason}).Debug("upload not queued")
		}
	}

	if cr.Queued > 0 {
		logger.Infof("Found %d new uploads. Queued for processing.", cr.Queued)
	} else {
		logger.Debug("No new uploads found.")
	}
	return cr
}
