// Package pipeline turns a queued video into a catalogued set: metadata,
// audio, segmentation, recognition, track resolution and a single
// transactional commit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vrsandeep/setlist-go/internal/config"
	"github.com/vrsandeep/setlist-go/internal/enrichment"
	"github.com/vrsandeep/setlist-go/internal/media"
	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/recognition"
	"github.com/vrsandeep/setlist-go/internal/store"
)

// Catalog is the part of the store a processing run needs.
type Catalog interface {
	TransitionLeasedQueueStatus(ctx context.Context, id int64, workerID string, to models.QueueStatus, errMsg string) error
	UpdateQueueProgress(ctx context.Context, id int64, workerID string, progress int) error
	FindSetIDByVideoID(ctx context.Context, videoID string) (int64, error)
	UpsertChannel(ctx context.Context, channelID, author, channelURL string) (*models.Channel, error)
	FindTrackByForeignKey(ctx context.Context, shazamKey, spotifyID string) (*models.Track, error)
	CreateSetWithTracks(ctx context.Context, info *models.VideoInfo, channelID *int64, placements []store.TrackPlacement) (*store.CommitResult, error)
}

// Broadcaster publishes progress to listeners, e.g. the websocket hub.
type Broadcaster interface {
	BroadcastJSON(v interface{})
}

type Options struct {
	SegmentLength          time.Duration
	RecognitionConcurrency int
	EnrichmentConcurrency  int
	// Matches below this confidence (0-100) are treated as unmatched.
	ConfidenceThreshold float64
	// MergeConsecutive collapses consecutive matches of one track into a
	// single entry. Off by default: every positive segment is one entry.
	MergeConsecutive bool
}

func DefaultOptions() Options {
	return Options{
		SegmentLength:          10 * time.Second,
		RecognitionConcurrency: 30,
		EnrichmentConcurrency:  30,
		ConfidenceThreshold:    80,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	p := cfg.Pipeline
	if p.SegmentSeconds > 0 {
		opts.SegmentLength = time.Duration(p.SegmentSeconds) * time.Second
	}
	if p.RecognitionConcurrency > 0 {
		opts.RecognitionConcurrency = p.RecognitionConcurrency
	}
	if p.EnrichmentConcurrency > 0 {
		opts.EnrichmentConcurrency = p.EnrichmentConcurrency
	}
	opts.ConfidenceThreshold = float64(p.ConfidenceThreshold)
	opts.MergeConsecutive = p.MergeConsecutiveMatches
	return opts
}

// Orchestrator executes queue items. It holds no per-job state and may run
// several jobs concurrently.
type Orchestrator struct {
	catalog    Catalog
	acquirer   media.Acquirer
	recognizer recognition.Recognizer
	enricher   enrichment.Enricher
	hub        Broadcaster
	opts       Options
}

func New(catalog Catalog, acquirer media.Acquirer, recognizer recognition.Recognizer, enricher enrichment.Enricher, hub Broadcaster, opts Options) *Orchestrator {
	if enricher == nil {
		enricher = enrichment.Noop{}
	}
	if opts.SegmentLength <= 0 {
		opts.SegmentLength = DefaultOptions().SegmentLength
	}
	if opts.RecognitionConcurrency <= 0 {
		opts.RecognitionConcurrency = 1
	}
	if opts.EnrichmentConcurrency <= 0 {
		opts.EnrichmentConcurrency = 1
	}
	return &Orchestrator{
		catalog:    catalog,
		acquirer:   acquirer,
		recognizer: recognizer,
		enricher:   enricher,
		hub:        hub,
		opts:       opts,
	}
}

type job struct {
	itemID   int64
	videoID  string
	workerID string
	runKey   string
	logger   *log.Entry
}

// ProcessJob runs one queue item, leased to workerID, to done or failed. A
// failure inside the processing stages marks the item failed, counts the
// attempt and is returned as a *StageError so the scheduler can decide on a
// retry. Every queue write is fenced by the lease: once another worker holds
// the item this run stops without touching it and returns an error wrapping
// store.ErrLeaseLost.
func (o *Orchestrator) ProcessJob(ctx context.Context, videoID string, queueItemID int64, workerID string) error {
	j := &job{
		itemID:   queueItemID,
		videoID:  videoID,
		workerID: workerID,
		runKey:   media.RunKey(queueItemID, workerID),
		logger: log.WithFields(log.Fields{
			"video_id":      videoID,
			"queue_item_id": queueItemID,
			"worker":        workerID,
		}),
	}

	if err := o.catalog.TransitionLeasedQueueStatus(ctx, j.itemID, j.workerID, models.StatusProcessing, ""); err != nil {
		return stageErr(StageMarkProcessing, err)
	}
	if err := o.progress(ctx, j, StageMarkProcessing); err != nil {
		return o.abandon(j, err)
	}

	if _, err := o.catalog.FindSetIDByVideoID(ctx, videoID); err == nil {
		j.logger.Info("set already catalogued, nothing to do")
		return o.finalize(ctx, j)
	} else if !errors.Is(err, store.ErrNotFound) {
		return o.fail(ctx, j, stageErr(StageMetadata, err))
	}

	result, err := o.runWithCleanup(ctx, j)
	if errors.Is(err, store.ErrLeaseLost) {
		return o.abandon(j, err)
	}
	if err != nil {
		return o.fail(ctx, j, err)
	}
	if result != nil && result.Set != nil {
		j.logger.WithFields(log.Fields{
			"set_id":          result.Set.ID,
			"tracks":          result.Set.NbTracks,
			"new_tracks":      result.NewTracks,
			"existing_tracks": result.ExistingTracks,
		}).Info("set catalogued")
	}
	return o.finalize(ctx, j)
}

// runWithCleanup runs the processing stages. The run's temporary media is
// released on every path out of it, panics included.
func (o *Orchestrator) runWithCleanup(ctx context.Context, j *job) (result *store.CommitResult, err error) {
	defer func() {
		if cerr := o.acquirer.Cleanup(context.WithoutCancel(ctx), j.runKey); cerr != nil {
			j.logger.WithError(cerr).Warn("temp media cleanup failed")
		}
		if err == nil {
			if perr := o.progress(ctx, j, StageCleanup); perr != nil {
				result, err = nil, perr
			}
		}
	}()
	return o.run(ctx, j)
}

func (o *Orchestrator) run(ctx context.Context, j *job) (*store.CommitResult, error) {
	info, err := o.acquirer.GetVideoInfo(ctx, j.videoID)
	if err != nil {
		return nil, stageErr(StageMetadata, err)
	}
	var channelID *int64
	if info.ChannelID != "" {
		ch, err := o.catalog.UpsertChannel(ctx, info.ChannelID, info.ChannelName, info.ChannelURL)
		if err != nil {
			return nil, stageErr(StageMetadata, err)
		}
		channelID = &ch.ID
	}
	if err := o.progress(ctx, j, StageMetadata); err != nil {
		return nil, err
	}

	audio, err := o.acquirer.DownloadAudio(ctx, j.videoID, j.runKey)
	if err != nil {
		return nil, stageErr(StageDownload, err)
	}
	if err := o.progress(ctx, j, StageDownload); err != nil {
		return nil, err
	}

	windows := media.PlanWindows(audio.Duration, o.opts.SegmentLength)
	if len(windows) == 0 {
		return nil, stageErr(StageSegment, fmt.Errorf("audio of %s has no duration", j.videoID))
	}
	segments, err := o.acquirer.SplitAudio(ctx, audio, windows)
	if err != nil {
		return nil, stageErr(StageSegment, err)
	}
	if err := o.progress(ctx, j, StageSegment); err != nil {
		return nil, err
	}

	results, err := o.recognize(ctx, j, segments)
	if err != nil {
		return nil, stageErr(StageRecognize, err)
	}
	matches := acceptMatches(segments, results, o.opts.ConfidenceThreshold)
	j.logger.WithFields(log.Fields{"segments": len(segments), "matches": len(matches)}).Info("recognition complete")
	if err := o.progress(ctx, j, StageRecognize); err != nil {
		return nil, err
	}

	if err := o.resolve(ctx, j, matches); err != nil {
		return nil, stageErr(StageResolve, err)
	}
	placements := buildTracklist(matches, o.opts.MergeConsecutive)
	if err := o.progress(ctx, j, StageResolve); err != nil {
		return nil, err
	}

	result, err := o.catalog.CreateSetWithTracks(ctx, info, channelID, placements)
	if errors.Is(err, store.ErrSetExists) {
		j.logger.Info("set was committed concurrently")
		err = nil
	}
	if err != nil {
		return nil, stageErr(StageCommit, err)
	}
	if err := o.progress(ctx, j, StageCommit); err != nil {
		return nil, err
	}
	return result, nil
}

// recognize fingerprints every segment with bounded concurrency. The result
// slice is indexed like segments. A failing segment counts as unmatched.
func (o *Orchestrator) recognize(ctx context.Context, j *job, segments []media.Segment) ([]*models.TrackCandidate, error) {
	results := make([]*models.TrackCandidate, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.RecognitionConcurrency)
	for i, seg := range segments {
		g.Go(func() error {
			cand, err := o.recognizer.Recognize(gctx, seg)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				j.logger.WithError(err).WithField("segment", seg.Index).Warn("segment recognition failed")
				return nil
			}
			results[i] = cand
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// resolve looks each distinct track up in the catalog and enriches the ones
// the catalog does not know yet. Enrichment failures keep recognition data.
func (o *Orchestrator) resolve(ctx context.Context, j *job, matches []match) error {
	distinct := distinctCandidates(matches)

	var unknown []*models.TrackCandidate
	for _, c := range distinct {
		_, err := o.catalog.FindTrackByForeignKey(ctx, c.KeyTrackShazam, c.KeyTrackSpotify)
		switch {
		case errors.Is(err, store.ErrNotFound):
			unknown = append(unknown, c)
		case err != nil:
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.EnrichmentConcurrency)
	for _, c := range unknown {
		g.Go(func() error {
			e, err := o.enricher.Enrich(gctx, c)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				j.logger.WithError(err).WithField("track", c.IdentityKey()).Warn("enrichment failed, keeping recognition metadata")
				return nil
			}
			e.Apply(c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	j.logger.WithFields(log.Fields{"tracks": len(distinct), "new": len(unknown)}).Debug("tracks resolved")
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, j *job) error {
	if err := o.catalog.TransitionLeasedQueueStatus(ctx, j.itemID, j.workerID, models.StatusDone, ""); err != nil {
		if errors.Is(err, store.ErrLeaseLost) {
			return o.abandon(j, stageErr(StageFinalize, err))
		}
		j.logger.WithError(err).Error("could not mark queue item done")
		return stageErr(StageFinalize, err)
	}
	o.broadcast(j, models.StatusDone, 100, "Set processed")
	return nil
}

// fail records err on the queue item and returns it. The stored message is
// the cause alone; the stage only goes to the log.
func (o *Orchestrator) fail(ctx context.Context, j *job, err error) error {
	logger := j.logger
	msg := err.Error()
	var se *StageError
	if errors.As(err, &se) {
		logger = logger.WithField("stage", se.Stage)
		msg = se.Err.Error()
	}
	logger.WithError(err).Error("set processing failed")

	terr := o.catalog.TransitionLeasedQueueStatus(context.WithoutCancel(ctx), j.itemID, j.workerID, models.StatusFailed, msg)
	if errors.Is(terr, store.ErrLeaseLost) {
		return o.abandon(j, errors.Join(err, terr))
	}
	if terr != nil {
		logger.WithError(terr).Error("could not mark queue item failed")
	}
	o.broadcast(j, models.StatusFailed, 0, msg)
	return err
}

// abandon gives up a run whose lease moved to another worker. Nothing is
// written to the item.
func (o *Orchestrator) abandon(j *job, err error) error {
	j.logger.WithError(err).Warn("lease lost, leaving the queue item to its current holder")
	return err
}

// progress records and broadcasts a checkpoint. It only fails when the lease
// is gone.
func (o *Orchestrator) progress(ctx context.Context, j *job, stage Stage) error {
	pct := checkpoints[stage]
	err := o.catalog.UpdateQueueProgress(ctx, j.itemID, j.workerID, pct)
	if errors.Is(err, store.ErrLeaseLost) {
		return err
	}
	if err != nil {
		j.logger.WithError(err).Debug("could not record progress")
	}
	o.broadcast(j, models.StatusProcessing, pct, "Processing")
	return nil
}

func (o *Orchestrator) broadcast(j *job, status models.QueueStatus, pct int, msg string) {
	if o.hub == nil {
		return
	}
	o.hub.BroadcastJSON(models.ProgressUpdate{
		JobID:    "set-processing",
		Message:  msg,
		Progress: float64(pct),
		ItemID:   j.itemID,
		VideoID:  j.videoID,
		Status:   string(status),
		Done:     status == models.StatusDone || status == models.StatusFailed,
	})
}
