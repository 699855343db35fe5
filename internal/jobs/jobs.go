package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"

	"github.com/vrsandeep/setlist-go/internal/media"
)

const (
	ChannelCheckJobID = "channel-check"
	QueueSweepJobID   = "queue-sweep"
	TempCleanupJobID  = "temp-cleanup"
)

// RegisterAll registers every background job with the manager.
func RegisterAll(jm *JobManager) {
	jm.Register(ChannelCheckJobID, "Check Followed Channels", RunChannelCheck)
	jm.Register(QueueSweepJobID, "Recover Stalled Queue Items", RunQueueSweep)
	jm.Register(TempCleanupJobID, "Purge Temporary Downloads", RunTempCleanup)
}

// RunChannelCheck queues new uploads of every followed channel.
func RunChannelCheck(ctx context.Context, app JobContext) (string, error) {
	report, err := app.Watcher().CheckChannels(ctx, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Checked %d channels, queued %d new uploads, %d failures.",
		len(report.Channels), report.Queued, report.Failures), nil
}

// RunQueueSweep fails items with a lost worker and re-queues retryable ones.
func RunQueueSweep(ctx context.Context, app JobContext) (string, error) {
	report, err := app.Queue().RecoverStalled(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Failed %d stalled items, re-queued %d.", report.Stalled, report.Requeued), nil
}

// RunTempCleanup removes audio left behind by interrupted runs.
func RunTempCleanup(ctx context.Context, app JobContext) (string, error) {
	cfg := app.Config()
	maxAge := time.Duration(cfg.Cleanup.MaxAgeHours) * time.Hour
	if maxAge <= 0 {
		maxAge = 6 * time.Hour
	}
	n, err := media.PurgeStale(cfg.Temp.Dir, maxAge, time.Now())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed %d stale temporary files.", n), nil
}

// StartJobs starts the background job scheduler.
func StartJobs(app JobContext) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	cfg := app.Config()
	schedule(s, app, ChannelCheckJobID, cfg.Watcher.IntervalMinutes, func(s *gocron.Scheduler, n int) *gocron.Scheduler {
		return s.Every(n).Minutes()
	})
	schedule(s, app, QueueSweepJobID, cfg.Queue.SweepMinutes, func(s *gocron.Scheduler, n int) *gocron.Scheduler {
		return s.Every(n).Minutes()
	})
	schedule(s, app, TempCleanupJobID, cfg.Cleanup.IntervalHours, func(s *gocron.Scheduler, n int) *gocron.Scheduler {
		return s.Every(n).Hours()
	})

	log.Info("Starting background job scheduler...")
	s.StartAsync()
	return s
}

func schedule(s *gocron.Scheduler, app JobContext, jobID string, interval int, every func(*gocron.Scheduler, int) *gocron.Scheduler) {
	logger := log.WithField("job", jobID)
	if interval <= 0 {
		logger.Info("Interval is 0, scheduled runs are disabled.")
		return
	}

	logger.WithField("interval", interval).Info("Scheduling job")
	_, err := every(s, interval).Do(func() {
		logger.Debug("Scheduler is triggering job")
		// Submit the job to the manager instead of running it directly.
		// This prevents conflicts with manually triggered jobs.
		if err := app.JobManager().RunJob(context.Background(), jobID, app); err != nil {
			logger.WithError(err).Warn("Scheduled job could not start")
		}
	})
	if err != nil {
		logger.WithError(err).Error("Error scheduling job")
	}
}
