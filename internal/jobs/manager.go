package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vrsandeep/setlist-go/internal/config"
	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/queue"
	"github.com/vrsandeep/setlist-go/internal/watcher"
	"github.com/vrsandeep/setlist-go/internal/websocket"
)

// JobContext is an interface that provides the necessary dependencies for a job to run.
// The core.App struct will implement this interface.
type JobContext interface {
	Config() *config.Config
	WsHub() *websocket.Hub
	JobManager() *JobManager
	Queue() *queue.Queue
	Watcher() *watcher.Service
}

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobAlreadyRunning = errors.New("job is already running")
)

// JobTask does the work of a job. The returned string is shown as the
// job's status message.
type JobTask func(ctx context.Context, app JobContext) (string, error)

type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"` // "idle", "running", "success", "failed"
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

type job struct {
	task    JobTask
	status  *JobStatus
	running bool
}

// JobManager runs named jobs at most once at a time each and keeps their
// last status.
type JobManager struct {
	mu     sync.Mutex
	jobs   map[string]*job
	appCtx JobContext // Store the app context for scheduled jobs
}

func NewManager(appCtx JobContext) *JobManager {
	return &JobManager{
		jobs:   make(map[string]*job),
		appCtx: appCtx,
	}
}

func (jm *JobManager) Register(id, name string, task JobTask) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.jobs[id] = &job{task: task, status: &JobStatus{ID: id, Name: name, Status: "idle"}}
}

// RunJob starts the job in the background. It fails when the job is
// unknown or already running. The job outlives ctx's cancellation.
func (jm *JobManager) RunJob(ctx context.Context, id string, app JobContext) error {
	if app == nil {
		app = jm.appCtx
	}

	jm.mu.Lock()
	j, ok := jm.jobs[id]
	if !ok {
		jm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.running {
		jm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobAlreadyRunning, id)
	}
	j.running = true
	j.status.Status = "running"
	j.status.StartTime = time.Now()
	j.status.EndTime = time.Time{}
	j.status.Message = "Job started..."
	jm.mu.Unlock()

	logger := log.WithField("job", id)
	logger.Info("Starting job")
	jm.broadcast(app, id, "Job started...", "running", false)

	runCtx := context.WithoutCancel(ctx)
	go func() {
		var (
			msg string
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}

			jm.mu.Lock()
			j.status.EndTime = time.Now()
			if err != nil {
				j.status.Status = "failed"
				j.status.Message = err.Error()
			} else {
				j.status.Status = "success"
				if msg == "" {
					msg = "Job completed successfully."
				}
				j.status.Message = msg
			}
			status := *j.status
			j.running = false
			jm.mu.Unlock()

			if err != nil {
				logger.WithError(err).Error("Job failed")
			} else {
				logger.WithField("message", status.Message).Info("Finished job")
			}
			jm.broadcast(app, id, status.Message, status.Status, true)
		}()

		msg, err = j.task(runCtx, app)
	}()
	return nil
}

func (jm *JobManager) broadcast(app JobContext, id, msg, status string, done bool) {
	if app == nil || app.WsHub() == nil {
		return
	}
	app.WsHub().BroadcastJSON(models.ProgressUpdate{
		JobID:   id,
		Message: msg,
		Status:  status,
		Done:    done,
	})
}

// GetStatus returns a snapshot of every registered job ordered by id.
func (jm *JobManager) GetStatus() []*JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	statuses := make([]*JobStatus, 0, len(jm.jobs))
	for _, j := range jm.jobs {
		s := *j.status
		statuses = append(statuses, &s)
	}
	sort.Slice(statuses, func(i, k int) bool { return statuses[i].ID < statuses[k].ID })
	return statuses
}
