package core

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"

	"github.com/vrsandeep/setlist-go/internal/assets"
	"github.com/vrsandeep/setlist-go/internal/config"
	"github.com/vrsandeep/setlist-go/internal/db"
	"github.com/vrsandeep/setlist-go/internal/enrichment"
	"github.com/vrsandeep/setlist-go/internal/enrichment/spotify"
	"github.com/vrsandeep/setlist-go/internal/jobs"
	"github.com/vrsandeep/setlist-go/internal/media"
	"github.com/vrsandeep/setlist-go/internal/media/ytdlp"
	"github.com/vrsandeep/setlist-go/internal/pipeline"
	"github.com/vrsandeep/setlist-go/internal/queue"
	"github.com/vrsandeep/setlist-go/internal/recognition"
	"github.com/vrsandeep/setlist-go/internal/recognition/shazam"
	"github.com/vrsandeep/setlist-go/internal/store"
	"github.com/vrsandeep/setlist-go/internal/watcher"
	"github.com/vrsandeep/setlist-go/internal/websocket"
)

// Adapters are the external services the pipeline talks to.
type Adapters struct {
	Acquirer   media.Acquirer
	Recognizer recognition.Recognizer
	Enricher   enrichment.Enricher
	Notifier   queue.Notifier
}

// DefaultAdapters builds the production adapters from configuration.
// Enrichment is disabled when no Spotify credentials are configured.
func DefaultAdapters(ctx context.Context, cfg *config.Config) Adapters {
	a := Adapters{
		Acquirer:   ytdlp.NewFromConfig(cfg),
		Recognizer: shazam.NewFromConfig(cfg),
		Enricher:   enrichment.Noop{},
		Notifier:   queue.NotifierFromConfig(ctx, cfg),
	}
	if sp := spotify.NewFromConfig(cfg); sp != nil {
		a.Enricher = sp
	} else {
		log.Info("Spotify credentials not set, track enrichment disabled")
	}
	return a
}

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	config       *config.Config
	db           *sql.DB
	store        *store.Store
	wsHub        *websocket.Hub
	jobManager   *jobs.JobManager
	acquirer     media.Acquirer
	notifier     queue.Notifier
	queue        *queue.Queue
	submitter    *queue.Submitter
	dispatcher   *queue.Dispatcher
	orchestrator *pipeline.Orchestrator
	watcher      *watcher.Service
	scheduler    *gocron.Scheduler
	Version      string
}

// New sets up and returns a new App instance. It handles loading the
// configuration, initializing the database connection, and running migrations.
func New(ctx context.Context) (*App, error) {
	// Load configuration from config.yml
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	SetupLogger(cfg)

	// Initialize the database connection
	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Run database migrations
	if err := db.RunMigrations(database, assets.MigrationsFS); err != nil {
		// We can't proceed without a valid database schema.
		// Close the DB connection before failing.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	if err := media.PrepareTempDir(cfg.Temp.Dir); err != nil {
		database.Close()
		return nil, err
	}

	app := NewApp(cfg, database, DefaultAdapters(ctx, cfg))
	log.Info("Core application setup complete.")
	return app, nil
}

// NewApp wires every component over an open, migrated database.
func NewApp(cfg *config.Config, database *sql.DB, adapters Adapters) *App {
	st := store.New(database)
	hub := websocket.NewHub()
	go hub.Run()

	q := queue.New(st, adapters.Notifier, queue.OptionsFromConfig(cfg))
	orch := pipeline.New(st, adapters.Acquirer, adapters.Recognizer, adapters.Enricher, hub, pipeline.OptionsFromConfig(cfg))
	submitter := queue.NewSubmitter(q, adapters.Acquirer, queue.LimitsFromConfig(cfg))

	app := &App{
		config:       cfg,
		db:           database,
		store:        st,
		wsHub:        hub,
		acquirer:     adapters.Acquirer,
		notifier:     q.Notifier(),
		queue:        q,
		submitter:    submitter,
		dispatcher:   queue.NewDispatcher(q, orch, queue.DispatcherOptionsFromConfig(cfg)),
		orchestrator: orch,
		watcher:      watcher.NewService(st, adapters.Acquirer, submitter, watcher.OptionsFromConfig(cfg)),
		Version:      "dev",
	}
	app.jobManager = jobs.NewManager(app)
	jobs.RegisterAll(app.jobManager)
	return app
}

// Start recovers work left over by a previous process, then starts the
// dispatcher and the job schedule. Workers stop when ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	if report, err := a.queue.RecoverStalled(ctx); err != nil {
		log.WithError(err).Error("startup queue recovery failed")
	} else if report.Stalled > 0 || report.Requeued > 0 {
		log.WithFields(log.Fields{"stalled": report.Stalled, "requeued": report.Requeued}).Info("recovered queue items")
	}
	a.dispatcher.Start(ctx)
	a.scheduler = jobs.StartJobs(a)
}

func (a *App) Config() *config.Config               { return a.config }
func (a *App) DB() *sql.DB                          { return a.db }
func (a *App) Store() *store.Store                  { return a.store }
func (a *App) WsHub() *websocket.Hub                { return a.wsHub }
func (a *App) JobManager() *jobs.JobManager         { return a.jobManager }
func (a *App) Acquirer() media.Acquirer             { return a.acquirer }
func (a *App) Queue() *queue.Queue                  { return a.queue }
func (a *App) Submitter() *queue.Submitter          { return a.submitter }
func (a *App) Dispatcher() *queue.Dispatcher        { return a.dispatcher }
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orchestrator }
func (a *App) Watcher() *watcher.Service            { return a.watcher }

// Close gracefully closes the application's resources. Call it after the
// context passed to Start is cancelled.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	a.dispatcher.Wait()
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			log.WithError(err).Warn("closing queue notifier")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
