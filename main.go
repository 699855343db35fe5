package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vrsandeep/setlist-go/internal/api"
	"github.com/vrsandeep/setlist-go/internal/core"
	"github.com/vrsandeep/setlist-go/internal/media/ytdlp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize the core application components
	app, err := core.New(ctx)
	if err != nil {
		log.Fatalf("Fatal error during application setup: %v", err)
	}

	if yt, ok := app.Acquirer().(*ytdlp.Client); ok {
		report, err := yt.CheckDependencies(ctx)
		if err != nil {
			log.WithError(err).Warn("media tooling check failed, processing will fail until it is fixed")
		} else {
			log.WithField("yt_dlp", report.YtDlpVersion).Info("media tooling found")
		}
	}

	// Recover leftovers, then start the queue workers and scheduled jobs.
	workers, cancelWorkers := context.WithCancel(context.Background())
	app.Start(workers)

	// Setup the API server
	server := api.NewServer(app)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.Config().Port),
		Handler: server.Router(),
	}
	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		log.Infof("Starting web server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Could not start server: %v", err)
		}
	}()

	// Wait for an interrupt signal.
	<-ctx.Done()
	log.Info("Shutting down server...")

	// Create a context with a timeout to allow existing connections to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Attempt a graceful shutdown.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	// In-flight items lose their lease and are picked up by the next start.
	cancelWorkers()
	app.Close()

	log.Info("Server exiting.")
}
