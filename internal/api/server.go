// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vrsandeep/setlist-go/internal/core"
	"github.com/vrsandeep/setlist-go/internal/store"
)

// Server holds the dependencies for our API.
type Server struct {
	app   *core.App
	db    *sql.DB
	store *store.Store
}

// Store returns the store instance.
func (s *Server) Store() *store.Store {
	return s.store
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{
		app:   app,
		db:    app.DB(),
		store: app.Store(),
	}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	// The progress stream is long lived and must not be cut by the timeout.
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.app.WsHub().ServeWs(w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/api", func(r chi.Router) {
			r.Get("/version", s.handleGetVersion)

			// Submission and catalog
			r.Post("/sets/queue", s.handleQueueSet)
			r.Get("/sets", s.handleListSets)
			r.Get("/sets/{videoID}", s.handleGetSet)
			r.Get("/tracks/{trackID}", s.handleGetTrack)

			// Queue
			r.Get("/queue", s.handleListQueue)
			r.Get("/queue/stats", s.handleQueueStats)
			r.Post("/queue/action", s.handleQueueAction)
			r.Get("/queue/{itemID}", s.handleGetQueueItem)
			r.Post("/queue/{itemID}/retry", s.handleRetryQueueItem)

			// Channels
			r.Get("/channels", s.handleListChannels)
			r.Post("/channels", s.handleFollowChannel)
			r.Post("/channels/check", s.handleCheckChannels)
			r.Put("/channels/{channelID}", s.handleUpdateChannel)

			// Background jobs
			r.Get("/jobs", s.handleGetJobsStatus)
			r.Post("/jobs/{jobID}/run", s.handleRunJob)

			r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
				if err := s.db.PingContext(r.Context()); err != nil {
					RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
					return
				}
				RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			})
		})
	})

	return r
}
