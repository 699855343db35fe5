// A handler file for submission and queue endpoints.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/queue"
	"github.com/vrsandeep/setlist-go/internal/store"
)

// QueueSetPayload is the body of a set submission. URL may carry any
// YouTube link; VideoID takes precedence when both are given.
type QueueSetPayload struct {
	VideoID   string `json:"video_id"`
	URL       string `json:"url"`
	UserID    *int64 `json:"user_id"`
	SendEmail bool   `json:"send_email"`
}

// QueueSetResponse mirrors a queue.SubmitResult for clients.
type QueueSetResponse struct {
	Accepted      bool              `json:"accepted"`
	AlreadyExists bool              `json:"already_exists"`
	QueueItem     *models.QueueItem `json:"queue_item,omitempty"`
	SetID         int64             `json:"set_id,omitempty"`
	Message       string            `json:"message"`
}

func (s *Server) handleQueueSet(w http.ResponseWriter, r *http.Request) {
	var payload QueueSetPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	ref := payload.VideoID
	if ref == "" {
		ref = payload.URL
	}

	res, err := s.app.Submitter().Submit(r.Context(), queue.SubmitRequest{
		VideoID:   ref,
		UserID:    payload.UserID,
		Priority:  models.PriorityUser,
		SendEmail: payload.SendEmail,
	})
	if err != nil {
		log.WithError(err).WithField("video", ref).Error("submission failed")
		RespondWithError(w, http.StatusBadGateway, "Could not fetch video metadata, try again later")
		return
	}

	resp := QueueSetResponse{QueueItem: res.QueueItem, SetID: res.SetID}
	switch res.Outcome {
	case queue.Accepted:
		resp.Accepted = true
		resp.Message = "Set queued for processing."
		RespondWithJSON(w, http.StatusAccepted, resp)
	case queue.AlreadyExists:
		resp.AlreadyExists = true
		if res.SetID != 0 {
			resp.Message = "Set is already catalogued."
		} else {
			resp.Message = "Set is already in the queue."
		}
		RespondWithJSON(w, http.StatusOK, resp)
	default:
		resp.Message = res.Reason
		RespondWithJSON(w, http.StatusBadRequest, resp)
	}
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.QueueStatus(q.Get("status"))
	switch status {
	case "", models.StatusPending, models.StatusProcessing, models.StatusDone, models.StatusFailed:
	default:
		RespondWithError(w, http.StatusBadRequest, "Invalid status filter")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	items, err := s.store.ListQueueItems(r.Context(), status, limit, offset)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve queue")
		return
	}
	if items == nil {
		items = []*models.QueueItem{}
	}
	RespondWithJSON(w, http.StatusOK, items)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CountQueueItemsByStatus(r.Context())
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to count queue items")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]any{
		"counts": stats,
		"paused": s.app.Dispatcher().IsPaused(),
	})
}

// QueueItemStatus is the coarse view of a queue item returned to submitters.
type QueueItemStatus struct {
	ID           int64              `json:"id"`
	VideoID      string             `json:"video_id"`
	Status       models.QueueStatus `json:"status"`
	Progress     int                `json:"progress"`
	NAttempts    int                `json:"n_attempts"`
	MaxAttempts  int                `json:"max_attempts"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Terminal     bool               `json:"terminal"`
}

func (s *Server) handleGetQueueItem(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "itemID")
	if !ok {
		return
	}
	item, err := s.store.GetQueueItem(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		RespondWithError(w, http.StatusNotFound, "Queue item not found")
		return
	}
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve queue item")
		return
	}
	RespondWithJSON(w, http.StatusOK, QueueItemStatus{
		ID:           item.ID,
		VideoID:      item.VideoID,
		Status:       item.Status,
		Progress:     item.Progress,
		NAttempts:    item.NAttempts,
		MaxAttempts:  item.MaxAttempts,
		ErrorMessage: item.ErrorMessage,
		Terminal:     item.Terminal(),
	})
}

func (s *Server) handleRetryQueueItem(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "itemID")
	if !ok {
		return
	}
	item, err := s.app.Queue().RetryTerminal(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		RespondWithError(w, http.StatusNotFound, "Queue item not found")
	case errors.Is(err, store.ErrInvalidTransition):
		RespondWithError(w, http.StatusConflict, "Only failed items can be retried")
	case errors.Is(err, store.ErrAlreadyQueued):
		RespondWithError(w, http.StatusConflict, "Video already has an active queue item")
	case err != nil:
		RespondWithError(w, http.StatusInternalServerError, "Failed to retry queue item")
	default:
		RespondWithJSON(w, http.StatusOK, item)
	}
}

func (s *Server) handleQueueAction(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	switch payload.Action {
	case "pause":
		s.app.Dispatcher().Pause()
	case "resume":
		s.app.Dispatcher().Resume()
	case "recover":
		report, err := s.app.Queue().RecoverStalled(r.Context())
		if err != nil {
			RespondWithError(w, http.StatusInternalServerError, "Failed to recover queue")
			return
		}
		RespondWithJSON(w, http.StatusOK, map[string]any{
			"status":   "success",
			"stalled":  report.Stalled,
			"requeued": report.Requeued,
		})
		return
	default:
		RespondWithError(w, http.StatusBadRequest, "Invalid action")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// idParam parses a positive integer URL parameter, writing a 400 when it is
// malformed.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		RespondWithError(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return id, true
}
