package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/store"
)

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.ListChannels(r.Context())
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve channels")
		return
	}
	if channels == nil {
		channels = []*models.Channel{}
	}
	RespondWithJSON(w, http.StatusOK, channels)
}

func (s *Server) handleFollowChannel(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ChannelID  string `json:"channel_id"`
		Author     string `json:"author"`
		ChannelURL string `json:"channel_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	payload.ChannelID = strings.TrimSpace(payload.ChannelID)
	if payload.ChannelID == "" {
		RespondWithError(w, http.StatusBadRequest, "channel_id is required")
		return
	}

	ch, err := s.store.UpsertChannel(r.Context(), payload.ChannelID, payload.Author, payload.ChannelURL)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to save channel")
		return
	}
	if !ch.Followable {
		ch, err = s.store.UpdateChannelFlags(r.Context(), ch.ID, true, ch.Hidden)
		if err != nil {
			RespondWithError(w, http.StatusInternalServerError, "Failed to follow channel")
			return
		}
	}
	RespondWithJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleUpdateChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "channelID")
	if !ok {
		return
	}
	var payload struct {
		Followable *bool `json:"followable"`
		Hidden     *bool `json:"hidden"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	ch, err := s.store.GetChannel(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		RespondWithError(w, http.StatusNotFound, "Channel not found")
		return
	}
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve channel")
		return
	}
	followable, hidden := ch.Followable, ch.Hidden
	if payload.Followable != nil {
		followable = *payload.Followable
	}
	if payload.Hidden != nil {
		hidden = *payload.Hidden
	}

	ch, err = s.store.UpdateChannelFlags(r.Context(), id, followable, hidden)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to update channel")
		return
	}
	RespondWithJSON(w, http.StatusOK, ch)
}

// handleCheckChannels runs the watcher synchronously, for every watchable
// channel or for the one named by ?channel_id=.
func (s *Server) handleCheckChannels(w http.ResponseWriter, r *http.Request) {
	var channelID *int64
	if raw := r.URL.Query().Get("channel_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			RespondWithError(w, http.StatusBadRequest, "Invalid channel_id")
			return
		}
		channelID = &id
	}

	report, err := s.app.Watcher().CheckChannels(r.Context(), channelID)
	if errors.Is(err, store.ErrNotFound) {
		RespondWithError(w, http.StatusNotFound, "Channel not found")
		return
	}
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Channel check failed")
		return
	}
	RespondWithJSON(w, http.StatusOK, report)
}
