package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vrsandeep/setlist-go/internal/models"
	"github.com/vrsandeep/setlist-go/internal/store"
	"github.com/vrsandeep/setlist-go/internal/util"
)

func (s *Server) handleListSets(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	sets, err := s.store.ListSets(r.Context(), limit, offset)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve sets")
		return
	}
	if sets == nil {
		sets = []*models.Set{}
	}
	RespondWithJSON(w, http.StatusOK, sets)
}

func (s *Server) handleGetSet(w http.ResponseWriter, r *http.Request) {
	videoID, err := util.ExtractVideoID(chi.URLParam(r, "videoID"))
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	set, err := s.store.GetSetByVideoID(r.Context(), videoID)
	if errors.Is(err, store.ErrNotFound) {
		RespondWithError(w, http.StatusNotFound, "Set not found")
		return
	}
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve set")
		return
	}
	RespondWithJSON(w, http.StatusOK, set)
}

func (s *Server) handleGetTrack(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "trackID")
	if !ok {
		return
	}
	track, err := s.store.GetTrack(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		RespondWithError(w, http.StatusNotFound, "Track not found")
		return
	}
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve track")
		return
	}
	RespondWithJSON(w, http.StatusOK, track)
}
