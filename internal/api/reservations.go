package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"nhkrec/internal/apperr"
	"nhkrec/internal/model"
)

func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	reservations, err := s.store.ListReservations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if reservations == nil {
		reservations = []*model.Reservation{}
	}
	writeJSON(w, http.StatusOK, reservations)
}

// newReservationPastGrace is the small tolerance spec.md §3 allows between
// an event's start and "now" for a newly created reservation, so a client
// racing the clock by a few seconds isn't rejected outright. Reservations
// materialised just-in-time by the scheduler (series-watch children) skip
// this check entirely since they're never user-submitted.
const newReservationPastGrace = 10 * time.Second

type singleEventRequest struct {
	SeriesID   string               `json:"series_id"`
	SeriesCode string               `json:"series_code,omitempty"`
	Event      model.BroadcastEvent `json:"event"`
}

func (s *Server) handleCreateSingleEvent(w http.ResponseWriter, r *http.Request) {
	var req singleEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.BadRequest, "malformed JSON body"))
		return
	}
	if req.SeriesID == "" {
		writeError(w, apperr.New(apperr.BadRequest, "series_id is required").WithField("series_id"))
		return
	}
	if req.Event.BroadcastEventID == "" {
		writeError(w, apperr.New(apperr.BadRequest, "event.broadcastEventId is required").WithField("event"))
		return
	}
	if !req.Event.End.After(req.Event.Start) {
		writeError(w, apperr.New(apperr.BadRequest, "event.end must be after event.start").WithField("event"))
		return
	}
	if time.Since(req.Event.Start) > newReservationPastGrace {
		writeError(w, apperr.New(apperr.BadRequest, "event.start is too far in the past").WithField("event"))
		return
	}

	ctx := r.Context()
	existing, err := s.store.ListReservations(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, existingRes := range existing {
		if existingRes.IsSingleEvent() && existingRes.Event.BroadcastEventID == req.Event.BroadcastEventID && existingRes.SeriesID == req.SeriesID {
			writeError(w, apperr.Newf(apperr.Conflict, "a reservation for broadcast event %s in series %s already exists", req.Event.BroadcastEventID, req.SeriesID))
			return
		}
	}

	reservation := &model.Reservation{
		ID:        uuid.NewString(),
		Kind:      model.KindSingleEvent,
		CreatedAt: time.Now().UTC(),
		SeriesID:  req.SeriesID,
		Event:     req.Event,
		Status:    model.StatusPending,
	}
	if err := s.store.PutReservation(ctx, reservation); err != nil {
		writeError(w, err)
		return
	}
	s.scheduler.TriggerReconcile()
	writeJSON(w, http.StatusCreated, reservation)
}

type watchSeriesRequest struct {
	SeriesID              string   `json:"series_id"`
	SeriesCode            string   `json:"series_code,omitempty"`
	AreaID                string   `json:"area_id,omitempty"`
	SeenBroadcastEventIDs []string `json:"seen_broadcast_event_ids,omitempty"`
	DisplayTitle          string   `json:"display_title,omitempty"`
}

func (s *Server) handleCreateWatchSeries(w http.ResponseWriter, r *http.Request) {
	var req watchSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.BadRequest, "malformed JSON body"))
		return
	}
	if req.SeriesID == "" && req.SeriesCode == "" {
		writeError(w, apperr.New(apperr.BadRequest, "one of series_id, series_code is required").WithField("series_id"))
		return
	}

	seen := make(map[string]bool, len(req.SeenBroadcastEventIDs))
	for _, id := range req.SeenBroadcastEventIDs {
		seen[id] = true
	}

	reservation := &model.Reservation{
		ID:           uuid.NewString(),
		Kind:         model.KindSeriesWatch,
		CreatedAt:    time.Now().UTC(),
		SeriesID:     req.SeriesID,
		SeriesCode:   req.SeriesCode,
		AreaFilter:   req.AreaID,
		SeenEvents:   seen,
		DisplayTitle: req.DisplayTitle,
	}
	ctx := r.Context()
	if err := s.store.PutReservation(ctx, reservation); err != nil {
		writeError(w, err)
		return
	}
	s.scheduler.TriggerReconcile()
	writeJSON(w, http.StatusCreated, reservation)
}

func (s *Server) handleDeleteReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteReservation(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.scheduler.CancelForReservation(id)
	w.WriteHeader(http.StatusNoContent)
}
