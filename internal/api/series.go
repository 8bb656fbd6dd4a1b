package api

import (
	"net/http"
	"time"

	"nhkrec/internal/apperr"
	"nhkrec/internal/model"
)

func (s *Server) handleListSeries(w http.ResponseWriter, r *http.Request) {
	series, err := s.upstream.ListSeries(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if series == nil {
		series = []model.Series{}
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleResolveSeries(w http.ResponseWriter, r *http.Request) {
	seriesURL := r.URL.Query().Get("series_url")
	if seriesURL == "" {
		writeError(w, apperr.New(apperr.BadRequest, "series_url is required").WithField("series_url"))
		return
	}
	code, err := s.upstream.ResolveSeriesCode(r.Context(), seriesURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"seriesCode": code})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	seriesID := q.Get("series_id")
	seriesCode := q.Get("series_code")
	seriesURL := q.Get("series_url")

	if seriesID == "" && seriesCode == "" && seriesURL == "" {
		writeError(w, apperr.New(apperr.BadRequest, "one of series_id, series_code, series_url is required"))
		return
	}

	ctx := r.Context()
	if seriesID == "" {
		resolved, err := s.upstream.ResolveSeriesID(ctx, seriesCode, seriesURL)
		if err != nil {
			writeError(w, err)
			return
		}
		seriesID = resolved
	}

	horizon := s.cfg.EventsHorizon
	if raw := q.Get("horizon"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			horizon = d
		}
	}

	events, err := s.upstream.FetchEvents(ctx, seriesID, horizon)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []model.BroadcastEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
