// Package api implements ApiSurface: the HTTP/JSON front door over Store,
// UpstreamClient and Scheduler, routed with chi the way the teacher's
// internal/api/server_routes_wiring.go wires its own router.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"nhkrec/internal/log"
	"nhkrec/internal/model"
	"nhkrec/internal/store"
)

// UpstreamSource is the upstream.Client contract ApiSurface depends on,
// narrowed for testability the way scheduler.UpstreamFetcher narrows it on
// the scheduler side.
type UpstreamSource interface {
	ListSeries(ctx context.Context) ([]model.Series, error)
	ResolveSeriesCode(ctx context.Context, seriesURL string) (string, error)
	ResolveSeriesID(ctx context.Context, seriesCode, seriesURL string) (string, error)
	FetchEvents(ctx context.Context, seriesID string, horizon time.Duration) ([]model.BroadcastEvent, error)
}

// SchedulerControl is the scheduler.Scheduler contract ApiSurface depends
// on: nudging reconciliation after a mutation and cancelling an in-flight
// capture when its reservation is deleted.
type SchedulerControl interface {
	TriggerReconcile()
	CancelForReservation(reservationID string)
}

// Config tunes ApiSurface's own behaviour, independent of Scheduler's.
type Config struct {
	EventsHorizon      time.Duration // default 7 days, mirrors scheduler.Config
	MutatingRateLimit  int           // requests per IP per window on mutating routes, default 60
	MutatingRateWindow time.Duration // default 1 minute
	RemuxFormat        string        // ffmpeg output format for downloads, default "adts"
}

func (c *Config) setDefaults() {
	if c.EventsHorizon <= 0 {
		c.EventsHorizon = 7 * 24 * time.Hour
	}
	if c.MutatingRateLimit <= 0 {
		c.MutatingRateLimit = 60
	}
	if c.MutatingRateWindow <= 0 {
		c.MutatingRateWindow = time.Minute
	}
	if c.RemuxFormat == "" {
		c.RemuxFormat = "adts"
	}
}

// Server is ApiSurface: it owns no state of its own beyond its
// dependencies and start time, handlers are thin per-request translations.
type Server struct {
	cfg       Config
	store     *store.Store
	upstream  UpstreamSource
	scheduler SchedulerControl
	logger    zerolog.Logger
	startedAt time.Time
}

// New builds a Server against its dependencies.
func New(cfg Config, st *store.Store, up UpstreamSource, sched SchedulerControl) *Server {
	cfg.setDefaults()
	return &Server{
		cfg:       cfg,
		store:     st,
		upstream:  up,
		scheduler: sched,
		logger:    log.WithComponent("api"),
		startedAt: time.Now(),
	}
}

// Router builds the chi.Router serving every ApiSurface route.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metricsHandler())

	mutate := rateLimit(s.cfg.MutatingRateLimit, s.cfg.MutatingRateWindow)

	r.Get("/series", s.handleListSeries)
	r.Get("/series/resolve", s.handleResolveSeries)
	r.Get("/events", s.handleListEvents)

	r.Get("/reservations", s.handleListReservations)
	r.With(mutate).Post("/reservation/single-event", s.handleCreateSingleEvent)
	r.With(mutate).Post("/reservation/watch-series", s.handleCreateWatchSeries)
	r.With(mutate).Delete("/reservations/{id}", s.handleDeleteReservation)

	r.Get("/recordings", s.handleListRecordings)
	r.With(mutate).Patch("/recordings/{id}/metadata", s.handlePatchRecordingMetadata)
	r.Get("/recordings/{id}/download", s.handleDownloadRecording)
	r.With(mutate).Post("/recordings/bulk-download", s.handleBulkDownloadRecordings)
	r.With(mutate).Delete("/recordings/{id}", s.handleDeleteRecording)
	r.Get("/recordings/{id}/recording.m3u8", s.handleRecordingPlaylist)
	r.Get("/recordings/{id}/segments/{segment}", s.handleRecordingSegment)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := log.ContextWithRequestID(r.Context(), chimiddleware.GetReqID(r.Context()))
		r = r.WithContext(ctx)
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		reqLogger := log.WithContext(ctx, s.logger)
		reqLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("handled request")
	})
}
