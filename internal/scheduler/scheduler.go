// Package scheduler owns the live set of CapturePlans and the periodic
// reconciliation tick that keeps them in sync with the Store's reservations,
// the way internal/dvr's SeriesEngine/Scheduler pair keeps receiver timers in
// sync with series rules.
package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nhkrec/internal/apperr"
	"nhkrec/internal/log"
	"nhkrec/internal/metrics"
	"nhkrec/internal/model"
	"nhkrec/internal/store"
)

// Clock is the time seam Scheduler and CaptureWorker share.
type Clock interface {
	Now() time.Time
	SleepUntil(ctx context.Context, target time.Time) error
}

// CaptureRunner is the capture.Worker contract Scheduler depends on, kept
// narrow so a dry-run no-op can stand in for it.
type CaptureRunner interface {
	Run(ctx context.Context, plan *model.CapturePlan, onState func(model.CapturePlanState)) (*model.Recording, error)
	LeadIn() time.Duration
	TailOut() time.Duration
}

// UpstreamFetcher is the upstream.Client contract Scheduler depends on,
// narrowed the way internal/dvr/engine.go's EpgProvider/TimerClient narrow
// their receiver and EPG dependencies for testability.
type UpstreamFetcher interface {
	ResolveSeriesID(ctx context.Context, seriesCode, seriesURL string) (string, error)
	FetchEvents(ctx context.Context, seriesID string, horizon time.Duration) ([]model.BroadcastEvent, error)
	FetchHLSSource(ctx context.Context, serviceID model.ServiceID, areaID string) (string, error)
}

// Config tunes reconciliation timing.
type Config struct {
	ReconcileInterval time.Duration // default 30s
	SchedulingHorizon time.Duration // how far ahead to arm SingleEvent plans, default 25h
	EventsHorizon     time.Duration // how far ahead to fetch events for a SeriesWatch, default 7 days
	GraceInterval     time.Duration // how long a plan may sit unstarted past its start before being reaped, default 5m
}

func (c *Config) setDefaults() {
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 30 * time.Second
	}
	if c.SchedulingHorizon <= 0 {
		c.SchedulingHorizon = 25 * time.Hour
	}
	if c.EventsHorizon <= 0 {
		c.EventsHorizon = 7 * 24 * time.Hour
	}
	if c.GraceInterval <= 0 {
		c.GraceInterval = 5 * time.Minute
	}
}

// Scheduler owns live CapturePlans and drives reconciliation against Store
// and UpstreamClient.
type Scheduler struct {
	cfg      Config
	store    *store.Store
	upstream UpstreamFetcher
	worker   CaptureRunner
	clock    Clock
	logger   zerolog.Logger

	mu    sync.Mutex
	plans map[string]*model.CapturePlan
	wake  chan struct{}
}

// New builds a Scheduler against its dependencies.
func New(cfg Config, st *store.Store, up UpstreamFetcher, worker CaptureRunner, clk Clock) *Scheduler {
	cfg.setDefaults()
	return &Scheduler{
		cfg:      cfg,
		store:    st,
		upstream: up,
		worker:   worker,
		clock:    clk,
		logger:   log.WithComponent("scheduler"),
		plans:    make(map[string]*model.CapturePlan),
		wake:     make(chan struct{}, 1),
	}
}

// TriggerReconcile requests an out-of-band reconciliation tick, e.g. right
// after a reservation is created through ApiSurface, without waiting for the
// next scheduled tick. Non-blocking: a tick already pending is sufficient.
func (s *Scheduler) TriggerReconcile() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the reconciliation loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.cfg.ReconcileInterval).Msg("scheduler started")
	timer := time.NewTimer(s.cfg.ReconcileInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopping")
			return
		case <-timer.C:
		case <-s.wake:
		}

		tickStart := time.Now()
		err := s.reconcile(ctx)
		metrics.ObserveReconcileDuration(tickStart)
		if err != nil {
			metrics.ReconcileTicksTotal.WithLabelValues("failure").Inc()
			s.logger.Error().Err(err).Msg("reconciliation tick aborted")
		} else {
			metrics.ReconcileTicksTotal.WithLabelValues("success").Inc()
		}
		metrics.LivePlans.Set(float64(s.PlanCount()))
		timer.Reset(s.cfg.ReconcileInterval)
	}
}

// PlanCount reports the number of live CapturePlans, for the live-plans
// metric and tests.
func (s *Scheduler) PlanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plans)
}

// reconcile runs one reconciliation tick. Store failures abort the tick
// atomically (no observable mutation past the point of failure);
// UpstreamClient failures are logged and skipped per series/plan.
func (s *Scheduler) reconcile(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservations, err := s.store.ListReservations(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageIO, err, "list reservations for reconciliation")
	}

	s.materializeSeriesWatches(ctx, reservations)

	reservations, err = s.store.ListReservations(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageIO, err, "re-list reservations after materialization")
	}

	live := make(map[string]bool, len(reservations))
	now := s.clock.Now()
	for _, r := range reservations {
		live[r.ID] = true
		if !r.IsSingleEvent() || r.Status != model.StatusPending {
			continue
		}
		if _, armed := s.plans[r.ID]; armed {
			continue
		}
		if r.Event.End.Before(now) {
			s.logger.Warn().Str(log.FieldReservationID, r.ID).Msg("reservation's event fully elapsed before a plan was ever armed")
			s.setReservationStatus(r.ID, model.StatusFailed, "")
			continue
		}
		if r.Event.Start.Sub(now) > s.cfg.SchedulingHorizon {
			continue
		}
		s.arm(ctx, r)
	}

	for id, plan := range s.plans {
		switch {
		case !live[id]:
			s.reap(id, plan, "reservation deleted")
		case plan.State == model.PlanScheduled && now.Sub(plan.Start) > s.cfg.GraceInterval:
			s.reap(id, plan, "start passed grace interval with no running worker")
		}
	}

	return nil
}

// resolveWatchSeriesID prefers watch.SeriesCode over watch.SeriesID, the
// same preference original_source/backend/app.py's _expand_series_watchers
// applies (`series_key = series_code or series_id`), resolving a code to
// its numeric series id via UpstreamClient's cached series list the same
// way ApiSurface's /events handler already does when only a code is given.
func (s *Scheduler) resolveWatchSeriesID(ctx context.Context, watch *model.Reservation) (string, error) {
	if watch.SeriesCode != "" {
		return s.upstream.ResolveSeriesID(ctx, watch.SeriesCode, "")
	}
	if watch.SeriesID != "" {
		return watch.SeriesID, nil
	}
	return "", apperr.New(apperr.BadRequest, "series watch has neither series_code nor series_id")
}

// materializeSeriesWatches fetches upstream events for every SeriesWatch
// reservation and turns unseen ones into SingleEvent children, persisting
// each watch's extended seen set alongside its new children in one Store
// transaction. A fetch failure for one watch is logged and skipped; it does
// not affect other watches in the same tick.
func (s *Scheduler) materializeSeriesWatches(ctx context.Context, reservations []*model.Reservation) {
	for _, watch := range reservations {
		if !watch.IsSeriesWatch() {
			continue
		}

		seriesID, err := s.resolveWatchSeriesID(ctx, watch)
		if err != nil {
			s.logger.Warn().Err(err).Str(log.FieldSeriesID, watch.SeriesCode).Msg("resolve series watch identifier failed during reconciliation; skipping series")
			continue
		}

		events, err := s.upstream.FetchEvents(ctx, seriesID, s.cfg.EventsHorizon)
		if err != nil {
			s.logger.Warn().Err(err).Str(log.FieldSeriesID, seriesID).Msg("fetch events failed during reconciliation; skipping series")
			continue
		}

		updatedWatch := *watch
		updatedWatch.SeenEvents = make(map[string]bool, len(watch.SeenEvents))
		for k, v := range watch.SeenEvents {
			updatedWatch.SeenEvents[k] = v
		}

		var toPersist []*model.Reservation
		for _, ev := range events {
			if watch.HasSeen(ev.BroadcastEventID) {
				continue
			}
			if watch.AreaFilter != "" && ev.AreaID != watch.AreaFilter {
				continue
			}
			toPersist = append(toPersist, &model.Reservation{
				ID:        uuid.NewString(),
				Kind:      model.KindSingleEvent,
				CreatedAt: s.clock.Now().UTC(),
				SeriesID:  watch.SeriesID,
				Event:     ev,
				Status:    model.StatusPending,
				WatchID:   watch.ID,
			})
			updatedWatch.MarkSeen(ev.BroadcastEventID)
		}
		if len(toPersist) == 0 {
			continue
		}
		toPersist = append(toPersist, &updatedWatch)

		if err := s.store.PutReservations(ctx, toPersist); err != nil {
			s.logger.Error().Err(err).Str(log.FieldSeriesID, watch.SeriesID).Msg("failed to persist materialized series-watch children")
			continue
		}
		s.logger.Info().Str(log.FieldSeriesID, watch.SeriesID).Int("new_children", len(toPersist)-1).Msg("materialized series-watch children")
	}
}

// arm resolves the reservation's HLS source and starts a CaptureWorker for
// it in the background. A resolution failure is logged and deferred to the
// next tick rather than failing the reservation outright, since the source
// table may simply be mid-refresh.
func (s *Scheduler) arm(ctx context.Context, r *model.Reservation) {
	plan := &model.CapturePlan{
		ReservationID: r.ID,
		Event:         r.Event,
		Start:         r.Event.Start.Add(-s.worker.LeadIn()),
		End:           r.Event.End,
		OutputDir:     filepath.Join(s.store.StagingRoot(), r.ID),
		State:         model.PlanScheduled,
	}

	sourceURL, err := s.upstream.FetchHLSSource(ctx, r.Event.ServiceID, r.Event.AreaID)
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldReservationID, r.ID).Msg("resolve hls source failed; deferring arming to next tick")
		return
	}
	plan.SourceURL = sourceURL

	planCtx, cancel := context.WithCancel(context.Background())
	plan.Cancel = cancel
	s.plans[r.ID] = plan

	go s.runPlan(planCtx, plan)
}

// runPlan supervises one CapturePlan to completion and reflects the outcome
// onto the reservation. It runs outside the scheduler lock so a long capture
// never blocks reconciliation.
func (s *Scheduler) runPlan(ctx context.Context, plan *model.CapturePlan) {
	onState := func(st model.CapturePlanState) {
		s.mu.Lock()
		plan.State = st
		s.mu.Unlock()
		if st == model.PlanRunning {
			s.setReservationStatus(plan.ReservationID, model.StatusInProgress, "")
		}
	}

	rec, err := s.worker.Run(ctx, plan, onState)

	switch {
	case err == nil:
		recordingID := ""
		if rec != nil {
			recordingID = rec.ID
		}
		s.setReservationStatus(plan.ReservationID, model.StatusDone, recordingID)
	case apperr.Is(err, apperr.Canceled):
		s.setReservationStatus(plan.ReservationID, model.StatusCanceled, "")
	default:
		s.logger.Error().Err(err).Str(log.FieldReservationID, plan.ReservationID).Msg("capture failed")
		s.setReservationStatus(plan.ReservationID, model.StatusFailed, "")
	}

	s.mu.Lock()
	delete(s.plans, plan.ReservationID)
	s.mu.Unlock()
}

// CancelForReservation immediately cancels and forgets any live CapturePlan
// for reservationID. ApiSurface calls this right after deleting a
// reservation so an active capture is stopped without waiting for the next
// reconciliation tick to reap it.
func (s *Scheduler) CancelForReservation(reservationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if plan, ok := s.plans[reservationID]; ok {
		s.reap(reservationID, plan, "reservation deleted via API")
	}
}

// reap cancels and forgets a plan. Called under s.mu.
func (s *Scheduler) reap(id string, plan *model.CapturePlan, reason string) {
	s.logger.Info().Str(log.FieldReservationID, id).Str("reason", reason).Msg("reaping capture plan")
	if plan.Cancel != nil {
		plan.Cancel()
	}
	delete(s.plans, id)
}

// setReservationStatus loads, mutates, and persists a reservation's status.
// A concurrent deletion (NotFound) is not an error; any other Store failure
// is logged, since by this point the capture outcome itself is already
// final and cannot be retried by the caller.
func (s *Scheduler) setReservationStatus(id string, status model.ReservationStatus, recordingID string) {
	r, err := s.store.GetReservation(context.Background(), id)
	if err != nil {
		if !apperr.Is(err, apperr.NotFound) {
			s.logger.Error().Err(err).Str(log.FieldReservationID, id).Msg("failed to load reservation for status update")
		}
		return
	}
	r.Status = status
	if recordingID != "" {
		r.RecordingID = recordingID
	}
	if err := s.store.PutReservation(context.Background(), r); err != nil {
		s.logger.Error().Err(err).Str(log.FieldReservationID, id).Msg("failed to persist reservation status update")
	}
}
