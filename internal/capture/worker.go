// Package capture runs one CaptureWorker per active CapturePlan: it spawns
// the external segment muxer, supervises it for the scheduled window, and
// decides whether the result is good enough to commit.
package capture

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nhkrec/internal/apperr"
	"nhkrec/internal/clock"
	"nhkrec/internal/hls"
	"nhkrec/internal/log"
	"nhkrec/internal/metrics"
	"nhkrec/internal/model"
	"nhkrec/internal/store"
)

// Config tunes CaptureWorker's timing and retry behaviour.
type Config struct {
	LeadIn          time.Duration // default 5s
	TailOut         time.Duration // default 30s
	SegmentDuration time.Duration // default 6s
	StopGrace       time.Duration // grace period before SIGKILL, default 10s
	MaxSpawnRetries int           // default 2
}

func (c *Config) setDefaults() {
	if c.LeadIn <= 0 {
		c.LeadIn = 5 * time.Second
	}
	if c.TailOut <= 0 {
		c.TailOut = 30 * time.Second
	}
	if c.SegmentDuration <= 0 {
		c.SegmentDuration = 6 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
	if c.MaxSpawnRetries <= 0 {
		c.MaxSpawnRetries = 2
	}
}

// Worker runs capture attempts against a Store, one CapturePlan at a time.
type Worker struct {
	cfg    Config
	clock  clock.Clock
	store  *store.Store
	logger zerolog.Logger
}

// New builds a Worker.
func New(cfg Config, clk clock.Clock, st *store.Store) *Worker {
	cfg.setDefaults()
	return &Worker{cfg: cfg, clock: clk, store: st, logger: log.WithComponent("capture")}
}

// LeadIn and TailOut expose the worker's configured arming/stop margins so
// the scheduler can compute plan.Start/plan.End offsets consistently.
func (w *Worker) LeadIn() time.Duration  { return w.cfg.LeadIn }
func (w *Worker) TailOut() time.Duration { return w.cfg.TailOut }

// Run executes one capture attempt for plan, blocking until the plan
// reaches a terminal state or ctx is canceled. onState is invoked on every
// CapturePlan.State transition, always under no lock held by the caller.
func (w *Worker) Run(ctx context.Context, plan *model.CapturePlan, onState func(model.CapturePlanState)) (rec *model.Recording, err error) {
	ctx = log.ContextWithReservationID(ctx, plan.ReservationID)
	logger := log.WithContext(ctx, w.logger)
	defer metrics.ObserveCaptureDuration(time.Now())
	defer func() {
		switch {
		case err == nil:
			metrics.CaptureOutcomesTotal.WithLabelValues("committed").Inc()
		case apperr.Is(err, apperr.Canceled):
			metrics.CaptureOutcomesTotal.WithLabelValues("canceled").Inc()
		default:
			metrics.CaptureOutcomesTotal.WithLabelValues("failed").Inc()
		}
	}()

	steps := newPlanStepper(onState)
	steps.arm(ctx, plan.ReservationID)
	if err := w.clock.SleepUntil(ctx, plan.Start); err != nil {
		return nil, apperr.Wrap(apperr.Canceled, err, "canceled while arming")
	}

	stagingDir := plan.OutputDir
	if err := ensureDir(filepath.Join(stagingDir, "segments")); err != nil {
		return nil, err
	}

	stopDeadline := plan.End.Add(w.cfg.TailOut)
	remaining := stopDeadline.Sub(w.clock.Now())
	if remaining < 60*time.Second {
		return nil, apperr.New(apperr.CaptureFailed, "remaining capture window below 60s floor")
	}

	scheduledDuration := plan.End.Sub(plan.Start)

	spec := MuxerSpec{
		SourceURL:       plan.SourceURL,
		PlaylistPath:    filepath.Join(stagingDir, "recording.m3u8"),
		SegmentPattern:  filepath.Join(stagingDir, "segments", "%05d.ts"),
		SegmentDuration: w.cfg.SegmentDuration,
		TotalDuration:   remaining,
	}

	steps.start(ctx, plan.ReservationID)
	handle, err := w.startWithRetry(ctx, spec)
	if err != nil {
		_ = os.RemoveAll(stagingDir)
		return nil, err
	}

	stopTimer := time.NewTimer(time.Until(stopDeadline))
	defer stopTimer.Stop()

	select {
	case <-handle.Done():
		logger.Info().Msg("muxer exited on its own")
	case <-stopTimer.C:
		logger.Info().Msg("stop deadline reached, requesting graceful termination")
		handle.Stop(w.cfg.StopGrace)
		<-handle.Done()
	case <-ctx.Done():
		logger.Info().Msg("canceled, requesting graceful termination")
		handle.Stop(w.cfg.StopGrace)
		<-handle.Done()
		steps.cancel(ctx, plan.ReservationID)
		_ = os.RemoveAll(stagingDir)
		return nil, apperr.Wrap(apperr.Canceled, ctx.Err(), "capture canceled")
	}

	steps.finalize(ctx, plan.ReservationID)
	rec, err = w.finalize(plan, stagingDir, scheduledDuration)
	if err != nil {
		_ = os.RemoveAll(stagingDir)
		steps.fail(ctx, plan.ReservationID)
		return nil, err
	}

	if err := w.store.AtomicCommitRecording(ctx, rec, stagingDir); err != nil {
		steps.fail(ctx, plan.ReservationID)
		return nil, err
	}
	steps.commit(ctx, plan.ReservationID)
	return rec, nil
}

func (w *Worker) startWithRetry(ctx context.Context, spec MuxerSpec) (*Handle, error) {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxSpawnRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, apperr.Wrap(apperr.Canceled, ctx.Err(), "canceled before muxer retry")
			case <-time.After(2 * time.Second):
			}
		}
		h, err := Start(ctx, spec)
		if err == nil {
			return h, nil
		}
		lastErr = err
		logger := log.WithContext(ctx, w.logger)
		logger.Error().Err(err).Int("attempt", attempt+1).Msg("muxer spawn failed")
	}
	return nil, apperr.Wrap(apperr.CaptureFailed, lastErr, "muxer spawn failed after retries")
}

// finalize applies the commit policy to the staged tree and builds the
// Recording to commit, or returns an error if the capture should be
// rejected.
func (w *Worker) finalize(plan *model.CapturePlan, stagingDir string, scheduledDuration time.Duration) (*model.Recording, error) {
	playlistPath := filepath.Join(stagingDir, "recording.m3u8")
	data, err := os.ReadFile(playlistPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.CaptureFailed, err, "playlist missing")
	}
	pl, err := hls.Parse(string(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.CaptureFailed, err, "playlist unparsable")
	}
	if len(pl.Segments) == 0 {
		return nil, apperr.New(apperr.CaptureFailed, "no segments captured")
	}

	floor := scheduledDuration.Seconds() * 0.5
	if floor > 60 {
		floor = 60
	}
	if pl.TotalDuration() < floor {
		return nil, apperr.Newf(apperr.CaptureFailed, "captured duration %.1fs below floor %.1fs", pl.TotalDuration(), floor)
	}

	last := pl.Segments[len(pl.Segments)-1]
	lastPath := filepath.Join(stagingDir, "segments", filepath.Base(last.URI))
	info, err := os.Stat(lastPath)
	if err != nil || info.Size() == 0 {
		return nil, apperr.New(apperr.CaptureFailed, "last segment missing or empty")
	}

	var size int64
	for _, s := range pl.Segments {
		if fi, err := os.Stat(filepath.Join(stagingDir, "segments", filepath.Base(s.URI))); err == nil {
			size += fi.Size()
		}
	}

	return &model.Recording{
		ID:            uuid.NewString(),
		ReservationID: plan.ReservationID,
		Event:         plan.Event,
		CreatedAt:     w.clock.Now().UTC(),
		SizeBytes:     size,
		DurationSec:   pl.TotalDuration(),
	}, nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.StorageIO, err, "create directory")
	}
	return nil
}
