package capture

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"nhkrec/internal/apperr"
	"nhkrec/internal/log"
	"nhkrec/internal/model"
)

// DryRunWorker stands in for Worker when the daemon is started with
// --dry-run: it logs what it would have captured and immediately cancels
// the plan, without spawning a muxer or touching disk. Mirrors the
// prototype's `dry_run` scheduler flag and its "[DRY RUN]" log lines.
type DryRunWorker struct {
	leadIn  time.Duration
	tailOut time.Duration
	logger  zerolog.Logger
}

// NewDryRunWorker builds a DryRunWorker reporting the same LeadIn/TailOut a
// real Worker configured with cfg would, so the scheduler arms plans on
// identical timing in both modes.
func NewDryRunWorker(cfg Config) *DryRunWorker {
	cfg.setDefaults()
	return &DryRunWorker{leadIn: cfg.LeadIn, tailOut: cfg.TailOut, logger: log.WithComponent("capture.dryrun")}
}

func (w *DryRunWorker) LeadIn() time.Duration  { return w.leadIn }
func (w *DryRunWorker) TailOut() time.Duration { return w.tailOut }

// Run never spawns a muxer and does not wait for the plan's window: it steps
// the plan straight through arming, running and finalising to canceled and
// returns a Canceled error at once.
func (w *DryRunWorker) Run(ctx context.Context, plan *model.CapturePlan, onState func(model.CapturePlanState)) (*model.Recording, error) {
	w.logger.Info().
		Str("reservation_id", plan.ReservationID).
		Str("source_url", plan.SourceURL).
		Time("start", plan.Start).
		Time("end", plan.End).
		Msg("[DRY RUN] would capture")

	steps := newPlanStepper(onState)
	steps.arm(ctx, plan.ReservationID)
	steps.start(ctx, plan.ReservationID)
	steps.finalize(ctx, plan.ReservationID)
	steps.cancel(ctx, plan.ReservationID)

	w.logger.Info().Str("reservation_id", plan.ReservationID).Msg("[DRY RUN] capture skipped")
	return nil, apperr.New(apperr.Canceled, "dry-run: capture not performed")
}
