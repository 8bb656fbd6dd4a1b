package capture

import (
	"context"

	"nhkrec/internal/fsm"
	"nhkrec/internal/log"
	"nhkrec/internal/model"
)

// planEvent is the closed set of transitions a CapturePlan can undergo.
type planEvent string

const (
	evArm      planEvent = "arm"
	evStart    planEvent = "start"
	evFinalize planEvent = "finalize"
	evCommit   planEvent = "commit"
	evFail     planEvent = "fail"
	evCancel   planEvent = "cancel"
)

func planTransitions() []fsm.Transition[model.CapturePlanState, planEvent] {
	return []fsm.Transition[model.CapturePlanState, planEvent]{
		{From: model.PlanScheduled, Event: evArm, To: model.PlanArming},
		{From: model.PlanArming, Event: evStart, To: model.PlanRunning},
		{From: model.PlanRunning, Event: evFinalize, To: model.PlanFinalising},
		{From: model.PlanRunning, Event: evCancel, To: model.PlanCanceled},
		{From: model.PlanFinalising, Event: evCommit, To: model.PlanCommitted},
		{From: model.PlanFinalising, Event: evFail, To: model.PlanFailed},
		{From: model.PlanFinalising, Event: evCancel, To: model.PlanCanceled},
	}
}

// planStepper drives a CapturePlan through its lifecycle, rejecting any
// transition sequence Worker or DryRunWorker didn't anticipate, and
// forwarding every accepted state onto onState for the scheduler to observe.
type planStepper struct {
	machine *fsm.Machine[model.CapturePlanState, planEvent]
	onState func(model.CapturePlanState)
}

func newPlanStepper(onState func(model.CapturePlanState)) *planStepper {
	m, err := fsm.New(model.PlanScheduled, planTransitions())
	if err != nil {
		// planTransitions() is a fixed literal with no duplicate edges; a
		// failure here is a programming error, not a runtime condition.
		panic(err)
	}
	return &planStepper{machine: m, onState: onState}
}

func (p *planStepper) fire(ctx context.Context, ev planEvent, reservationID string) {
	to, err := p.machine.Fire(ctx, ev)
	if err != nil {
		logger := log.WithComponent("capture")
		logger.Error().Err(err).
			Str("reservation_id", reservationID).
			Str("event", string(ev)).
			Msg("rejected capture plan transition")
		return
	}
	p.onState(to)
}

func (p *planStepper) arm(ctx context.Context, reservationID string)      { p.fire(ctx, evArm, reservationID) }
func (p *planStepper) start(ctx context.Context, reservationID string)    { p.fire(ctx, evStart, reservationID) }
func (p *planStepper) finalize(ctx context.Context, reservationID string) { p.fire(ctx, evFinalize, reservationID) }
func (p *planStepper) commit(ctx context.Context, reservationID string)   { p.fire(ctx, evCommit, reservationID) }
func (p *planStepper) fail(ctx context.Context, reservationID string)     { p.fire(ctx, evFail, reservationID) }
func (p *planStepper) cancel(ctx context.Context, reservationID string)   { p.fire(ctx, evCancel, reservationID) }
