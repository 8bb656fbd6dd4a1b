package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"nhkrec/internal/model"
)

func TestPlanStepperWalksHappyPath(t *testing.T) {
	var seen []model.CapturePlanState
	steps := newPlanStepper(func(s model.CapturePlanState) { seen = append(seen, s) })
	ctx := context.Background()

	steps.arm(ctx, "r1")
	steps.start(ctx, "r1")
	steps.finalize(ctx, "r1")
	steps.commit(ctx, "r1")

	require.Equal(t, []model.CapturePlanState{
		model.PlanArming, model.PlanRunning, model.PlanFinalising, model.PlanCommitted,
	}, seen)
}

func TestPlanStepperCancelFromRunning(t *testing.T) {
	var seen []model.CapturePlanState
	steps := newPlanStepper(func(s model.CapturePlanState) { seen = append(seen, s) })
	ctx := context.Background()

	steps.arm(ctx, "r1")
	steps.start(ctx, "r1")
	steps.cancel(ctx, "r1")

	require.Equal(t, []model.CapturePlanState{
		model.PlanArming, model.PlanRunning, model.PlanCanceled,
	}, seen)
}

func TestPlanStepperFailFromFinalising(t *testing.T) {
	var seen []model.CapturePlanState
	steps := newPlanStepper(func(s model.CapturePlanState) { seen = append(seen, s) })
	ctx := context.Background()

	steps.arm(ctx, "r1")
	steps.start(ctx, "r1")
	steps.finalize(ctx, "r1")
	steps.fail(ctx, "r1")

	require.Equal(t, []model.CapturePlanState{
		model.PlanArming, model.PlanRunning, model.PlanFinalising, model.PlanFailed,
	}, seen)
}

func TestPlanStepperRejectsOutOfOrderTransition(t *testing.T) {
	var seen []model.CapturePlanState
	steps := newPlanStepper(func(s model.CapturePlanState) { seen = append(seen, s) })
	ctx := context.Background()

	steps.commit(ctx, "r1") // no arm/start/finalize yet; scheduled->commit is invalid

	require.Empty(t, seen)
}
