// Package loop repeats a section of the workflow while a guard holds. Each
// execution of the loop step bumps the reserved loop_count variable, then
// routes into the first guarded edge that is still satisfied; when no guard
// holds anymore the first unguarded edge is taken as the exit. A configured
// iteration cap turns a runaway loop into a terminal failure.
package loop

import (
	"context"
	"fmt"

	"github.com/orchon/orchon/pkg/audit"
	"github.com/orchon/orchon/pkg/conditions"
	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeLoop
}

func (h *Handler) Execute(ctx context.Context, req protocol.Request) (protocol.Outcome, error) {
	count := float64(0)
	if current, ok := req.Variables.Get(models.LoopCounterVariable); ok {
		count, _ = current.AsNumber()
	}

	count++

	if limit := req.Step.MaxIterations(); limit > 0 && int(count) > limit {
		req.Logger.WarnContext(ctx, "Loop iteration cap exceeded",
			"step_id", req.Step.ID,
			"iteration", int(count),
			"max_iterations", limit,
		)

		return protocol.Failed(protocol.ErrMessageLoopCapExceeded, false), nil
	}

	err := req.Variables.Set(ctx, models.LoopCounterVariable, models.Number(count), audit.EngineActor)
	if err != nil {
		return protocol.Outcome{}, fmt.Errorf("failed to bump loop counter: %w", err)
	}

	snapshot := req.Variables.Snapshot()

	for _, edge := range req.Step.Outgoing {
		if !edge.Guarded() {
			continue
		}

		result := conditions.Evaluate(edge.Conditions, edge.Logic, snapshot)

		for _, warning := range result.Warnings() {
			req.Logger.WarnContext(ctx, "Loop guard evaluation warning",
				"step_id", req.Step.ID,
				"target_step_id", edge.TargetStepID,
				"warning", warning,
			)
		}

		if result.Value {
			return loopOutcome(count, edge.TargetStepID), nil
		}
	}

	// No guard holds: exit through the first unguarded edge, or end the
	// branch when the loop has no exit edge.
	for _, edge := range req.Step.Outgoing {
		if !edge.Guarded() {
			return loopOutcome(count, edge.TargetStepID), nil
		}
	}

	outcome := protocol.Completed(map[string]models.Value{
		models.LoopCounterVariable: models.Number(count),
	})
	outcome.Routes = []string{}

	return outcome, nil
}

func loopOutcome(count float64, target string) protocol.Outcome {
	outcome := protocol.Completed(map[string]models.Value{
		models.LoopCounterVariable: models.Number(count),
	})
	outcome.Routes = []string{target}

	return outcome
}
