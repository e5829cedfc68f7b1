// Package condition routes an instance down the first outgoing edge whose
// guard is satisfied. Edges are evaluated in declaration order; an
// unguarded edge acts as the default branch. When no edge matches, the
// step completes with no successor and the branch ends.
package condition

import (
	"context"

	"github.com/orchon/orchon/pkg/conditions"
	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeCondition
}

func (h *Handler) Execute(ctx context.Context, req protocol.Request) (protocol.Outcome, error) {
	snapshot := req.Variables.Snapshot()

	for _, edge := range req.Step.Outgoing {
		result := conditions.Evaluate(edge.Conditions, edge.Logic, snapshot)

		for _, warning := range result.Warnings() {
			req.Logger.WarnContext(ctx, "Condition evaluation warning",
				"step_id", req.Step.ID,
				"target_step_id", edge.TargetStepID,
				"warning", warning,
			)
		}

		if result.Value {
			outcome := protocol.Completed(map[string]models.Value{
				"selected":    models.String(edge.TargetStepID),
				"diagnostics": result.MetadataValue(),
			})
			outcome.Routes = []string{edge.TargetStepID}

			return outcome, nil
		}
	}

	req.Logger.InfoContext(ctx, "No condition edge matched, branch ends",
		"step_id", req.Step.ID,
	)

	outcome := protocol.Completed(nil)
	outcome.Routes = []string{}

	return outcome, nil
}
