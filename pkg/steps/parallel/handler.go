// Package parallel fans an instance out into concurrent branches. The
// handler selects every branch edge as a route; the engine records the fork
// and holds the configured join step until the branches meet it.
package parallel

import (
	"context"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeParallel
}

func (h *Handler) Execute(ctx context.Context, req protocol.Request) (protocol.Outcome, error) {
	branches := branchTargets(req.Step)
	if len(branches) == 0 {
		return protocol.Failed("parallel step has no branch edges", false), nil
	}

	req.Logger.InfoContext(ctx, "Forking into parallel branches",
		"step_id", req.Step.ID,
		"branches", branches,
		"join_step_id", req.Step.JoinStepID(),
	)

	outcome := protocol.Completed(map[string]models.Value{
		"branch_count": models.Number(float64(len(branches))),
	})
	outcome.Routes = branches

	return outcome, nil
}

// branchTargets returns the edges marked as parallel branches, or every
// outgoing edge when none carries the marker.
func branchTargets(step *models.Step) []string {
	targets := make([]string, 0, len(step.Outgoing))

	for _, edge := range step.Outgoing {
		if edge.ParallelBranch {
			targets = append(targets, edge.TargetStepID)
		}
	}

	if len(targets) > 0 {
		return targets
	}

	for _, edge := range step.Outgoing {
		targets = append(targets, edge.TargetStepID)
	}

	return targets
}
