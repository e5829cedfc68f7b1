// Package humantask serves manual and approval steps. Both suspend
// immediately and stay running until an external completion callback
// arrives or the configured deadline elapses; the engine's scheduler owns
// the timeout handling.
package humantask

import (
	"context"
	"time"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
)

type Handler struct {
	stepType models.StepType
}

func NewHandler(stepType models.StepType) *Handler {
	return &Handler{stepType: stepType}
}

func (h *Handler) Type() models.StepType {
	return h.stepType
}

func (h *Handler) Execute(ctx context.Context, req protocol.Request) (protocol.Outcome, error) {
	var deadline *time.Time

	if timeout := req.Step.Timeout(); timeout > 0 {
		t := req.StepInstance.StartedAt.Add(timeout)
		deadline = &t
	}

	req.Logger.InfoContext(ctx, "Step suspended awaiting completion callback",
		"step_id", req.Step.ID,
		"step_type", h.stepType,
		"deadline", deadline,
	)

	return protocol.Suspended(deadline), nil
}
