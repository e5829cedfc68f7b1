// Package integration executes integration steps. Synchronous integrations
// behave like automated steps; integrations whose config declares an
// asynchronous external call suspend until a completion callback arrives,
// so no worker is held hostage by a slow remote system.
package integration

import (
	"context"
	"errors"
	"time"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
)

const configAsync = "async"

type Handler struct {
	invoker protocol.Invoker
}

func NewHandler(invoker protocol.Invoker) *Handler {
	return &Handler{invoker: invoker}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeIntegration
}

func (h *Handler) Execute(ctx context.Context, req protocol.Request) (protocol.Outcome, error) {
	if isAsync(req.Step) {
		// The invoker starts the external call; its result arrives later
		// through CompleteStep. Cancellation of the remote side stays
		// best-effort with the collaborator.
		_, err := h.invoker(ctx, req.Step, req.StepInstance.Inputs)
		if err != nil {
			return failedOutcome(err), nil
		}

		var deadline *time.Time

		if timeout := req.Step.Timeout(); timeout > 0 {
			t := req.StepInstance.StartedAt.Add(timeout)
			deadline = &t
		}

		return protocol.Suspended(deadline), nil
	}

	outputs, err := h.invoker(ctx, req.Step, req.StepInstance.Inputs)
	if err != nil {
		return failedOutcome(err), nil
	}

	return protocol.Completed(outputs), nil
}

func isAsync(step *models.Step) bool {
	if v, ok := step.Config[configAsync]; ok {
		if b, isBool := v.AsBool(); isBool {
			return b
		}
	}

	return false
}

func failedOutcome(err error) protocol.Outcome {
	var stepErr *protocol.StepError
	if errors.As(err, &stepErr) {
		return protocol.Failed(stepErr.Message, stepErr.Retryable)
	}

	return protocol.Failed(err.Error(), false)
}
