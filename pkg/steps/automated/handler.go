// Package automated executes automated steps by delegating the opaque step
// work to the collaborator-supplied invoker.
package automated

import (
	"context"
	"errors"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
)

// Handler runs automated steps. The engine does not interpret the step
// config; the invoker owns it, and declares through StepError whether a
// failure is transient.
type Handler struct {
	stepType models.StepType
	invoker  protocol.Invoker
}

// NewHandler creates a handler for the given automated step type.
func NewHandler(stepType models.StepType, invoker protocol.Invoker) *Handler {
	return &Handler{stepType: stepType, invoker: invoker}
}

func (h *Handler) Type() models.StepType {
	return h.stepType
}

func (h *Handler) Execute(ctx context.Context, req protocol.Request) (protocol.Outcome, error) {
	outputs, err := h.invoker(ctx, req.Step, req.StepInstance.Inputs)
	if err != nil {
		var stepErr *protocol.StepError
		if errors.As(err, &stepErr) {
			return protocol.Failed(stepErr.Message, stepErr.Retryable), nil
		}

		// Unclassified errors are terminal; only the collaborator may
		// declare a failure transient.
		return protocol.Failed(err.Error(), false), nil
	}

	return protocol.Completed(outputs), nil
}

// ConfigInvoker is the default invoker: it echoes the step config's
// "outputs" map and honors the "fail_message"/"retryable" keys, which is
// enough for embedding tests and for definitions whose steps carry static
// results. Deployments replace it with a real collaborator callback.
func ConfigInvoker(ctx context.Context, step *models.Step, inputs map[string]models.Value) (map[string]models.Value, error) {
	if v, ok := step.Config["fail_message"]; ok {
		if message, isStr := v.AsString(); isStr && message != "" {
			retryable := false
			if r, exists := step.Config["retryable"]; exists {
				retryable, _ = r.AsBool()
			}

			return nil, &protocol.StepError{Message: message, Retryable: retryable}
		}
	}

	if v, ok := step.Config["outputs"]; ok {
		if outputs, isMap := v.AsMap(); isMap {
			return models.CloneMap(outputs), nil
		}
	}

	return map[string]models.Value{}, nil
}
