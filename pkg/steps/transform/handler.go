// Package transform executes data transformation steps: a declarative
// mapping from variable fields to output keys, evaluated against the
// instance's variable snapshot. Anything richer belongs to the
// collaborator through the invoker.
package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
)

const configMapping = "mapping"

type Handler struct {
	invoker protocol.Invoker
}

func NewHandler(invoker protocol.Invoker) *Handler {
	return &Handler{invoker: invoker}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeDataTransformation
}

func (h *Handler) Execute(ctx context.Context, req protocol.Request) (protocol.Outcome, error) {
	mapping, declared := mappingConfig(req.Step)
	if !declared {
		// No declarative mapping: the collaborator owns the transformation.
		outputs, err := h.invoker(ctx, req.Step, req.StepInstance.Inputs)
		if err != nil {
			var stepErr *protocol.StepError
			if errors.As(err, &stepErr) {
				return protocol.Failed(stepErr.Message, stepErr.Retryable), nil
			}

			return protocol.Failed(err.Error(), false), nil
		}

		return protocol.Completed(outputs), nil
	}

	snapshot := req.Variables.Snapshot()
	outputs := make(map[string]models.Value, len(mapping))

	for outputKey, sourceField := range mapping {
		field, ok := sourceField.AsString()
		if !ok {
			return protocol.Failed(
				fmt.Sprintf("mapping for %q must name a variable field", outputKey), false), nil
		}

		value, found := snapshot[field]
		if !found {
			return protocol.Failed(
				fmt.Sprintf("mapping for %q references unset variable %q", outputKey, field), false), nil
		}

		outputs[outputKey] = value
	}

	return protocol.Completed(outputs), nil
}

func mappingConfig(step *models.Step) (map[string]models.Value, bool) {
	v, ok := step.Config[configMapping]
	if !ok {
		return nil, false
	}

	mapping, isMap := v.AsMap()

	return mapping, isMap
}
