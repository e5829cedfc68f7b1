package automated

import (
	"context"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
)

// Factory creates automated step handlers.
type Factory struct {
	stepType models.StepType
	invoker  protocol.Invoker
}

// NewFactory creates a factory for automated steps. A nil invoker falls
// back to ConfigInvoker.
func NewFactory(invoker protocol.Invoker) *Factory {
	return newFactory(models.StepTypeAutomated, invoker)
}

func newFactory(stepType models.StepType, invoker protocol.Invoker) *Factory {
	if invoker == nil {
		invoker = ConfigInvoker
	}

	return &Factory{stepType: stepType, invoker: invoker}
}

func (f *Factory) Type() models.StepType {
	return f.stepType
}

func (f *Factory) Create(ctx context.Context) (protocol.StepHandler, error) {
	return NewHandler(f.stepType, f.invoker), nil
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			models.ConfigMaxAttempts: map[string]any{
				"type":    "number",
				"minimum": 1,
			},
			models.ConfigOptional: map[string]any{"type": "boolean"},
			models.ConfigEnabled:  map[string]any{"type": "boolean"},
		},
	}
}
