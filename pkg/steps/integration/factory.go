package integration

import (
	"context"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
	"github.com/orchon/orchon/pkg/steps/automated"
)

type Factory struct {
	invoker protocol.Invoker
}

// NewFactory creates a factory for integration steps. A nil invoker falls
// back to the config-echo invoker.
func NewFactory(invoker protocol.Invoker) *Factory {
	if invoker == nil {
		invoker = automated.ConfigInvoker
	}

	return &Factory{invoker: invoker}
}

func (f *Factory) Type() models.StepType {
	return models.StepTypeIntegration
}

func (f *Factory) Create(ctx context.Context) (protocol.StepHandler, error) {
	return NewHandler(f.invoker), nil
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			configAsync: map[string]any{"type": "boolean"},
			models.ConfigTimeoutSeconds: map[string]any{
				"type":    "number",
				"minimum": 0,
			},
			models.ConfigMaxAttempts: map[string]any{
				"type":    "number",
				"minimum": 1,
			},
		},
	}
}
