package loop

import (
	"context"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Type() models.StepType {
	return models.StepTypeLoop
}

func (f *Factory) Create(ctx context.Context) (protocol.StepHandler, error) {
	return NewHandler(), nil
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			models.ConfigMaxIterations: map[string]any{
				"type":    "number",
				"minimum": 1,
			},
			models.ConfigEnabled: map[string]any{"type": "boolean"},
		},
	}
}
