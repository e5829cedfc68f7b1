package condition

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
	return models.StepTypeCondition
}

func (f *Factory) Create(ctx context.Context) (protocol.StepHandler, error) {
	return NewHandler(), nil
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			models.ConfigEnabled: map[string]any{"type": "boolean"},
		},
	}
}
