package transform

import (
	"context"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
	"github.com/orchon/orchon/pkg/steps/automated"
)

type Factory struct {
	invoker protocol.Invoker
}

func NewFactory(invoker protocol.Invoker) *Factory {
	if invoker == nil {
		invoker = automated.ConfigInvoker
	}

	return &Factory{invoker: invoker}
}

func (f *Factory) Type() models.StepType {
	return models.StepTypeDataTransformation
}

func (f *Factory) Create(ctx context.Context) (protocol.StepHandler, error) {
	return NewHandler(f.invoker), nil
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			configMapping: map[string]any{
				"type": "object",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
		},
	}
}
