package parallel

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
	return models.StepTypeParallel
}

func (f *Factory) Create(ctx context.Context) (protocol.StepHandler, error) {
	return NewHandler(), nil
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{models.ConfigJoinStepID},
		"properties": map[string]any{
			models.ConfigJoinStepID: map[string]any{"type": "string"},
			models.ConfigOnBranchFailure: map[string]any{
				"type": "string",
				"enum": []string{models.BranchFailureFailFast, models.BranchFailureWait},
			},
			models.ConfigEnabled: map[string]any{"type": "boolean"},
		},
	}
}
