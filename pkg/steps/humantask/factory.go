package humantask

import (
	"context"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
)

// Factory creates human task handlers for a single step type.
type Factory struct {
	stepType models.StepType
}

// NewManualFactory creates a factory for manual steps.
func NewManualFactory() *Factory {
	return &Factory{stepType: models.StepTypeManual}
}

// NewApprovalFactory creates a factory for approval steps.
func NewApprovalFactory() *Factory {
	return &Factory{stepType: models.StepTypeApproval}
}

func (f *Factory) Type() models.StepType {
	return f.stepType
}

func (f *Factory) Create(ctx context.Context) (protocol.StepHandler, error) {
	return NewHandler(f.stepType), nil
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			models.ConfigTimeoutSeconds: map[string]any{
				"type":    "number",
				"minimum": 1,
			},
			models.ConfigAutoEscalate: map[string]any{"type": "boolean"},
			models.ConfigOptional:     map[string]any{"type": "boolean"},
			models.ConfigEnabled:      map[string]any{"type": "boolean"},
		},
	}
}
