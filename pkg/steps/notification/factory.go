package notification

import (
	"context"
	"log/slog"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
)

// Factory creates notification step handlers bound to one delivery sink.
type Factory struct {
	notifier Notifier
}

// NewFactory creates a notification factory. A nil notifier falls back to
// the structured-log sink.
func NewFactory(notifier Notifier) *Factory {
	if notifier == nil {
		notifier = NewSlogNotifier(slog.Default())
	}

	return &Factory{notifier: notifier}
}

func (f *Factory) Type() models.StepType {
	return models.StepTypeNotification
}

func (f *Factory) Create(ctx context.Context) (protocol.StepHandler, error) {
	return NewHandler(f.notifier), nil
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{configMessage},
		"properties": map[string]any{
			configMessage:   map[string]any{"type": "string"},
			configChannel:   map[string]any{"type": "string"},
			configRecipient: map[string]any{"type": "string"},
			configSubject:   map[string]any{"type": "string"},
			models.ConfigMaxAttempts: map[string]any{
				"type":    "number",
				"minimum": 1,
			},
			models.ConfigEnabled: map[string]any{"type": "boolean"},
		},
	}
}
