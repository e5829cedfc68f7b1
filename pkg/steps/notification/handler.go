package notification

import (
	"context"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
	"github.com/orchon/orchon/pkg/template"
)

const (
	configMessage   = "message"
	configChannel   = "channel"
	configRecipient = "recipient"
	configSubject   = "subject"

	defaultChannel = "log"
)

type Handler struct {
	notifier Notifier
}

func NewHandler(notifier Notifier) *Handler {
	return &Handler{notifier: notifier}
}

func (h *Handler) Type() models.StepType {
	return models.StepTypeNotification
}

func (h *Handler) Execute(ctx context.Context, req protocol.Request) (protocol.Outcome, error) {
	message := stringConfig(req.Step.Config, configMessage, "")
	if message == "" {
		return protocol.Failed("notification step requires a 'message' config string", false), nil
	}

	rendered, err := template.RenderWithVariables(message, req.Instance, req.Variables.Snapshot())
	if err != nil {
		// Broken templates never heal on retry.
		return protocol.Failed("failed to render notification message: "+err.Error(), false), nil
	}

	notification := Notification{
		InstanceID: req.Instance.ID,
		StepID:     req.Step.ID,
		Channel:    stringConfig(req.Step.Config, configChannel, defaultChannel),
		Recipient:  stringConfig(req.Step.Config, configRecipient, ""),
		Subject:    stringConfig(req.Step.Config, configSubject, ""),
		Message:    rendered,
	}

	if err := h.notifier.Notify(ctx, notification); err != nil {
		req.Logger.ErrorContext(ctx, "Notification delivery failed",
			"step_id", req.Step.ID,
			"channel", notification.Channel,
			"error", err,
		)

		return protocol.Failed("notification delivery failed: "+err.Error(), true), nil
	}

	return protocol.Completed(map[string]models.Value{
		"message": models.String(rendered),
		"channel": models.String(notification.Channel),
	}), nil
}

func stringConfig(config map[string]models.Value, key, fallback string) string {
	if v, ok := config[key]; ok {
		if str, isStr := v.AsString(); isStr && str != "" {
			return str
		}
	}

	return fallback
}
