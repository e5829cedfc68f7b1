// Package notification delivers messages to external recipients as a
// workflow step. Delivery is pluggable through the Notifier interface; the
// default sink writes to the structured log, which is enough for local
// development and tests.
package notification

import (
	"context"
	"log/slog"
)

// Notification is a rendered message ready for delivery.
type Notification struct {
	InstanceID string `json:"instance_id"`
	StepID     string `json:"step_id"`
	Channel    string `json:"channel"`
	Recipient  string `json:"recipient"`
	Subject    string `json:"subject,omitempty"`
	Message    string `json:"message"`
}

// Notifier delivers notifications. Implementations should return an error
// only for transient delivery failures; the step will be retried.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// SlogNotifier writes notifications to the structured log.
type SlogNotifier struct {
	logger *slog.Logger
}

func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	return &SlogNotifier{logger: logger}
}

func (s *SlogNotifier) Notify(ctx context.Context, n Notification) error {
	s.logger.InfoContext(ctx, "Notification delivered",
		"instance_id", n.InstanceID,
		"step_id", n.StepID,
		"channel", n.Channel,
		"recipient", n.Recipient,
		"subject", n.Subject,
		"message", n.Message,
	)

	return nil
}
