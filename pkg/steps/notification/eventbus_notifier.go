package notification

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/orchon/orchon/pkg/eventbus"
	"github.com/orchon/orchon/pkg/events"
)

// EventBusNotifier hands notifications to external delivery systems by
// publishing NotificationRequested events.
type EventBusNotifier struct {
	bus eventbus.EventPublisher
}

func NewEventBusNotifier(bus eventbus.EventPublisher) *EventBusNotifier {
	return &EventBusNotifier{bus: bus}
}

func (n *EventBusNotifier) Notify(ctx context.Context, notification Notification) error {
	event := events.NotificationRequested{
		BaseEvent: events.BaseEvent{
			ID:         uuid.New().String(),
			Type:       events.NotificationRequestedEvent,
			Timestamp:  time.Now().UTC(),
			InstanceID: notification.InstanceID,
		},
		StepID:    notification.StepID,
		Channel:   notification.Channel,
		Recipient: notification.Recipient,
		Subject:   notification.Subject,
		Message:   notification.Message,
	}

	return n.bus.Publish(ctx, notification.InstanceID, event)
}
