// Package events defines the lifecycle notifications published while
// instances execute. Consumers subscribe through the event bus; nothing in
// the engine's own state machine depends on these events, they exist for
// downstream systems.
package events

import (
	"time"

	"github.com/orchon/orchon/pkg/models"
)

type EventType string

// Topic is the bus topic carrying every lifecycle event.
const Topic = "orchon.events"

// Message metadata keys.
const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	InstanceCreatedEvent   EventType = "instance.created"
	InstanceStartedEvent   EventType = "instance.started"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceFailedEvent    EventType = "instance.failed"
	InstanceCancelledEvent EventType = "instance.cancelled"
	InstancePausedEvent    EventType = "instance.paused"
	InstanceResumedEvent   EventType = "instance.resumed"

	StepStartedEvent   EventType = "step.started"
	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"
	StepSuspendedEvent EventType = "step.suspended"

	NotificationRequestedEvent EventType = "notification.requested"
)

// BaseEvent carries the fields every lifecycle event shares.
type BaseEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	TenantID     string    `json:"tenant_id,omitempty"`
	InstanceID   string    `json:"instance_id"`
	DefinitionID string    `json:"definition_id"`
	WorkerID     string    `json:"worker_id,omitempty"`
}

type InstanceCreated struct {
	BaseEvent

	DefinitionVersion int    `json:"definition_version"`
	InitiatedBy       string `json:"initiated_by"`
}

func (e InstanceCreated) GetType() EventType { return InstanceCreatedEvent }

type InstanceStarted struct {
	BaseEvent
}

func (e InstanceStarted) GetType() EventType { return InstanceStartedEvent }

type InstanceCompleted struct {
	BaseEvent

	Duration time.Duration `json:"duration"`
}

func (e InstanceCompleted) GetType() EventType { return InstanceCompletedEvent }

type InstanceFailed struct {
	BaseEvent

	Error    string        `json:"error"`
	StepID   string        `json:"step_id,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (e InstanceFailed) GetType() EventType { return InstanceFailedEvent }

type InstanceCancelled struct {
	BaseEvent

	Actor string `json:"actor"`
}

func (e InstanceCancelled) GetType() EventType { return InstanceCancelledEvent }

type InstancePaused struct {
	BaseEvent

	Actor string `json:"actor"`
}

func (e InstancePaused) GetType() EventType { return InstancePausedEvent }

type InstanceResumed struct {
	BaseEvent

	Actor string `json:"actor"`
}

func (e InstanceResumed) GetType() EventType { return InstanceResumedEvent }

type StepStarted struct {
	BaseEvent

	StepInstanceID string          `json:"step_instance_id"`
	StepID         string          `json:"step_id"`
	StepType       models.StepType `json:"step_type"`
	Attempt        int             `json:"attempt"`
}

func (e StepStarted) GetType() EventType { return StepStartedEvent }

type StepCompleted struct {
	BaseEvent

	StepInstanceID string          `json:"step_instance_id"`
	StepID         string          `json:"step_id"`
	StepType       models.StepType `json:"step_type"`
	DurationMs     int64           `json:"duration_ms"`
	Skipped        bool            `json:"skipped,omitempty"`
}

func (e StepCompleted) GetType() EventType { return StepCompletedEvent }

type StepFailed struct {
	BaseEvent

	StepInstanceID string          `json:"step_instance_id"`
	StepID         string          `json:"step_id"`
	StepType       models.StepType `json:"step_type"`
	Error          string          `json:"error"`
	Retryable      bool            `json:"retryable"`
	Attempt        int             `json:"attempt"`
}

func (e StepFailed) GetType() EventType { return StepFailedEvent }

type StepSuspended struct {
	BaseEvent

	StepInstanceID string          `json:"step_instance_id"`
	StepID         string          `json:"step_id"`
	StepType       models.StepType `json:"step_type"`
	Deadline       *time.Time      `json:"deadline,omitempty"`
}

func (e StepSuspended) GetType() EventType { return StepSuspendedEvent }

// NotificationRequested asks an external delivery system to send a message
// produced by a notification step.
type NotificationRequested struct {
	BaseEvent

	StepID    string `json:"step_id"`
	Channel   string `json:"channel"`
	Recipient string `json:"recipient,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Message   string `json:"message"`
}

func (e NotificationRequested) GetType() EventType { return NotificationRequestedEvent }
