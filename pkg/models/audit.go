package models

import (
	"time"
)

// AuditAction enumerates the recorded transitions.
type AuditAction string

const (
	AuditCreated         AuditAction = "created"
	AuditStarted         AuditAction = "started"
	AuditStepStarted     AuditAction = "step_started"
	AuditStepCompleted   AuditAction = "step_completed"
	AuditStepFailed      AuditAction = "step_failed"
	AuditPaused          AuditAction = "paused"
	AuditResumed         AuditAction = "resumed"
	AuditCompleted       AuditAction = "completed"
	AuditFailed          AuditAction = "failed"
	AuditCancelled       AuditAction = "cancelled"
	AuditVariableUpdated AuditAction = "variable_updated"
)

// AuditLogEntry is one append-only journal record. Entries for an instance
// are totally ordered by Sequence, which is strictly increasing and gapless;
// Timestamp is monotonically non-decreasing within an instance even when
// branches finish in the same wall-clock instant.
type AuditLogEntry struct {
	ID             string           `json:"id"`
	InstanceID     string           `json:"instance_id"`
	StepInstanceID string           `json:"step_instance_id,omitempty"`
	StepID         string           `json:"step_id,omitempty"`
	Action         AuditAction      `json:"action"`
	Sequence       int64            `json:"sequence"`
	Timestamp      time.Time        `json:"timestamp"`
	Actor          string           `json:"actor"`
	Metadata       map[string]Value `json:"metadata,omitempty"`
}
