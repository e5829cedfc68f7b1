package models

import (
	"time"
)

// InstanceStatus is the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusPaused    InstanceStatus = "paused"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusCancelled
}

// StepStatus is the lifecycle state of one step instance.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusCancelled StepStatus = "cancelled"
)

// Terminal reports whether the step status admits no further transitions.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped, StepStatusCancelled:
		return true
	default:
		return false
	}
}

// StepInstance is the runtime occurrence of one definition step within an
// instance. A suspended human task stays in StepStatusRunning with Suspended
// set until a completion callback arrives or its deadline elapses.
type StepInstance struct {
	ID          string           `json:"id"`
	InstanceID  string           `json:"instance_id"`
	StepID      string           `json:"step_id"`
	Status      StepStatus       `json:"status"`
	Inputs      map[string]Value `json:"inputs,omitempty"`
	Outputs     map[string]Value `json:"outputs,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Attempt     int              `json:"attempt"`
	Error       string           `json:"error,omitempty"`
	Suspended   bool             `json:"suspended,omitempty"`
	Deadline    *time.Time       `json:"deadline,omitempty"`
	NextRetryAt *time.Time       `json:"next_retry_at,omitempty"`
	Retryable   bool             `json:"retryable,omitempty"`
}

// Active reports whether the step instance still needs engine attention.
func (si *StepInstance) Active() bool {
	return !si.Status.Terminal() || si.NextRetryAt != nil
}

// Fork tracks one parallel fork awaiting its join. Branches holds the step
// instance IDs forked atomically when the parallel step executed; each
// branch accounts for exactly one arrival, either by routing into the join
// step or by ending early. The join step is instantiated once every branch
// has arrived.
type Fork struct {
	ParallelStepID string   `json:"parallel_step_id"`
	JoinStepID     string   `json:"join_step_id"`
	Branches       []string `json:"branches"`
	Policy         string   `json:"policy"`
	Arrivals       int      `json:"arrivals"`
	FailedBranches int      `json:"failed_branches"`
	Joined         bool     `json:"joined"`
}

// Complete reports whether every branch has arrived at the join.
func (f *Fork) Complete() bool {
	return f.Arrivals >= len(f.Branches)
}

// WorkflowInstance is one execution of a pinned definition version.
type WorkflowInstance struct {
	ID                string           `json:"id"`
	DefinitionID      string           `json:"definition_id"`
	DefinitionVersion int              `json:"definition_version"`
	TenantID          string           `json:"tenant_id"`
	Status            InstanceStatus   `json:"status"`
	Variables         map[string]Value `json:"variables"`
	ActiveSteps       []string         `json:"active_steps,omitempty"`
	Forks             []Fork           `json:"forks,omitempty"`
	StartedAt         time.Time        `json:"started_at"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	InitiatedBy       string           `json:"initiated_by"`
}

// HasActiveStep reports whether the step instance ID is tracked as active.
func (w *WorkflowInstance) HasActiveStep(stepInstanceID string) bool {
	for _, id := range w.ActiveSteps {
		if id == stepInstanceID {
			return true
		}
	}

	return false
}

// AddActiveStep tracks a step instance as active, idempotently.
func (w *WorkflowInstance) AddActiveStep(stepInstanceID string) {
	if !w.HasActiveStep(stepInstanceID) {
		w.ActiveSteps = append(w.ActiveSteps, stepInstanceID)
	}
}

// RemoveActiveStep drops a step instance from the active set.
func (w *WorkflowInstance) RemoveActiveStep(stepInstanceID string) {
	kept := w.ActiveSteps[:0]

	for _, id := range w.ActiveSteps {
		if id != stepInstanceID {
			kept = append(kept, id)
		}
	}

	w.ActiveSteps = kept
}
