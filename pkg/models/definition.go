package models

import (
	"time"
)

// StepType enumerates the closed set of step variants the engine can drive.
// The work performed inside a step is opaque to the engine; the type only
// selects the handler strategy.
type StepType string

const (
	StepTypeManual             StepType = "manual"
	StepTypeAutomated          StepType = "automated"
	StepTypeApproval           StepType = "approval"
	StepTypeNotification       StepType = "notification"
	StepTypeDataTransformation StepType = "data_transformation"
	StepTypeIntegration        StepType = "integration"
	StepTypeCondition          StepType = "condition"
	StepTypeLoop               StepType = "loop"
	StepTypeParallel           StepType = "parallel"
	StepTypeCustom             StepType = "custom"
)

// StepTypes lists every known step type, in declaration order.
func StepTypes() []StepType {
	return []StepType{
		StepTypeManual,
		StepTypeAutomated,
		StepTypeApproval,
		StepTypeNotification,
		StepTypeDataTransformation,
		StepTypeIntegration,
		StepTypeCondition,
		StepTypeLoop,
		StepTypeParallel,
		StepTypeCustom,
	}
}

// Edge is a possible transition from one step to another, optionally gated
// by a guard. Targets are step IDs resolved by lookup; the definition graph
// may be cyclic (loops), so edges never embed step objects.
type Edge struct {
	TargetStepID   string         `json:"target_step_id" validate:"required"`
	Conditions     []Condition    `json:"conditions,omitempty" validate:"omitempty,dive"`
	Logic          ConditionLogic `json:"logic,omitempty"`
	ParallelBranch bool           `json:"parallel_branch,omitempty"`
}

// Guarded reports whether the edge carries a guard expression.
func (e Edge) Guarded() bool {
	return len(e.Conditions) > 0
}

// Step is one unit of work in a definition template.
type Step struct {
	ID       string           `json:"id"       validate:"required"`
	Type     StepType         `json:"type"     validate:"required"`
	Name     string           `json:"name"     validate:"required,min=1"`
	Config   map[string]Value `json:"config,omitempty"`
	Outgoing []Edge           `json:"outgoing,omitempty" validate:"omitempty,dive"`
}

// Reserved configuration keys read by the engine itself. Everything else in
// Config belongs to the collaborator executing the step.
const (
	ConfigMaxAttempts     = "max_attempts"
	ConfigTimeoutSeconds  = "timeout_seconds"
	ConfigMaxIterations   = "max_iterations"
	ConfigJoinStepID      = "join_step_id"
	ConfigAutoEscalate    = "auto_escalate"
	ConfigOptional        = "optional"
	ConfigEnabled         = "enabled"
	ConfigOnBranchFailure = "on_branch_failure"
)

// Branch failure policies for parallel steps.
const (
	BranchFailureFailFast = "fail_fast"
	BranchFailureWait     = "wait"
)

// LoopCounterVariable is the reserved variable incremented on each loop
// pass.
const LoopCounterVariable = "loop_count"

func (s *Step) configNumber(key string, fallback float64) float64 {
	if v, ok := s.Config[key]; ok {
		if n, isNum := v.AsNumber(); isNum {
			return n
		}
	}

	return fallback
}

func (s *Step) configString(key string) string {
	if v, ok := s.Config[key]; ok {
		if str, isStr := v.AsString(); isStr {
			return str
		}
	}

	return ""
}

func (s *Step) configBool(key string, fallback bool) bool {
	if v, ok := s.Config[key]; ok {
		if b, isBool := v.AsBool(); isBool {
			return b
		}
	}

	return fallback
}

// MaxAttempts returns the retry budget for the step. Steps default to three
// attempts; a non-positive configured value disables retries.
func (s *Step) MaxAttempts() int {
	attempts := int(s.configNumber(ConfigMaxAttempts, 3))
	if attempts < 1 {
		return 1
	}

	return attempts
}

// WillRetry reports whether a failure on the given attempt leaves retry
// budget. The executor journals this decision and the engine re-arms the
// step from it, so both sides share one predicate.
func (s *Step) WillRetry(attempt int, retryable bool) bool {
	return retryable && attempt < s.MaxAttempts()
}

// Timeout returns the suspension deadline for human-task steps, or zero when
// the step never times out.
func (s *Step) Timeout() time.Duration {
	seconds := s.configNumber(ConfigTimeoutSeconds, 0)
	if seconds <= 0 {
		return 0
	}

	return time.Duration(seconds * float64(time.Second))
}

// MaxIterations returns the loop cap, or zero when not declared.
func (s *Step) MaxIterations() int {
	return int(s.configNumber(ConfigMaxIterations, 0))
}

// JoinStepID returns the declared join step for a parallel fork.
func (s *Step) JoinStepID() string {
	return s.configString(ConfigJoinStepID)
}

// AutoEscalate reports whether a timed-out human task should fire its
// notification edge instead of failing.
func (s *Step) AutoEscalate() bool {
	return s.configBool(ConfigAutoEscalate, false)
}

// Optional reports whether a failure of this step should be tolerated
// without failing the whole instance.
func (s *Step) Optional() bool {
	return s.configBool(ConfigOptional, false)
}

// Enabled reports whether the step participates in execution. Disabled steps
// are instantiated as skipped and routed through.
func (s *Step) Enabled() bool {
	return s.configBool(ConfigEnabled, true)
}

// BranchFailurePolicy returns the fork failure policy, fail-fast by default.
func (s *Step) BranchFailurePolicy() string {
	if s.configString(ConfigOnBranchFailure) == BranchFailureWait {
		return BranchFailureWait
	}

	return BranchFailureFailFast
}

// WorkflowDefinition is a versioned, reusable process template. A definition
// is immutable once a live instance references it; edits allocate a new
// version so running instances keep executing against their pinned version.
type WorkflowDefinition struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenant_id"         validate:"required"`
	Name             string           `json:"name"              validate:"required,min=3"`
	Version          int              `json:"version"`
	Steps            []Step           `json:"steps"             validate:"required,min=1,dive"`
	DefaultVariables map[string]Value `json:"default_variables,omitempty"`
	IsActive         bool             `json:"is_active"`
	CreatedBy        string           `json:"created_by"`
	CreatedAt        time.Time        `json:"created_at"`
}

// StepByID resolves a step in the definition graph.
func (d *WorkflowDefinition) StepByID(stepID string) (*Step, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == stepID {
			return &d.Steps[i], true
		}
	}

	return nil, false
}

// StartStep returns the entry step of the definition.
func (d *WorkflowDefinition) StartStep() *Step {
	if len(d.Steps) == 0 {
		return nil
	}

	return &d.Steps[0]
}
