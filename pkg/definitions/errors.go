// Package definitions provides the versioned definition store: structural
// and graph validation of workflow definitions, immutable version
// allocation on save, and lookup by pinned or latest active version.
package definitions

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDefinitionInvalid is returned by Save when validation produced errors.
var ErrDefinitionInvalid = errors.New("workflow definition invalid")

// Validation error codes.
const (
	CodeInvalidField      = "INVALID_FIELD"
	CodeDuplicateStepID   = "DUPLICATE_STEP_ID"
	CodeUnknownStepType   = "UNKNOWN_STEP_TYPE"
	CodeUnknownEdgeTarget = "UNKNOWN_EDGE_TARGET"
	CodeUnreachableStep   = "UNREACHABLE_STEP"
	CodeLoopUnbounded     = "LOOP_UNBOUNDED"
	CodeParallelNoJoin    = "PARALLEL_WITHOUT_JOIN"
	CodeParallelNoBranch  = "PARALLEL_WITHOUT_BRANCHES"
	CodeJoinUnreachable   = "JOIN_UNREACHABLE"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeInvalidCondition  = "INVALID_CONDITION"
)

// Validation warning codes.
const (
	CodeUnusedDefaultVariable = "UNUSED_DEFAULT_VARIABLE"
	CodeReservedVariable      = "RESERVED_VARIABLE"
)

// ValidationError describes one validation failure, attributed to a step
// when one is involved.
type ValidationError struct {
	Code    string `json:"code"`
	StepID  string `json:"step_id,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s (step %s): %s", e.Code, e.StepID, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidationWarning is a non-fatal finding. Warnings never block a save.
type ValidationWarning struct {
	Code    string `json:"code"`
	StepID  string `json:"step_id,omitempty"`
	Message string `json:"message"`
}

// ValidationResult aggregates the findings of one Validate call.
type ValidationResult struct {
	Errors   []ValidationError   `json:"errors,omitempty"`
	Warnings []ValidationWarning `json:"warnings,omitempty"`
}

// Valid reports whether the definition passed validation. Warnings alone do
// not invalidate.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) addError(code, stepID, message string) {
	r.Errors = append(r.Errors, ValidationError{Code: code, StepID: stepID, Message: message})
}

func (r *ValidationResult) addWarning(code, stepID, message string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Code: code, StepID: stepID, Message: message})
}

// InvalidDefinitionError carries the full validation result behind the
// ErrDefinitionInvalid sentinel, so callers can render the findings.
type InvalidDefinitionError struct {
	Result *ValidationResult
}

func (e *InvalidDefinitionError) Error() string {
	messages := make([]string, 0, len(e.Result.Errors))
	for _, ve := range e.Result.Errors {
		messages = append(messages, ve.Error())
	}

	return fmt.Sprintf("workflow definition invalid: %s", strings.Join(messages, "; "))
}

func (e *InvalidDefinitionError) Unwrap() error {
	return ErrDefinitionInvalid
}
