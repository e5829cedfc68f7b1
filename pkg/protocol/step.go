// Package protocol defines the interfaces and contracts for pluggable step
// handlers.
package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/variables"
)

// OutcomeStatus discriminates the result of one step execution.
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSuspended OutcomeStatus = "suspended"
)

// StepError carries a step failure plus its retry classification. The
// retryable flag is declared by the collaborator running the opaque step
// logic; the engine only enforces the attempt budget.
type StepError struct {
	Message   string
	Retryable bool
}

func (e *StepError) Error() string {
	return e.Message
}

// Well-known terminal error messages.
const (
	ErrMessageTimeout         = "timeout"
	ErrMessageLoopCapExceeded = "loop-cap-exceeded"
)

// Outcome is the result of executing one step instance.
type Outcome struct {
	Status  OutcomeStatus
	Outputs map[string]models.Value
	Err     *StepError

	// Deadline bounds a suspension; nil means the step waits forever for
	// its completion callback.
	Deadline *time.Time

	// Routes lists target step IDs selected by the handler (condition,
	// parallel and loop steps route themselves). Nil means the engine
	// evaluates the step's outgoing edge guards; an empty non-nil slice
	// means the handler deliberately selected no successor.
	Routes []string

	// Skipped marks a completion that recorded no work (disabled step).
	Skipped bool
}

// Completed builds a successful outcome.
func Completed(outputs map[string]models.Value) Outcome {
	return Outcome{Status: OutcomeCompleted, Outputs: outputs}
}

// Failed builds a failed outcome with the collaborator's retry
// classification.
func Failed(message string, retryable bool) Outcome {
	return Outcome{Status: OutcomeFailed, Err: &StepError{Message: message, Retryable: retryable}}
}

// Suspended builds a suspension awaiting an external completion callback.
func Suspended(deadline *time.Time) Outcome {
	return Outcome{Status: OutcomeSuspended, Deadline: deadline}
}

// Request carries everything a handler may consult while executing one step
// instance. Handlers run under the instance lock and must not retain any of
// these references past the call.
type Request struct {
	Instance     *models.WorkflowInstance
	StepInstance *models.StepInstance
	Step         *models.Step
	Variables    *variables.Store
	Logger       *slog.Logger
}

// StepHandler executes step instances of one step type to completion,
// failure or suspension. Handlers hold no per-instance state; everything
// they need arrives in the Request.
type StepHandler interface {
	// Type returns the step type this handler serves.
	Type() models.StepType

	// Execute runs one step instance attempt.
	Execute(ctx context.Context, req Request) (Outcome, error)
}

// StepHandlerFactory creates step handlers and describes their
// configuration schema.
type StepHandlerFactory interface {
	// Type returns the step type the produced handlers serve.
	Type() models.StepType

	// Create builds a handler instance.
	Create(ctx context.Context) (StepHandler, error)

	// Schema returns the JSON schema for the step's engine-facing
	// configuration keys. An empty schema accepts any config.
	Schema() map[string]any
}

// Invoker runs the opaque, collaborator-supplied work of automated,
// integration and transformation steps. The engine never interprets the
// step config beyond its reserved keys; the invoker owns the rest.
type Invoker func(ctx context.Context, step *models.Step, inputs map[string]models.Value) (map[string]models.Value, error)
