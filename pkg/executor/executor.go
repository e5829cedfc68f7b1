// Package executor runs single step instance attempts. It resolves the
// handler for the step type, bounds the attempt with the configured timeout,
// journals the lifecycle transitions and folds the result back into the step
// instance. Persisting the mutated records and routing to successors stays
// with the engine.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/orchon/orchon/pkg/audit"
	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/otelhelper"
	"github.com/orchon/orchon/pkg/protocol"
	"github.com/orchon/orchon/pkg/registry"
)

type Executor struct {
	registry *registry.Registry
	journal  *audit.Logger
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithTracer records one span per step attempt. Without it attempts are
// not traced.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func NewExecutor(reg *registry.Registry, journal *audit.Logger, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		registry: reg,
		journal:  journal,
		logger:   logger.With("module", "executor"),
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run executes one attempt of the step instance in the request. The journal
// is written before the outcome is returned, so a crash after Run leaves the
// audit log ahead of the materialized state, never behind it. The step
// instance in the request is mutated to match the outcome.
func (e *Executor) Run(ctx context.Context, req protocol.Request) (protocol.Outcome, error) {
	var span trace.Span

	if e.tracer != nil {
		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "step.execute",
			attribute.String(otelhelper.DefinitionIDKey, req.Instance.DefinitionID),
			attribute.String(otelhelper.InstanceIDKey, req.Instance.ID),
			attribute.String(otelhelper.StepIDKey, req.Step.ID),
			attribute.String(otelhelper.StepTypeKey, string(req.Step.Type)),
			attribute.String(otelhelper.StepInstanceIDKey, req.StepInstance.ID),
		)
		defer span.End()
	}

	outcome, err := e.run(ctx, req)

	if span != nil {
		if err != nil {
			otelhelper.SetError(span, err)
		} else if outcome.Err != nil {
			otelhelper.SetError(span, outcome.Err,
				attribute.Bool("retryable", outcome.Err.Retryable))
		}
	}

	return outcome, err
}

func (e *Executor) run(ctx context.Context, req protocol.Request) (protocol.Outcome, error) {
	logger := e.logger.With(
		"instance_id", req.Instance.ID,
		"step_id", req.Step.ID,
		"step_type", req.Step.Type,
		"attempt", req.StepInstance.Attempt,
	)

	_, err := e.journal.Append(ctx, audit.Entry{
		InstanceID:     req.Instance.ID,
		StepInstanceID: req.StepInstance.ID,
		StepID:         req.Step.ID,
		Action:         models.AuditStepStarted,
		Metadata: map[string]models.Value{
			"step_type": models.String(string(req.Step.Type)),
			"attempt":   models.Number(float64(req.StepInstance.Attempt)),
		},
	})
	if err != nil {
		return protocol.Outcome{}, fmt.Errorf("failed to journal step start: %w", err)
	}

	if !req.Step.Enabled() {
		logger.InfoContext(ctx, "Step disabled, skipping")

		outcome := protocol.Completed(nil)
		outcome.Skipped = true

		return e.complete(ctx, req, outcome)
	}

	outcome, err := e.dispatch(ctx, req)
	if err != nil {
		return protocol.Outcome{}, err
	}

	switch outcome.Status {
	case protocol.OutcomeCompleted:
		return e.complete(ctx, req, outcome)
	case protocol.OutcomeFailed:
		return e.fail(ctx, req, outcome)
	case protocol.OutcomeSuspended:
		return e.suspend(ctx, req, outcome)
	default:
		return protocol.Outcome{}, fmt.Errorf("handler for step type %q returned unknown outcome status %q", req.Step.Type, outcome.Status)
	}
}

// dispatch resolves the handler and runs it under the configured timeout.
// Handler resolution failures and timeouts become terminal step failures;
// other handler errors are infrastructure problems and propagate.
func (e *Executor) dispatch(ctx context.Context, req protocol.Request) (protocol.Outcome, error) {
	handler, err := e.registry.CreateHandler(ctx, req.Step.Type)
	if err != nil {
		return protocol.Failed(err.Error(), false), nil
	}

	runCtx := ctx

	if timeout := req.Step.Timeout(); timeout > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req.Logger = e.logger.With("instance_id", req.Instance.ID, "step_id", req.Step.ID)

	outcome, err := handler.Execute(runCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return protocol.Failed(protocol.ErrMessageTimeout, false), nil
		}

		return protocol.Outcome{}, fmt.Errorf("handler for step type %q failed: %w", req.Step.Type, err)
	}

	return outcome, nil
}

func (e *Executor) complete(ctx context.Context, req protocol.Request, outcome protocol.Outcome) (protocol.Outcome, error) {
	completedAt := e.now()
	duration := completedAt.Sub(req.StepInstance.StartedAt)

	metadata := map[string]models.Value{
		"duration_ms": models.Number(float64(duration.Milliseconds())),
	}

	if len(outcome.Outputs) > 0 {
		metadata["outputs"] = models.Map(outcome.Outputs)
	}

	if outcome.Skipped {
		metadata["skipped"] = models.Bool(true)
	}

	_, err := e.journal.Append(ctx, audit.Entry{
		InstanceID:     req.Instance.ID,
		StepInstanceID: req.StepInstance.ID,
		StepID:         req.Step.ID,
		Action:         models.AuditStepCompleted,
		Metadata:       metadata,
	})
	if err != nil {
		return protocol.Outcome{}, fmt.Errorf("failed to journal step completion: %w", err)
	}

	status := models.StepStatusCompleted
	if outcome.Skipped {
		status = models.StepStatusSkipped
	}

	req.StepInstance.Status = status
	req.StepInstance.Outputs = models.CloneMap(outcome.Outputs)
	req.StepInstance.CompletedAt = &completedAt
	req.StepInstance.Suspended = false
	req.StepInstance.Deadline = nil
	req.StepInstance.NextRetryAt = nil
	req.StepInstance.Error = ""

	return outcome, nil
}

func (e *Executor) fail(ctx context.Context, req protocol.Request, outcome protocol.Outcome) (protocol.Outcome, error) {
	willRetry := req.Step.WillRetry(req.StepInstance.Attempt, outcome.Err.Retryable)

	_, err := e.journal.Append(ctx, audit.Entry{
		InstanceID:     req.Instance.ID,
		StepInstanceID: req.StepInstance.ID,
		StepID:         req.Step.ID,
		Action:         models.AuditStepFailed,
		Metadata: map[string]models.Value{
			"error":      models.String(outcome.Err.Message),
			"retryable":  models.Bool(outcome.Err.Retryable),
			"attempt":    models.Number(float64(req.StepInstance.Attempt)),
			"will_retry": models.Bool(willRetry),
		},
	})
	if err != nil {
		return protocol.Outcome{}, fmt.Errorf("failed to journal step failure: %w", err)
	}

	completedAt := e.now()

	req.StepInstance.Status = models.StepStatusFailed
	req.StepInstance.CompletedAt = &completedAt
	req.StepInstance.Suspended = false
	req.StepInstance.Deadline = nil
	req.StepInstance.NextRetryAt = nil
	req.StepInstance.Error = outcome.Err.Message
	req.StepInstance.Retryable = outcome.Err.Retryable

	return outcome, nil
}

// suspend leaves the step instance running and records the suspension on the
// record only; the resumption or timeout writes the next journal entry.
func (e *Executor) suspend(ctx context.Context, req protocol.Request, outcome protocol.Outcome) (protocol.Outcome, error) {
	req.StepInstance.Status = models.StepStatusRunning
	req.StepInstance.Suspended = true
	req.StepInstance.Deadline = outcome.Deadline

	e.logger.InfoContext(ctx, "Step suspended",
		"instance_id", req.Instance.ID,
		"step_id", req.Step.ID,
		"deadline", outcome.Deadline,
	)

	return outcome, nil
}
