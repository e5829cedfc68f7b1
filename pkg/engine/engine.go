// Package engine drives workflow instances through their state machine:
// creation, step dispatch, routing, fork/join, retries, suspension
// callbacks, pause/resume and cancellation. Every mutation of one instance
// happens under that instance's lock and is journaled before the
// materialized state is saved.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/orchon/orchon/pkg/audit"
	"github.com/orchon/orchon/pkg/eventbus"
	"github.com/orchon/orchon/pkg/events"
	"github.com/orchon/orchon/pkg/executor"
	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/persistence"
	"github.com/orchon/orchon/pkg/queue"
	"github.com/orchon/orchon/pkg/registry"
)

type Engine struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	executor    *executor.Executor
	journal     *audit.Logger
	bus         eventbus.EventPublisher
	queue       queue.Queue
	logger      *slog.Logger
	locks       *keyedMutex
	tracer      trace.Tracer
	now         func() time.Time
	workerID    string
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventBus publishes lifecycle events to the bus. Without it the engine
// runs silently.
func WithEventBus(bus eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithQueue hands new work to scheduler workers through the queue. Without
// it the caller drives Advance directly.
func WithQueue(q queue.Queue) Option {
	return func(e *Engine) {
		e.queue = q
	}
}

// WithWorkerID tags published events with the worker identity.
func WithWorkerID(id string) Option {
	return func(e *Engine) {
		e.workerID = id
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithTracer traces step execution.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func NewEngine(p persistence.Persistence, reg *registry.Registry, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		persistence: p,
		registry:    reg,
		logger:      logger.With("module", "engine"),
		locks:       newKeyedMutex(),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	e.journal = audit.NewLogger(p.AuditLog(), audit.WithClock(e.now))

	executorOpts := []executor.Option{executor.WithClock(e.now)}
	if e.tracer != nil {
		executorOpts = append(executorOpts, executor.WithTracer(e.tracer))
	}

	e.executor = executor.NewExecutor(reg, e.journal, logger, executorOpts...)

	return e
}

// StartRequest describes a new instance to create.
type StartRequest struct {
	DefinitionID string
	// Version pins a definition version; zero selects the latest active one.
	Version     int
	InitiatedBy string
	Variables   map[string]models.Value
}

// StartInstance creates a pending instance and returns without executing
// any step. Execution starts when a worker picks the instance up, or when
// the caller invokes Advance.
func (e *Engine) StartInstance(ctx context.Context, req StartRequest) (*models.WorkflowInstance, error) {
	def, err := e.persistence.Definitions().GetByID(ctx, req.DefinitionID, req.Version)
	if err != nil {
		return nil, err
	}

	if !def.IsActive {
		return nil, ErrDefinitionInactive
	}

	now := e.now()
	vars := models.CloneMap(def.DefaultVariables)

	for key, value := range req.Variables {
		if vars == nil {
			vars = make(map[string]models.Value)
		}

		vars[key] = value
	}

	instance := &models.WorkflowInstance{
		ID:                uuid.New().String(),
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		TenantID:          def.TenantID,
		Status:            models.InstanceStatusPending,
		Variables:         vars,
		StartedAt:         now,
		InitiatedBy:       req.InitiatedBy,
	}

	_, err = e.journal.Append(ctx, audit.Entry{
		InstanceID: instance.ID,
		Action:     models.AuditCreated,
		Actor:      req.InitiatedBy,
		Metadata: map[string]models.Value{
			"definition_id":      models.String(def.ID),
			"definition_version": models.Number(float64(def.Version)),
		},
	})
	if err != nil {
		return nil, err
	}

	err = e.persistence.Instances().Save(ctx, instance)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, instance.ID, events.InstanceCreated{
		BaseEvent:         e.baseEvent(events.InstanceCreatedEvent, instance),
		DefinitionVersion: def.Version,
		InitiatedBy:       req.InitiatedBy,
	})

	e.enqueue(ctx, instance.ID)

	e.logger.InfoContext(ctx, "Instance created",
		"instance_id", instance.ID,
		"definition_id", def.ID,
		"definition_version", def.Version,
	)

	return instance, nil
}

// InstanceView is the snapshot returned by GetInstance.
type InstanceView struct {
	Instance *models.WorkflowInstance
	Steps    []*models.StepInstance
}

// GetInstance returns the instance and its step instances.
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*InstanceView, error) {
	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	steps, err := e.persistence.StepInstances().ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	return &InstanceView{Instance: instance, Steps: steps}, nil
}

// GetAuditLog returns the instance journal ordered by sequence.
func (e *Engine) GetAuditLog(ctx context.Context, instanceID string) ([]models.AuditLogEntry, error) {
	return e.journal.List(ctx, instanceID)
}

// ReplayState folds the instance journal into a state snapshot, independent
// of the materialized records.
func (e *Engine) ReplayState(ctx context.Context, instanceID string) (audit.Snapshot, error) {
	entries, err := e.journal.List(ctx, instanceID)
	if err != nil {
		return audit.Snapshot{}, err
	}

	return audit.Replay(entries), nil
}

func (e *Engine) baseEvent(eventType events.EventType, instance *models.WorkflowInstance) events.BaseEvent {
	return events.BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    e.now(),
		TenantID:     instance.TenantID,
		InstanceID:   instance.ID,
		DefinitionID: instance.DefinitionID,
		WorkerID:     e.workerID,
	}
}

// publish sends a lifecycle event, best effort. A bus failure never fails
// the state transition that produced the event.
func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	err := e.bus.Publish(ctx, key, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"instance_id", key,
			"error", err,
		)
	}
}

func (e *Engine) enqueue(ctx context.Context, instanceID string) {
	if e.queue == nil {
		return
	}

	err := e.queue.Enqueue(ctx, queue.Task{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		EnqueuedAt: e.now(),
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to enqueue instance task",
			"instance_id", instanceID,
			"error", err,
		)
	}
}

// retryDelay is the exponential backoff applied between attempts of a
// retryable step failure.
func retryDelay(attempt int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = 5 * time.Minute

	delay := policy.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = policy.NextBackOff()
	}

	return delay
}
