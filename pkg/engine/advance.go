package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orchon/orchon/pkg/audit"
	"github.com/orchon/orchon/pkg/conditions"
	"github.com/orchon/orchon/pkg/events"
	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
	"github.com/orchon/orchon/pkg/variables"
)

// Advance runs the instance forward until no step is immediately runnable:
// everything left is suspended, waiting on a retry timer, waiting at a join,
// or the instance reached a terminal status. Safe to call at any time; a
// terminal or paused instance is a no-op.
func (e *Engine) Advance(ctx context.Context, instanceID string) error {
	e.locks.lock(instanceID)
	defer e.locks.unlock(instanceID)

	s, err := e.newSession(ctx, instanceID)
	if err != nil {
		return err
	}

	if s.instance.Status.Terminal() || s.instance.Status == models.InstanceStatusPaused {
		return nil
	}

	if s.instance.Status == models.InstanceStatusPending {
		err = s.begin(ctx)
		if err != nil {
			return err
		}
	}

	return s.drain(ctx)
}

// session is the per-operation working set for one locked instance.
type session struct {
	engine   *Engine
	instance *models.WorkflowInstance
	def      *models.WorkflowDefinition
	store    *variables.Store
}

func (e *Engine) newSession(ctx context.Context, instanceID string) (*session, error) {
	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	def, err := e.persistence.Definitions().GetByID(ctx, instance.DefinitionID, instance.DefinitionVersion)
	if err != nil {
		return nil, err
	}

	store := variables.NewStore(instance.ID, instance.Variables, e.journal)
	if instance.Status.Terminal() {
		store.Freeze()
	}

	return &session{engine: e, instance: instance, def: def, store: store}, nil
}

// saveInstance folds the variable store back into the record and persists
// it.
func (s *session) saveInstance(ctx context.Context) error {
	s.instance.Variables = s.store.Snapshot()

	return s.engine.persistence.Instances().Save(ctx, s.instance)
}

// begin transitions a pending instance to running and instantiates the
// definition's start step.
func (s *session) begin(ctx context.Context) error {
	_, err := s.engine.journal.Append(ctx, audit.Entry{
		InstanceID: s.instance.ID,
		Action:     models.AuditStarted,
	})
	if err != nil {
		return err
	}

	s.instance.Status = models.InstanceStatusRunning

	start := s.def.StartStep()
	if start == nil {
		return s.failInstance(ctx, "definition has no steps", "")
	}

	_, err = s.spawn(ctx, start)
	if err != nil {
		return err
	}

	err = s.saveInstance(ctx)
	if err != nil {
		return err
	}

	s.engine.publish(ctx, s.instance.ID, events.InstanceStarted{
		BaseEvent: s.engine.baseEvent(events.InstanceStartedEvent, s.instance),
	})

	return nil
}

// spawn creates a pending step instance and tracks it as active.
func (s *session) spawn(ctx context.Context, step *models.Step) (*models.StepInstance, error) {
	si := &models.StepInstance{
		ID:         uuid.New().String(),
		InstanceID: s.instance.ID,
		StepID:     step.ID,
		Status:     models.StepStatusPending,
	}

	err := s.engine.persistence.StepInstances().Save(ctx, si)
	if err != nil {
		return nil, err
	}

	s.instance.AddActiveStep(si.ID)

	return si, nil
}

// drain executes runnable steps until none remain, then checks whether the
// instance finished.
func (s *session) drain(ctx context.Context) error {
	for s.instance.Status == models.InstanceStatusRunning {
		si, err := s.nextRunnable(ctx)
		if err != nil {
			return err
		}

		if si == nil {
			break
		}

		err = s.runStep(ctx, si)
		if err != nil {
			return err
		}
	}

	return s.maybeComplete(ctx)
}

func (s *session) nextRunnable(ctx context.Context) (*models.StepInstance, error) {
	steps, err := s.engine.persistence.StepInstances().ListByInstance(ctx, s.instance.ID)
	if err != nil {
		return nil, err
	}

	now := s.engine.now()

	for _, si := range steps {
		if si.Status != models.StepStatusPending {
			continue
		}

		if si.NextRetryAt != nil && si.NextRetryAt.After(now) {
			continue
		}

		return si, nil
	}

	return nil, nil
}

func (s *session) runStep(ctx context.Context, si *models.StepInstance) error {
	step, ok := s.def.StepByID(si.StepID)
	if !ok {
		return s.failInstance(ctx, fmt.Sprintf("step %q not found in definition", si.StepID), si.StepID)
	}

	si.Attempt++
	si.Status = models.StepStatusRunning
	si.StartedAt = s.engine.now()
	si.NextRetryAt = nil
	si.Inputs = s.store.Snapshot()

	err := s.engine.persistence.StepInstances().Save(ctx, si)
	if err != nil {
		return err
	}

	s.engine.publish(ctx, s.instance.ID, events.StepStarted{
		BaseEvent:      s.engine.baseEvent(events.StepStartedEvent, s.instance),
		StepInstanceID: si.ID,
		StepID:         step.ID,
		StepType:       step.Type,
		Attempt:        si.Attempt,
	})

	outcome, err := s.engine.executor.Run(ctx, protocol.Request{
		Instance:     s.instance,
		StepInstance: si,
		Step:         step,
		Variables:    s.store,
	})
	if err != nil {
		return err
	}

	err = s.engine.persistence.StepInstances().Save(ctx, si)
	if err != nil {
		return err
	}

	switch outcome.Status {
	case protocol.OutcomeCompleted:
		return s.handleCompletion(ctx, si, step, outcome)
	case protocol.OutcomeFailed:
		return s.handleFailure(ctx, si, step, *outcome.Err)
	case protocol.OutcomeSuspended:
		s.engine.publish(ctx, s.instance.ID, events.StepSuspended{
			BaseEvent:      s.engine.baseEvent(events.StepSuspendedEvent, s.instance),
			StepInstanceID: si.ID,
			StepID:         step.ID,
			StepType:       step.Type,
			Deadline:       si.Deadline,
		})

		return nil
	default:
		return fmt.Errorf("unknown outcome status %q for step %s", outcome.Status, si.StepID)
	}
}

// handleCompletion merges outputs, resolves successors and routes into
// them. Control-flow steps route themselves (non-nil Routes) and their
// outputs stay informational; everything else contributes outputs to the
// variable scope and lets edge guards pick successors.
func (s *session) handleCompletion(ctx context.Context, si *models.StepInstance, step *models.Step, outcome protocol.Outcome) error {
	durationMs := int64(0)
	if si.CompletedAt != nil {
		durationMs = si.CompletedAt.Sub(si.StartedAt).Milliseconds()
	}

	s.engine.publish(ctx, s.instance.ID, events.StepCompleted{
		BaseEvent:      s.engine.baseEvent(events.StepCompletedEvent, s.instance),
		StepInstanceID: si.ID,
		StepID:         step.ID,
		StepType:       step.Type,
		DurationMs:     durationMs,
		Skipped:        outcome.Skipped,
	})

	if outcome.Routes == nil && len(outcome.Outputs) > 0 {
		err := s.store.SetAll(ctx, outcome.Outputs, audit.EngineActor)
		if err != nil {
			return err
		}
	}

	routes := outcome.Routes
	if routes == nil {
		routes = s.guardedRoutes(ctx, step)
	}

	s.instance.RemoveActiveStep(si.ID)

	if step.Type == models.StepTypeParallel && len(routes) > 0 {
		return s.forkBranches(ctx, step, routes)
	}

	return s.routeTo(ctx, routes)
}

// guardedRoutes evaluates the step's outgoing edge guards against the
// current variables and returns every satisfied target.
func (s *session) guardedRoutes(ctx context.Context, step *models.Step) []string {
	snapshot := s.store.Snapshot()
	routes := make([]string, 0, len(step.Outgoing))

	for _, edge := range step.Outgoing {
		result := conditions.Evaluate(edge.Conditions, edge.Logic, snapshot)

		for _, warning := range result.Warnings() {
			s.engine.logger.WarnContext(ctx, "Edge guard evaluation warning",
				"instance_id", s.instance.ID,
				"step_id", step.ID,
				"target_step_id", edge.TargetStepID,
				"warning", warning,
			)
		}

		if result.Value {
			routes = append(routes, edge.TargetStepID)
		}
	}

	return routes
}

// routeTo spawns each successor, diverting arrivals at an open fork's join
// step into the fork bookkeeping. An empty route set ends the branch.
func (s *session) routeTo(ctx context.Context, routes []string) error {
	if len(routes) == 0 {
		err := s.branchEnded(ctx, false)
		if err != nil {
			return err
		}

		return s.saveInstance(ctx)
	}

	for _, target := range routes {
		if fork := s.openFork(target); fork != nil {
			err := s.arriveAtJoin(ctx, fork, false)
			if err != nil {
				return err
			}

			continue
		}

		step, ok := s.def.StepByID(target)
		if !ok {
			return s.failInstance(ctx, fmt.Sprintf("edge targets unknown step %q", target), target)
		}

		_, err := s.spawn(ctx, step)
		if err != nil {
			return err
		}
	}

	return s.saveInstance(ctx)
}

func (s *session) handleFailure(ctx context.Context, si *models.StepInstance, step *models.Step, stepErr protocol.StepError) error {
	s.engine.publish(ctx, s.instance.ID, events.StepFailed{
		BaseEvent:      s.engine.baseEvent(events.StepFailedEvent, s.instance),
		StepInstanceID: si.ID,
		StepID:         step.ID,
		StepType:       step.Type,
		Error:          stepErr.Message,
		Retryable:      stepErr.Retryable,
		Attempt:        si.Attempt,
	})

	if step.WillRetry(si.Attempt, stepErr.Retryable) {
		return s.armRetry(ctx, si)
	}

	return s.terminalFailure(ctx, si, step, stepErr.Message)
}

// armRetry re-arms a failed step for its next attempt after a backoff
// delay. The step stays active; the scheduler sweep picks it up when due.
func (s *session) armRetry(ctx context.Context, si *models.StepInstance) error {
	next := s.engine.now().Add(retryDelay(si.Attempt))

	si.Status = models.StepStatusPending
	si.CompletedAt = nil
	si.NextRetryAt = &next

	s.engine.logger.InfoContext(ctx, "Step re-armed for retry",
		"instance_id", s.instance.ID,
		"step_id", si.StepID,
		"attempt", si.Attempt,
		"next_retry_at", next,
	)

	return s.engine.persistence.StepInstances().Save(ctx, si)
}

// terminalFailure resolves a step failure that has no retry budget left:
// optional steps are routed through, fork branches follow the fork's
// failure policy, and anything else fails the instance.
func (s *session) terminalFailure(ctx context.Context, si *models.StepInstance, step *models.Step, message string) error {
	s.instance.RemoveActiveStep(si.ID)

	if step.Optional() {
		s.engine.logger.WarnContext(ctx, "Optional step failed, continuing",
			"instance_id", s.instance.ID,
			"step_id", step.ID,
			"error", message,
		)

		return s.routeTo(ctx, s.guardedRoutes(ctx, step))
	}

	if fork := s.anyOpenFork(); fork != nil {
		if fork.Policy == models.BranchFailureWait {
			err := s.arriveAtJoin(ctx, fork, true)
			if err != nil {
				return err
			}

			return s.saveInstance(ctx)
		}

		return s.failInstance(ctx, message, step.ID)
	}

	return s.failInstance(ctx, message, step.ID)
}

// maybeComplete finishes the instance once no step instance needs further
// attention.
func (s *session) maybeComplete(ctx context.Context) error {
	if s.instance.Status != models.InstanceStatusRunning || len(s.instance.ActiveSteps) > 0 {
		return nil
	}

	_, err := s.engine.journal.Append(ctx, audit.Entry{
		InstanceID: s.instance.ID,
		Action:     models.AuditCompleted,
	})
	if err != nil {
		return err
	}

	now := s.engine.now()

	s.instance.Status = models.InstanceStatusCompleted
	s.instance.CompletedAt = &now
	s.store.Freeze()

	err = s.saveInstance(ctx)
	if err != nil {
		return err
	}

	s.engine.publish(ctx, s.instance.ID, events.InstanceCompleted{
		BaseEvent: s.engine.baseEvent(events.InstanceCompletedEvent, s.instance),
		Duration:  now.Sub(s.instance.StartedAt),
	})

	s.engine.logger.InfoContext(ctx, "Instance completed",
		"instance_id", s.instance.ID,
		"duration", now.Sub(s.instance.StartedAt),
	)

	return nil
}

// failInstance moves the instance to failed and cancels whatever is still
// in flight.
func (s *session) failInstance(ctx context.Context, message, stepID string) error {
	metadata := map[string]models.Value{
		"error": models.String(message),
	}
	if stepID != "" {
		metadata["step_id"] = models.String(stepID)
	}

	_, err := s.engine.journal.Append(ctx, audit.Entry{
		InstanceID: s.instance.ID,
		StepID:     stepID,
		Action:     models.AuditFailed,
		Metadata:   metadata,
	})
	if err != nil {
		return err
	}

	now := s.engine.now()

	err = s.cancelInFlightSteps(ctx, now)
	if err != nil {
		return err
	}

	s.instance.Status = models.InstanceStatusFailed
	s.instance.CompletedAt = &now
	s.instance.ActiveSteps = nil
	s.store.Freeze()

	err = s.saveInstance(ctx)
	if err != nil {
		return err
	}

	s.engine.publish(ctx, s.instance.ID, events.InstanceFailed{
		BaseEvent: s.engine.baseEvent(events.InstanceFailedEvent, s.instance),
		Error:     message,
		StepID:    stepID,
		Duration:  now.Sub(s.instance.StartedAt),
	})

	s.engine.logger.WarnContext(ctx, "Instance failed",
		"instance_id", s.instance.ID,
		"step_id", stepID,
		"error", message,
	)

	return nil
}

// cancelInFlightSteps marks every non-terminal step instance cancelled.
func (s *session) cancelInFlightSteps(ctx context.Context, now time.Time) error {
	steps, err := s.engine.persistence.StepInstances().ListByInstance(ctx, s.instance.ID)
	if err != nil {
		return err
	}

	for _, si := range steps {
		if si.Status.Terminal() {
			continue
		}

		si.Status = models.StepStatusCancelled
		si.CompletedAt = &now
		si.Suspended = false
		si.Deadline = nil
		si.NextRetryAt = nil

		err = s.engine.persistence.StepInstances().Save(ctx, si)
		if err != nil {
			return err
		}
	}

	return nil
}
