package engine

import (
	"context"
	"fmt"

	"github.com/orchon/orchon/pkg/audit"
	"github.com/orchon/orchon/pkg/events"
	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
)

// CompleteStep resolves a suspended step with externally supplied outputs:
// a human task decision or an async integration result. The outputs merge
// into the instance variables and execution continues synchronously until
// the next quiescent point.
func (e *Engine) CompleteStep(ctx context.Context, instanceID, stepInstanceID string, outputs map[string]models.Value, actor string) error {
	e.locks.lock(instanceID)
	defer e.locks.unlock(instanceID)

	s, err := e.newSession(ctx, instanceID)
	if err != nil {
		return err
	}

	si, step, err := s.suspendedStep(ctx, stepInstanceID)
	if err != nil {
		return err
	}

	now := e.now()
	metadata := map[string]models.Value{
		"duration_ms": models.Number(float64(now.Sub(si.StartedAt).Milliseconds())),
	}

	if len(outputs) > 0 {
		metadata["outputs"] = models.Map(outputs)
	}

	_, err = e.journal.Append(ctx, audit.Entry{
		InstanceID:     instanceID,
		StepInstanceID: si.ID,
		StepID:         si.StepID,
		Action:         models.AuditStepCompleted,
		Actor:          actor,
		Metadata:       metadata,
	})
	if err != nil {
		return err
	}

	si.Status = models.StepStatusCompleted
	si.Outputs = models.CloneMap(outputs)
	si.CompletedAt = &now
	si.Suspended = false
	si.Deadline = nil

	err = e.persistence.StepInstances().Save(ctx, si)
	if err != nil {
		return err
	}

	if len(outputs) > 0 {
		err = s.store.SetAll(ctx, outputs, actor)
		if err != nil {
			return err
		}
	}

	s.engine.publish(ctx, instanceID, events.StepCompleted{
		BaseEvent:      e.baseEvent(events.StepCompletedEvent, s.instance),
		StepInstanceID: si.ID,
		StepID:         step.ID,
		StepType:       step.Type,
		DurationMs:     now.Sub(si.StartedAt).Milliseconds(),
	})

	s.instance.RemoveActiveStep(si.ID)

	err = s.routeTo(ctx, s.guardedRoutes(ctx, step))
	if err != nil {
		return err
	}

	return s.drain(ctx)
}

// FailStep resolves a suspended step with an externally reported failure,
// such as an async integration whose remote call came back with an error.
// The retry budget applies the same way as for in-process failures.
func (e *Engine) FailStep(ctx context.Context, instanceID, stepInstanceID, reason string, retryable bool, actor string) error {
	e.locks.lock(instanceID)
	defer e.locks.unlock(instanceID)

	s, err := e.newSession(ctx, instanceID)
	if err != nil {
		return err
	}

	si, step, err := s.suspendedStep(ctx, stepInstanceID)
	if err != nil {
		return err
	}

	err = s.failSuspended(ctx, si, step, reason, retryable, actor)
	if err != nil {
		return err
	}

	return s.drain(ctx)
}

// suspendedStep validates that the instance can accept a completion
// callback and that the step is actually awaiting one.
func (s *session) suspendedStep(ctx context.Context, stepInstanceID string) (*models.StepInstance, *models.Step, error) {
	switch {
	case s.instance.Status.Terminal():
		return nil, nil, rejectTransition("complete step on", s.instance, ErrInstanceTerminal)
	case s.instance.Status == models.InstanceStatusPaused:
		return nil, nil, rejectTransition("complete step on", s.instance, ErrInstancePaused)
	case s.instance.Status != models.InstanceStatusRunning:
		return nil, nil, rejectTransition("complete step on", s.instance, ErrInstanceNotRunning)
	}

	si, err := s.engine.persistence.StepInstances().GetByID(ctx, s.instance.ID, stepInstanceID)
	if err != nil {
		return nil, nil, err
	}

	if si.Status != models.StepStatusRunning || !si.Suspended {
		return nil, nil, fmt.Errorf("step instance %s of instance %s: %w", stepInstanceID, s.instance.ID, ErrStepNotSuspended)
	}

	step, ok := s.def.StepByID(si.StepID)
	if !ok {
		return nil, nil, fmt.Errorf("step %q not found in definition %s", si.StepID, s.def.ID)
	}

	return si, step, nil
}

// failSuspended journals and resolves an externally reported failure of a
// suspended step.
func (s *session) failSuspended(ctx context.Context, si *models.StepInstance, step *models.Step, reason string, retryable bool, actor string) error {
	willRetry := step.WillRetry(si.Attempt, retryable)

	_, err := s.engine.journal.Append(ctx, audit.Entry{
		InstanceID:     s.instance.ID,
		StepInstanceID: si.ID,
		StepID:         si.StepID,
		Action:         models.AuditStepFailed,
		Actor:          actor,
		Metadata: map[string]models.Value{
			"error":      models.String(reason),
			"retryable":  models.Bool(retryable),
			"attempt":    models.Number(float64(si.Attempt)),
			"will_retry": models.Bool(willRetry),
		},
	})
	if err != nil {
		return err
	}

	now := s.engine.now()

	si.Status = models.StepStatusFailed
	si.CompletedAt = &now
	si.Suspended = false
	si.Deadline = nil
	si.Error = reason
	si.Retryable = retryable

	err = s.engine.persistence.StepInstances().Save(ctx, si)
	if err != nil {
		return err
	}

	return s.handleFailure(ctx, si, step, protocol.StepError{Message: reason, Retryable: retryable})
}

// PauseInstance holds a running instance. Suspended steps keep their
// deadlines; expired deadlines fire after the instance resumes.
func (e *Engine) PauseInstance(ctx context.Context, instanceID, actor string) error {
	e.locks.lock(instanceID)
	defer e.locks.unlock(instanceID)

	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return err
	}

	if instance.Status.Terminal() {
		return rejectTransition("pause", instance, ErrInstanceTerminal)
	}

	if instance.Status != models.InstanceStatusRunning {
		return rejectTransition("pause", instance, ErrInstanceNotRunning)
	}

	_, err = e.journal.Append(ctx, audit.Entry{
		InstanceID: instanceID,
		Action:     models.AuditPaused,
		Actor:      actor,
	})
	if err != nil {
		return err
	}

	instance.Status = models.InstanceStatusPaused

	err = e.persistence.Instances().Save(ctx, instance)
	if err != nil {
		return err
	}

	e.publish(ctx, instanceID, events.InstancePaused{
		BaseEvent: e.baseEvent(events.InstancePausedEvent, instance),
		Actor:     actor,
	})

	return nil
}

// ResumeInstance releases a paused instance and schedules it for
// execution.
func (e *Engine) ResumeInstance(ctx context.Context, instanceID, actor string) error {
	err := e.resumeLocked(ctx, instanceID, actor)
	if err != nil {
		return err
	}

	if e.queue != nil {
		e.enqueue(ctx, instanceID)

		return nil
	}

	return e.Advance(ctx, instanceID)
}

func (e *Engine) resumeLocked(ctx context.Context, instanceID, actor string) error {
	e.locks.lock(instanceID)
	defer e.locks.unlock(instanceID)

	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return err
	}

	if instance.Status.Terminal() {
		return rejectTransition("resume", instance, ErrInstanceTerminal)
	}

	if instance.Status != models.InstanceStatusPaused {
		return rejectTransition("resume", instance, ErrInstanceNotPaused)
	}

	_, err = e.journal.Append(ctx, audit.Entry{
		InstanceID: instanceID,
		Action:     models.AuditResumed,
		Actor:      actor,
	})
	if err != nil {
		return err
	}

	instance.Status = models.InstanceStatusRunning

	err = e.persistence.Instances().Save(ctx, instance)
	if err != nil {
		return err
	}

	e.publish(ctx, instanceID, events.InstanceResumed{
		BaseEvent: e.baseEvent(events.InstanceResumedEvent, instance),
		Actor:     actor,
	})

	return nil
}

// CancelInstance aborts an instance. Cancelling an instance that is already
// terminal, whatever the terminal status, is a no-op.
func (e *Engine) CancelInstance(ctx context.Context, instanceID, actor string) error {
	e.locks.lock(instanceID)
	defer e.locks.unlock(instanceID)

	s, err := e.newSession(ctx, instanceID)
	if err != nil {
		return err
	}

	if s.instance.Status.Terminal() {
		return nil
	}

	_, err = e.journal.Append(ctx, audit.Entry{
		InstanceID: instanceID,
		Action:     models.AuditCancelled,
		Actor:      actor,
	})
	if err != nil {
		return err
	}

	now := e.now()

	err = s.cancelInFlightSteps(ctx, now)
	if err != nil {
		return err
	}

	s.instance.Status = models.InstanceStatusCancelled
	s.instance.CompletedAt = &now
	s.instance.ActiveSteps = nil
	s.store.Freeze()

	err = s.saveInstance(ctx)
	if err != nil {
		return err
	}

	e.publish(ctx, instanceID, events.InstanceCancelled{
		BaseEvent: e.baseEvent(events.InstanceCancelledEvent, s.instance),
		Actor:     actor,
	})

	e.logger.InfoContext(ctx, "Instance cancelled", "instance_id", instanceID, "actor", actor)

	return nil
}
