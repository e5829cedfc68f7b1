package engine

import (
	"context"
	"errors"

	"github.com/orchon/orchon/pkg/audit"
	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
)

// Sweep visits every active instance, fires the deadlines of suspended
// steps that have expired, and runs any step whose retry timer is due.
// Failures are isolated per instance so one broken instance cannot stall
// the rest; the combined error is returned for logging.
func (e *Engine) Sweep(ctx context.Context) error {
	instanceIDs, err := e.persistence.Instances().ListActive(ctx)
	if err != nil {
		return err
	}

	var errs []error

	for _, instanceID := range instanceIDs {
		err := e.sweepInstance(ctx, instanceID)
		if err != nil {
			e.logger.ErrorContext(ctx, "Sweep failed for instance",
				"instance_id", instanceID,
				"error", err,
			)

			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (e *Engine) sweepInstance(ctx context.Context, instanceID string) error {
	e.locks.lock(instanceID)
	defer e.locks.unlock(instanceID)

	s, err := e.newSession(ctx, instanceID)
	if err != nil {
		return err
	}

	// Paused instances hold their timers until resumed.
	if s.instance.Status != models.InstanceStatusRunning {
		return nil
	}

	err = s.fireExpiredDeadlines(ctx)
	if err != nil {
		return err
	}

	// Due retries are ordinary runnable steps; the drain picks them up.
	return s.drain(ctx)
}

func (s *session) fireExpiredDeadlines(ctx context.Context) error {
	steps, err := s.engine.persistence.StepInstances().ListByInstance(ctx, s.instance.ID)
	if err != nil {
		return err
	}

	now := s.engine.now()

	for _, si := range steps {
		if s.instance.Status != models.InstanceStatusRunning {
			break
		}

		if !si.Suspended || si.Deadline == nil || si.Deadline.After(now) {
			continue
		}

		step, ok := s.def.StepByID(si.StepID)
		if !ok {
			return s.failInstance(ctx, "suspended step missing from definition", si.StepID)
		}

		if step.AutoEscalate() {
			err = s.escalateTimedOut(ctx, si, step)
		} else {
			err = s.failSuspended(ctx, si, step, protocol.ErrMessageTimeout, false, audit.EngineActor)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// escalateTimedOut completes a timed-out step instead of failing it,
// flagging the timeout in an output so downstream edge guards can branch
// to an escalation path.
func (s *session) escalateTimedOut(ctx context.Context, si *models.StepInstance, step *models.Step) error {
	now := s.engine.now()
	outputs := map[string]models.Value{
		"timed_out": models.Bool(true),
	}

	_, err := s.engine.journal.Append(ctx, audit.Entry{
		InstanceID:     s.instance.ID,
		StepInstanceID: si.ID,
		StepID:         si.StepID,
		Action:         models.AuditStepCompleted,
		Metadata: map[string]models.Value{
			"duration_ms": models.Number(float64(now.Sub(si.StartedAt).Milliseconds())),
			"outputs":     models.Map(outputs),
			"timed_out":   models.Bool(true),
		},
	})
	if err != nil {
		return err
	}

	si.Status = models.StepStatusCompleted
	si.Outputs = models.CloneMap(outputs)
	si.CompletedAt = &now
	si.Suspended = false
	si.Deadline = nil

	err = s.engine.persistence.StepInstances().Save(ctx, si)
	if err != nil {
		return err
	}

	err = s.store.SetAll(ctx, outputs, audit.EngineActor)
	if err != nil {
		return err
	}

	s.engine.logger.InfoContext(ctx, "Suspended step timed out, escalating",
		"instance_id", s.instance.ID,
		"step_id", si.StepID,
	)

	s.instance.RemoveActiveStep(si.ID)

	return s.routeTo(ctx, s.guardedRoutes(ctx, step))
}
