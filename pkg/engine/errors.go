package engine

import (
	"errors"
	"fmt"

	"github.com/orchon/orchon/pkg/models"
)

// Sentinel errors for rejected control operations.
var (
	ErrDefinitionInactive = errors.New("definition version is not active")
	ErrInstanceTerminal   = errors.New("instance is in a terminal status")
	ErrInstancePaused     = errors.New("instance is paused")
	ErrInstanceNotRunning = errors.New("instance is not running")
	ErrInstanceNotPaused  = errors.New("instance is not paused")
	ErrStepNotSuspended   = errors.New("step instance is not awaiting a completion callback")
)

// TransitionError reports a control operation rejected because of the
// instance's current status.
type TransitionError struct {
	Op         string
	InstanceID string
	Status     models.InstanceStatus
	Err        error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s instance %s in status %q: %v", e.Op, e.InstanceID, e.Status, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func (e *TransitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func rejectTransition(op string, instance *models.WorkflowInstance, err error) error {
	return &TransitionError{
		Op:         op,
		InstanceID: instance.ID,
		Status:     instance.Status,
		Err:        err,
	}
}
