// Package persistence provides standardized error types for persistence
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates a workflow definition (or the
	// requested version of it) was not found.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrDefinitionVersionExists indicates an attempt to overwrite an
	// already-stored definition version.
	ErrDefinitionVersionExists = errors.New("workflow definition version already exists")

	// ErrInstanceNotFound indicates a workflow instance was not found.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrStepInstanceNotFound indicates a step instance was not found.
	ErrStepInstanceNotFound = errors.New("step instance not found")

	// ErrDuplicateSequence indicates an audit append would reuse an
	// existing per-instance sequence number.
	ErrDuplicateSequence = errors.New("duplicate audit sequence")
)

// StoreError wraps persistence errors with operation context.
type StoreError struct {
	Op     string // Operation being performed (e.g. "GetByID", "Append")
	Entity string // Entity kind ("definition", "instance", ...)
	ID     string // Identifier if applicable
	Err    error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a new store error with context.
func NewStoreError(op, entity, id string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Err: err}
}

// IsNotFound checks whether the error is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrInstanceNotFound) ||
		errors.Is(err, ErrStepInstanceNotFound)
}

// IsDefinitionNotFound checks if an error indicates a missing definition.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsInstanceNotFound checks if an error indicates a missing instance.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}
