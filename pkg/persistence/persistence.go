// Package persistence provides the storage abstraction for definitions,
// instances, step instances and the audit log.
package persistence

import (
	"context"

	"github.com/orchon/orchon/pkg/models"
)

// Persistence aggregates the engine's repositories behind one lifecycle.
type Persistence interface {
	Definitions() DefinitionRepository
	Instances() InstanceRepository
	StepInstances() StepInstanceRepository
	AuditLog() AuditLogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores versioned workflow definitions, keyed by
// (tenant, name, version). Saved versions are immutable.
type DefinitionRepository interface {
	// Save persists the definition under its ID and version.
	Save(ctx context.Context, def *models.WorkflowDefinition) error

	// GetByID returns one version of a definition, or the latest active
	// version when version is zero. Returns ErrDefinitionNotFound when
	// missing.
	GetByID(ctx context.Context, id string, version int) (*models.WorkflowDefinition, error)

	// LatestVersion returns the highest stored version for the definition
	// ID, or zero when none exists.
	LatestVersion(ctx context.Context, id string) (int, error)

	// FindByName resolves a definition ID by tenant and name, so saving an
	// edit can version instead of duplicating. Returns ErrDefinitionNotFound
	// when missing.
	FindByName(ctx context.Context, tenantID, name string) (string, error)
}

// InstanceRepository stores workflow instances.
type InstanceRepository interface {
	Save(ctx context.Context, instance *models.WorkflowInstance) error

	// GetByID returns the instance or ErrInstanceNotFound.
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)

	// ListByDefinition returns every instance pinned to the definition ID,
	// any version.
	ListByDefinition(ctx context.Context, definitionID string) ([]*models.WorkflowInstance, error)

	// ListActive returns the IDs of instances in a non-terminal status, for
	// the scheduler's timer sweep.
	ListActive(ctx context.Context) ([]string, error)
}

// StepInstanceRepository stores the runtime step occurrences of instances.
type StepInstanceRepository interface {
	Save(ctx context.Context, step *models.StepInstance) error

	// GetByID returns one step instance or ErrStepInstanceNotFound.
	GetByID(ctx context.Context, instanceID, stepInstanceID string) (*models.StepInstance, error)

	// ListByInstance returns all step instances of one workflow instance in
	// creation order.
	ListByInstance(ctx context.Context, instanceID string) ([]*models.StepInstance, error)
}

// AuditLogRepository stores the append-only journal. Entries are never
// mutated or deleted by the engine.
type AuditLogRepository interface {
	// Append stores one entry. The caller is responsible for allocating a
	// gapless per-instance sequence under the instance lock.
	Append(ctx context.Context, entry *models.AuditLogEntry) error

	// ListByInstance returns all entries for the instance ordered by
	// sequence.
	ListByInstance(ctx context.Context, instanceID string) ([]models.AuditLogEntry, error)

	// LastSequence returns the highest sequence recorded for the instance,
	// or zero when the journal is empty.
	LastSequence(ctx context.Context, instanceID string) (int64, error)
}
