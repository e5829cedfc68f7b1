package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/persistence"
)

// InstanceRepository stores workflow instances as JSONB documents, with the
// columns the engine filters by lifted out.
type InstanceRepository struct {
	db *sql.DB
}

func (r *InstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	data, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}

	query := `
		INSERT INTO workflow_instances
			(id, definition_id, definition_version, tenant_id, status, data, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		  , data = EXCLUDED.data
		  , updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID, instance.DefinitionID, instance.DefinitionVersion,
		instance.TenantID, instance.Status, data, instance.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	var data []byte

	query := `SELECT data FROM workflow_instances WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "instance", id, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to query instance: %w", err)
	}

	var instance models.WorkflowInstance

	err = json.Unmarshal(data, &instance)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}

	return &instance, nil
}

func (r *InstanceRepository) ListByDefinition(ctx context.Context, definitionID string) ([]*models.WorkflowInstance, error) {
	query := `
		SELECT data
		FROM workflow_instances
		WHERE definition_id = $1
		ORDER BY started_at
	`

	rows, err := r.db.QueryContext(ctx, query, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		var data []byte

		err = rows.Scan(&data)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		var instance models.WorkflowInstance

		err = json.Unmarshal(data, &instance)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
		}

		instances = append(instances, &instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

func (r *InstanceRepository) ListActive(ctx context.Context) ([]string, error) {
	query := `
		SELECT id
		FROM workflow_instances
		WHERE status IN ($1, $2, $3)
		ORDER BY started_at
	`

	rows, err := r.db.QueryContext(ctx, query,
		models.InstanceStatusPending, models.InstanceStatusRunning, models.InstanceStatusPaused)
	if err != nil {
		return nil, fmt.Errorf("failed to query active instances: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)

	for rows.Next() {
		var id string

		err = rows.Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance ID: %w", err)
		}

		ids = append(ids, id)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating active instances: %w", err)
	}

	return ids, nil
}
