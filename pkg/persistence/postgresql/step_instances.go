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

// StepInstanceRepository stores runtime step occurrences. The ordinal column
// is allocated on first insert so ListByInstance preserves creation order
// across updates.
type StepInstanceRepository struct {
	db *sql.DB
}

func (r *StepInstanceRepository) Save(ctx context.Context, step *models.StepInstance) error {
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to marshal step instance: %w", err)
	}

	query := `
		INSERT INTO step_instances (id, instance_id, step_id, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (instance_id, id) DO UPDATE
		SET data = EXCLUDED.data
	`

	_, err = r.db.ExecContext(ctx, query, step.ID, step.InstanceID, step.StepID, data)
	if err != nil {
		return fmt.Errorf("failed to save step instance: %w", err)
	}

	return nil
}

func (r *StepInstanceRepository) GetByID(ctx context.Context, instanceID, stepInstanceID string) (*models.StepInstance, error) {
	var data []byte

	query := `SELECT data FROM step_instances WHERE instance_id = $1 AND id = $2`

	err := r.db.QueryRowContext(ctx, query, instanceID, stepInstanceID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "step instance", stepInstanceID, persistence.ErrStepInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to query step instance: %w", err)
	}

	var step models.StepInstance

	err = json.Unmarshal(data, &step)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal step instance: %w", err)
	}

	return &step, nil
}

func (r *StepInstanceRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.StepInstance, error) {
	query := `
		SELECT data
		FROM step_instances
		WHERE instance_id = $1
		ORDER BY ordinal
	`

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step instances: %w", err)
	}
	defer rows.Close()

	steps := make([]*models.StepInstance, 0)

	for rows.Next() {
		var data []byte

		err = rows.Scan(&data)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step instance: %w", err)
		}

		var step models.StepInstance

		err = json.Unmarshal(data, &step)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step instance: %w", err)
		}

		steps = append(steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating step instances: %w", err)
	}

	return steps, nil
}
