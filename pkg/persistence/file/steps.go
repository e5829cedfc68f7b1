package file

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/persistence"
)

// StepInstanceRepository stores all step instances of one workflow instance
// as a single JSON array, in creation order.
type StepInstanceRepository struct {
	base *Persistence
}

func (r *StepInstanceRepository) path(instanceID string) string {
	return filepath.Join(r.base.root, "steps", instanceID+".json")
}

func (r *StepInstanceRepository) load(instanceID string) ([]*models.StepInstance, error) {
	var steps []*models.StepInstance

	err := r.base.readDocument(r.path(instanceID), &steps)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*models.StepInstance{}, nil
		}

		return nil, persistence.NewStoreError("load", "step instance", instanceID, err)
	}

	return steps, nil
}

func (r *StepInstanceRepository) Save(ctx context.Context, step *models.StepInstance) error {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()

	steps, err := r.load(step.InstanceID)
	if err != nil {
		return err
	}

	replaced := false

	for i, existing := range steps {
		if existing.ID == step.ID {
			steps[i] = step
			replaced = true

			break
		}
	}

	if !replaced {
		steps = append(steps, step)
	}

	err = r.base.writeDocument(r.path(step.InstanceID), steps)
	if err != nil {
		return persistence.NewStoreError("Save", "step instance", step.ID, err)
	}

	return nil
}

func (r *StepInstanceRepository) GetByID(ctx context.Context, instanceID, stepInstanceID string) (*models.StepInstance, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	steps, err := r.load(instanceID)
	if err != nil {
		return nil, err
	}

	for _, step := range steps {
		if step.ID == stepInstanceID {
			return step, nil
		}
	}

	return nil, persistence.NewStoreError("GetByID", "step instance", stepInstanceID, persistence.ErrStepInstanceNotFound)
}

func (r *StepInstanceRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.StepInstance, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	return r.load(instanceID)
}
