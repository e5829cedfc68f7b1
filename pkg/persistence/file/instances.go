package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/persistence"
)

// InstanceRepository stores one JSON document per workflow instance.
type InstanceRepository struct {
	base *Persistence
}

func (r *InstanceRepository) path(id string) string {
	return filepath.Join(r.base.root, "instances", id+".json")
}

func (r *InstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()

	err := r.base.writeDocument(r.path(instance.ID), instance)
	if err != nil {
		return persistence.NewStoreError("Save", "instance", instance.ID, err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	return r.read(id)
}

func (r *InstanceRepository) read(id string) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance

	err := r.base.readDocument(r.path(id), &instance)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewStoreError("GetByID", "instance", id, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewStoreError("GetByID", "instance", id, err)
	}

	return &instance, nil
}

func (r *InstanceRepository) ListByDefinition(ctx context.Context, definitionID string) ([]*models.WorkflowInstance, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	ids, err := r.ids()
	if err != nil {
		return nil, err
	}

	instances := make([]*models.WorkflowInstance, 0)

	for _, id := range ids {
		instance, err := r.read(id)
		if err != nil {
			return nil, err
		}

		if instance.DefinitionID == definitionID {
			instances = append(instances, instance)
		}
	}

	return instances, nil
}

func (r *InstanceRepository) ListActive(ctx context.Context) ([]string, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	ids, err := r.ids()
	if err != nil {
		return nil, err
	}

	active := make([]string, 0)

	for _, id := range ids {
		instance, err := r.read(id)
		if err != nil {
			return nil, err
		}

		if !instance.Status.Terminal() {
			active = append(active, id)
		}
	}

	return active, nil
}

func (r *InstanceRepository) ids() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.base.root, "instances"))
	if err != nil {
		return nil, persistence.NewStoreError("ids", "instance", "", err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}

	return ids, nil
}
