package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/persistence"
)

// DefinitionRepository stores one JSON document per definition version.
type DefinitionRepository struct {
	base *Persistence
}

func (r *DefinitionRepository) dir(id string) string {
	return filepath.Join(r.base.root, "definitions", id)
}

func (r *DefinitionRepository) path(id string, version int) string {
	return filepath.Join(r.dir(id), fmt.Sprintf("v%d.json", version))
}

// Save persists the definition version. Existing versions are immutable and
// may not be overwritten.
func (r *DefinitionRepository) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()

	err := os.MkdirAll(r.dir(def.ID), 0o755)
	if err != nil {
		return persistence.NewStoreError("Save", "definition", def.ID, err)
	}

	path := r.path(def.ID, def.Version)

	_, err = os.Stat(path)
	if err == nil {
		return persistence.NewStoreError("Save", "definition", def.ID, persistence.ErrDefinitionVersionExists)
	}

	err = r.base.writeDocument(path, def)
	if err != nil {
		return persistence.NewStoreError("Save", "definition", def.ID, err)
	}

	return nil
}

// GetByID loads one version, or the latest active version when version is
// zero.
func (r *DefinitionRepository) GetByID(ctx context.Context, id string, version int) (*models.WorkflowDefinition, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	if version == 0 {
		return r.latestActive(id)
	}

	var def models.WorkflowDefinition

	err := r.base.readDocument(r.path(id, version), &def)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewStoreError("GetByID", "definition", id, persistence.ErrDefinitionNotFound)
		}

		return nil, persistence.NewStoreError("GetByID", "definition", id, err)
	}

	return &def, nil
}

func (r *DefinitionRepository) latestActive(id string) (*models.WorkflowDefinition, error) {
	versions, err := r.versions(id)
	if err != nil {
		return nil, err
	}

	// Highest active version wins.
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))

	for _, version := range versions {
		var def models.WorkflowDefinition

		err := r.base.readDocument(r.path(id, version), &def)
		if err != nil {
			return nil, persistence.NewStoreError("GetByID", "definition", id, err)
		}

		if def.IsActive {
			return &def, nil
		}
	}

	return nil, persistence.NewStoreError("GetByID", "definition", id, persistence.ErrDefinitionNotFound)
}

// LatestVersion returns the highest stored version, or zero when none.
func (r *DefinitionRepository) LatestVersion(ctx context.Context, id string) (int, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	versions, err := r.versions(id)
	if err != nil {
		if persistence.IsDefinitionNotFound(err) {
			return 0, nil
		}

		return 0, err
	}

	latest := 0

	for _, version := range versions {
		if version > latest {
			latest = version
		}
	}

	return latest, nil
}

func (r *DefinitionRepository) versions(id string) ([]int, error) {
	entries, err := os.ReadDir(r.dir(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewStoreError("versions", "definition", id, persistence.ErrDefinitionNotFound)
		}

		return nil, persistence.NewStoreError("versions", "definition", id, err)
	}

	versions := make([]int, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".json") {
			continue
		}

		version, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".json"))
		if err != nil {
			continue
		}

		versions = append(versions, version)
	}

	if len(versions) == 0 {
		return nil, persistence.NewStoreError("versions", "definition", id, persistence.ErrDefinitionNotFound)
	}

	return versions, nil
}

// FindByName resolves a definition ID by (tenant, name).
func (r *DefinitionRepository) FindByName(ctx context.Context, tenantID, name string) (string, error) {
	r.base.mu.RLock()
	defer r.base.mu.RUnlock()

	root := filepath.Join(r.base.root, "definitions")

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", persistence.NewStoreError("FindByName", "definition", name, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		versions, err := r.versions(entry.Name())
		if err != nil {
			continue
		}

		var def models.WorkflowDefinition

		err = r.base.readDocument(r.path(entry.Name(), versions[0]), &def)
		if err != nil {
			continue
		}

		if def.TenantID == tenantID && def.Name == name {
			return def.ID, nil
		}
	}

	return "", persistence.NewStoreError("FindByName", "definition", name, persistence.ErrDefinitionNotFound)
}
