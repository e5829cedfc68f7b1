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

// DefinitionRepository stores versioned definitions. Versions are immutable:
// Save refuses to overwrite an existing (id, version) row.
type DefinitionRepository struct {
	db *sql.DB
}

func (r *DefinitionRepository) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (id, version, tenant_id, name, is_active, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id, version) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		def.ID, def.Version, def.TenantID, def.Name, def.IsActive, data, def.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert definition: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("Save", "definition", def.ID, persistence.ErrDefinitionVersionExists)
	}

	return nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string, version int) (*models.WorkflowDefinition, error) {
	var (
		row  *sql.Row
		data []byte
	)

	if version > 0 {
		query := `
			SELECT data
			FROM workflow_definitions
			WHERE id = $1 AND version = $2
		`
		row = r.db.QueryRowContext(ctx, query, id, version)
	} else {
		query := `
			SELECT data
			FROM workflow_definitions
			WHERE id = $1 AND is_active
			ORDER BY version DESC
			LIMIT 1
		`
		row = r.db.QueryRowContext(ctx, query, id)
	}

	err := row.Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", "definition", id, persistence.ErrDefinitionNotFound)
		}

		return nil, fmt.Errorf("failed to query definition: %w", err)
	}

	var def models.WorkflowDefinition

	err = json.Unmarshal(data, &def)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}

	return &def, nil
}

func (r *DefinitionRepository) LatestVersion(ctx context.Context, id string) (int, error) {
	var version int

	query := `SELECT COALESCE(MAX(version), 0) FROM workflow_definitions WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest version: %w", err)
	}

	return version, nil
}

func (r *DefinitionRepository) FindByName(ctx context.Context, tenantID, name string) (string, error) {
	var id string

	query := `
		SELECT id
		FROM workflow_definitions
		WHERE tenant_id = $1 AND name = $2
		ORDER BY version DESC
		LIMIT 1
	`

	err := r.db.QueryRowContext(ctx, query, tenantID, name).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", persistence.NewStoreError("FindByName", "definition", name, persistence.ErrDefinitionNotFound)
		}

		return "", fmt.Errorf("failed to query definition by name: %w", err)
	}

	return id, nil
}
