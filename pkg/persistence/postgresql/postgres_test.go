package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/persistence"
	"github.com/orchon/orchon/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"audit_log", "step_instances", "workflow_instances", "workflow_definitions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("orchon_test"),
			postgres.WithUsername("orchon"),
			postgres.WithPassword("orchon"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func testDefinition(id string, version int) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:       id,
		TenantID: "acme",
		Name:     "expense-approval",
		Version:  version,
		IsActive: true,
		Steps: []models.Step{
			{ID: "submit", Type: models.StepTypeManual, Name: "Submit"},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflow_definitions", "workflow_instances", "step_instances", "audit_log"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}
}

func TestDefinitionRepository_VersionsAreImmutable(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	def := testDefinition(uuid.New().String(), 1)
	require.NoError(t, p.Definitions().Save(ctx, def))

	err := p.Definitions().Save(ctx, def)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrDefinitionVersionExists)
}

func TestDefinitionRepository_LatestActiveAndPinned(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	id := uuid.New().String()
	require.NoError(t, p.Definitions().Save(ctx, testDefinition(id, 1)))

	v2 := testDefinition(id, 2)
	require.NoError(t, p.Definitions().Save(ctx, v2))

	inactive := testDefinition(id, 3)
	inactive.IsActive = false
	require.NoError(t, p.Definitions().Save(ctx, inactive))

	latest, err := p.Definitions().GetByID(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version, "version 0 resolves the latest active version")

	pinned, err := p.Definitions().GetByID(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, pinned.Version)

	version, err := p.Definitions().LatestVersion(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	found, err := p.Definitions().FindByName(ctx, "acme", "expense-approval")
	require.NoError(t, err)
	assert.Equal(t, id, found)
}

func TestDefinitionRepository_NotFound(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	_, err := p.Definitions().GetByID(ctx, uuid.New().String(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrDefinitionNotFound)

	_, err = p.Definitions().FindByName(ctx, "acme", "no-such-name")
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrDefinitionNotFound)
}

func TestInstanceRepository_RoundTripAndUpdate(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	instance := &models.WorkflowInstance{
		ID:                uuid.New().String(),
		DefinitionID:      uuid.New().String(),
		DefinitionVersion: 1,
		TenantID:          "acme",
		Status:            models.InstanceStatusPending,
		Variables:         map[string]models.Value{"amount": models.Number(500)},
		StartedAt:         time.Now().UTC().Truncate(time.Millisecond),
		InitiatedBy:       "alice",
	}

	require.NoError(t, p.Instances().Save(ctx, instance))

	instance.Status = models.InstanceStatusRunning
	require.NoError(t, p.Instances().Save(ctx, instance))

	loaded, err := p.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, loaded.Status)
	assert.True(t, models.Number(500).Equal(loaded.Variables["amount"]))

	byDef, err := p.Instances().ListByDefinition(ctx, instance.DefinitionID)
	require.NoError(t, err)
	require.Len(t, byDef, 1)

	active, err := p.Instances().ListActive(ctx)
	require.NoError(t, err)
	assert.Contains(t, active, instance.ID)

	instance.Status = models.InstanceStatusCompleted
	require.NoError(t, p.Instances().Save(ctx, instance))

	active, err = p.Instances().ListActive(ctx)
	require.NoError(t, err)
	assert.NotContains(t, active, instance.ID)
}

func TestStepInstanceRepository_PreservesCreationOrder(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	instanceID := uuid.New().String()

	first := &models.StepInstance{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		StepID:     "submit",
		Status:     models.StepStatusPending,
	}
	second := &models.StepInstance{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		StepID:     "review",
		Status:     models.StepStatusPending,
	}

	require.NoError(t, p.StepInstances().Save(ctx, first))
	require.NoError(t, p.StepInstances().Save(ctx, second))

	// Updating the first step must not move it behind the second.
	first.Status = models.StepStatusCompleted
	require.NoError(t, p.StepInstances().Save(ctx, first))

	steps, err := p.StepInstances().ListByInstance(ctx, instanceID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "submit", steps[0].StepID)
	assert.Equal(t, models.StepStatusCompleted, steps[0].Status)
	assert.Equal(t, "review", steps[1].StepID)
}

func TestAuditLogRepository_AppendOnlyAndOrdered(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	instanceID := uuid.New().String()

	for seq := int64(1); seq <= 3; seq++ {
		require.NoError(t, p.AuditLog().Append(ctx, &models.AuditLogEntry{
			ID:         uuid.New().String(),
			InstanceID: instanceID,
			Action:     models.AuditStepStarted,
			Sequence:   seq,
			Timestamp:  time.Now().UTC(),
			Actor:      "engine",
		}))
	}

	err := p.AuditLog().Append(ctx, &models.AuditLogEntry{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		Action:     models.AuditStepStarted,
		Sequence:   2,
		Timestamp:  time.Now().UTC(),
		Actor:      "engine",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrDuplicateSequence)

	entries, err := p.AuditLog().ListByInstance(ctx, instanceID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Sequence)
	}

	last, err := p.AuditLog().LastSequence(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}
