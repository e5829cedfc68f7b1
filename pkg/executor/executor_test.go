package executor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchon/orchon/pkg/audit"
	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/persistence/file"
	"github.com/orchon/orchon/pkg/protocol"
	"github.com/orchon/orchon/pkg/registry"
	"github.com/orchon/orchon/pkg/steps/automated"
	"github.com/orchon/orchon/pkg/variables"
)

func newExecutor(t *testing.T) (*Executor, *audit.Logger) {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	journal := audit.NewLogger(p.AuditLog())

	reg := registry.NewRegistry(logger)
	reg.Register(automated.NewFactory(nil))

	return NewExecutor(reg, journal, logger), journal
}

func newRequest(t *testing.T, step *models.Step, journal *audit.Logger) protocol.Request {
	t.Helper()

	return protocol.Request{
		Instance: &models.WorkflowInstance{
			ID:           "inst-1",
			DefinitionID: "wf-1",
			Status:       models.InstanceStatusRunning,
		},
		StepInstance: &models.StepInstance{
			ID:         "si-1",
			InstanceID: "inst-1",
			StepID:     step.ID,
			Status:     models.StepStatusRunning,
			StartedAt:  time.Now().UTC(),
			Attempt:    1,
		},
		Step:      step,
		Variables: variables.NewStore("inst-1", nil, journal),
	}
}

func journalActions(t *testing.T, journal *audit.Logger) []models.AuditAction {
	t.Helper()

	entries, err := journal.List(context.Background(), "inst-1")
	require.NoError(t, err)

	actions := make([]models.AuditAction, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}

	return actions
}

func TestRun_CompletedStepJournalsOutputs(t *testing.T) {
	exec, journal := newExecutor(t)
	step := &models.Step{
		ID:   "compute",
		Type: models.StepTypeAutomated,
		Config: map[string]models.Value{
			"outputs": models.Map(map[string]models.Value{"total": models.Number(42)}),
		},
	}

	req := newRequest(t, step, journal)

	outcome, err := exec.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, protocol.OutcomeCompleted, outcome.Status)

	assert.Equal(t, models.StepStatusCompleted, req.StepInstance.Status)
	require.NotNil(t, req.StepInstance.CompletedAt)
	assert.True(t, models.Number(42).Equal(req.StepInstance.Outputs["total"]))

	assert.Equal(t, []models.AuditAction{models.AuditStepStarted, models.AuditStepCompleted}, journalActions(t, journal))
}

func TestRun_FailedStepJournalsRetryClassification(t *testing.T) {
	exec, journal := newExecutor(t)
	step := &models.Step{
		ID:   "flaky",
		Type: models.StepTypeAutomated,
		Config: map[string]models.Value{
			"fail_message": models.String("upstream unavailable"),
			"retryable":    models.Bool(true),
		},
	}

	req := newRequest(t, step, journal)

	outcome, err := exec.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, protocol.OutcomeFailed, outcome.Status)

	assert.Equal(t, models.StepStatusFailed, req.StepInstance.Status)
	assert.Equal(t, "upstream unavailable", req.StepInstance.Error)
	assert.True(t, req.StepInstance.Retryable)

	entries, err := journal.List(context.Background(), "inst-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	failed := entries[1]
	assert.Equal(t, models.AuditStepFailed, failed.Action)
	assert.True(t, models.Bool(true).Equal(failed.Metadata["retryable"]))
	assert.True(t, models.String("upstream unavailable").Equal(failed.Metadata["error"]))
}

func TestRun_DisabledStepIsSkippedWithoutDispatch(t *testing.T) {
	exec, journal := newExecutor(t)
	step := &models.Step{
		ID:   "optional-check",
		Type: models.StepTypeAutomated,
		Config: map[string]models.Value{
			models.ConfigEnabled: models.Bool(false),
			"fail_message":       models.String("must never run"),
		},
	}

	req := newRequest(t, step, journal)

	outcome, err := exec.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, protocol.OutcomeCompleted, outcome.Status)
	assert.True(t, outcome.Skipped)
	assert.Equal(t, models.StepStatusSkipped, req.StepInstance.Status)

	entries, err := journal.List(context.Background(), "inst-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, models.Bool(true).Equal(entries[1].Metadata["skipped"]))
}

func TestRun_UnregisteredStepTypeFailsTerminally(t *testing.T) {
	exec, journal := newExecutor(t)
	step := &models.Step{ID: "mystery", Type: models.StepTypeCustom}

	req := newRequest(t, step, journal)

	outcome, err := exec.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, protocol.OutcomeFailed, outcome.Status)
	require.NotNil(t, outcome.Err)
	assert.False(t, outcome.Err.Retryable)

	assert.Equal(t, []models.AuditAction{models.AuditStepStarted, models.AuditStepFailed}, journalActions(t, journal))
}
