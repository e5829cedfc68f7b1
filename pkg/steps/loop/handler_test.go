package loop

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
	"github.com/orchon/orchon/pkg/variables"
)

func newRequest(t *testing.T, step *models.Step, vars map[string]models.Value) protocol.Request {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	journal := audit.NewLogger(p.AuditLog())

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
		Variables: variables.NewStore("inst-1", vars, journal),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func retryStep() *models.Step {
	return &models.Step{
		ID:     "retry-loop",
		Type:   models.StepTypeLoop,
		Config: map[string]models.Value{models.ConfigMaxIterations: models.Number(3)},
		Outgoing: []models.Edge{
			{
				TargetStepID: "call-service",
				Conditions: []models.Condition{
					{Field: "done", Operator: models.OperatorEquals, Value: models.Bool(false)},
				},
			},
			{TargetStepID: "after-loop"},
		},
	}
}

func TestHandler_GuardHoldsRoutesIntoBody(t *testing.T) {
	req := newRequest(t, retryStep(), map[string]models.Value{"done": models.Bool(false)})

	outcome, err := NewHandler().Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, protocol.OutcomeCompleted, outcome.Status)
	assert.Equal(t, []string{"call-service"}, outcome.Routes)

	counter, ok := req.Variables.Get(models.LoopCounterVariable)
	require.True(t, ok)
	assert.True(t, models.Number(1).Equal(counter))
}

func TestHandler_GuardFailsTakesExitEdge(t *testing.T) {
	req := newRequest(t, retryStep(), map[string]models.Value{
		"done":                     models.Bool(true),
		models.LoopCounterVariable: models.Number(2),
	})

	outcome, err := NewHandler().Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"after-loop"}, outcome.Routes)

	counter, ok := req.Variables.Get(models.LoopCounterVariable)
	require.True(t, ok)
	assert.True(t, models.Number(3).Equal(counter), "exit still counts as an iteration")
}

func TestHandler_IterationCapFailsTerminally(t *testing.T) {
	req := newRequest(t, retryStep(), map[string]models.Value{
		"done":                     models.Bool(false),
		models.LoopCounterVariable: models.Number(3),
	})

	outcome, err := NewHandler().Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, protocol.OutcomeFailed, outcome.Status)
	require.NotNil(t, outcome.Err)
	assert.Equal(t, protocol.ErrMessageLoopCapExceeded, outcome.Err.Message)
	assert.False(t, outcome.Err.Retryable)

	counter, ok := req.Variables.Get(models.LoopCounterVariable)
	require.True(t, ok)
	assert.True(t, models.Number(3).Equal(counter), "overflowing iteration is not journaled")
}

func TestHandler_NoExitEdgeEndsBranch(t *testing.T) {
	step := &models.Step{
		ID:   "drain",
		Type: models.StepTypeLoop,
		Outgoing: []models.Edge{
			{
				TargetStepID: "consume",
				Conditions: []models.Condition{
					{Field: "remaining", Operator: models.OperatorGreaterThan, Value: models.Number(0)},
				},
			},
		},
	}

	req := newRequest(t, step, map[string]models.Value{"remaining": models.Number(0)})

	outcome, err := NewHandler().Execute(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, outcome.Routes)
	assert.Empty(t, outcome.Routes)
}
