package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/persistence"
	"github.com/orchon/orchon/pkg/persistence/file"
	"github.com/orchon/orchon/pkg/registry"
	"github.com/orchon/orchon/pkg/steps/automated"
	"github.com/orchon/orchon/pkg/steps/condition"
	"github.com/orchon/orchon/pkg/steps/humantask"
	"github.com/orchon/orchon/pkg/steps/integration"
	"github.com/orchon/orchon/pkg/steps/loop"
	"github.com/orchon/orchon/pkg/steps/notification"
	"github.com/orchon/orchon/pkg/steps/parallel"
	"github.com/orchon/orchon/pkg/steps/transform"
)

// fakeClock is a settable clock shared by the engine, journal and
// executor in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T) (*Engine, persistence.Persistence, *fakeClock) {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() { _ = p.Close(context.Background()) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.NewRegistry(logger)
	reg.Register(automated.NewFactory(nil))
	reg.Register(integration.NewFactory(nil))
	reg.Register(transform.NewFactory(nil))
	reg.Register(humantask.NewManualFactory())
	reg.Register(humantask.NewApprovalFactory())
	reg.Register(notification.NewFactory(notification.NewSlogNotifier(logger)))
	reg.Register(condition.NewFactory())
	reg.Register(parallel.NewFactory())
	reg.Register(loop.NewFactory())

	clock := newFakeClock()
	eng := NewEngine(p, reg, logger, WithClock(clock.Now))

	return eng, p, clock
}

func saveDefinition(t *testing.T, p persistence.Persistence, def *models.WorkflowDefinition) {
	t.Helper()
	require.NoError(t, p.Definitions().Save(context.Background(), def))
}

func startAndAdvance(t *testing.T, eng *Engine, definitionID string, vars map[string]models.Value) *models.WorkflowInstance {
	t.Helper()

	ctx := context.Background()

	instance, err := eng.StartInstance(ctx, StartRequest{
		DefinitionID: definitionID,
		InitiatedBy:  "alice",
		Variables:    vars,
	})
	require.NoError(t, err)
	require.Equal(t, models.InstanceStatusPending, instance.Status)

	require.NoError(t, eng.Advance(ctx, instance.ID))

	return instance
}

func stepInstanceByStepID(t *testing.T, view *InstanceView, stepID string) *models.StepInstance {
	t.Helper()

	for _, si := range view.Steps {
		if si.StepID == stepID {
			return si
		}
	}

	t.Fatalf("no step instance for step %q", stepID)

	return nil
}

func linearApprovalDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:       "wf-expense",
		TenantID: "acme",
		Name:     "expense-approval",
		Version:  1,
		IsActive: true,
		Steps: []models.Step{
			{
				ID: "submit", Type: models.StepTypeManual, Name: "Submit expense",
				Outgoing: []models.Edge{{TargetStepID: "check"}},
			},
			{
				ID: "check", Type: models.StepTypeAutomated, Name: "Policy check",
				Outgoing: []models.Edge{{
					TargetStepID: "review",
					Conditions: []models.Condition{
						{Field: "amount", Operator: models.OperatorGreaterThan, Value: models.Number(100)},
					},
				}},
			},
			{ID: "review", Type: models.StepTypeApproval, Name: "Manager review"},
		},
	}
}

func TestLinearApprovalFlow(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	ctx := context.Background()

	saveDefinition(t, p, linearApprovalDefinition())

	instance := startAndAdvance(t, eng, "wf-expense", map[string]models.Value{
		"amount": models.Number(500),
	})

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, view.Instance.Status)

	submit := stepInstanceByStepID(t, view, "submit")
	require.True(t, submit.Suspended)

	require.NoError(t, eng.CompleteStep(ctx, instance.ID, submit.ID,
		map[string]models.Value{"approved": models.Bool(true)}, "alice"))

	view, err = eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, view.Instance.Status)
	assert.Equal(t, models.StepStatusCompleted, stepInstanceByStepID(t, view, "check").Status)

	review := stepInstanceByStepID(t, view, "review")
	require.Equal(t, models.StepStatusRunning, review.Status)
	require.True(t, review.Suspended)

	require.NoError(t, eng.CompleteStep(ctx, instance.ID, review.ID, nil, "bob"))

	view, err = eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, view.Instance.Status)
	assert.Empty(t, view.Instance.ActiveSteps)
	require.NotNil(t, view.Instance.CompletedAt)

	approved, ok := view.Instance.Variables["approved"]
	require.True(t, ok, "callback outputs merge into variables")
	assert.True(t, models.Bool(true).Equal(approved))
}

func forkDefinition(branchBConfig map[string]models.Value, policy string) *models.WorkflowDefinition {
	parallelConfig := map[string]models.Value{
		models.ConfigJoinStepID: models.String("join"),
	}
	if policy != "" {
		parallelConfig[models.ConfigOnBranchFailure] = models.String(policy)
	}

	return &models.WorkflowDefinition{
		ID:       "wf-fork",
		TenantID: "acme",
		Name:     "fork-join",
		Version:  1,
		IsActive: true,
		Steps: []models.Step{
			{
				ID: "fork", Type: models.StepTypeParallel, Name: "Fork",
				Config: parallelConfig,
				Outgoing: []models.Edge{
					{TargetStepID: "branch-a", ParallelBranch: true},
					{TargetStepID: "branch-b", ParallelBranch: true},
				},
			},
			{
				ID: "branch-a", Type: models.StepTypeAutomated, Name: "Branch A",
				Config: map[string]models.Value{
					"outputs": models.Map(map[string]models.Value{"a_done": models.Bool(true)}),
				},
			},
			{
				ID: "branch-b", Type: models.StepTypeAutomated, Name: "Branch B",
				Config: branchBConfig,
			},
			{ID: "join", Type: models.StepTypeAutomated, Name: "Join"},
		},
	}
}

func TestForkJoin_BranchFailureFailsFast(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	ctx := context.Background()

	saveDefinition(t, p, forkDefinition(map[string]models.Value{
		"fail_message":           models.String("branch b broke"),
		models.ConfigMaxAttempts: models.Number(1),
	}, ""))

	instance := startAndAdvance(t, eng, "wf-fork", nil)

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, view.Instance.Status)
	assert.Equal(t, models.StepStatusCompleted, stepInstanceByStepID(t, view, "branch-a").Status)
	assert.Equal(t, models.StepStatusFailed, stepInstanceByStepID(t, view, "branch-b").Status)
}

func TestForkJoin_AllBranchesSucceedRunsJoin(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	ctx := context.Background()

	saveDefinition(t, p, forkDefinition(map[string]models.Value{
		"outputs": models.Map(map[string]models.Value{"b_done": models.Bool(true)}),
	}, ""))

	instance := startAndAdvance(t, eng, "wf-fork", nil)

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, view.Instance.Status)
	assert.Equal(t, models.StepStatusCompleted, stepInstanceByStepID(t, view, "join").Status)
	assert.True(t, models.Bool(true).Equal(view.Instance.Variables["a_done"]))
	assert.True(t, models.Bool(true).Equal(view.Instance.Variables["b_done"]))
}

func TestForkJoin_WaitPolicyContinuesOnPartialSuccess(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	ctx := context.Background()

	saveDefinition(t, p, forkDefinition(map[string]models.Value{
		"fail_message":           models.String("branch b broke"),
		models.ConfigMaxAttempts: models.Number(1),
	}, models.BranchFailureWait))

	instance := startAndAdvance(t, eng, "wf-fork", nil)

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, view.Instance.Status)

	// The healthy branch ran to completion and the join still executed
	// even though the sibling failed terminally.
	assert.Equal(t, models.StepStatusCompleted, stepInstanceByStepID(t, view, "branch-a").Status)
	assert.Equal(t, models.StepStatusFailed, stepInstanceByStepID(t, view, "branch-b").Status)
	assert.Equal(t, models.StepStatusCompleted, stepInstanceByStepID(t, view, "join").Status)
	assert.True(t, models.Bool(true).Equal(view.Instance.Variables["a_done"]))
}

func TestForkJoin_WaitPolicyFailsWhenAllBranchesFail(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	ctx := context.Background()

	failing := map[string]models.Value{
		"fail_message":           models.String("branch broke"),
		models.ConfigMaxAttempts: models.Number(1),
	}

	def := forkDefinition(failing, models.BranchFailureWait)
	def.Steps[1].Config = failing
	saveDefinition(t, p, def)

	instance := startAndAdvance(t, eng, "wf-fork", nil)

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, view.Instance.Status)
	assert.Equal(t, models.StepStatusFailed, stepInstanceByStepID(t, view, "branch-a").Status)
	assert.Equal(t, models.StepStatusFailed, stepInstanceByStepID(t, view, "branch-b").Status)

	for _, si := range view.Steps {
		require.NotEqual(t, "join", si.StepID, "join must not run when every branch failed")
	}
}

func TestApprovalTimeout_FailsInstance(t *testing.T) {
	eng, p, clock := newTestEngine(t)
	ctx := context.Background()

	saveDefinition(t, p, &models.WorkflowDefinition{
		ID:       "wf-timeout",
		TenantID: "acme",
		Name:     "timeout",
		Version:  1,
		IsActive: true,
		Steps: []models.Step{
			{
				ID: "review", Type: models.StepTypeApproval, Name: "Review",
				Config: map[string]models.Value{
					models.ConfigTimeoutSeconds: models.Number(3600),
				},
			},
		},
	})

	instance := startAndAdvance(t, eng, "wf-timeout", nil)

	clock.Advance(2 * time.Hour)
	require.NoError(t, eng.Sweep(ctx))

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, view.Instance.Status)

	review := stepInstanceByStepID(t, view, "review")
	assert.Equal(t, models.StepStatusFailed, review.Status)
	assert.Equal(t, "timeout", review.Error)
}

func TestApprovalTimeout_AutoEscalateRoutesOnward(t *testing.T) {
	eng, p, clock := newTestEngine(t)
	ctx := context.Background()

	saveDefinition(t, p, &models.WorkflowDefinition{
		ID:       "wf-escalate",
		TenantID: "acme",
		Name:     "escalate",
		Version:  1,
		IsActive: true,
		Steps: []models.Step{
			{
				ID: "review", Type: models.StepTypeApproval, Name: "Review",
				Config: map[string]models.Value{
					models.ConfigTimeoutSeconds: models.Number(3600),
					models.ConfigAutoEscalate:   models.Bool(true),
				},
				Outgoing: []models.Edge{{
					TargetStepID: "escalate",
					Conditions: []models.Condition{
						{Field: "timed_out", Operator: models.OperatorEquals, Value: models.Bool(true)},
					},
				}},
			},
			{
				ID: "escalate", Type: models.StepTypeNotification, Name: "Escalate",
				Config: map[string]models.Value{
					"message": models.String("review timed out"),
				},
			},
		},
	})

	instance := startAndAdvance(t, eng, "wf-escalate", nil)

	clock.Advance(2 * time.Hour)
	require.NoError(t, eng.Sweep(ctx))

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, view.Instance.Status)
	assert.Equal(t, models.StepStatusCompleted, stepInstanceByStepID(t, view, "review").Status)
	assert.Equal(t, models.StepStatusCompleted, stepInstanceByStepID(t, view, "escalate").Status)
}

func TestLoopCap_FailsInstance(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	ctx := context.Background()

	saveDefinition(t, p, &models.WorkflowDefinition{
		ID:       "wf-loop",
		TenantID: "acme",
		Name:     "runaway-loop",
		Version:  1,
		IsActive: true,
		Steps: []models.Step{
			{
				ID: "spin", Type: models.StepTypeLoop, Name: "Spin",
				Config: map[string]models.Value{
					models.ConfigMaxIterations: models.Number(3),
				},
				Outgoing: []models.Edge{{
					TargetStepID: "spin",
					Conditions: []models.Condition{
						{Field: "always", Operator: models.OperatorEquals, Value: models.Bool(true)},
					},
				}},
			},
		},
	})

	instance := startAndAdvance(t, eng, "wf-loop", map[string]models.Value{
		"always": models.Bool(true),
	})

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, view.Instance.Status)

	var failed *models.StepInstance

	for _, si := range view.Steps {
		if si.Status == models.StepStatusFailed {
			failed = si
		}
	}

	require.NotNil(t, failed)
	assert.Equal(t, "loop-cap-exceeded", failed.Error)
	assert.True(t, models.Number(3).Equal(view.Instance.Variables[models.LoopCounterVariable]))
}

func TestRetry_ExhaustsAttemptsThenFails(t *testing.T) {
	eng, p, clock := newTestEngine(t)
	ctx := context.Background()

	saveDefinition(t, p, &models.WorkflowDefinition{
		ID:       "wf-retry",
		TenantID: "acme",
		Name:     "flaky",
		Version:  1,
		IsActive: true,
		Steps: []models.Step{
			{
				ID: "call", Type: models.StepTypeAutomated, Name: "Flaky call",
				Config: map[string]models.Value{
					"fail_message":           models.String("remote unavailable"),
					"retryable":              models.Bool(true),
					models.ConfigMaxAttempts: models.Number(2),
				},
			},
		},
	})

	instance := startAndAdvance(t, eng, "wf-retry", nil)

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Equal(t, models.InstanceStatusRunning, view.Instance.Status, "first failure is re-armed")

	call := stepInstanceByStepID(t, view, "call")
	assert.Equal(t, models.StepStatusPending, call.Status)
	assert.Equal(t, 1, call.Attempt)
	require.NotNil(t, call.NextRetryAt)

	clock.Advance(time.Hour)
	require.NoError(t, eng.Sweep(ctx))

	view, err = eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, view.Instance.Status)

	call = stepInstanceByStepID(t, view, "call")
	assert.Equal(t, models.StepStatusFailed, call.Status)
	assert.Equal(t, 2, call.Attempt)
}

func TestCancelInstance_IsIdempotentAndCancelsSteps(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	ctx := context.Background()

	saveDefinition(t, p, linearApprovalDefinition())
	instance := startAndAdvance(t, eng, "wf-expense", nil)

	require.NoError(t, eng.CancelInstance(ctx, instance.ID, "alice"))
	require.NoError(t, eng.CancelInstance(ctx, instance.ID, "alice"), "second cancel is a no-op")

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, view.Instance.Status)
	assert.Empty(t, view.Instance.ActiveSteps)

	for _, si := range view.Steps {
		assert.Equal(t, models.StepStatusCancelled, si.Status)
	}
}

func TestCancelInstance_NoOpWhenCompleted(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	ctx := context.Background()

	saveDefinition(t, p, &models.WorkflowDefinition{
		ID:       "wf-one",
		TenantID: "acme",
		Name:     "one-shot",
		Version:  1,
		IsActive: true,
		Steps: []models.Step{
			{ID: "only", Type: models.StepTypeAutomated, Name: "Only"},
		},
	})

	instance := startAndAdvance(t, eng, "wf-one", nil)

	require.NoError(t, eng.CancelInstance(ctx, instance.ID, "alice"))

	// The completed instance keeps its status and gains no cancel audit
	// entry.
	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, view.Instance.Status)

	entries, err := eng.GetAuditLog(ctx, instance.ID)
	require.NoError(t, err)

	for _, entry := range entries {
		assert.NotEqual(t, models.AuditCancelled, entry.Action)
	}
}

func TestPauseResume_HoldsDispatch(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	ctx := context.Background()

	saveDefinition(t, p, linearApprovalDefinition())
	instance := startAndAdvance(t, eng, "wf-expense", map[string]models.Value{
		"amount": models.Number(500),
	})

	require.NoError(t, eng.PauseInstance(ctx, instance.ID, "ops"))

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Equal(t, models.InstanceStatusPaused, view.Instance.Status)

	submit := stepInstanceByStepID(t, view, "submit")

	err = eng.CompleteStep(ctx, instance.ID, submit.ID, nil, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInstancePaused)

	require.NoError(t, eng.ResumeInstance(ctx, instance.ID, "ops"))
	require.NoError(t, eng.CompleteStep(ctx, instance.ID, submit.ID, nil, "alice"))

	view, err = eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, view.Instance.Status)
}

func TestCompleteStep_RejectsNonSuspendedStep(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	ctx := context.Background()

	saveDefinition(t, p, linearApprovalDefinition())
	instance := startAndAdvance(t, eng, "wf-expense", map[string]models.Value{
		"amount": models.Number(500),
	})

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	submit := stepInstanceByStepID(t, view, "submit")

	require.NoError(t, eng.CompleteStep(ctx, instance.ID, submit.ID, nil, "alice"))

	err = eng.CompleteStep(ctx, instance.ID, submit.ID, nil, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepNotSuspended)
}

func TestReplayMatchesMaterializedState(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	ctx := context.Background()

	saveDefinition(t, p, linearApprovalDefinition())
	instance := startAndAdvance(t, eng, "wf-expense", map[string]models.Value{
		"amount": models.Number(500),
	})

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	submit := stepInstanceByStepID(t, view, "submit")

	require.NoError(t, eng.CompleteStep(ctx, instance.ID, submit.ID,
		map[string]models.Value{"approved": models.Bool(true)}, "alice"))

	view, err = eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	review := stepInstanceByStepID(t, view, "review")
	require.NoError(t, eng.CompleteStep(ctx, instance.ID, review.ID, nil, "bob"))

	view, err = eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)

	snapshot, err := eng.ReplayState(ctx, instance.ID)
	require.NoError(t, err)

	assert.Equal(t, view.Instance.Status, snapshot.Status)

	for _, si := range view.Steps {
		assert.Equal(t, si.Status, snapshot.StepStatuses[si.ID],
			"replayed status of step %s", si.StepID)
	}

	for key, value := range snapshot.Variables {
		assert.True(t, value.Equal(view.Instance.Variables[key]), "variable %s", key)
	}
}

func TestAuditLog_SequencesAreGapless(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	ctx := context.Background()

	saveDefinition(t, p, linearApprovalDefinition())
	instance := startAndAdvance(t, eng, "wf-expense", map[string]models.Value{
		"amount": models.Number(500),
	})

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	submit := stepInstanceByStepID(t, view, "submit")
	require.NoError(t, eng.CompleteStep(ctx, instance.ID, submit.ID, nil, "alice"))

	entries, err := eng.GetAuditLog(ctx, instance.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Sequence)

		if i > 0 {
			assert.False(t, entry.Timestamp.Before(entries[i-1].Timestamp))
		}
	}
}
