package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchon/orchon/pkg/engine"
	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/persistence/file"
	"github.com/orchon/orchon/pkg/queue"
	"github.com/orchon/orchon/pkg/registry"
	"github.com/orchon/orchon/pkg/steps/automated"
	"github.com/orchon/orchon/pkg/steps/humantask"
)

func newTestScheduler(t *testing.T) (*Scheduler, *engine.Engine, *queue.MemoryQueue) {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() { _ = p.Close(context.Background()) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.NewRegistry(logger)
	reg.Register(automated.NewFactory(nil))
	reg.Register(humantask.NewManualFactory())

	q := queue.NewMemoryQueue(16)
	eng := engine.NewEngine(p, reg, logger, engine.WithQueue(q))

	require.NoError(t, p.Definitions().Save(context.Background(), &models.WorkflowDefinition{
		ID:       "wf-simple",
		TenantID: "acme",
		Name:     "simple",
		Version:  1,
		IsActive: true,
		Steps: []models.Step{
			{
				ID: "start", Type: models.StepTypeAutomated, Name: "Start",
				Config: map[string]models.Value{
					"outputs": models.Map(map[string]models.Value{"seen": models.Bool(true)}),
				},
				Outgoing: []models.Edge{{TargetStepID: "wait"}},
			},
			{ID: "wait", Type: models.StepTypeManual, Name: "Wait"},
		},
	}))

	return NewScheduler(eng, q, logger, WithWorkers(2)), eng, q
}

func TestScheduler_DrainsQueueAndAdvancesInstances(t *testing.T) {
	s, eng, _ := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	instance, err := eng.StartInstance(ctx, engine.StartRequest{
		DefinitionID: "wf-simple",
		InitiatedBy:  "alice",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, viewErr := eng.GetInstance(ctx, instance.ID)
		if viewErr != nil {
			return false
		}

		for _, si := range view.Steps {
			if si.StepID == "wait" && si.Suspended {
				return true
			}
		}

		return false
	}, 5*time.Second, 10*time.Millisecond, "workers advance the instance to the manual step")

	view, err := eng.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, view.Instance.Status)
	assert.True(t, models.Bool(true).Equal(view.Instance.Variables["seen"]))
}

func TestScheduler_SurvivesMissingInstance(t *testing.T) {
	s, eng, q := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	// A task for an unknown instance is logged and dropped; the pool keeps
	// serving later tasks.
	require.NoError(t, q.Enqueue(ctx, queue.Task{ID: "t1", InstanceID: "no-such-instance"}))

	instance, err := eng.StartInstance(ctx, engine.StartRequest{
		DefinitionID: "wf-simple",
		InitiatedBy:  "alice",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, viewErr := eng.GetInstance(ctx, instance.ID)

		return viewErr == nil && view.Instance.Status == models.InstanceStatusRunning
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScheduler_RejectsInvalidSweepSchedule(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	bad := NewScheduler(s.engine, s.queue, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithSweepSchedule("not a cron expression"))

	err := bad.Start(context.Background())
	require.Error(t, err)
}
