// Package stats aggregates read-only execution statistics for a workflow
// definition: instance counts by status, durations and success rate, plus
// per-step execution and failure counts folded from the audit journal.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/persistence"
)

// StepStats aggregates executions of one definition step across instances.
type StepStats struct {
	StepID      string        `json:"step_id"`
	Executions  int           `json:"executions"`
	Failures    int           `json:"failures"`
	AvgDuration time.Duration `json:"avg_duration"`

	durationSamples int
}

// InstanceStats is the aggregate for one definition over a period.
type InstanceStats struct {
	DefinitionID string                        `json:"definition_id"`
	Period       time.Duration                 `json:"period"`
	Total        int                           `json:"total"`
	ByStatus     map[models.InstanceStatus]int `json:"by_status"`
	AvgDuration  time.Duration                 `json:"avg_duration"`
	SuccessRate  float64                       `json:"success_rate"`
	Steps        map[string]*StepStats         `json:"steps"`
}

// Aggregator computes statistics from the persistence layer. It never
// mutates anything.
type Aggregator struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

func NewAggregator(p persistence.Persistence, logger *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		persistence: p,
		logger:      logger.With("module", "stats"),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// InstanceStats aggregates instances of the definition started within the
// period. A zero period means all time.
func (a *Aggregator) InstanceStats(ctx context.Context, definitionID string, period time.Duration) (*InstanceStats, error) {
	instances, err := a.persistence.Instances().ListByDefinition(ctx, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	stats := &InstanceStats{
		DefinitionID: definitionID,
		Period:       period,
		ByStatus:     make(map[models.InstanceStatus]int),
		Steps:        make(map[string]*StepStats),
	}

	var cutoff time.Time
	if period > 0 {
		cutoff = a.now().Add(-period)
	}

	var (
		totalDuration time.Duration
		completed     int
		terminal      int
	)

	for _, instance := range instances {
		if period > 0 && instance.StartedAt.Before(cutoff) {
			continue
		}

		stats.Total++
		stats.ByStatus[instance.Status]++

		if instance.Status.Terminal() {
			terminal++
		}

		if instance.Status == models.InstanceStatusCompleted && instance.CompletedAt != nil {
			completed++
			totalDuration += instance.CompletedAt.Sub(instance.StartedAt)
		}

		err = a.foldStepStats(ctx, instance.ID, stats.Steps)
		if err != nil {
			return nil, err
		}
	}

	if completed > 0 {
		stats.AvgDuration = totalDuration / time.Duration(completed)
	}

	if terminal > 0 {
		stats.SuccessRate = float64(stats.ByStatus[models.InstanceStatusCompleted]) / float64(terminal)
	}

	return stats, nil
}

// foldStepStats folds one instance's journal into the per-step aggregates.
// Each step_started is one execution; durations come from the duration_ms
// metadata the executor journals on completion.
func (a *Aggregator) foldStepStats(ctx context.Context, instanceID string, steps map[string]*StepStats) error {
	entries, err := a.persistence.AuditLog().ListByInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("failed to list audit entries for instance %s: %w", instanceID, err)
	}

	durations := make(map[string]time.Duration)
	durationCounts := make(map[string]int)

	for _, entry := range entries {
		if entry.StepID == "" {
			continue
		}

		step, ok := steps[entry.StepID]
		if !ok {
			step = &StepStats{StepID: entry.StepID}
			steps[entry.StepID] = step
		}

		switch entry.Action {
		case models.AuditStepStarted:
			step.Executions++
		case models.AuditStepFailed:
			step.Failures++
		case models.AuditStepCompleted:
			if v, exists := entry.Metadata["duration_ms"]; exists {
				if ms, isNum := v.AsNumber(); isNum {
					durations[entry.StepID] += time.Duration(ms) * time.Millisecond
					durationCounts[entry.StepID]++
				}
			}
		}
	}

	for stepID, total := range durations {
		step := steps[stepID]
		count := durationCounts[stepID]

		// Completions folded from earlier instances already shifted the
		// average; re-derive it from the running totals instead.
		prior := step.AvgDuration * time.Duration(step.durationSamples)
		step.durationSamples += count
		step.AvgDuration = (prior + total) / time.Duration(step.durationSamples)
	}

	return nil
}
