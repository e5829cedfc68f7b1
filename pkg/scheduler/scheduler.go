// Package scheduler drives instance execution off the caller's thread: a
// worker pool drains the work queue and advances one instance per task, and
// a cron sweep re-enqueues timer work (suspension deadlines, retry backoff)
// so nothing relies on in-process timers alone.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/orchon/orchon/pkg/engine"
	"github.com/orchon/orchon/pkg/queue"
)

const defaultWorkers = 4

// defaultSweepSchedule fires the timer sweep once a minute, which bounds
// how late a deadline or retry can fire after its due time.
const defaultSweepSchedule = "@every 1m"

type Scheduler struct {
	engine        *engine.Engine
	queue         queue.Queue
	logger        *slog.Logger
	workers       int
	sweepSchedule string
	cron          *cron.Cron
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithSweepSchedule overrides the cron expression of the timer sweep.
func WithSweepSchedule(spec string) Option {
	return func(s *Scheduler) {
		s.sweepSchedule = spec
	}
}

// NewScheduler creates a scheduler draining the given queue into the engine.
func NewScheduler(eng *engine.Engine, q queue.Queue, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:        eng,
		queue:         q,
		logger:        logger.With("module", "scheduler"),
		workers:       defaultWorkers,
		sweepSchedule: defaultSweepSchedule,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start launches the worker pool and the sweep cron. It returns immediately;
// workers run until Stop or until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	ctx, cancel := context.WithCancel(ctx)

	_, err := s.cron.AddFunc(s.sweepSchedule, func() {
		sweepErr := s.engine.Sweep(ctx)
		if sweepErr != nil {
			s.logger.ErrorContext(ctx, "Timer sweep finished with errors", "error", sweepErr)
		}
	})
	if err != nil {
		cancel()

		return fmt.Errorf("invalid sweep schedule %q: %w", s.sweepSchedule, err)
	}

	s.cancel = cancel

	for i := range s.workers {
		s.wg.Add(1)

		go s.worker(ctx, i)
	}

	s.cron.Start()

	s.logger.InfoContext(ctx, "Scheduler started",
		"workers", s.workers,
		"sweep_schedule", s.sweepSchedule,
	)

	return nil
}

// Stop cancels the workers and waits for in-flight tasks to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// worker drains tasks until the queue closes or the context is cancelled.
// Advance errors are logged and isolated: one failing instance never stalls
// the pool.
func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	logger := s.logger.With("worker", id)

	for {
		task, err := s.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrQueueClosed) {
				return
			}

			logger.ErrorContext(ctx, "Failed to dequeue task", "error", err)

			continue
		}

		err = s.engine.Advance(ctx, task.InstanceID)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to advance instance",
				"instance_id", task.InstanceID,
				"task_id", task.ID,
				"error", err,
			)
		}
	}
}
