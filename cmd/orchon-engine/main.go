package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/orchon/orchon/pkg/cmd"
	"github.com/orchon/orchon/pkg/engine"
	"github.com/orchon/orchon/pkg/log"
	"github.com/orchon/orchon/pkg/otelhelper"
	"github.com/orchon/orchon/pkg/scheduler"
)

func main() {
	command := &cli.Command{
		Name:                  "orchon-engine",
		EnableShellCompletion: true,
		Usage:                 "Start the workflow engine and its scheduler workers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL (file://path or postgres://...)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "queue-url",
				Usage:   "Work queue URL (memory or redis://...)",
				Value:   "memory",
				Sources: cli.EnvVars("QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing step handler plugins",
				Value:   "",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Scheduler worker pool size",
				Value:   4,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron expression for the timer sweep",
				Value:   "@every 1m",
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Value:   false,
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "engine-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("orchon-engine").With("worker_id", workerID)
	logger.InfoContext(ctx, "Initializing Orchon engine")

	engineOpts := []engine.Option{}

	if command.Bool("tracing") {
		tracer, err := otelhelper.NewTracer(ctx, "orchon-engine")
		if err != nil {
			return err
		}

		engineOpts = append(engineOpts, engine.WithTracer(tracer))
	}

	eventBus := cmd.NewEventBus(command.String("event-bus"), "orchon-engine", logger)
	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := persistence.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	workQueue, err := cmd.NewQueue(ctx, logger, command.String("queue-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := workQueue.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close work queue", "error", err)
		}
	}()

	registry := cmd.NewRegistry(ctx, logger, eventBus, command.String("plugins-path"))

	engineOpts = append(engineOpts,
		engine.WithEventBus(eventBus),
		engine.WithQueue(workQueue),
		engine.WithWorkerID(workerID),
	)

	eng := engine.NewEngine(persistence, registry, logger, engineOpts...)

	sched := scheduler.NewScheduler(eng, workQueue, logger,
		scheduler.WithWorkers(command.Int("workers")),
		scheduler.WithSweepSchedule(command.String("sweep-schedule")),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = sched.Start(ctx)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Engine started")

	<-ctx.Done()

	logger.Info("Shutting down")
	sched.Stop()

	return nil
}
