package main

import (
	"context"
	"errors"

	cli "github.com/urfave/cli/v3"

	"github.com/orchon/orchon/pkg/cmd"
	"github.com/orchon/orchon/pkg/log"
	"github.com/orchon/orchon/pkg/stats"
)

func NewStatsCommand() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "Show execution statistics for a workflow definition",
		ArgsUsage: "<definition-id>",
		Flags: append(databaseFlags(),
			&cli.DurationFlag{
				Name:  "period",
				Usage: "Only count instances started within this lookback window (0 = all time)",
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			definitionID := command.Args().First()
			if definitionID == "" {
				return errors.New("definition id required")
			}

			logger := log.WithModule("orchon-admin")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}
			defer persistence.Close(ctx)

			aggregator := stats.NewAggregator(persistence, logger)

			result, err := aggregator.InstanceStats(ctx, definitionID, command.Duration("period"))
			if err != nil {
				return err
			}

			return printJSON(result)
		},
	}
}
