package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/orchon/orchon/pkg/cmd"
	"github.com/orchon/orchon/pkg/engine"
	"github.com/orchon/orchon/pkg/log"
	"github.com/orchon/orchon/pkg/models"
)

func NewInspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show the state and audit trail of a workflow instance",
		ArgsUsage: "<instance-id>",
		Flags: append(databaseFlags(),
			&cli.BoolFlag{
				Name:  "replay",
				Usage: "Rebuild the instance state from the audit log instead of reading the stored state",
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			instanceID := command.Args().First()
			if instanceID == "" {
				return errors.New("instance id required")
			}

			logger := log.WithModule("orchon-admin")
			registry := cmd.NewRegistry(ctx, logger, nil, "")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}
			defer persistence.Close(ctx)

			eng := engine.NewEngine(persistence, registry, logger)

			if command.Bool("replay") {
				snapshot, err := eng.ReplayState(ctx, instanceID)
				if err != nil {
					return fmt.Errorf("failed to replay instance: %w", err)
				}

				return printJSON(snapshot)
			}

			view, err := eng.GetInstance(ctx, instanceID)
			if err != nil {
				return fmt.Errorf("failed to load instance: %w", err)
			}

			entries, err := eng.GetAuditLog(ctx, instanceID)
			if err != nil {
				return fmt.Errorf("failed to load audit log: %w", err)
			}

			return printJSON(struct {
				*engine.InstanceView

				AuditLog []models.AuditLogEntry `json:"audit_log"`
			}{InstanceView: view, AuditLog: entries})
		},
	}
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}
