package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/orchon/orchon/pkg/cmd"
	"github.com/orchon/orchon/pkg/definitions"
	"github.com/orchon/orchon/pkg/log"
	"github.com/orchon/orchon/pkg/models"
)

var errDefinitionInvalid = errors.New("definition failed validation")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a workflow definition file",
		ArgsUsage: "<definition.json>",
		Flags: append(databaseFlags(),
			&cli.BoolFlag{
				Name:  "save",
				Usage: "Persist the definition as a new version when valid",
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			path := command.Args().First()
			if path == "" {
				return errors.New("definition file path required")
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read definition file: %w", err)
			}

			var def models.WorkflowDefinition

			err = json.Unmarshal(data, &def)
			if err != nil {
				return fmt.Errorf("failed to parse definition file: %w", err)
			}

			logger := log.WithModule("orchon-admin")
			registry := cmd.NewRegistry(ctx, logger, nil, "")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}
			defer persistence.Close(ctx)

			service := definitions.NewService(persistence, registry, logger)

			result := service.Validate(&def)

			for _, warning := range result.Warnings {
				fmt.Printf("warning %s", warning.Code)

				if warning.StepID != "" {
					fmt.Printf(" (step %s)", warning.StepID)
				}

				fmt.Printf(": %s\n", warning.Message)
			}

			if !result.Valid() {
				for _, validationErr := range result.Errors {
					fmt.Printf("error %s\n", validationErr.Error())
				}

				return errDefinitionInvalid
			}

			fmt.Println("definition is valid")

			if command.Bool("save") {
				id, version, err := service.Save(ctx, &def)
				if err != nil {
					return err
				}

				fmt.Printf("saved definition %s version %d\n", id, version)
			}

			return nil
		},
	}
}
