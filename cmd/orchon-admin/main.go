// orchon-admin is the operator CLI: validate definition files, inspect an
// instance's state and journal, and print execution statistics.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
)

// databaseFlags are shared by every subcommand; each command carries its
// own copy instead of relying on parent flag lookup.
func databaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL (file://path or postgres://...)",
			Value:   "file://./data",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "warn",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

func main() {
	command := &cli.Command{
		Name:                  "orchon-admin",
		EnableShellCompletion: true,
		Usage:                 "Operator tooling for workflow definitions and instances",
		Commands: []*cli.Command{
			NewValidateCommand(),
			NewInspectCommand(),
			NewStatsCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
