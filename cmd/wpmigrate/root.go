package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	config "github.com/tigerroll/wpmigrate/pkg/batch/core/config"
)

const stopTimeout = 30 * time.Second

type commandContext struct {
	embedded   config.EmbeddedConfig
	envFile    string
	configFile string
}

// withApp builds the application graph, fills targets (pointers to the
// types the command needs), starts the lifecycle, runs fn and stops.
// Only the components reachable from targets are constructed, so commands
// that never touch a database never open one.
func (c *commandContext) withApp(cmd *cobra.Command, fn func(ctx context.Context) error, targets ...any) error {
	opts := applicationOptions(c.embedded, c.envFile, c.configFile)
	opts = append(opts, fx.Populate(targets...))
	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}
	runErr := fn(ctx)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return fmt.Errorf("stop application: %w", err)
	}
	return runErr
}

func newRootCommand(embedded config.EmbeddedConfig) *cobra.Command {
	c := &commandContext{embedded: embedded}

	rootCmd := &cobra.Command{
		Use:           "wpmigrate",
		Short:         "Incremental WordPress content migration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&c.envFile, "env-file", "", "Path to a .env file (defaults to ./.env when present)")
	rootCmd.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "YAML file layered over the built-in configuration")

	rootCmd.AddCommand(
		newStartCommand(c),
		newStopCommand(c),
		newRunCommand(c),
		newTestConnectionCommand(c),
		newPurgeCommand(c),
		newLogsCommand(c),
		newStatusCommand(c),
		newSettingsCommand(c),
		newServeCommand(c),
		newMigrateCommand(c),
		newExportMapCommand(c),
	)
	return rootCmd
}
