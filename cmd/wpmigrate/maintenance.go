package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tigerroll/wpmigrate/internal/mapping"
	reportexport "github.com/tigerroll/wpmigrate/internal/report"
	gormadapter "github.com/tigerroll/wpmigrate/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/wpmigrate/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/wpmigrate/pkg/batch/component/tasklet/migration"
	config "github.com/tigerroll/wpmigrate/pkg/batch/core/config"
)

func newMigrateCommand(c *commandContext) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or with --down, roll back) the schema of the engine tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg      *config.Config
				provider *gormadapter.Provider
			)
			return c.withApp(cmd, func(ctx context.Context) error {
				db, err := provider.GetConnection(ctx, storeConnection)
				if err != nil {
					return err
				}
				m := migration.NewMigrator(db, cfg.Database.Store.Type)
				if down {
					err = m.Down(ctx)
				} else {
					err = m.Up(ctx)
				}
				if err != nil {
					return err
				}
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema version %d (dirty=%t)\n", version, dirty)
				return nil
			}, &cfg, &provider)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "Roll back every migration")
	return cmd
}

func newExportMapCommand(c *commandContext) *cobra.Command {
	var out, compression string
	cmd := &cobra.Command{
		Use:   "export-map",
		Short: "Write the mapping table to a Parquet file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(out)
			if err != nil {
				return err
			}
			var store mapping.Store
			return c.withApp(cmd, func(ctx context.Context) error {
				dir, err := local.NewStore(filepath.Dir(abs))
				if err != nil {
					return err
				}
				n, err := reportexport.ExportMappings(ctx, store, dir, filepath.Base(abs), compression)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d mappings to %s\n", n, abs)
				return nil
			}, &store)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "wpmigrate-map.parquet", "Output file")
	cmd.Flags().StringVar(&compression, "compression", "SNAPPY", "SNAPPY, GZIP or NONE")
	return cmd
}
