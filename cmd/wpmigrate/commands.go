package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tigerroll/wpmigrate/internal/control"
	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/internal/purge"
	"github.com/tigerroll/wpmigrate/internal/state"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

// report prints msg and turns an unsuccessful result into an error so the
// process exits non-zero.
func report(cmd *cobra.Command, success bool, msg string) error {
	if !success {
		return errors.New(msg)
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}

func newStartCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start [post-type...]",
		Short: "Mark the migration running for the given post types (default: all enabled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var ctl *control.Controller
			return c.withApp(cmd, func(ctx context.Context) error {
				res := ctl.Start(ctx, args)
				return report(cmd, res.Success, res.Message)
			}, &ctl)
		},
	}
}

func newStopCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop scheduled batches and abort a running one before its next post",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ctl *control.Controller
			return c.withApp(cmd, func(ctx context.Context) error {
				res := ctl.Stop(ctx)
				return report(cmd, res.Success, res.Message)
			}, &ctl)
		},
	}
}

func newRunCommand(c *commandContext) *cobra.Command {
	var postID uint64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one batch now, or import a single post with --post",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ctl *control.Controller
			return c.withApp(cmd, func(ctx context.Context) error {
				var res model.BatchResult
				if postID > 0 {
					res = ctl.ImportPost(ctx, postID)
				} else {
					res = ctl.RunOneBatch(ctx)
				}
				return report(cmd, res.Success, res.Message)
			}, &ctl)
		},
	}
	cmd.Flags().Uint64Var(&postID, "post", 0, "Source post id to import on its own")
	return cmd
}

func newTestConnectionCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Check that the source database is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ctl *control.Controller
			return c.withApp(cmd, func(ctx context.Context) error {
				res := ctl.TestSourceConnection(ctx)
				return report(cmd, res.Success, res.Message)
			}, &ctl)
		},
	}
}

func newPurgeCommand(c *commandContext) *cobra.Command {
	var batchSize int
	var all bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete everything the migration created",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ctl *control.Controller
			return c.withApp(cmd, func(ctx context.Context) error {
				res := ctl.PurgeImported(ctx, batchSize, all)
				return report(cmd, res.Success, res.Message)
			}, &ctl)
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", purge.DefaultBatchSize, "Mappings handled per batch")
	cmd.Flags().BoolVar(&all, "all", false, "Repeat batches until nothing is left")
	return cmd
}

func newLogsCommand(c *commandContext) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the tail of the migration log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sink *logger.Sink
			return c.withApp(cmd, func(ctx context.Context) error {
				if lines == 0 {
					lines = control.DefaultLogLines
				}
				tail, err := sink.Tail(lines)
				if err != nil {
					return err
				}
				if tail != "" {
					fmt.Fprintln(cmd.OutOrStdout(), tail)
				}
				return nil
			}, &sink)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", control.DefaultLogLines, "Number of lines")
	return cmd
}

func newStatusCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show run state, progress counters and mapping count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ctl *control.Controller
			return c.withApp(cmd, func(ctx context.Context) error {
				status, err := ctl.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderStatus(status))
				return nil
			}, &ctl)
		},
	}
}

func newSettingsCommand(c *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the saved migration settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var store *state.ConfigStore
			return c.withApp(cmd, func(ctx context.Context) error {
				settings, err := store.Get(ctx)
				if err != nil {
					return err
				}
				return printSettings(cmd, settings)
			}, &store)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set key=value...",
		Short: "Save settings (JSON values are accepted, e.g. import_scope='[...]')",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseProps(args)
			if err != nil {
				return err
			}
			var store *state.ConfigStore
			return c.withApp(cmd, func(ctx context.Context) error {
				settings, err := store.Save(ctx, props)
				if err != nil {
					return err
				}
				return printSettings(cmd, settings)
			}, &store)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Discard saved settings and fall back to the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var store *state.ConfigStore
			return c.withApp(cmd, func(ctx context.Context) error {
				if err := store.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Saved settings cleared")
				return nil
			}, &store)
		},
	})
	return cmd
}

func printSettings(cmd *cobra.Command, settings model.Settings) error {
	settings.SourceDBPass = strings.Repeat("*", len(settings.SourceDBPass))
	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// parseProps turns key=value arguments into a settings overlay. Values that
// parse as JSON keep their JSON type; anything else is a string.
func parseProps(args []string) (map[string]any, error) {
	props := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			props[key] = decoded
			continue
		}
		if b, err := strconv.ParseBool(value); err == nil {
			props[key] = b
			continue
		}
		props[key] = value
	}
	return props, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
