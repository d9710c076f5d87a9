package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ericfisherdev/notionwidgets/internal/adapter/driven/sharedfs"
	"github.com/ericfisherdev/notionwidgets/internal/config"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one validate, sync and publish cycle in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(a *app) error {
				report := a.newScheduler().RunOnce(ctx)

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "state:        %s\n", report.State)
				fmt.Fprintf(out, "duration:     %s\n", report.Duration().Round(time.Millisecond))
				fmt.Fprintf(out, "retried:      %t\n", report.Retried)
				fmt.Fprintf(out, "invalid:      %d\n", len(report.InvalidCredentials))
				fmt.Fprintf(out, "collections:  %d\n", report.CollectionsSynced)
				fmt.Fprintf(out, "items:        %d\n", report.ItemsSynced)
				fmt.Fprintf(out, "sync errors:  %d\n", report.SyncErrors)
				fmt.Fprintf(out, "swept:        %d\n", report.EntriesSwept)
				return nil
			})
		},
	}
}

func newSweepCmd() *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete shared item and progress snapshots older than the maximum age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				removed, err := a.publisher.SweepExpired(cmd.Context(), maxAge)
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired entries\n", removed)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Override snapshot.max_age for this sweep")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Remove stored secrets that no credential references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				removed, err := a.credentials.Reconcile(cmd.Context())
				for _, id := range removed {
					fmt.Fprintf(cmd.OutOrStdout(), "removed orphaned secret %s\n", id)
				}
				if err == nil && len(removed) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to reconcile")
				}
				return err
			})
		},
	}
}

// newWatchCmd prints reload signals as JSON lines, the way a widget host
// would consume them. It does not open the database.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print reload signals from the shared store until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := sharedfs.NewStore(cfg.SharedDir); err != nil {
				return err
			}
			events, err := sharedfs.Watch(ctx, cfg.SharedDir)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
