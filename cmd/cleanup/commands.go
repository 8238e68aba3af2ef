package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/SegaraRai/streamist-sub001/internal/cleanup"
	"github.com/SegaraRai/streamist-sub001/internal/cron"
	"github.com/SegaraRai/streamist-sub001/internal/logger"
	"github.com/spf13/cobra"
)

const (
	// Hourly at :10.
	staleSchedule = "0 10 * * * *"
	// Daily at 17:30.
	retentionSchedule = "0 30 17 * * *"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cleanup",
		Short:         "Reap stale sources, expired blobs and closed accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newOnceCommand())
	return root
}

func newRunCommand() *cobra.Command {
	var timezone string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sweeps on their cron schedules until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := time.LoadLocation(timezone)
			if err != nil {
				return fmt.Errorf("invalid timezone: %w", err)
			}

			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			return runDaemon(cmd.Context(), env.cleaner, loc)
		},
	}
	cmd.Flags().StringVar(&timezone, "timezone", "UTC", "Timezone the cron expressions are evaluated in")
	return cmd
}

func runDaemon(ctx context.Context, cleaner *cleanup.Cleaner, loc *time.Location) error {
	log := logger.FromContext(ctx)
	scheduler := cron.New(context.WithoutCancel(ctx), cron.WithLocation(loc))

	schedules := []struct {
		spec string
		job  cleanup.Job
	}{
		{staleSchedule, cleanup.JobStaleUploads},
		{staleSchedule, cleanup.JobStaleTranscodes},
		{retentionSchedule, cleanup.JobOverRetention},
		{retentionSchedule, cleanup.JobClosedAccounts},
	}
	for _, s := range schedules {
		job := s.job
		id, err := scheduler.Schedule(s.spec, func(ctx context.Context) error {
			_, err := cleaner.Run(ctx, job)
			return err
		}, cron.Named(string(job)))
		if err != nil {
			scheduler.UnscheduleAll()
			return fmt.Errorf("schedule %s: %w", job, err)
		}
		next, _ := scheduler.Next(id)
		log.Info("cleanup job scheduled", "job", string(job), "cron", s.spec, "next", next)
	}

	<-ctx.Done()
	log.Info("shutdown signal received, waiting for running jobs")
	scheduler.UnscheduleAll()
	log.Info("cleanup daemon stopped")
	return nil
}

func newOnceCommand() *cobra.Command {
	names := make([]string, 0, len(cleanup.Jobs()))
	for _, j := range cleanup.Jobs() {
		names = append(names, string(j))
	}

	var timeout time.Duration
	cmd := &cobra.Command{
		Use:       "once <job>",
		Short:     "Run a single sweep and exit",
		Long:      "Run a single sweep and exit. Jobs: " + strings.Join(names, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := cleanup.ParseJob(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			stats, err := env.cleaner.Run(ctx, job)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: processed=%d skipped=%d blobs_deleted=%d storage_errors=%d database_errors=%d duration=%s\n",
				stats.Job, stats.Processed, stats.Skipped, stats.BlobsDeleted,
				stats.StorageDeleteErrors, stats.DatabaseErrors, stats.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Maximum time the sweep may run")
	return cmd
}
