package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/footybrain/footyd/internal/config"
	"github.com/footybrain/footyd/internal/persistence"
	"github.com/footybrain/footyd/internal/persistence/postgres"
	"github.com/footybrain/footyd/internal/sched"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and toggle the job catalog",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJobs(cmd.Context(), func(ctx context.Context, jobs persistence.JobRepo) error {
			list, err := jobs.Jobs(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tSCHEDULE\tQUEUE\tPRIORITY\tENABLED")
			for _, j := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\n",
					j.Name, j.Kind, j.Schedule, j.Queue, j.Priority, j.Enabled)
			}
			return w.Flush()
		})
	},
}

var jobsEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleJob(cmd.Context(), args[0], true)
	},
}

var jobsDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleJob(cmd.Context(), args[0], false)
	},
}

var jobsRescheduleCmd = &cobra.Command{
	Use:   "reschedule <name> <schedule>",
	Short: "Change a job's cadence (cron expression or Go duration)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJobs(cmd.Context(), func(ctx context.Context, jobs persistence.JobRepo) error {
			j, err := jobs.Job(ctx, args[0])
			if err != nil {
				return err
			}
			if j == nil {
				return fmt.Errorf("no job named %q", args[0])
			}
			if _, err := sched.ParseSchedule(j.Kind, args[1]); err != nil {
				return err
			}
			if j, err = jobs.SetSchedule(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("%s schedule=%s\n", j.Name, j.Schedule)
			return nil
		})
	},
}

func toggleJob(ctx context.Context, name string, enabled bool) error {
	return withJobs(ctx, func(ctx context.Context, jobs persistence.JobRepo) error {
		j, err := jobs.SetEnabled(ctx, name, enabled)
		if err != nil {
			return err
		}
		if j == nil {
			return fmt.Errorf("no job named %q", name)
		}
		fmt.Printf("%s enabled=%t\n", j.Name, j.Enabled)
		return nil
	})
}

func withJobs(ctx context.Context, fn func(context.Context, persistence.JobRepo) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := postgres.NewRepository(db, cfg.Database.OpTimeout)
	return fn(ctx, repo.Jobs)
}

func init() {
	jobsCmd.AddCommand(jobsListCmd, jobsEnableCmd, jobsDisableCmd, jobsRescheduleCmd)
	rootCmd.AddCommand(jobsCmd)
}
