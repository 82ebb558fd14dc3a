package main

import (
	"fmt"

	"github.com/aristath/stockwatch/internal/domain"
	"github.com/spf13/cobra"
)

func newMonitorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Manage monitoring jobs",
	}
	cmd.AddCommand(
		newMonitorStartCmd(a),
		newMonitorStopCmd(a),
		newMonitorStatusCmd(a),
		newMonitorListCmd(a),
		newMonitorRecordsCmd(a),
		newMonitorPauseAllCmd(a),
		newMonitorResumeAllCmd(a),
	)
	return cmd
}

func (a *app) printJob(cmd *cobra.Command, job *domain.MonitoringJob) error {
	if a.jsonOut {
		return writeJSON(cmd.OutOrStdout(), job)
	}
	printJob(cmd.OutOrStdout(), job)
	return nil
}

func newMonitorStartCmd(a *app) *cobra.Command {
	var interval int
	cmd := &cobra.Command{
		Use:   "start <security-id>",
		Short: "Start monitoring a security",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !domain.ValidInterval(interval) {
				return fmt.Errorf("interval must be one of %v minutes", domain.ValidIntervals)
			}
			job, err := a.client.StartMonitoring(commandContext(cmd), args[0], interval)
			if err != nil {
				return fmt.Errorf("failed to start monitoring %s: %w", args[0], err)
			}
			return a.printJob(cmd, job)
		},
	}
	cmd.Flags().IntVarP(&interval, "interval", "i", 30, "minutes between analyses (5, 10, 30 or 60)")
	return cmd
}

func newMonitorStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <job-id>",
		Short: "Stop a monitoring job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.client.StopMonitoring(commandContext(cmd), args[0])
			if err != nil {
				return fmt.Errorf("failed to stop job %s: %w", args[0], err)
			}
			return a.printJob(cmd, job)
		},
	}
}

func newMonitorStatusCmd(a *app) *cobra.Command {
	var security string
	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show a job by id, or the latest job of a security with --security",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			var (
				job *domain.MonitoringJob
				err error
			)
			switch {
			case security != "":
				job, err = a.client.MonitoringBySecurity(ctx, security)
			case len(args) == 1:
				job, err = a.client.MonitoringStatus(ctx, args[0])
			default:
				return fmt.Errorf("a job id or --security is required")
			}
			if err != nil {
				return err
			}
			return a.printJob(cmd, job)
		},
	}
	cmd.Flags().StringVarP(&security, "security", "s", "", "look up the latest job of this security")
	return cmd
}

func newMonitorListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List running and paused jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := a.client.ListMonitoring(commandContext(cmd))
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no active monitoring jobs")
				return nil
			}
			for i := range jobs {
				printJob(cmd.OutOrStdout(), &jobs[i])
			}
			return nil
		},
	}
}

func newMonitorRecordsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "records <job-id>",
		Short: "Show the newest records of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := a.client.Records(commandContext(cmd), args[0], limit)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			for _, rec := range records {
				printRecord(cmd.OutOrStdout(), rec)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records")
	return cmd
}

func newMonitorPauseAllCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "pause-all",
		Short: "Pause every running job until resume-all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.client.PauseAll(commandContext(cmd), reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paused %d job(s)\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "message stored on the paused jobs")
	return cmd
}

func newMonitorResumeAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume-all",
		Short: "Resume paused jobs and relaunch missing loops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.client.ResumeAll(commandContext(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resumed %d job(s)\n", n)
			return nil
		},
	}
}
