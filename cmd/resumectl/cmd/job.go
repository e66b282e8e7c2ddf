package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"resumeflow/internal/entity"
	"resumeflow/internal/export"
	"resumeflow/internal/store"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and manage parse jobs",
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's state, counters, and errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id: %w", err)
		}
		s, closeFn, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		job, err := s.GetJob(cmd.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("job %s not found", id)
		}
		if err != nil {
			return err
		}

		cmd.Printf("Job:          %s\n", job.ID)
		cmd.Printf("Owner:        %s\n", job.OwnerID)
		cmd.Printf("Status:       %s\n", job.Status)
		cmd.Printf("Content hash: %s\n", job.ContentHash)
		cmd.Printf("Storage ref:  %s\n", job.StorageRef)
		cmd.Printf("Attempts:     %d (user retries: %d)\n", job.AttemptCount, job.RetryCount)
		cmd.Printf("Created:      %s\n", job.CreatedAt.Format(time.RFC3339))
		cmd.Printf("Updated:      %s\n", job.UpdatedAt.Format(time.RFC3339))
		if job.UserError != "" {
			cmd.Printf("User error:   %s\n", job.UserError)
		}
		if job.LastError != "" {
			cmd.Printf("Diagnostic:   %s\n", job.LastError)
		}
		return nil
	},
}

var jobRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Requeue a failed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id: %w", err)
		}
		s, closeFn, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		job, err := s.MarkRetried(cmd.Context(), id)
		switch {
		case errors.Is(err, store.ErrRetryExhausted):
			return fmt.Errorf("job %s has exhausted its retry budget", id)
		case errors.Is(err, store.ErrConflict):
			return fmt.Errorf("job %s is not in a retryable state", id)
		case err != nil:
			return err
		}

		msg := entity.JobMessage{
			JobID:       job.ID,
			OwnerID:     job.OwnerID,
			StorageRef:  job.StorageRef,
			ContentHash: job.ContentHash,
		}
		if err := s.Publish(cmd.Context(), msg); err != nil {
			return fmt.Errorf("publish job message: %w", err)
		}
		cmd.Printf("Job %s requeued (retry %d of %d)\n", job.ID, job.RetryCount, store.MaxUserRetries)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list <owner-id>",
	Short: "List an owner's jobs, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closeFn, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		limit, _ := cmd.Flags().GetInt("limit")
		jobs, err := s.ListJobs(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			cmd.Println("No jobs found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "JOB ID\tSTATUS\tATTEMPTS\tCREATED\tERROR")
		for _, j := range jobs {
			errMsg := j.UserError
			if len(errMsg) > 50 {
				errMsg = errMsg[:47] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				j.ID, j.Status, j.AttemptCount,
				j.CreatedAt.Format(time.RFC3339), errMsg)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		cmd.Printf("\n%d jobs (%s)\n", len(jobs), export.Statuses(jobs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobRetryCmd)
	jobCmd.AddCommand(jobListCmd)

	jobListCmd.Flags().IntP("limit", "l", 50, "Number of jobs to list")
}
