package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect the dead-letter queue",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job messages that exhausted their retry budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closeFn, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		letters, err := s.ListDeadLetters(cmd.Context(), limit, offset)
		if err != nil {
			return fmt.Errorf("list dead letters: %w", err)
		}
		if len(letters) == 0 {
			cmd.Println("No dead letters found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "JOB ID\tOWNER\tATTEMPTS\tFAILED AT\tALERTED\tREASON")
		for _, dl := range letters {
			reason := dl.Reason
			if len(reason) > 50 {
				reason = reason[:47] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\t%s\n",
				dl.Message.JobID,
				dl.Message.OwnerID,
				dl.Attempts,
				dl.FailedAt.Format(time.RFC3339),
				dl.Alerted,
				reason,
			)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd)

	dlqListCmd.Flags().IntP("limit", "l", 20, "Number of dead letters to list")
	dlqListCmd.Flags().IntP("offset", "o", 0, "Offset for pagination")
}
