package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"resumeflow/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <owner-id>",
	Short: "Export an owner's job history to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closeFn, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		out, _ := cmd.Flags().GetString("out")
		limit, _ := cmd.Flags().GetInt("limit")

		svc := export.NewService(s, nil)
		data, err := svc.ExportJobsXLSX(cmd.Context(), args[0], limit)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		cmd.Printf("Wrote %s (%d bytes)\n", out, len(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringP("out", "f", "jobs.xlsx", "Output file path")
	exportCmd.Flags().IntP("limit", "l", 200, "Maximum jobs to export")
}
