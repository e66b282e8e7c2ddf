// Package export produces operator-facing XLSX reports of job history.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"resumeflow/internal/entity"
	"resumeflow/internal/store"
)

// Service is a small façade over the job store that produces XLSX bytes.
type Service struct {
	jobs   store.JobStore
	logger *slog.Logger
}

func NewService(jobs store.JobStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, logger: logger}
}

// ExportJobsXLSX returns an XLSX workbook of the owner's job history,
// newest first. User-facing errors are included; raw diagnostics are
// not.
func (s *Service) ExportJobsXLSX(ctx context.Context, ownerID string, limit int) ([]byte, error) {
	start := time.Now()

	jobs, err := s.jobs.ListJobs(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Jobs"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Job ID",
		"Status",
		"Content Hash",
		"Attempts",
		"User Retries",
		"Error",
		"Created",
		"Updated",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, j := range jobs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, j.ID.String())
		write(2, string(j.Status))
		write(3, shortHash(j.ContentHash))
		write(4, j.AttemptCount)
		write(5, j.RetryCount)
		write(6, truncate(j.UserError, 140))
		write(7, j.CreatedAt.UTC().Format("2006-01-02 15:04"))
		write(8, j.UpdatedAt.UTC().Format("2006-01-02 15:04"))
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 38) // job id
	_ = f.SetColWidth(sheet, "B", "B", 18) // status
	_ = f.SetColWidth(sheet, "C", "C", 16) // hash
	_ = f.SetColWidth(sheet, "F", "F", 48) // error
	_ = f.SetColWidth(sheet, "G", "H", 18) // timestamps

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"owner_id", ownerID,
		"rows", len(jobs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// Statuses returns the distinct statuses present in a job list, for
// summary output.
func Statuses(jobs []entity.Job) string {
	seen := make(map[entity.JobStatus]bool)
	var parts []string
	for _, j := range jobs {
		if !seen[j.Status] {
			seen[j.Status] = true
			parts = append(parts, string(j.Status))
		}
	}
	return strings.Join(parts, ", ")
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
