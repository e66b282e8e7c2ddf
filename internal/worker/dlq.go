package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"resumeflow/internal/alerts"
	"resumeflow/internal/observability"
	"resumeflow/internal/store"
)

// DeadLetterConsumer turns exhausted messages into operator-visible
// alerts. It is the terminal path: nothing here retries the job.
type DeadLetterConsumer struct {
	letters      store.DeadLetterStore
	jobs         store.JobStore
	journal      *alerts.Journal
	pollInterval time.Duration
	log          *slog.Logger
}

func NewDeadLetterConsumer(letters store.DeadLetterStore, jobs store.JobStore, journal *alerts.Journal, pollInterval time.Duration, logger *slog.Logger) *DeadLetterConsumer {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterConsumer{
		letters:      letters,
		jobs:         jobs,
		journal:      journal,
		pollInterval: pollInterval,
		log:          logger,
	}
}

// Run blocks until ctx is cancelled.
func (c *DeadLetterConsumer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		c.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *DeadLetterConsumer) drain(ctx context.Context) {
	for {
		letters, err := c.letters.DequeueDeadLetters(ctx, 10)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Error("dlq.dequeue.fail", "error", err)
			}
			return
		}
		if len(letters) == 0 {
			return
		}
		for _, dl := range letters {
			observability.DeadLetters.Inc()
			c.log.Error("dlq.alert",
				"job_id", dl.Message.JobID,
				"owner_id", dl.Message.OwnerID,
				"reason", dl.Reason,
				"attempts", dl.Attempts,
			)
			c.failJob(ctx, dl)
			if c.journal != nil {
				c.journal.Record(&alerts.Entry{
					JobID:    dl.Message.JobID.String(),
					OwnerID:  dl.Message.OwnerID,
					Reason:   dl.Reason,
					Attempts: dl.Attempts,
					FailedAt: dl.FailedAt,
				})
			}
		}
	}
}

// failJob closes out a job whose message dead-lettered while the job
// was still non-terminal, which happens when a worker crashed mid-run
// and redelivery exhausted the budget.
func (c *DeadLetterConsumer) failJob(ctx context.Context, dl store.DeadLetter) {
	if c.jobs == nil {
		return
	}
	job, err := c.jobs.GetJob(ctx, dl.Message.JobID)
	if err != nil {
		c.log.Warn("dlq.job.load.fail", "job_id", dl.Message.JobID, "error", err)
		return
	}
	if job.Status.Terminal() {
		return
	}
	userMsg := "We could not process your document after several attempts. Please try again later."
	if err := c.jobs.MarkFailed(ctx, job.ID, dl.Reason, userMsg); err != nil {
		// ErrConflict means the job completed while the letter was in
		// flight; that outcome stands.
		if errors.Is(err, store.ErrConflict) {
			return
		}
		c.log.Error("dlq.job.fail.mark", "job_id", job.ID, "error", err)
	}
}
