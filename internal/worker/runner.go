// Package worker drives queued jobs through the processing state
// machine: idempotency guard, staged-content recovery, late cache
// check, extraction, stage-then-commit, and fan-out to waiting
// duplicates.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"resumeflow/internal/blob"
	"resumeflow/internal/entity"
	"resumeflow/internal/extract"
	"resumeflow/internal/notify"
	"resumeflow/internal/observability"
	"resumeflow/internal/resume"
	"resumeflow/internal/store"
)

// Extractor is the cascade the runner invokes. *extract.Adapter
// satisfies it.
type Extractor interface {
	Extract(ctx context.Context, docText string) (*extract.Result, error)
	RepairWithFeedback(ctx context.Context, previous json.RawMessage, problems []string) (*extract.Result, error)
}

// DocReader turns raw bytes into extractable text. doctext.FromPDF
// satisfies it.
type DocReader func(b []byte) (string, error)

// Runner processes one delivery at a time.
type Runner struct {
	jobs      store.JobStore
	queue     store.Queue
	blobs     blob.Store
	extractor Extractor
	readDoc   DocReader
	notifier  notify.Notifier
	log       *slog.Logger
}

func NewRunner(jobs store.JobStore, queue store.Queue, blobs blob.Store, extractor Extractor, readDoc DocReader, notifier notify.Notifier, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Runner{
		jobs:      jobs,
		queue:     queue,
		blobs:     blobs,
		extractor: extractor,
		readDoc:   readDoc,
		notifier:  notifier,
		log:       logger,
	}
}

// Handle drives one delivery to an ack, a retry, or a dead-letter.
// Errors it returns are infrastructure failures where even recording
// the outcome failed; the message stays invisible until the visibility
// timeout expires and is redelivered.
func (r *Runner) Handle(ctx context.Context, d store.Delivery) error {
	log := r.log.With("job_id", d.Message.JobID, "delivery_id", d.ID, "attempt", d.Attempt)

	job, err := r.jobs.GetJob(ctx, d.Message.JobID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("worker.job.gone")
		return r.queue.Ack(ctx, d.ID)
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	// Redelivery after a successful commit is a no-op.
	if job.Status == entity.StatusCompleted && len(job.ExtractedContent) > 0 {
		log.Info("worker.idempotent.skip")
		return r.queue.Ack(ctx, d.ID)
	}
	if job.Status == entity.StatusFailed {
		log.Info("worker.terminal.skip", "status", job.Status)
		return r.queue.Ack(ctx, d.ID)
	}

	// A prior delivery crashed after extraction but before commit:
	// promote the staged result without re-running extraction.
	if len(job.StagedContent) > 0 {
		log.Info("worker.staged.recover")
		if err := r.commit(ctx, job, job.StagedContent, "staged"); err != nil {
			return err
		}
		return r.queue.Ack(ctx, d.ID)
	}

	// The cache may have been populated after this job was enqueued.
	if cached, err := r.jobs.FindCompletedByOwnerHash(ctx, job.OwnerID, job.ContentHash); err == nil && cached.ID != job.ID {
		log.Info("worker.cache.hit", "source_job_id", cached.ID)
		if err := r.commit(ctx, job, cached.ExtractedContent, "cache"); err != nil {
			return err
		}
		return r.queue.Ack(ctx, d.ID)
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("late cache check: %w", err)
	}

	job, err = r.jobs.MarkProcessing(ctx, job.ID)
	if errors.Is(err, store.ErrDuplicateInFlight) {
		// Another worker holds processing for the same owner and
		// content; this job now waits for its fan-out.
		log.Info("worker.duplicate.parked")
		return r.queue.Ack(ctx, d.ID)
	}
	if errors.Is(err, store.ErrConflict) {
		log.Warn("worker.claim.conflict")
		return r.queue.Ack(ctx, d.ID)
	}
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	r.notifier.JobTransition(ctx, notify.Event{JobID: job.ID, OwnerID: job.OwnerID, Status: entity.StatusProcessing})

	content, xerr := r.extractContent(ctx, job, log)
	if xerr != nil {
		return r.fail(ctx, d, job, xerr, log)
	}

	// Stage before commit: extraction is the expensive non-idempotent
	// step, its result must survive a crash during the commit.
	if err := r.jobs.StageContent(ctx, job.ID, content); err != nil {
		return fmt.Errorf("stage content: %w", err)
	}
	if err := r.commit(ctx, job, content, "extracted"); err != nil {
		return err
	}
	return r.queue.Ack(ctx, d.ID)
}

// extractContent reads the bytes, runs the cascade, validates the
// output, and gives the capability one feedback-repair pass when
// validation rejects it.
func (r *Runner) extractContent(ctx context.Context, job *entity.Job, log *slog.Logger) (json.RawMessage, error) {
	data, err := r.blobs.Get(ctx, job.StorageRef)
	if errors.Is(err, blob.ErrAbsent) {
		return nil, &invariantError{fmt.Errorf("storage ref %s resolves to nothing", job.StorageRef)}
	}
	if err != nil {
		return nil, fmt.Errorf("fetch document bytes: %w", err)
	}

	text, err := r.readDoc(data)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	res, err := r.extractor.Extract(ctx, text)
	if err != nil {
		return nil, err
	}

	problems, err := resume.Validate(res.Content)
	if err == nil {
		return res.Content, nil
	}
	log.Warn("worker.validate.reject", "problems", problems)

	repaired, rerr := r.extractor.RepairWithFeedback(ctx, res.Content, problems)
	if rerr != nil {
		return nil, fmt.Errorf("feedback repair: %w", rerr)
	}
	if problems, err = resume.Validate(repaired.Content); err != nil {
		return nil, &extract.Error{
			Category: extract.CategorySchema,
			Err:      fmt.Errorf("content still invalid after feedback repair: %v", problems),
		}
	}
	return repaired.Content, nil
}

// commit finishes the job, publishes the artifact, and fans out to
// every other job waiting on the same content hash.
func (r *Runner) commit(ctx context.Context, job *entity.Job, content json.RawMessage, path string) error {
	artifact := resume.Artifact(job.OwnerID, content)
	if err := r.jobs.CommitCompleted(ctx, job.ID, content, artifact); err != nil {
		return fmt.Errorf("commit completed: %w", err)
	}
	observability.JobsCompleted.WithLabelValues(path).Inc()
	r.log.Info("worker.job.completed", "job_id", job.ID, "path", path)
	r.notifier.JobTransition(ctx, notify.Event{JobID: job.ID, OwnerID: job.OwnerID, Status: entity.StatusCompleted})

	FanOut(ctx, r.jobs, r.notifier, r.log, job, content)
	return nil
}

// FanOut completes every other waiting_for_cache job sharing the
// content hash. Shared with the webhook ingestion path.
func FanOut(ctx context.Context, jobs store.JobStore, notifier notify.Notifier, log *slog.Logger, source *entity.Job, content json.RawMessage) {
	if source.ContentHash == "" {
		return
	}
	completed, err := jobs.FanOutCompleted(ctx, source.ContentHash, source.ID, content, *resume.Artifact(source.OwnerID, content))
	if err != nil {
		log.Error("worker.fanout.fail", "job_id", source.ID, "error", err)
		return
	}
	for _, j := range completed {
		observability.JobsCompleted.WithLabelValues("fanout").Inc()
		log.Info("worker.fanout.completed", "job_id", j.ID, "source_job_id", source.ID)
		notifier.JobTransition(ctx, notify.Event{JobID: j.ID, OwnerID: j.OwnerID, Status: entity.StatusCompleted})
	}
}

// fail classifies the extraction failure and routes the delivery:
// permanent categories dead-letter immediately, retryable ones go back
// to the queue until the delivery budget runs out.
func (r *Runner) fail(ctx context.Context, d store.Delivery, job *entity.Job, xerr error, log *slog.Logger) error {
	var inv *invariantError
	if errors.As(xerr, &inv) {
		log.Error("worker.invariant.fail", "error", inv.err)
		if err := r.jobs.MarkFailed(ctx, job.ID, inv.err.Error(), extract.UserMessage(extract.CategoryUnknown)); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		observability.JobsFailed.WithLabelValues(string(extract.CategoryUnknown)).Inc()
		r.notifier.JobTransition(ctx, notify.Event{JobID: job.ID, OwnerID: job.OwnerID, Status: entity.StatusFailed})
		return r.queue.DeadLetter(ctx, d.ID, inv.err.Error())
	}

	cat := extract.Classify(xerr)
	lastError := xerr.Error()
	var xe *extract.Error
	if errors.As(xerr, &xe) && xe.Raw != "" {
		lastError = fmt.Sprintf("%s; raw: %s", lastError, xe.Raw)
	}
	log.Warn("worker.extract.fail", "category", cat, "error", xerr)

	if !extract.Retryable(cat) {
		if err := r.jobs.MarkFailed(ctx, job.ID, lastError, extract.UserMessage(cat)); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		observability.JobsFailed.WithLabelValues(string(cat)).Inc()
		r.notifier.JobTransition(ctx, notify.Event{JobID: job.ID, OwnerID: job.OwnerID, Status: entity.StatusFailed, UserError: extract.UserMessage(cat)})
		return r.queue.DeadLetter(ctx, d.ID, lastError)
	}

	if d.Attempt >= store.MaxDeliveries {
		if err := r.jobs.MarkFailed(ctx, job.ID, lastError, extract.UserMessage(cat)); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		observability.JobsFailed.WithLabelValues(string(cat)).Inc()
		r.notifier.JobTransition(ctx, notify.Event{JobID: job.ID, OwnerID: job.OwnerID, Status: entity.StatusFailed, UserError: extract.UserMessage(cat)})
		return r.queue.Retry(ctx, d.ID, lastError)
	}

	if err := r.jobs.MarkRequeued(ctx, job.ID, lastError); err != nil {
		return fmt.Errorf("mark requeued: %w", err)
	}
	return r.queue.Retry(ctx, d.ID, lastError)
}

// invariantError marks programming or binding failures that must never
// be retried blindly.
type invariantError struct {
	err error
}

func (e *invariantError) Error() string { return e.err.Error() }
func (e *invariantError) Unwrap() error { return e.err }
