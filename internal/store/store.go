// Package store is the single source of truth for job state. All
// cross-job coordination (cache check, in-flight check, fan-out) goes
// through it, and every multi-row mutation that must be observed
// atomically is expressed as one transaction.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"resumeflow/internal/entity"
)

var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("conflicting job state")
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrDuplicateInFlight means another job with the same owner and
	// content hash already holds processing; the caller's job was parked
	// in waiting_for_cache and will be resolved by fan-out.
	ErrDuplicateInFlight = errors.New("duplicate content already processing")
)

const (
	// MaxUserRetries caps explicit user-initiated retries of a failed job.
	MaxUserRetries = 2

	// MaxDeliveries is the queue's retry budget per message.
	MaxDeliveries = 5

	// VisibilityTimeout hides a claimed message from other workers.
	VisibilityTimeout = 5 * time.Minute
)

// JobStore owns the Job lifecycle. The claim handler and the job runner
// are its only writers.
type JobStore interface {
	CreateJob(ctx context.Context, job *entity.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error)

	// Dedup/cache index queries, scoped per owner.
	FindCompletedByOwnerHash(ctx context.Context, ownerID, contentHash string) (*entity.Job, error)
	FindProcessingByOwnerHash(ctx context.Context, ownerID, contentHash string, exclude uuid.UUID) (*entity.Job, error)
	FindRecentByOwner(ctx context.Context, ownerID string, since time.Time) (*entity.Job, error)
	FindByExternalJobID(ctx context.Context, externalID string) (*entity.Job, error)

	// State transitions. Each clears or sets exactly what the lifecycle
	// requires; staged content never survives a transition out of
	// processing.
	MarkQueued(ctx context.Context, id uuid.UUID, storageRef, contentHash string) error
	MarkWaitingForCache(ctx context.Context, id uuid.UUID, storageRef, contentHash string) error
	MarkProcessing(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	StageContent(ctx context.Context, id uuid.UUID, content json.RawMessage) error
	MarkRequeued(ctx context.Context, id uuid.UUID, lastError string) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError, userError string) error
	MarkRetried(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	SetExternalJobID(ctx context.Context, id uuid.UUID, externalID string) error

	// CommitCompleted atomically marks the job completed, promotes the
	// content to final, clears staged content and last_error, and
	// upserts the owner's published artifact.
	CommitCompleted(ctx context.Context, id uuid.UUID, content json.RawMessage, artifact *entity.PublishedArtifact) error

	// FanOutCompleted transitions every other waiting_for_cache job with
	// the same content hash to completed with the given content, and
	// upserts each owner's artifact. Atomic per job: a crash mid-fan-out
	// leaves unprocessed jobs still waiting, never half-updated.
	FanOutCompleted(ctx context.Context, contentHash string, source uuid.UUID, content json.RawMessage, template entity.PublishedArtifact) ([]entity.Job, error)

	// ListJobs returns job history for operator export, newest first.
	ListJobs(ctx context.Context, ownerID string, limit int) ([]entity.Job, error)
}

// ArtifactStore holds the published, owner-keyed artifacts.
type ArtifactStore interface {
	UpsertArtifact(ctx context.Context, a *entity.PublishedArtifact) error
	GetArtifact(ctx context.Context, ownerID string) (*entity.PublishedArtifact, error)
}

// Delivery is one received queue message. Attempt counts this delivery,
// including redeliveries.
type Delivery struct {
	ID      int64
	Message entity.JobMessage
	Attempt int
}

// Queue is the at-least-once delivery primitive. Messages become
// invisible for VisibilityTimeout once dequeued; Retry re-publishes with
// backoff until MaxDeliveries, then moves the message to dead letters.
type Queue interface {
	Publish(ctx context.Context, msg entity.JobMessage) error
	Dequeue(ctx context.Context, limit int) ([]Delivery, error)
	Ack(ctx context.Context, deliveryID int64) error
	Retry(ctx context.Context, deliveryID int64, reason string) error
	// DeadLetter moves the message immediately, for classified-permanent
	// failures that redelivery cannot fix.
	DeadLetter(ctx context.Context, deliveryID int64, reason string) error
}

// DeadLetter is a message whose retry budget is exhausted.
type DeadLetter struct {
	ID       int64
	Message  entity.JobMessage
	Reason   string
	Attempts int
	FailedAt time.Time
	Alerted  bool
}

// DeadLetterStore surfaces dead-lettered messages to operators.
type DeadLetterStore interface {
	// DequeueDeadLetters claims unalerted dead letters for the alert path.
	DequeueDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	ListDeadLetters(ctx context.Context, limit, offset int) ([]DeadLetter, error)
}
