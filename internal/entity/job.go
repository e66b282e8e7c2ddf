package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a parse job.
type JobStatus string

const (
	StatusPendingClaim    JobStatus = "pending_claim"
	StatusQueued          JobStatus = "queued"
	StatusProcessing      JobStatus = "processing"
	StatusWaitingForCache JobStatus = "waiting_for_cache"
	StatusCompleted       JobStatus = "completed"
	StatusFailed          JobStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one row per submitted document.
type Job struct {
	ID               uuid.UUID       `json:"id"`
	OwnerID          string          `json:"owner_id"`
	Status           JobStatus       `json:"status"`
	ContentHash      string          `json:"content_hash,omitempty"` // hex sha256; empty until bytes are hashed
	StorageRef       string          `json:"storage_ref,omitempty"`
	ExtractedContent json.RawMessage `json:"extracted_content,omitempty"`
	StagedContent    json.RawMessage `json:"-"` // crash-recovery state, never surfaced to callers
	LastError        string          `json:"-"` // raw diagnostic, never surfaced to callers
	UserError        string          `json:"user_error,omitempty"`
	// AttemptCount counts processing claims. Deliveries absorbed by
	// staged recovery or a late cache hit never claim processing and do
	// not count.
	AttemptCount int `json:"attempt_count"`
	RetryCount       int             `json:"retry_count"`
	ExternalJobID    string          `json:"-"` // set when an external parsing provider owns the extraction
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// JobMessage is the payload published to the queue for a fresh job.
type JobMessage struct {
	JobID       uuid.UUID `json:"job_id"`
	OwnerID     string    `json:"owner_id"`
	StorageRef  string    `json:"storage_ref"`
	ContentHash string    `json:"content_hash"`
	Attempt     int       `json:"attempt"`
}
