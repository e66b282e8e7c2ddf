// Package storetest provides an in-memory JobStore and Queue for
// package tests.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"resumeflow/internal/entity"
	"resumeflow/internal/store"
)

// Fake implements store.JobStore and store.Queue in memory.
type Fake struct {
	mu        sync.Mutex
	Jobs      map[uuid.UUID]*entity.Job
	Artifacts map[string]*entity.PublishedArtifact

	Published    []entity.JobMessage
	Acked        []int64
	Retried      []int64
	DeadLettered []int64

	PublishErr error
}

func NewFake() *Fake {
	return &Fake{
		Jobs:      make(map[uuid.UUID]*entity.Job),
		Artifacts: make(map[string]*entity.PublishedArtifact),
	}
}

// Seed stores a job directly, bypassing lifecycle checks.
func (f *Fake) Seed(job *entity.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Jobs[job.ID] = job
}

func (f *Fake) CreateJob(_ context.Context, job *entity.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	cp := *job
	f.Jobs[job.ID] = &cp
	return nil
}

func (f *Fake) GetJob(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *Fake) FindCompletedByOwnerHash(_ context.Context, ownerID, contentHash string) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.Jobs {
		if j.OwnerID == ownerID && j.ContentHash == contentHash && j.Status == entity.StatusCompleted {
			cp := *j
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *Fake) FindProcessingByOwnerHash(_ context.Context, ownerID, contentHash string, exclude uuid.UUID) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.Jobs {
		if j.ID == exclude {
			continue
		}
		if j.OwnerID == ownerID && j.ContentHash == contentHash &&
			(j.Status == entity.StatusQueued || j.Status == entity.StatusProcessing) {
			cp := *j
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *Fake) FindRecentByOwner(_ context.Context, ownerID string, since time.Time) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.Jobs {
		if j.OwnerID == ownerID && j.CreatedAt.After(since) && !j.Status.Terminal() {
			cp := *j
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *Fake) FindByExternalJobID(_ context.Context, externalID string) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.Jobs {
		if j.ExternalJobID == externalID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *Fake) MarkQueued(_ context.Context, id uuid.UUID, storageRef, contentHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = entity.StatusQueued
	j.StorageRef = storageRef
	j.ContentHash = contentHash
	return nil
}

func (f *Fake) MarkWaitingForCache(_ context.Context, id uuid.UUID, storageRef, contentHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = entity.StatusWaitingForCache
	j.StorageRef = storageRef
	j.ContentHash = contentHash
	return nil
}

func (f *Fake) MarkProcessing(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[id]
	if !ok || j.Status != entity.StatusQueued {
		return nil, store.ErrConflict
	}
	// Processing is exclusive per (owner, content hash); the loser is
	// parked behind the in-flight duplicate.
	if j.ContentHash != "" {
		for _, other := range f.Jobs {
			if other.ID != id && other.OwnerID == j.OwnerID &&
				other.ContentHash == j.ContentHash && other.Status == entity.StatusProcessing {
				j.Status = entity.StatusWaitingForCache
				return nil, store.ErrDuplicateInFlight
			}
		}
	}
	j.Status = entity.StatusProcessing
	j.AttemptCount++
	cp := *j
	return &cp, nil
}

func (f *Fake) StageContent(_ context.Context, id uuid.UUID, content json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.StagedContent = content
	return nil
}

func (f *Fake) MarkRequeued(_ context.Context, id uuid.UUID, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = entity.StatusQueued
	j.LastError = lastError
	return nil
}

func (f *Fake) MarkFailed(_ context.Context, id uuid.UUID, lastError, userError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status == entity.StatusCompleted {
		return store.ErrConflict
	}
	j.Status = entity.StatusFailed
	j.LastError = lastError
	j.UserError = userError
	j.StagedContent = nil
	return nil
}

func (f *Fake) MarkRetried(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if j.Status != entity.StatusFailed {
		return nil, store.ErrConflict
	}
	if j.RetryCount >= store.MaxUserRetries {
		return nil, store.ErrRetryExhausted
	}
	j.Status = entity.StatusQueued
	j.RetryCount++
	j.LastError = ""
	j.UserError = ""
	cp := *j
	return &cp, nil
}

func (f *Fake) SetExternalJobID(_ context.Context, id uuid.UUID, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.ExternalJobID = externalID
	return nil
}

func (f *Fake) CommitCompleted(_ context.Context, id uuid.UUID, content json.RawMessage, artifact *entity.PublishedArtifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commitLocked(id, content, artifact)
}

func (f *Fake) commitLocked(id uuid.UUID, content json.RawMessage, artifact *entity.PublishedArtifact) error {
	j, ok := f.Jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = entity.StatusCompleted
	j.ExtractedContent = content
	j.StagedContent = nil
	j.LastError = ""
	j.UserError = ""
	if artifact != nil {
		cp := *artifact
		f.Artifacts[artifact.OwnerID] = &cp
	}
	return nil
}

func (f *Fake) FanOutCompleted(_ context.Context, contentHash string, source uuid.UUID, content json.RawMessage, template entity.PublishedArtifact) ([]entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var completed []entity.Job
	for _, j := range f.Jobs {
		if j.ID == source || j.ContentHash != contentHash || j.Status != entity.StatusWaitingForCache {
			continue
		}
		artifact := template
		artifact.ID = uuid.New()
		artifact.OwnerID = j.OwnerID
		if err := f.commitLocked(j.ID, content, &artifact); err != nil {
			return nil, err
		}
		completed = append(completed, *j)
	}
	return completed, nil
}

func (f *Fake) ListJobs(_ context.Context, ownerID string, _ int) ([]entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []entity.Job
	for _, j := range f.Jobs {
		if j.OwnerID == ownerID {
			jobs = append(jobs, *j)
		}
	}
	return jobs, nil
}

// Queue methods.

func (f *Fake) Publish(_ context.Context, msg entity.JobMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishErr != nil {
		return f.PublishErr
	}
	f.Published = append(f.Published, msg)
	return nil
}

func (f *Fake) Dequeue(context.Context, int) ([]store.Delivery, error) { return nil, nil }

func (f *Fake) Ack(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Acked = append(f.Acked, id)
	return nil
}

func (f *Fake) Retry(_ context.Context, id int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Retried = append(f.Retried, id)
	return nil
}

func (f *Fake) DeadLetter(_ context.Context, id int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeadLettered = append(f.DeadLettered, id)
	return nil
}
