package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"resumeflow/internal/blob"
	"resumeflow/internal/entity"
	"resumeflow/internal/extract"
	"resumeflow/internal/store"
	"resumeflow/internal/store/storetest"
)

// fakeExtractor scripts the cascade outcome and counts invocations.
type fakeExtractor struct {
	result  *extract.Result
	err     error
	calls   int
	repairs int
}

func (f *fakeExtractor) Extract(context.Context, string) (*extract.Result, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeExtractor) RepairWithFeedback(context.Context, json.RawMessage, []string) (*extract.Result, error) {
	f.repairs++
	return f.result, f.err
}

var validContent = json.RawMessage(`{"full_name":"Ada Lovelace","headline":"Programmer"}`)

func passthroughReader(b []byte) (string, error) { return string(b), nil }

func newTestRunner(fake *storetest.Fake, blobs blob.Store, x Extractor) *Runner {
	return NewRunner(fake, fake, blobs, x, passthroughReader, nil, nil)
}

func queuedJob(fake *storetest.Fake, blobs blob.Store, owner string) *entity.Job {
	job := &entity.Job{
		ID:          uuid.New(),
		OwnerID:     owner,
		Status:      entity.StatusQueued,
		ContentHash: "hash-1",
		StorageRef:  "resumes/" + owner + "/doc.pdf",
	}
	fake.Seed(job)
	blobs.Put(context.Background(), job.StorageRef, []byte("Ada Lovelace resume text"), "application/pdf")
	return job
}

func delivery(job *entity.Job, attempt int) store.Delivery {
	return store.Delivery{
		ID:      1,
		Attempt: attempt,
		Message: entity.JobMessage{
			JobID:       job.ID,
			OwnerID:     job.OwnerID,
			StorageRef:  job.StorageRef,
			ContentHash: job.ContentHash,
			Attempt:     attempt,
		},
	}
}

func TestHandleExtractsAndCommits(t *testing.T) {
	fake := storetest.NewFake()
	blobs := blob.NewMemoryStore()
	x := &fakeExtractor{result: &extract.Result{Content: validContent, Strategy: extract.StrategySchema}}

	job := queuedJob(fake, blobs, "U1")
	r := newTestRunner(fake, blobs, x)

	if err := r.Handle(context.Background(), delivery(job, 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got := fake.Jobs[job.ID]
	if got.Status != entity.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if string(got.ExtractedContent) != string(validContent) {
		t.Error("extracted content not committed")
	}
	if len(got.StagedContent) != 0 {
		t.Error("staged content must be cleared on commit")
	}
	if fake.Artifacts["U1"] == nil || fake.Artifacts["U1"].FullName != "Ada Lovelace" {
		t.Errorf("artifact not published: %+v", fake.Artifacts["U1"])
	}
	if len(fake.Acked) != 1 {
		t.Error("delivery not acked")
	}
}

func TestHandleIdempotentRedelivery(t *testing.T) {
	fake := storetest.NewFake()
	blobs := blob.NewMemoryStore()
	x := &fakeExtractor{result: &extract.Result{Content: validContent}}

	job := queuedJob(fake, blobs, "U1")
	r := newTestRunner(fake, blobs, x)

	for i := 1; i <= 3; i++ {
		if err := r.Handle(context.Background(), delivery(job, i)); err != nil {
			t.Fatalf("Handle #%d: %v", i, err)
		}
	}
	if x.calls != 1 {
		t.Errorf("extraction ran %d times across redeliveries, want 1", x.calls)
	}
	if len(fake.Artifacts) != 1 {
		t.Errorf("artifacts = %d, want exactly 1", len(fake.Artifacts))
	}
	if len(fake.Acked) != 3 {
		t.Errorf("acked %d deliveries, want 3", len(fake.Acked))
	}
}

func TestHandleStagedContentRecovery(t *testing.T) {
	fake := storetest.NewFake()
	blobs := blob.NewMemoryStore()
	x := &fakeExtractor{err: errors.New("must not be called")}

	// Crash simulation: extraction finished, commit never happened.
	job := queuedJob(fake, blobs, "U1")
	job.Status = entity.StatusProcessing
	job.StagedContent = validContent

	r := newTestRunner(fake, blobs, x)
	if err := r.Handle(context.Background(), delivery(job, 2)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got := fake.Jobs[job.ID]
	if got.Status != entity.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if x.calls != 0 {
		t.Error("staged recovery must not re-invoke extraction")
	}
	if string(got.ExtractedContent) != string(validContent) {
		t.Error("staged content not promoted to final")
	}
}

func TestHandleLateCacheHit(t *testing.T) {
	fake := storetest.NewFake()
	blobs := blob.NewMemoryStore()
	x := &fakeExtractor{err: errors.New("must not be called")}

	fake.Seed(&entity.Job{
		ID:               uuid.New(),
		OwnerID:          "U1",
		Status:           entity.StatusCompleted,
		ContentHash:      "hash-1",
		ExtractedContent: validContent,
	})
	job := queuedJob(fake, blobs, "U1")

	r := newTestRunner(fake, blobs, x)
	if err := r.Handle(context.Background(), delivery(job, 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if x.calls != 0 {
		t.Error("cache hit must not invoke extraction")
	}
	if fake.Jobs[job.ID].Status != entity.StatusCompleted {
		t.Errorf("status = %s, want completed", fake.Jobs[job.ID].Status)
	}
}

func TestHandleFanOutCompletesWaiters(t *testing.T) {
	fake := storetest.NewFake()
	blobs := blob.NewMemoryStore()
	x := &fakeExtractor{result: &extract.Result{Content: validContent}}

	job := queuedJob(fake, blobs, "U1")
	waiterB := &entity.Job{ID: uuid.New(), OwnerID: "U2", Status: entity.StatusWaitingForCache, ContentHash: "hash-1"}
	waiterC := &entity.Job{ID: uuid.New(), OwnerID: "U3", Status: entity.StatusWaitingForCache, ContentHash: "hash-1"}
	fake.Seed(waiterB)
	fake.Seed(waiterC)

	r := newTestRunner(fake, blobs, x)
	if err := r.Handle(context.Background(), delivery(job, 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	for _, w := range []*entity.Job{waiterB, waiterC} {
		got := fake.Jobs[w.ID]
		if got.Status != entity.StatusCompleted {
			t.Errorf("waiter %s status = %s, want completed", w.OwnerID, got.Status)
		}
		if string(got.ExtractedContent) != string(validContent) {
			t.Errorf("waiter %s content differs from source", w.OwnerID)
		}
		if fake.Artifacts[w.OwnerID] == nil {
			t.Errorf("waiter %s has no published artifact", w.OwnerID)
		}
	}
	if x.calls != 1 {
		t.Errorf("extraction ran %d times for 3 jobs, want 1", x.calls)
	}
}

func TestHandleDuplicateProcessingParksJob(t *testing.T) {
	fake := storetest.NewFake()
	blobs := blob.NewMemoryStore()
	x := &fakeExtractor{err: errors.New("must not be called")}

	// Another worker already claimed the same content for this owner.
	fake.Seed(&entity.Job{
		ID:          uuid.New(),
		OwnerID:     "U1",
		Status:      entity.StatusProcessing,
		ContentHash: "hash-1",
	})
	job := queuedJob(fake, blobs, "U1")

	r := newTestRunner(fake, blobs, x)
	if err := r.Handle(context.Background(), delivery(job, 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if x.calls != 0 {
		t.Errorf("extraction ran %d times behind an in-flight duplicate, want 0", x.calls)
	}
	if got := fake.Jobs[job.ID].Status; got != entity.StatusWaitingForCache {
		t.Errorf("status = %s, want waiting_for_cache", got)
	}
	if len(fake.Acked) != 1 {
		t.Error("parked delivery must be acked")
	}
}

func TestHandlePermanentFailureDeadLetters(t *testing.T) {
	fake := storetest.NewFake()
	blobs := blob.NewMemoryStore()
	x := &fakeExtractor{err: &extract.Error{
		Category: extract.CategoryProtected,
		Err:      errors.New("pdf is password protected"),
	}}

	job := queuedJob(fake, blobs, "U1")
	r := newTestRunner(fake, blobs, x)
	if err := r.Handle(context.Background(), delivery(job, 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got := fake.Jobs[job.ID]
	if got.Status != entity.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.UserError == "" || got.LastError == "" {
		t.Error("both user-facing and diagnostic errors must be stored")
	}
	if len(fake.DeadLettered) != 1 {
		t.Error("permanent failure must dead-letter immediately")
	}
	if len(fake.Retried) != 0 {
		t.Error("permanent failure must not retry")
	}
}

func TestHandleRetryableFailureRequeues(t *testing.T) {
	fake := storetest.NewFake()
	blobs := blob.NewMemoryStore()
	x := &fakeExtractor{err: errors.New("completion status 503: upstream unavailable")}

	job := queuedJob(fake, blobs, "U1")
	r := newTestRunner(fake, blobs, x)
	if err := r.Handle(context.Background(), delivery(job, 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got := fake.Jobs[job.ID]
	if got.Status != entity.StatusQueued {
		t.Fatalf("status = %s, want queued for redelivery", got.Status)
	}
	if got.LastError == "" {
		t.Error("diagnostic must be kept for the next delivery")
	}
	if len(fake.Retried) != 1 {
		t.Error("retryable failure must go back to the queue")
	}
}

func TestHandleRetryableFailureExhaustedBudget(t *testing.T) {
	fake := storetest.NewFake()
	blobs := blob.NewMemoryStore()
	x := &fakeExtractor{err: errors.New("completion status 503")}

	job := queuedJob(fake, blobs, "U1")
	r := newTestRunner(fake, blobs, x)
	if err := r.Handle(context.Background(), delivery(job, store.MaxDeliveries)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if fake.Jobs[job.ID].Status != entity.StatusFailed {
		t.Fatalf("status = %s, want failed at budget", fake.Jobs[job.ID].Status)
	}
	if len(fake.Retried) != 1 {
		t.Error("exhausted delivery still routes through Retry for dead-lettering")
	}
}

func TestHandleValidationFailureTriggersFeedbackRepair(t *testing.T) {
	fake := storetest.NewFake()
	blobs := blob.NewMemoryStore()
	// First output misses required full_name; the repair pass fixes it.
	x := &repairingExtractor{
		first:  json.RawMessage(`{"headline":"Programmer"}`),
		second: validContent,
	}

	job := queuedJob(fake, blobs, "U1")
	r := newTestRunner(fake, blobs, x)
	if err := r.Handle(context.Background(), delivery(job, 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if x.repairs != 1 {
		t.Errorf("feedback repairs = %d, want 1", x.repairs)
	}
	got := fake.Jobs[job.ID]
	if got.Status != entity.StatusCompleted {
		t.Fatalf("status = %s, want completed after repair", got.Status)
	}
	if string(got.ExtractedContent) != string(validContent) {
		t.Error("repaired content not committed")
	}
}

type repairingExtractor struct {
	first   json.RawMessage
	second  json.RawMessage
	repairs int
}

func (f *repairingExtractor) Extract(context.Context, string) (*extract.Result, error) {
	return &extract.Result{Content: f.first, Strategy: extract.StrategySchema}, nil
}

func (f *repairingExtractor) RepairWithFeedback(context.Context, json.RawMessage, []string) (*extract.Result, error) {
	f.repairs++
	return &extract.Result{Content: f.second, Strategy: extract.StrategyFeedback}, nil
}

func TestHandleMissingStorageBinding(t *testing.T) {
	fake := storetest.NewFake()
	blobs := blob.NewMemoryStore()
	x := &fakeExtractor{result: &extract.Result{Content: validContent}}

	job := queuedJob(fake, blobs, "U1")
	blobs.Delete(context.Background(), job.StorageRef)

	r := newTestRunner(fake, blobs, x)
	if err := r.Handle(context.Background(), delivery(job, 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if fake.Jobs[job.ID].Status != entity.StatusFailed {
		t.Fatal("missing storage binding must fail the job")
	}
	if len(fake.DeadLettered) != 1 {
		t.Error("invariant failures are never retried blindly")
	}
	if x.calls != 0 {
		t.Error("extraction must not run without bytes")
	}
}

func TestHandleUnknownJobAcks(t *testing.T) {
	fake := storetest.NewFake()
	r := newTestRunner(fake, blob.NewMemoryStore(), &fakeExtractor{})

	d := store.Delivery{ID: 9, Message: entity.JobMessage{JobID: uuid.New()}}
	if err := r.Handle(context.Background(), d); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(fake.Acked) != 1 {
		t.Error("a message for a vanished job is acked, not retried")
	}
}
