package worker

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"resumeflow/internal/entity"
	"resumeflow/internal/store"
	"resumeflow/internal/store/storetest"
)

type fakeDeadLetterStore struct {
	letters []store.DeadLetter
}

func (f *fakeDeadLetterStore) DequeueDeadLetters(_ context.Context, _ int) ([]store.DeadLetter, error) {
	out := f.letters
	f.letters = nil
	return out, nil
}

func (f *fakeDeadLetterStore) ListDeadLetters(context.Context, int, int) ([]store.DeadLetter, error) {
	return nil, nil
}

func TestDeadLetterConsumerFailsStuckJob(t *testing.T) {
	jobs := storetest.NewFake()
	stuck := &entity.Job{ID: uuid.New(), OwnerID: "U1", Status: entity.StatusProcessing}
	jobs.Seed(stuck)

	letters := &fakeDeadLetterStore{letters: []store.DeadLetter{{
		ID:       1,
		Message:  entity.JobMessage{JobID: stuck.ID, OwnerID: "U1"},
		Reason:   "worker lost",
		Attempts: 5,
	}}}

	c := NewDeadLetterConsumer(letters, jobs, nil, 0, nil)
	c.drain(context.Background())

	job, err := jobs.GetJob(context.Background(), stuck.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != entity.StatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if job.LastError != "worker lost" {
		t.Errorf("last error = %q, want the dead-letter reason", job.LastError)
	}
	if job.UserError == "" {
		t.Error("user-facing message missing")
	}
}

func TestDeadLetterConsumerLeavesTerminalJob(t *testing.T) {
	jobs := storetest.NewFake()
	done := &entity.Job{ID: uuid.New(), OwnerID: "U1", Status: entity.StatusCompleted}
	jobs.Seed(done)

	letters := &fakeDeadLetterStore{letters: []store.DeadLetter{{
		ID:      2,
		Message: entity.JobMessage{JobID: done.ID, OwnerID: "U1"},
		Reason:  "late redelivery",
	}}}

	c := NewDeadLetterConsumer(letters, jobs, nil, 0, nil)
	c.drain(context.Background())

	job, err := jobs.GetJob(context.Background(), done.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != entity.StatusCompleted {
		t.Errorf("status = %s, terminal job must not change", job.Status)
	}
}
