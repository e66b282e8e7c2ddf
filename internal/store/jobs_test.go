package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"resumeflow/internal/entity"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, nil), mock
}

func jobRows(job *entity.Job) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_id", "status", "content_hash", "storage_ref",
		"extracted_content", "staged_content", "last_error", "user_error",
		"attempt_count", "retry_count", "external_job_id", "created_at", "updated_at",
	}).AddRow(
		job.ID, job.OwnerID, job.Status, job.ContentHash, job.StorageRef,
		[]byte(job.ExtractedContent), []byte(job.StagedContent),
		job.LastError, job.UserError,
		job.AttemptCount, job.RetryCount, job.ExternalJobID,
		job.CreatedAt, job.UpdatedAt,
	)
}

func TestCreateJob(t *testing.T) {
	s, mock := newMockStore(t)

	job := &entity.Job{
		ID:      uuid.New(),
		OwnerID: "owner-1",
		Status:  entity.StatusPendingClaim,
	}

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(job.ID, job.OwnerID, job.Status, nil, nil,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Error("timestamps should be set on insert")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	id := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetJob(context.Background(), id)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkQueuedConflictWhenNotPending(t *testing.T) {
	s, mock := newMockStore(t)

	id := uuid.New()
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(entity.StatusQueued, "resumes/abc", "abc", id, entity.StatusPendingClaim).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkQueued(context.Background(), id, "resumes/abc", "abc")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestMarkProcessingBumpsAttempt(t *testing.T) {
	s, mock := newMockStore(t)

	job := &entity.Job{
		ID:           uuid.New(),
		OwnerID:      "owner-1",
		Status:       entity.StatusProcessing,
		ContentHash:  "abc",
		StorageRef:   "resumes/abc",
		AttemptCount: 1,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	mock.ExpectQuery(`UPDATE jobs`).
		WithArgs(entity.StatusProcessing, job.ID, entity.StatusQueued).
		WillReturnRows(jobRows(job))

	got, err := s.MarkProcessing(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if got.AttemptCount != 1 || got.Status != entity.StatusProcessing {
		t.Errorf("unexpected job after claim: %+v", got)
	}
}

func TestMarkProcessingConflict(t *testing.T) {
	s, mock := newMockStore(t)

	id := uuid.New()
	mock.ExpectQuery(`UPDATE jobs`).
		WithArgs(entity.StatusProcessing, id, entity.StatusQueued).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.MarkProcessing(context.Background(), id)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestMarkProcessingParksDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	id := uuid.New()
	mock.ExpectQuery(`UPDATE jobs`).
		WithArgs(entity.StatusProcessing, id, entity.StatusQueued).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(entity.StatusWaitingForCache, id, entity.StatusQueued).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := s.MarkProcessing(context.Background(), id)
	if !errors.Is(err, ErrDuplicateInFlight) {
		t.Fatalf("err = %v, want ErrDuplicateInFlight", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMarkFailedDoesNotRegressCompleted(t *testing.T) {
	s, mock := newMockStore(t)

	id := uuid.New()
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(entity.StatusFailed, "boom", "Please retry.", id, entity.StatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkFailed(context.Background(), id, "boom", "Please retry.")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestMarkRetriedExhausted(t *testing.T) {
	s, mock := newMockStore(t)

	job := &entity.Job{
		ID:         uuid.New(),
		OwnerID:    "owner-1",
		Status:     entity.StatusFailed,
		RetryCount: MaxUserRetries,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	mock.ExpectQuery(`UPDATE jobs`).
		WithArgs(entity.StatusQueued, job.ID, entity.StatusFailed, MaxUserRetries).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id`).
		WithArgs(job.ID).
		WillReturnRows(jobRows(job))

	_, err := s.MarkRetried(context.Background(), job.ID)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("err = %v, want ErrRetryExhausted", err)
	}
}

func TestCommitCompletedAtomic(t *testing.T) {
	s, mock := newMockStore(t)

	id := uuid.New()
	content := json.RawMessage(`{"full_name":"Ada Lovelace"}`)
	artifact := &entity.PublishedArtifact{
		OwnerID:  "owner-1",
		Content:  content,
		FullName: "Ada Lovelace",
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(entity.StatusCompleted, []byte(content), id, entity.StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO published_artifacts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.CommitCompleted(context.Background(), id, content, artifact); err != nil {
		t.Fatalf("CommitCompleted: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCommitCompletedRollsBackOnArtifactFailure(t *testing.T) {
	s, mock := newMockStore(t)

	id := uuid.New()
	content := json.RawMessage(`{}`)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO published_artifacts`).
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	err := s.CommitCompleted(context.Background(), id, content, &entity.PublishedArtifact{OwnerID: "o"})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestFanOutCompletedCompletesWaiters(t *testing.T) {
	s, mock := newMockStore(t)

	source := uuid.New()
	waiter := &entity.Job{
		ID:          uuid.New(),
		OwnerID:     "owner-2",
		Status:      entity.StatusWaitingForCache,
		ContentHash: "abc",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	content := json.RawMessage(`{"full_name":"Ada Lovelace"}`)

	mock.ExpectQuery(`SELECT .+ FROM jobs`).
		WithArgs("abc", entity.StatusWaitingForCache, source).
		WillReturnRows(jobRows(waiter))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO published_artifacts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	completed, err := s.FanOutCompleted(context.Background(), "abc", source, content,
		entity.PublishedArtifact{Content: content, FullName: "Ada Lovelace"})
	if err != nil {
		t.Fatalf("FanOutCompleted: %v", err)
	}
	if len(completed) != 1 || completed[0].OwnerID != "owner-2" {
		t.Errorf("completed = %+v, want the waiting owner-2 job", completed)
	}
	if completed[0].Status != entity.StatusCompleted {
		t.Errorf("status = %s, want completed", completed[0].Status)
	}
}

func TestFanOutCompletedNoWaiters(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	completed, err := s.FanOutCompleted(context.Background(), "abc", uuid.New(),
		json.RawMessage(`{}`), entity.PublishedArtifact{})
	if err != nil {
		t.Fatalf("FanOutCompleted: %v", err)
	}
	if len(completed) != 0 {
		t.Errorf("expected no completions, got %d", len(completed))
	}
}
