package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"resumeflow/internal/entity"
)

func TestPublish(t *testing.T) {
	s, mock := newMockStore(t)

	msg := entity.JobMessage{
		JobID:       uuid.New(),
		OwnerID:     "owner-1",
		StorageRef:  "resumes/abc",
		ContentHash: "abc",
	}
	payload, _ := json.Marshal(msg)

	mock.ExpectExec(`INSERT INTO job_queue`).
		WithArgs(msg.JobID, payload).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDequeueClaimsAndExtendsVisibility(t *testing.T) {
	s, mock := newMockStore(t)

	msg := entity.JobMessage{JobID: uuid.New(), OwnerID: "owner-1"}
	payload, _ := json.Marshal(msg)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE job_queue`).
		WithArgs(VisibilityTimeout.Seconds(), 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload", "attempt"}).
			AddRow(int64(7), payload, 1))
	mock.ExpectCommit()

	deliveries, err := s.Dequeue(context.Background(), 5)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliveries))
	}
	d := deliveries[0]
	if d.ID != 7 || d.Attempt != 1 || d.Message.JobID != msg.JobID {
		t.Errorf("unexpected delivery: %+v", d)
	}
}

func TestDequeueEmpty(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE job_queue`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload", "attempt"}))
	mock.ExpectCommit()

	deliveries, err := s.Dequeue(context.Background(), 5)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(deliveries) != 0 {
		t.Errorf("expected empty batch, got %d", len(deliveries))
	}
}

func TestAckDeletes(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM job_queue`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Ack(context.Background(), 7); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestRetryBacksOff(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT attempt FROM job_queue`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"attempt"}).AddRow(2))

	backoff := time.Duration(10*(1<<2)) * time.Second
	mock.ExpectExec(`UPDATE job_queue`).
		WithArgs(backoff.Seconds(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Retry(context.Background(), 7, "transient"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRetryMovesToDeadLettersAtBudget(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT attempt FROM job_queue`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"attempt"}).AddRow(MaxDeliveries))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO dead_letters`).
		WithArgs("extraction exhausted", int64(7)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`DELETE FROM job_queue`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.Retry(context.Background(), 7, "extraction exhausted"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRetryUnknownDelivery(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT attempt FROM job_queue`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"attempt"}))

	err := s.Retry(context.Background(), 7, "transient")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDequeueDeadLettersMarksAlerted(t *testing.T) {
	s, mock := newMockStore(t)

	msg := entity.JobMessage{JobID: uuid.New(), OwnerID: "owner-1"}
	payload, _ := json.Marshal(msg)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE dead_letters`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload", "reason", "attempts", "failed_at"}).
			AddRow(int64(3), payload, "extraction exhausted", MaxDeliveries, time.Now()))
	mock.ExpectCommit()

	letters, err := s.DequeueDeadLetters(context.Background(), 10)
	if err != nil {
		t.Fatalf("DequeueDeadLetters: %v", err)
	}
	if len(letters) != 1 || !letters[0].Alerted {
		t.Fatalf("letters = %+v, want one alerted letter", letters)
	}
	if letters[0].Message.JobID != msg.JobID {
		t.Errorf("payload not decoded: %+v", letters[0])
	}
}
