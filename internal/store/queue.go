package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"resumeflow/internal/entity"
)

// Publish enqueues a job message, visible immediately.
func (s *Store) Publish(ctx context.Context, msg entity.JobMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue payload: %w", err)
	}
	query := `
		INSERT INTO job_queue (job_id, payload, visible_after)
		VALUES ($1, $2, NOW())
	`
	if _, err := s.db.ExecContext(ctx, query, msg.JobID, payload); err != nil {
		return fmt.Errorf("publish job %s: %w", msg.JobID, err)
	}
	return nil
}

// Dequeue claims up to limit visible messages with SKIP LOCKED and
// pushes their visibility horizon out by VisibilityTimeout. The attempt
// counter includes this delivery.
func (s *Store) Dequeue(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 1
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin dequeue: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE job_queue
		SET attempt = attempt + 1,
			visible_after = NOW() + ($1 * INTERVAL '1 second')
		WHERE id IN (
			SELECT id FROM job_queue
			WHERE visible_after <= NOW()
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		RETURNING id, payload, attempt
	`
	rows, err := tx.QueryContext(ctx, query, VisibilityTimeout.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue query: %w", err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var (
			d       Delivery
			payload []byte
		)
		if err := rows.Scan(&d.ID, &payload, &d.Attempt); err != nil {
			return nil, fmt.Errorf("dequeue scan: %w", err)
		}
		if err := json.Unmarshal(payload, &d.Message); err != nil {
			return nil, fmt.Errorf("decode queue payload %d: %w", d.ID, err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dequeue rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit dequeue: %w", err)
	}
	return deliveries, nil
}

// Ack deletes a handled message. Completion is delete-on-ack, the queue
// holds only outstanding work.
func (s *Store) Ack(ctx context.Context, deliveryID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_queue WHERE id = $1`, deliveryID)
	if err != nil {
		return fmt.Errorf("ack delivery %d: %w", deliveryID, err)
	}
	return nil
}

// Retry re-publishes with exponential backoff, or dead-letters once
// the delivery budget is spent.
func (s *Store) Retry(ctx context.Context, deliveryID int64, reason string) error {
	var attempt int
	err := s.db.QueryRowContext(ctx,
		`SELECT attempt FROM job_queue WHERE id = $1`, deliveryID).Scan(&attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load delivery %d: %w", deliveryID, err)
	}

	if attempt >= MaxDeliveries {
		return s.DeadLetter(ctx, deliveryID, reason)
	}

	backoff := time.Duration(10*(1<<attempt)) * time.Second
	_, err = s.db.ExecContext(ctx, `
		UPDATE job_queue
		SET visible_after = NOW() + ($1 * INTERVAL '1 second')
		WHERE id = $2
	`, backoff.Seconds(), deliveryID)
	if err != nil {
		return fmt.Errorf("retry delivery %d: %w", deliveryID, err)
	}
	return nil
}

// DeadLetter moves the message out of the live queue in one
// transaction.
func (s *Store) DeadLetter(ctx context.Context, deliveryID int64, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dead-letter: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letters (job_id, payload, reason, attempts, failed_at)
		SELECT job_id, payload, $1, attempt, NOW()
		FROM job_queue WHERE id = $2
	`, reason, deliveryID)
	if err != nil {
		return fmt.Errorf("insert dead letter %d: %w", deliveryID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_queue WHERE id = $1`, deliveryID); err != nil {
		return fmt.Errorf("delete dead-lettered %d: %w", deliveryID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dead-letter: %w", err)
	}
	s.log.Warn("queue.dead_letter", "delivery_id", deliveryID, "reason", reason)
	return nil
}
