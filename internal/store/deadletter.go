package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// DequeueDeadLetters claims unalerted dead letters and marks them
// alerted in the same transaction, so the alert path sees each one
// exactly once.
func (s *Store) DequeueDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 10
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin dead-letter dequeue: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE dead_letters
		SET alerted_at = NOW()
		WHERE id IN (
			SELECT id FROM dead_letters
			WHERE alerted_at IS NULL
			ORDER BY failed_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		RETURNING id, payload, reason, attempts, failed_at
	`
	rows, err := tx.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("dead-letter dequeue query: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var (
			dl      DeadLetter
			payload []byte
		)
		if err := rows.Scan(&dl.ID, &payload, &dl.Reason, &dl.Attempts, &dl.FailedAt); err != nil {
			return nil, fmt.Errorf("dead-letter scan: %w", err)
		}
		if err := json.Unmarshal(payload, &dl.Message); err != nil {
			return nil, fmt.Errorf("decode dead-letter payload %d: %w", dl.ID, err)
		}
		dl.Alerted = true
		letters = append(letters, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dead-letter rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit dead-letter dequeue: %w", err)
	}
	return letters, nil
}

// ListDeadLetters pages through dead letters for operator tooling,
// newest first.
func (s *Store) ListDeadLetters(ctx context.Context, limit, offset int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, payload, reason, attempts, failed_at, alerted_at IS NOT NULL
		FROM dead_letters
		ORDER BY failed_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var (
			dl      DeadLetter
			payload []byte
		)
		if err := rows.Scan(&dl.ID, &payload, &dl.Reason, &dl.Attempts, &dl.FailedAt, &dl.Alerted); err != nil {
			return nil, fmt.Errorf("list dead letters scan: %w", err)
		}
		if err := json.Unmarshal(payload, &dl.Message); err != nil {
			return nil, fmt.Errorf("decode dead-letter payload %d: %w", dl.ID, err)
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}
