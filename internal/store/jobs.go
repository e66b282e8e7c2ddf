package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"resumeflow/internal/entity"
)

const jobColumns = `id, owner_id, status, content_hash, storage_ref,
	extracted_content, staged_content, last_error, user_error,
	attempt_count, retry_count, external_job_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		job         entity.Job
		contentHash sql.NullString
		storageRef  sql.NullString
		extracted   []byte
		staged      []byte
		lastError   sql.NullString
		userError   sql.NullString
		externalID  sql.NullString
	)
	err := row.Scan(
		&job.ID, &job.OwnerID, &job.Status, &contentHash, &storageRef,
		&extracted, &staged, &lastError, &userError,
		&job.AttemptCount, &job.RetryCount, &externalID,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.ContentHash = contentHash.String
	job.StorageRef = storageRef.String
	job.ExtractedContent = extracted
	job.StagedContent = staged
	job.LastError = lastError.String
	job.UserError = userError.String
	job.ExternalJobID = externalID.String
	return &job, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateJob inserts a new pending_claim row.
func (s *Store) CreateJob(ctx context.Context, job *entity.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	query := `
		INSERT INTO jobs (id, owner_id, status, content_hash, storage_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.OwnerID, job.Status,
		nullable(job.ContentHash), nullable(job.StorageRef),
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// FindCompletedByOwnerHash returns the newest completed job with this
// owner and content hash, or ErrNotFound. This is the cache index.
func (s *Store) FindCompletedByOwnerHash(ctx context.Context, ownerID, contentHash string) (*entity.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE owner_id = $1 AND content_hash = $2 AND status = $3
		ORDER BY updated_at DESC
		LIMIT 1
	`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, ownerID, contentHash, entity.StatusCompleted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find completed by hash: %w", err)
	}
	return job, nil
}

// FindProcessingByOwnerHash returns an in-flight job (queued or
// processing) with the same owner and content hash, excluding the
// caller's own job.
func (s *Store) FindProcessingByOwnerHash(ctx context.Context, ownerID, contentHash string, exclude uuid.UUID) (*entity.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE owner_id = $1 AND content_hash = $2 AND status IN ($3, $4) AND id <> $5
		ORDER BY created_at ASC
		LIMIT 1
	`
	job, err := scanJob(s.db.QueryRowContext(ctx, query,
		ownerID, contentHash, entity.StatusQueued, entity.StatusProcessing, exclude))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find in-flight by hash: %w", err)
	}
	return job, nil
}

// FindRecentByOwner returns the owner's newest non-terminal job created
// after the given instant. The claim handler uses it to absorb rapid
// duplicate submissions before the bytes are even hashed.
func (s *Store) FindRecentByOwner(ctx context.Context, ownerID string, since time.Time) (*entity.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE owner_id = $1 AND created_at > $2 AND status NOT IN ($3, $4)
		ORDER BY created_at DESC
		LIMIT 1
	`
	job, err := scanJob(s.db.QueryRowContext(ctx, query,
		ownerID, since, entity.StatusCompleted, entity.StatusFailed))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recent by owner: %w", err)
	}
	return job, nil
}

func (s *Store) FindByExternalJobID(ctx context.Context, externalID string) (*entity.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE external_job_id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find by external id: %w", err)
	}
	return job, nil
}

// MarkQueued moves a pending_claim job to queued once its bytes are in
// permanent storage and its message is published.
func (s *Store) MarkQueued(ctx context.Context, id uuid.UUID, storageRef, contentHash string) error {
	query := `
		UPDATE jobs
		SET status = $1, storage_ref = $2, content_hash = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5
	`
	res, err := s.db.ExecContext(ctx, query,
		entity.StatusQueued, storageRef, contentHash, id, entity.StatusPendingClaim)
	if err != nil {
		return fmt.Errorf("mark queued %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// MarkWaitingForCache parks a job behind an in-flight duplicate.
func (s *Store) MarkWaitingForCache(ctx context.Context, id uuid.UUID, storageRef, contentHash string) error {
	query := `
		UPDATE jobs
		SET status = $1, storage_ref = $2, content_hash = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5
	`
	res, err := s.db.ExecContext(ctx, query,
		entity.StatusWaitingForCache, storageRef, contentHash, id, entity.StatusPendingClaim)
	if err != nil {
		return fmt.Errorf("mark waiting_for_cache %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// MarkProcessing claims a queued job for a worker, bumping the attempt
// counter, and returns the refreshed row. A partial unique index keeps
// processing exclusive per (owner_id, content_hash); the loser of a
// race is parked in waiting_for_cache and ErrDuplicateInFlight is
// returned so fan-out from the winner resolves it. ErrConflict means
// the job is no longer in a runnable state.
func (s *Store) MarkProcessing(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1, attempt_count = attempt_count + 1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING ` + jobColumns
	job, err := scanJob(s.db.QueryRowContext(ctx, query, entity.StatusProcessing, id, entity.StatusQueued))
	if err == nil {
		return job, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConflict
	}
	if isUniqueViolation(err) {
		return nil, s.parkDuplicate(ctx, id)
	}
	return nil, fmt.Errorf("mark processing %s: %w", id, err)
}

// parkDuplicate moves a queued job behind the in-flight duplicate that
// beat it to processing.
func (s *Store) parkDuplicate(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	res, err := s.db.ExecContext(ctx, query, entity.StatusWaitingForCache, id, entity.StatusQueued)
	if err != nil {
		return fmt.Errorf("park duplicate %s: %w", id, err)
	}
	if err := requireOneRow(res, id); err != nil {
		return err
	}
	s.log.Info("jobs.duplicate.parked", "job_id", id)
	return ErrDuplicateInFlight
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// StageContent records extracted content before the final commit, so a
// crash between extraction and commit can recover without re-calling
// the model.
func (s *Store) StageContent(ctx context.Context, id uuid.UUID, content json.RawMessage) error {
	query := `
		UPDATE jobs
		SET staged_content = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	res, err := s.db.ExecContext(ctx, query, []byte(content), id, entity.StatusProcessing)
	if err != nil {
		return fmt.Errorf("stage content %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// MarkRequeued returns a processing job to queued after a retryable
// failure, keeping the diagnostic for the next delivery.
func (s *Store) MarkRequeued(ctx context.Context, id uuid.UUID, lastError string) error {
	query := `
		UPDATE jobs
		SET status = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	res, err := s.db.ExecContext(ctx, query, entity.StatusQueued, lastError, id, entity.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark requeued %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// MarkFailed records both the raw diagnostic and the user-facing
// message, and drops any staged content. A completed job never
// regresses to failed; ErrConflict is returned instead.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, lastError, userError string) error {
	query := `
		UPDATE jobs
		SET status = $1, last_error = $2, user_error = $3, staged_content = NULL, updated_at = NOW()
		WHERE id = $4 AND status <> $5
	`
	res, err := s.db.ExecContext(ctx, query, entity.StatusFailed, lastError, userError, id, entity.StatusCompleted)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// MarkRetried moves a failed job back to queued for a user-initiated
// retry. Returns ErrRetryExhausted once the retry budget is spent and
// ErrConflict when the job is not in failed state.
func (s *Store) MarkRetried(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1, retry_count = retry_count + 1,
			last_error = NULL, user_error = NULL, updated_at = NOW()
		WHERE id = $2 AND status = $3 AND retry_count < $4
		RETURNING ` + jobColumns
	job, err := scanJob(s.db.QueryRowContext(ctx, query,
		entity.StatusQueued, id, entity.StatusFailed, MaxUserRetries))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mark retried %s: %w", id, err)
	}

	// Distinguish the two zero-row causes for the caller.
	current, gerr := s.GetJob(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if current.Status == entity.StatusFailed && current.RetryCount >= MaxUserRetries {
		return nil, ErrRetryExhausted
	}
	return nil, ErrConflict
}

func (s *Store) SetExternalJobID(ctx context.Context, id uuid.UUID, externalID string) error {
	query := `UPDATE jobs SET external_job_id = $1, updated_at = NOW() WHERE id = $2`
	res, err := s.db.ExecContext(ctx, query, externalID, id)
	if err != nil {
		return fmt.Errorf("set external job id %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

// CommitCompleted finishes a job and publishes the owner's artifact in
// one transaction. The job update and the artifact upsert land together
// or not at all.
func (s *Store) CommitCompleted(ctx context.Context, id uuid.UUID, content json.RawMessage, artifact *entity.PublishedArtifact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, extracted_content = $2, staged_content = NULL,
			last_error = NULL, user_error = NULL, updated_at = NOW()
		WHERE id = $3 AND status NOT IN ($4)
	`, entity.StatusCompleted, []byte(content), id, entity.StatusFailed)
	if err != nil {
		return fmt.Errorf("commit job %s: %w", id, err)
	}
	if err := requireOneRow(res, id); err != nil {
		return err
	}

	if artifact != nil {
		if err := upsertArtifactTx(ctx, tx, artifact); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// FanOutCompleted completes every other waiting_for_cache job sharing
// the content hash. Each job gets its own transaction so a crash leaves
// unprocessed jobs still waiting rather than half-updated.
func (s *Store) FanOutCompleted(ctx context.Context, contentHash string, source uuid.UUID, content json.RawMessage, template entity.PublishedArtifact) ([]entity.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE content_hash = $1 AND status = $2 AND id <> $3
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, contentHash, entity.StatusWaitingForCache, source)
	if err != nil {
		return nil, fmt.Errorf("fan-out query: %w", err)
	}
	defer rows.Close()

	var waiting []entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("fan-out scan: %w", err)
		}
		waiting = append(waiting, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fan-out rows: %w", err)
	}

	var completed []entity.Job
	for _, job := range waiting {
		artifact := template
		artifact.ID = uuid.New()
		artifact.OwnerID = job.OwnerID
		if err := s.CommitCompleted(ctx, job.ID, content, &artifact); err != nil {
			s.log.Error("fanout.commit.fail", "job_id", job.ID, "error", err)
			continue
		}
		job.Status = entity.StatusCompleted
		job.ExtractedContent = content
		completed = append(completed, job)
	}
	return completed, nil
}

func (s *Store) ListJobs(ctx context.Context, ownerID string, limit int) ([]entity.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs scan: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func requireOneRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
