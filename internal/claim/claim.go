// Package claim is the synchronous entry point of the pipeline. It
// attaches an anonymously staged upload to an authenticated owner,
// resolves the cache/in-flight/fresh paths, and hands fresh work to the
// queue.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"resumeflow/internal/blob"
	"resumeflow/internal/doctext"
	"resumeflow/internal/entity"
	"resumeflow/internal/hash"
	"resumeflow/internal/notify"
	"resumeflow/internal/resume"
	"resumeflow/internal/store"
)

// Input errors, rejected before any job is queued.
var (
	ErrInvalidStagingRef = errors.New("storage reference is outside the staging namespace")
	ErrUploadAbsent      = errors.New("staged upload not found or expired")
	ErrNotPDF            = errors.New("uploaded file is not a PDF")
	ErrTooLarge          = errors.New("uploaded file exceeds the size limit")
)

// recentClaimWindow absorbs double-submissions from client re-mounts:
// if the staged upload is gone but the owner created a job this
// recently, the claim is treated as a duplicate of that job.
const recentClaimWindow = 5 * time.Minute

// Request is one claim attempt. ExternalJobID is set when the upload
// was already submitted to an external parsing provider; the result
// then arrives through the callback endpoint instead of the internal
// queue.
type Request struct {
	OwnerID       string
	StagingRef    string
	ReferralToken string
	ExternalJobID string
}

// Result reports which path the claim resolved through.
type Result struct {
	JobID           uuid.UUID        `json:"job_id"`
	Status          entity.JobStatus `json:"status"`
	Cached          bool             `json:"cached,omitempty"`
	WaitingForCache bool             `json:"waiting_for_cache,omitempty"`
}

// ReferralLinker records the referral attribution of a claim.
// Implementations are best-effort collaborators.
type ReferralLinker interface {
	Link(ctx context.Context, ownerID, token string) error
}

// Handler drives the claim flow.
type Handler struct {
	jobs      store.JobStore
	queue     store.Queue
	blobs     blob.Store
	notifier  notify.Notifier
	referrals ReferralLinker

	stagingPrefix string
	maxUploadSize int64
	log           *slog.Logger
}

type Option func(*Handler)

// WithReferralLinker wires the optional referral collaborator.
func WithReferralLinker(r ReferralLinker) Option {
	return func(h *Handler) { h.referrals = r }
}

func NewHandler(jobs store.JobStore, queue store.Queue, blobs blob.Store, notifier notify.Notifier, stagingPrefix string, maxUploadSize int64, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	h := &Handler{
		jobs:          jobs,
		queue:         queue,
		blobs:         blobs,
		notifier:      notifier,
		stagingPrefix: stagingPrefix,
		maxUploadSize: maxUploadSize,
		log:           logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Claim runs the full claim flow. Once a job row exists, every failure
// path marks it failed rather than leaving it stuck in pending_claim.
func (h *Handler) Claim(ctx context.Context, req Request) (*Result, error) {
	if !strings.HasPrefix(req.StagingRef, h.stagingPrefix) {
		return nil, ErrInvalidStagingRef
	}

	data, err := h.blobs.Get(ctx, req.StagingRef)
	if errors.Is(err, blob.ErrAbsent) {
		// Expired or already claimed. A very recent job by the same
		// owner means a client double-submitted the same upload.
		if recent, rerr := h.jobs.FindRecentByOwner(ctx, req.OwnerID, time.Now().Add(-recentClaimWindow)); rerr == nil {
			h.log.Info("claim.duplicate.absorbed", "owner_id", req.OwnerID, "job_id", recent.ID)
			return &Result{JobID: recent.ID, Status: recent.Status}, nil
		}
		return nil, ErrUploadAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("fetch staged upload: %w", err)
	}

	if h.maxUploadSize > 0 && int64(len(data)) > h.maxUploadSize {
		return nil, ErrTooLarge
	}
	if !doctext.IsPDF(data) {
		return nil, ErrNotPDF
	}

	contentHash := hash.Content(data)

	// The row exists before any further I/O so every claim attempt
	// leaves an auditable record.
	job := &entity.Job{
		ID:      uuid.New(),
		OwnerID: req.OwnerID,
		Status:  entity.StatusPendingClaim,
	}
	if err := h.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	log := h.log.With("job_id", job.ID, "owner_id", req.OwnerID, "content_hash", contentHash)

	h.linkReferral(ctx, req, log)

	result, err := h.resolve(ctx, job, req, data, contentHash, log)
	if err != nil {
		h.failForward(ctx, job.ID, err, log)
		return nil, err
	}
	h.cleanupStaging(ctx, req.StagingRef, log)
	return result, nil
}

// resolve runs the cache, in-flight, and fresh paths in order.
func (h *Handler) resolve(ctx context.Context, job *entity.Job, req Request, data []byte, contentHash string, log *slog.Logger) (*Result, error) {
	ownerRef := OwnerRef(req.OwnerID, job.ID)

	if cached, err := h.jobs.FindCompletedByOwnerHash(ctx, req.OwnerID, contentHash); err == nil {
		if err := h.blobs.Put(ctx, ownerRef, data, "application/pdf"); err != nil {
			return nil, fmt.Errorf("store claimed upload: %w", err)
		}
		// The row passes through waiting_for_cache so the content hash
		// and owner-scoped ref persist; CommitCompleted writes neither.
		if err := h.jobs.MarkWaitingForCache(ctx, job.ID, ownerRef, contentHash); err != nil {
			return nil, fmt.Errorf("record claimed upload: %w", err)
		}
		artifact := resume.Artifact(req.OwnerID, cached.ExtractedContent)
		if err := h.jobs.CommitCompleted(ctx, job.ID, cached.ExtractedContent, artifact); err != nil {
			return nil, fmt.Errorf("commit cached result: %w", err)
		}
		log.Info("claim.cache.hit", "source_job_id", cached.ID)
		h.notifier.JobTransition(ctx, notify.Event{JobID: job.ID, OwnerID: req.OwnerID, Status: entity.StatusCompleted})
		return &Result{JobID: job.ID, Status: entity.StatusCompleted, Cached: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("cache check: %w", err)
	}

	if inflight, err := h.jobs.FindProcessingByOwnerHash(ctx, req.OwnerID, contentHash, job.ID); err == nil {
		if err := h.blobs.Put(ctx, ownerRef, data, "application/pdf"); err != nil {
			return nil, fmt.Errorf("store claimed upload: %w", err)
		}
		if err := h.jobs.MarkWaitingForCache(ctx, job.ID, ownerRef, contentHash); err != nil {
			return nil, fmt.Errorf("mark waiting_for_cache: %w", err)
		}
		log.Info("claim.inflight.wait", "inflight_job_id", inflight.ID)
		h.notifier.JobTransition(ctx, notify.Event{JobID: job.ID, OwnerID: req.OwnerID, Status: entity.StatusWaitingForCache})
		return &Result{JobID: job.ID, Status: entity.StatusWaitingForCache, WaitingForCache: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("in-flight check: %w", err)
	}

	if err := h.blobs.Put(ctx, ownerRef, data, "application/pdf"); err != nil {
		return nil, fmt.Errorf("store claimed upload: %w", err)
	}
	if req.ExternalJobID != "" {
		// The external provider already holds the document; completion
		// arrives via the callback endpoint, so nothing is enqueued.
		if err := h.jobs.SetExternalJobID(ctx, job.ID, req.ExternalJobID); err != nil {
			return nil, fmt.Errorf("record external job id: %w", err)
		}
	} else {
		msg := entity.JobMessage{
			JobID:       job.ID,
			OwnerID:     req.OwnerID,
			StorageRef:  ownerRef,
			ContentHash: contentHash,
		}
		if err := h.queue.Publish(ctx, msg); err != nil {
			return nil, fmt.Errorf("publish job message: %w", err)
		}
	}
	if err := h.jobs.MarkQueued(ctx, job.ID, ownerRef, contentHash); err != nil {
		return nil, fmt.Errorf("mark queued: %w", err)
	}
	log.Info("claim.queued", "external", req.ExternalJobID != "")
	h.notifier.JobTransition(ctx, notify.Event{JobID: job.ID, OwnerID: req.OwnerID, Status: entity.StatusQueued})
	return &Result{JobID: job.ID, Status: entity.StatusQueued}, nil
}

func (h *Handler) linkReferral(ctx context.Context, req Request, log *slog.Logger) {
	if h.referrals == nil || req.ReferralToken == "" {
		return
	}
	if err := h.referrals.Link(ctx, req.OwnerID, req.ReferralToken); err != nil {
		log.Warn("claim.referral.fail", "error", err)
	}
}

func (h *Handler) cleanupStaging(ctx context.Context, stagingRef string, log *slog.Logger) {
	if err := h.blobs.Delete(ctx, stagingRef); err != nil {
		log.Warn("claim.staging.cleanup.fail", "ref", stagingRef, "error", err)
	}
}

func (h *Handler) failForward(ctx context.Context, id uuid.UUID, cause error, log *slog.Logger) {
	log.Error("claim.fail", "error", cause)
	if err := h.jobs.MarkFailed(ctx, id, cause.Error(), "We could not process your upload. Please try again."); err != nil {
		log.Error("claim.fail.mark", "error", err)
	}
}

// OwnerRef builds the permanent, owner-scoped storage key for claimed
// bytes.
func OwnerRef(ownerID string, jobID uuid.UUID) string {
	return fmt.Sprintf("resumes/%s/%s/%s.pdf", ownerID, time.Now().UTC().Format("2006/01"), jobID)
}
