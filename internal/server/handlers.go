package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"resumeflow/internal/claim"
	"resumeflow/internal/entity"
	"resumeflow/internal/logger"
	"resumeflow/internal/notify"
	"resumeflow/internal/store"
)

// ownerHeader carries the authenticated identity. Authentication itself
// is an upstream collaborator; this service trusts the gateway-injected
// header.
const ownerHeader = "X-Owner-ID"

type claimRequest struct {
	StagingRef    string `json:"staging_ref"`
	ReferralToken string `json:"referral_token,omitempty"`
	ExternalJobID string `json:"external_job_id,omitempty"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get(ownerHeader)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "missing owner identity")
		return
	}
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StagingRef == "" {
		writeError(w, http.StatusBadRequest, "staging_ref is required")
		return
	}

	res, err := s.claims.Claim(r.Context(), claim.Request{
		OwnerID:       ownerID,
		StagingRef:    req.StagingRef,
		ReferralToken: req.ReferralToken,
		ExternalJobID: req.ExternalJobID,
	})
	if err != nil {
		s.writeClaimError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) writeClaimError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, claim.ErrInvalidStagingRef):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, claim.ErrUploadAbsent):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, claim.ErrNotPDF), errors.Is(err, claim.ErrTooLarge):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.FromContext(r.Context(), s.log).Error("claim.handler.fail", "error", err)
		writeError(w, http.StatusInternalServerError, "claim failed")
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get(ownerHeader)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "missing owner identity")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.jobs.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context(), s.log).Error("job.get.fail", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	// Jobs are only visible to their owner.
	if job.OwnerID != ownerID {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get(ownerHeader)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, "missing owner identity")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.jobs.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && job.OwnerID != ownerID) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context(), s.log).Error("job.retry.load.fail", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	retried, err := s.jobs.MarkRetried(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrRetryExhausted):
		writeError(w, http.StatusTooManyRequests, "retry limit reached")
		return
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "job is not in a retryable state")
		return
	case err != nil:
		logger.FromContext(r.Context(), s.log).Error("job.retry.fail", "error", err)
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}

	msg := entity.JobMessage{
		JobID:       retried.ID,
		OwnerID:     retried.OwnerID,
		StorageRef:  retried.StorageRef,
		ContentHash: retried.ContentHash,
	}
	if err := s.queue.Publish(r.Context(), msg); err != nil {
		logger.FromContext(r.Context(), s.log).Error("job.retry.publish.fail", "error", err)
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}
	s.notifier.JobTransition(r.Context(), notify.Event{
		JobID: retried.ID, OwnerID: retried.OwnerID, Status: entity.StatusQueued,
	})
	writeJSON(w, http.StatusAccepted, retried)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
