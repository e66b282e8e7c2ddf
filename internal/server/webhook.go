package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"resumeflow/internal/entity"
	"resumeflow/internal/extract"
	"resumeflow/internal/logger"
	"resumeflow/internal/notify"
	"resumeflow/internal/observability"
	"resumeflow/internal/resume"
	"resumeflow/internal/store"
	"resumeflow/internal/worker"
)

// parseCallback is the completion event pushed by an external parsing
// provider, the alternative ingestion path to the queue consumer.
type parseCallback struct {
	ExternalJobID string          `json:"external_job_id"`
	Status        string          `json:"status"` // succeeded | failed | canceled
	Output        json.RawMessage `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// handleParseCallback applies the same commit and fan-out logic as the
// queue consumer. Redelivery is handled by checking terminal status
// before any write.
func (s *Server) handleParseCallback(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), s.log)

	var cb parseCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cb.ExternalJobID == "" {
		writeError(w, http.StatusBadRequest, "external_job_id is required")
		return
	}

	job, err := s.jobs.FindByExternalJobID(r.Context(), cb.ExternalJobID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown external job")
		return
	}
	if err != nil {
		log.Error("callback.lookup.fail", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	log = log.With("job_id", job.ID, "external_job_id", cb.ExternalJobID)

	if job.Status.Terminal() {
		log.Info("callback.idempotent.skip", "status", job.Status)
		writeJSON(w, http.StatusOK, map[string]string{"status": string(job.Status)})
		return
	}

	switch cb.Status {
	case "succeeded":
		s.applyCallbackResult(w, r, job, cb.Output, log)
	case "failed", "canceled":
		reason := cb.Error
		if reason == "" {
			reason = fmt.Sprintf("external parser reported %s", cb.Status)
		}
		if err := s.jobs.MarkFailed(r.Context(), job.ID, reason, extract.UserMessage(extract.CategoryUnknown)); err != nil {
			// ErrConflict means the job completed concurrently; a
			// completed job never regresses.
			if errors.Is(err, store.ErrConflict) {
				writeJSON(w, http.StatusOK, map[string]string{"status": string(entity.StatusCompleted)})
				return
			}
			log.Error("callback.fail.mark", "error", err)
			writeError(w, http.StatusInternalServerError, "update failed")
			return
		}
		observability.JobsFailed.WithLabelValues(string(extract.CategoryUnknown)).Inc()
		s.notifier.JobTransition(r.Context(), notify.Event{JobID: job.ID, OwnerID: job.OwnerID, Status: entity.StatusFailed})
		writeJSON(w, http.StatusOK, map[string]string{"status": string(entity.StatusFailed)})
	default:
		writeError(w, http.StatusBadRequest, "unknown callback status")
	}
}

func (s *Server) applyCallbackResult(w http.ResponseWriter, r *http.Request, job *entity.Job, output json.RawMessage, log *slog.Logger) {
	if len(output) == 0 {
		writeError(w, http.StatusBadRequest, "succeeded callback without output")
		return
	}
	// External parser output gets the same structural normalization and
	// schema validation as our own extraction.
	normalized, err := extract.Normalize(output)
	if err != nil {
		writeError(w, http.StatusBadRequest, "output is not a JSON object")
		return
	}
	if problems, err := resume.Validate(normalized); err != nil {
		log.Warn("callback.validate.reject", "problems", problems)
		if err := s.jobs.MarkFailed(r.Context(), job.ID,
			fmt.Sprintf("external parser output failed validation: %v", problems),
			extract.UserMessage(extract.CategorySchema)); err != nil {
			if errors.Is(err, store.ErrConflict) {
				writeJSON(w, http.StatusOK, map[string]string{"status": string(entity.StatusCompleted)})
				return
			}
			log.Error("callback.fail.mark", "error", err)
			writeError(w, http.StatusInternalServerError, "update failed")
			return
		}
		observability.JobsFailed.WithLabelValues(string(extract.CategorySchema)).Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": string(entity.StatusFailed)})
		return
	}

	artifact := resume.Artifact(job.OwnerID, normalized)
	if err := s.jobs.CommitCompleted(r.Context(), job.ID, normalized, artifact); err != nil {
		log.Error("callback.commit.fail", "error", err)
		writeError(w, http.StatusInternalServerError, "commit failed")
		return
	}
	observability.JobsCompleted.WithLabelValues("webhook").Inc()
	log.Info("callback.completed")
	s.notifier.JobTransition(r.Context(), notify.Event{JobID: job.ID, OwnerID: job.OwnerID, Status: entity.StatusCompleted})

	worker.FanOut(r.Context(), s.jobs, s.notifier, s.log, job, normalized)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(entity.StatusCompleted)})
}
