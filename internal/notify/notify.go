// Package notify pushes job status transitions to interested observers.
// Delivery is best-effort: a failed push is logged and dropped, it never
// changes a job's outcome.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"resumeflow/internal/config"
	"resumeflow/internal/entity"
)

// Event is one observed status transition.
type Event struct {
	JobID     uuid.UUID        `json:"job_id"`
	OwnerID   string           `json:"owner_id"`
	Status    entity.JobStatus `json:"status"`
	UserError string           `json:"user_error,omitempty"`
	At        time.Time        `json:"at"`
}

// Notifier receives status transitions. Implementations must not block
// the caller for long and must swallow their own failures.
type Notifier interface {
	JobTransition(ctx context.Context, ev Event)
}

// Noop discards all events.
type Noop struct{}

func (Noop) JobTransition(context.Context, Event) {}

// Webhook posts each transition to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// New returns a webhook notifier, or Noop when no URL is configured.
func New(cfg config.NotifyConfig, logger *slog.Logger) Notifier {
	if cfg.WebhookURL == "" {
		return Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: timeout},
		log:    logger,
	}
}

func (w *Webhook) JobTransition(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		w.log.Warn("notify.encode.fail", "job_id", ev.JobID, "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.log.Warn("notify.request.fail", "job_id", ev.JobID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Warn("notify.push.fail", "job_id", ev.JobID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		w.log.Warn("notify.push.fail", "job_id", ev.JobID,
			"error", fmt.Sprintf("status %d", resp.StatusCode))
		return
	}
	w.log.Debug("notify.push.ok", "job_id", ev.JobID, "status", ev.Status)
}
