package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"resumeflow/internal/entity"
)

func seedExternalJob(fake interface{ Seed(*entity.Job) }, status entity.JobStatus) *entity.Job {
	job := &entity.Job{
		ID:            uuid.New(),
		OwnerID:       "U1",
		Status:        status,
		ContentHash:   "hash-1",
		ExternalJobID: "ext-123",
	}
	fake.Seed(job)
	return job
}

func TestParseCallbackSucceededCommits(t *testing.T) {
	srv, fake, _ := newTestServer(t)
	job := seedExternalJob(fake, entity.StatusProcessing)

	rec := doRequest(t, srv, http.MethodPost, "/v1/callbacks/parse", "", map[string]any{
		"external_job_id": "ext-123",
		"status":          "succeeded",
		"output":          json.RawMessage(`{"fullName":"Ada Lovelace","skills":{"Math":["calculus"]}}`),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	got := fake.Jobs[job.ID]
	if got.Status != entity.StatusCompleted {
		t.Fatalf("job status = %s, want completed", got.Status)
	}
	// Synonym keys are normalized before commit.
	var r struct {
		FullName string `json:"full_name"`
	}
	if err := json.Unmarshal(got.ExtractedContent, &r); err != nil || r.FullName != "Ada Lovelace" {
		t.Errorf("content not normalized: %s", got.ExtractedContent)
	}
	if fake.Artifacts["U1"] == nil {
		t.Error("artifact not published")
	}
}

func TestParseCallbackFansOutToWaiters(t *testing.T) {
	srv, fake, _ := newTestServer(t)
	seedExternalJob(fake, entity.StatusProcessing)
	waiter := &entity.Job{
		ID:          uuid.New(),
		OwnerID:     "U2",
		Status:      entity.StatusWaitingForCache,
		ContentHash: "hash-1",
	}
	fake.Seed(waiter)

	rec := doRequest(t, srv, http.MethodPost, "/v1/callbacks/parse", "", map[string]any{
		"external_job_id": "ext-123",
		"status":          "succeeded",
		"output":          json.RawMessage(`{"full_name":"Ada Lovelace"}`),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if fake.Jobs[waiter.ID].Status != entity.StatusCompleted {
		t.Error("waiting job not completed by callback fan-out")
	}
	if fake.Artifacts["U2"] == nil {
		t.Error("waiter's artifact not published")
	}
}

func TestParseCallbackIdempotentOnTerminalJob(t *testing.T) {
	srv, fake, _ := newTestServer(t)
	job := seedExternalJob(fake, entity.StatusCompleted)
	job.ExtractedContent = json.RawMessage(`{"full_name":"Ada Lovelace"}`)

	rec := doRequest(t, srv, http.MethodPost, "/v1/callbacks/parse", "", map[string]any{
		"external_job_id": "ext-123",
		"status":          "succeeded",
		"output":          json.RawMessage(`{"full_name":"Someone Else"}`),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var r struct {
		FullName string `json:"full_name"`
	}
	json.Unmarshal(fake.Jobs[job.ID].ExtractedContent, &r)
	if r.FullName != "Ada Lovelace" {
		t.Error("redelivered callback must not overwrite a terminal job")
	}
}

func TestParseCallbackFailureMarksFailed(t *testing.T) {
	srv, fake, _ := newTestServer(t)
	job := seedExternalJob(fake, entity.StatusProcessing)

	rec := doRequest(t, srv, http.MethodPost, "/v1/callbacks/parse", "", map[string]any{
		"external_job_id": "ext-123",
		"status":          "failed",
		"error":           "provider exploded",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := fake.Jobs[job.ID]
	if got.Status != entity.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.LastError != "provider exploded" || got.UserError == "" {
		t.Error("callback failure must store diagnostic and user-facing messages")
	}
}

func TestParseCallbackInvalidOutputFailsJob(t *testing.T) {
	srv, fake, _ := newTestServer(t)
	job := seedExternalJob(fake, entity.StatusProcessing)

	rec := doRequest(t, srv, http.MethodPost, "/v1/callbacks/parse", "", map[string]any{
		"external_job_id": "ext-123",
		"status":          "succeeded",
		"output":          json.RawMessage(`{"headline":"No name here"}`),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if fake.Jobs[job.ID].Status != entity.StatusFailed {
		t.Error("schema-invalid callback output must fail the job")
	}
}

func TestParseCallbackUnknownExternalJob(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/v1/callbacks/parse", "", map[string]any{
		"external_job_id": "nope",
		"status":          "succeeded",
		"output":          json.RawMessage(`{"full_name":"X"}`),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
