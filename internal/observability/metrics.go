// Package observability exposes Prometheus metrics for the pipeline.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ExtractionAttempts counts extraction strategy attempts by outcome.
	// This is the primary operational signal for tuning the capability.
	ExtractionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resumeflow_extraction_attempts_total",
		Help: "Extraction attempts by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	// JSONRepairs counts salvage operations that needed JSON repair.
	JSONRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resumeflow_json_repairs_total",
		Help: "Extraction outputs that required JSON repair before parsing.",
	})

	// JobsCompleted counts jobs reaching completed, by path.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resumeflow_jobs_completed_total",
		Help: "Jobs completed, by path (extracted, cache, staged, fanout, webhook).",
	}, []string{"path"})

	// JobsFailed counts jobs reaching failed, by user-facing category.
	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resumeflow_jobs_failed_total",
		Help: "Jobs failed, by classified category.",
	}, []string{"category"})

	// DeadLetters counts messages landing on the dead-letter queue.
	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resumeflow_dead_letters_total",
		Help: "Job messages that exhausted their retry budget.",
	})
)

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
