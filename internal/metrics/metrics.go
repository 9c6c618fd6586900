// Package metrics instruments the API and Worker processes with
// Prometheus counters and histograms. Grounded on raito's
// internal/metrics/metrics.go (RecordRequest per method/path/status,
// per-stage counters), generalized from raito's hand-rolled in-memory
// maps-plus-text-exporter into github.com/prometheus/client_golang
// collectors registered against the default registry, since the pack
// carries a real metrics library and hand-rolled aggregation is exactly
// the kind of thing it exists to replace.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"sitebookify/internal/jobs"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitebookify_http_requests_total",
		Help: "Total HTTP requests served, by method, path, and status class.",
	}, []string{"method", "path", "status"})

	httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitebookify_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds, by method and path.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	jobsDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitebookify_jobs_dispatched_total",
		Help: "Total jobs successfully dispatched to a runner (in-process or remote).",
	})

	jobsDispatchFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitebookify_jobs_dispatch_failed_total",
		Help: "Total jobs that failed to dispatch and were transitioned to ERROR.",
	})

	jobsTerminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitebookify_jobs_terminal_total",
		Help: "Total jobs reaching a terminal state, by final state.",
	}, []string{"state"})

	pipelineStageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitebookify_pipeline_stage_duration_seconds",
		Help:    "Wall-clock time spent in each pipeline stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	llmChunksRewrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitebookify_llm_chunks_rewritten_total",
		Help: "Total LLM chunk rewrite attempts, by outcome.",
	}, []string{"outcome"}) // "ok", "fallback_original", "error"
)

// RecordHTTPRequest records one completed HTTP request.
func RecordHTTPRequest(method, path string, status int, durationSeconds float64) {
	statusLabel := statusClass(status)
	httpRequestsTotal.WithLabelValues(method, path, statusLabel).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, path).Observe(durationSeconds)
}

// RecordDispatch records the outcome of one JobDispatcher.Dispatch call.
func RecordDispatch(err error) {
	if err != nil {
		jobsDispatchFailedTotal.Inc()
		return
	}
	jobsDispatchedTotal.Inc()
}

// RecordJobTerminal records a job reaching DONE or ERROR.
func RecordJobTerminal(state jobs.Status) {
	jobsTerminalTotal.WithLabelValues(string(state)).Inc()
}

// RecordStageDuration records how long one pipeline stage took.
func RecordStageDuration(stage jobs.Stage, durationSeconds float64) {
	pipelineStageDurationSeconds.WithLabelValues(string(stage)).Observe(durationSeconds)
}

// RecordLLMChunkOutcome records one chunk rewrite's outcome ("ok",
// "fallback_original", or "error").
func RecordLLMChunkOutcome(outcome string) {
	llmChunksRewrittenTotal.WithLabelValues(outcome).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
