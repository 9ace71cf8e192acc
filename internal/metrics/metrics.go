package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch outcomes
const (
	OutcomeSuccess          = "success"
	OutcomeInferenceFailure = "inference_failure"
	OutcomeTimeout          = "timeout"
	OutcomeSubmissionError  = "submission_error"
	OutcomeCanceled         = "canceled"
	OutcomeStoreError       = "store_error"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the api service.",
		},
		[]string{"path", "method", "code"},
	)

	// DispatchTotal counts SubmitAndAwait calls by model and outcome
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_requests_total",
			Help: "Total number of prediction jobs dispatched, by outcome.",
		},
		[]string{"model", "outcome"},
	)

	// DispatchWaitSeconds observes how long dispatchers waited for a result
	DispatchWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_wait_seconds",
			Help:    "Time between job submission and result retrieval.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// WorkerJobsTotal counts jobs processed by workers by model and status (success/failed)
	WorkerJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_total",
			Help: "Total number of prediction jobs processed by workers.",
		},
		[]string{"model", "status"},
	)

	// InferenceSeconds observes model inference latency
	InferenceSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_duration_seconds",
			Help:    "Latency of a single model inference.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// ResultsSweptTotal counts abandoned results removed by the janitor
	ResultsSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "results_swept_total",
			Help: "Total number of abandoned results removed from the result store.",
		},
	)
)
