// Package metrics provides Prometheus metrics for the scan service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal tracks inbound API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pamada",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests by route and status",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks inbound API request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pamada",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// InferenceRequestsTotal tracks calls to the inference service by outcome
	InferenceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pamada",
			Subsystem: "inference",
			Name:      "requests_total",
			Help:      "Total number of inference service requests",
		},
		[]string{"endpoint", "outcome"},
	)

	// InferenceRequestDuration tracks inference call latency
	InferenceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pamada",
			Subsystem: "inference",
			Name:      "request_duration_seconds",
			Help:      "Duration of inference service requests in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)

	// AnalysesTotal tracks finished analysis attempts by final scan status
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pamada",
			Subsystem: "analysis",
			Name:      "attempts_total",
			Help:      "Total number of analysis attempts by resulting status",
		},
		[]string{"status"},
	)

	// AnalysisDuration tracks end-to-end analysis duration
	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pamada",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Duration of an analysis attempt in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// AnalysisQueueDepth tracks scans waiting for a worker
	AnalysisQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pamada",
			Subsystem: "analysis",
			Name:      "queue_depth",
			Help:      "Number of scans waiting for an analysis worker",
		},
	)

	// AnalysisInFlight tracks analyses currently running
	AnalysisInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pamada",
			Subsystem: "analysis",
			Name:      "in_flight",
			Help:      "Number of analyses currently running",
		},
	)

	// AnalysisRejected tracks submissions dropped because the queue was full
	AnalysisRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pamada",
			Subsystem: "analysis",
			Name:      "rejected_total",
			Help:      "Total number of scans rejected by a full analysis queue",
		},
	)

	// InferenceRetries tracks repeat inference calls after a transient failure
	InferenceRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pamada",
			Subsystem: "analysis",
			Name:      "inference_retries_total",
			Help:      "Total number of inference calls repeated after a transient failure",
		},
	)

	// PlantStatusSkipped tracks reconciliations that lost the last-writer race
	PlantStatusSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pamada",
			Subsystem: "reconcile",
			Name:      "plant_status_skipped_total",
			Help:      "Total number of plant status writes skipped because a newer scan owns the status",
		},
	)

	// TrainingEntriesFlagged tracks entries created by auto-flagging
	TrainingEntriesFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pamada",
			Subsystem: "curator",
			Name:      "entries_flagged_total",
			Help:      "Total number of training entries created from low-confidence scans",
		},
	)

	// TrainingEntriesReviewed tracks reviewer decisions
	TrainingEntriesReviewed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pamada",
			Subsystem: "curator",
			Name:      "entries_reviewed_total",
			Help:      "Total number of training entries reviewed by outcome",
		},
		[]string{"outcome"},
	)

	// TrainingEntriesExported tracks entries handed to retraining
	TrainingEntriesExported = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pamada",
			Subsystem: "curator",
			Name:      "entries_exported_total",
			Help:      "Total number of training entries exported",
		},
	)

	// SnapshotsComputed tracks daily rollups by whether they were persisted
	SnapshotsComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pamada",
			Subsystem: "analytics",
			Name:      "snapshots_computed_total",
			Help:      "Total number of daily snapshots computed",
		},
		[]string{"persisted"},
	)

	// EventsPublished tracks domain events sent to Kafka
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pamada",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events published",
		},
		[]string{"type", "status"},
	)

	// EventPublishDuration tracks publish latency
	EventPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pamada",
			Subsystem: "events",
			Name:      "publish_duration_seconds",
			Help:      "Duration of event publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)
)
