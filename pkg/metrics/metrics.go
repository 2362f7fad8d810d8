// Package metrics provides Prometheus metrics for trellis.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal tracks reconciliation runs by mode and outcome
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total number of reconciliation runs by mode and status",
		},
		[]string{"tenant_id", "mode", "status"},
	)

	// RunDuration tracks reconciliation run duration in seconds
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trellis",
			Subsystem: "reconcile",
			Name:      "run_duration_seconds",
			Help:      "Duration of reconciliation runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"tenant_id", "mode"},
	)

	CandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "matching",
			Name:      "candidates_total",
			Help:      "Candidates proposed by each matching strategy",
		},
		[]string{"strategy"},
	)

	// CandidatesFiltered counts candidates dropped by the domain filter
	CandidatesFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "matching",
			Name:      "candidates_filtered_total",
			Help:      "Candidates dropped because ticket and account domains conflict",
		},
	)

	// CandidatesDiscarded counts duplicate candidates collapsed by the deduplicator
	CandidatesDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "matching",
			Name:      "candidates_discarded_total",
			Help:      "Lower-confidence duplicate candidates discarded during deduplication",
		},
	)

	LinksWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "links",
			Name:      "written_total",
			Help:      "Rows upserted by kind",
		},
		[]string{"kind"},
	)

	LinksPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "links",
			Name:      "pruned_total",
			Help:      "Stale rows pruned by kind",
		},
		[]string{"kind"},
	)

	// BatchAttempts tracks write batch attempts by kind and result
	BatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "links",
			Name:      "batch_attempts_total",
			Help:      "Write batch attempts by kind and result",
		},
		[]string{"kind", "result"},
	)

	TicketsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "reconcile",
			Name:      "tickets_skipped_total",
			Help:      "Malformed tickets skipped during reconciliation",
		},
	)

	// LockWaitDuration tracks how long runs waited for the tenant lock
	LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trellis",
			Subsystem: "reconcile",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the tenant run lock",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
		[]string{"result"},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "sinks",
			Name:      "errors_total",
			Help:      "Errors notifying downstream sinks",
		},
		[]string{"sink"},
	)

	// KafkaMessagesPublished tracks messages published to Kafka
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish latency
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "trellis",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// RollupRequests tracks rollup reads by subject and whether they were shared
	RollupRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "rollup",
			Name:      "requests_total",
			Help:      "Rollup computations by subject and whether the result was shared",
		},
		[]string{"subject", "shared"},
	)
)

// RecordRun records a finished reconciliation run
func RecordRun(tenantID, mode, status string, durationSeconds float64) {
	RunsTotal.WithLabelValues(tenantID, mode, status).Inc()
	RunDuration.WithLabelValues(tenantID, mode).Observe(durationSeconds)
}

// RecordBatchAttempt records a single write batch attempt
func RecordBatchAttempt(kind string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	BatchAttempts.WithLabelValues(kind, result).Inc()
}

// RecordLockWait records the outcome of waiting for the tenant lock
func RecordLockWait(acquired bool, durationSeconds float64) {
	result := "acquired"
	if !acquired {
		result = "timeout"
	}
	LockWaitDuration.WithLabelValues(result).Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
