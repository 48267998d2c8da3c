// Package metrics exposes Prometheus instruments for the acquisition and dispatch pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "creator_console"

// Run kinds used as the "kind" label
const (
	KindAcquisition = "acquisition"
	KindDispatch    = "dispatch"
)

var (
	acquisitionChunks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "acquisition",
		Name:      "chunks_total",
		Help:      "Upstream chunks merged by acquisition runs",
	})

	acquisitionRecordsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "acquisition",
		Name:      "records_added_total",
		Help:      "Audience records that were new to their account",
	})

	acquisitionRateLimits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "acquisition",
		Name:      "rate_limits_total",
		Help:      "Rate limit signals received from the upstream listing",
	})

	dispatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "attempts_total",
		Help:      "Per-recipient send attempts partitioned by outcome",
	}, []string{"outcome"})

	conversationSyncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "conversation",
		Name:      "sync_failures_total",
		Help:      "Conversation upserts that failed after a successful send",
	})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_finished_total",
		Help:      "Finished pipeline runs partitioned by kind and final state",
	}, []string{"kind", "state"})

	runsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "runs_active",
		Help:      "Pipeline runs currently executing",
	}, []string{"kind"})
)

func ObserveChunk(added int) {
	acquisitionChunks.Inc()
	acquisitionRecordsAdded.Add(float64(added))
}

func ObserveRateLimit() {
	acquisitionRateLimits.Inc()
}

func ObserveDispatchAttempt(outcome string) {
	dispatchAttempts.WithLabelValues(outcome).Inc()
}

func ObserveSyncFailures(n int) {
	conversationSyncFailures.Add(float64(n))
}

// RunStarted marks a run of kind as active
func RunStarted(kind string) {
	runsActive.WithLabelValues(kind).Inc()
}

// RunFinished moves a run of kind from active to finished with the given state
func RunFinished(kind, state string) {
	runsActive.WithLabelValues(kind).Dec()
	runsFinished.WithLabelValues(kind, state).Inc()
}
