// Package metrics provides Prometheus metrics for the clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResolutionsTotal counts ledger decisions by method
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "resolution",
			Name:      "decisions_total",
			Help:      "Total number of resolution decisions by method",
		},
		[]string{"method"},
	)

	// ResolutionConfidence observes the confidence of every decision
	ResolutionConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "resolution",
			Name:      "confidence",
			Help:      "Confidence of resolution decisions",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		},
		[]string{"method"},
	)

	// ResolutionDuration tracks time spent resolving one record
	ResolutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "resolution",
			Name:      "duration_seconds",
			Help:      "Duration of resolution requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 15},
		},
	)

	// ResolutionErrorsTotal counts failed resolution requests by kind
	ResolutionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "resolution",
			Name:      "errors_total",
			Help:      "Total number of failed resolution requests",
		},
		[]string{"kind"},
	)

	// CreationRacesTotal counts creations that turned into matches after re-resolving
	CreationRacesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "resolution",
			Name:      "creation_races_total",
			Help:      "Creations that lost a race and resolved to an existing entity",
		},
		[]string{"path"},
	)

	// ArbitrationCallsTotal counts arbitration attempts by outcome
	ArbitrationCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "arbitration",
			Name:      "calls_total",
			Help:      "Total number of arbitration calls by outcome",
		},
		[]string{"outcome"},
	)

	// ArbitrationDuration tracks arbitration latency
	ArbitrationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "arbitration",
			Name:      "duration_seconds",
			Help:      "Duration of arbitration calls in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	// ReviewTransitionsTotal counts review queue status transitions
	ReviewTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "review",
			Name:      "transitions_total",
			Help:      "Total number of review queue transitions by target status",
		},
		[]string{"status"},
	)

	// ReviewClaimConflictsTotal counts claims lost to a concurrent reviewer
	ReviewClaimConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "review",
			Name:      "claim_conflicts_total",
			Help:      "Total number of claims rejected because the entry was already claimed",
		},
	)

	// CommonValuesFlagged is the size of the current flagged-value snapshot
	CommonValuesFlagged = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "distinctiveness",
			Name:      "flagged_values",
			Help:      "Number of attribute values flagged as too common to identify an entity",
		},
	)

	// RecomputeDuration tracks distinctiveness recompute time
	RecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "distinctiveness",
			Name:      "recompute_duration_seconds",
			Help:      "Duration of distinctiveness recomputes in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	// IngestMessagesTotal counts consumed candidate messages by status
	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Total number of candidate record messages consumed by status",
		},
		[]string{"status"},
	)
)
