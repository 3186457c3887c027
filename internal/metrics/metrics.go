// Package metrics defines Prometheus metrics for the schema evolver.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	GenerationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evolver_generation_attempts_total",
			Help: "Generation port attempts by brief and outcome",
		},
		[]string{"brief", "outcome"},
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evolver_generation_duration_seconds",
			Help:    "Duration of one generation attempt in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"brief"},
	)

	DegradedBriefs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evolver_degraded_briefs_total",
			Help: "Briefs that exhausted retries and fell back to the previous facet",
		},
		[]string{"brief"},
	)

	MergeDiagnostics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evolver_merge_diagnostics_total",
			Help: "Merge collisions and referential drops by kind",
		},
		[]string{"kind"},
	)

	RoundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "evolver_rounds_total",
			Help: "Completed design rounds",
		},
	)

	OverallScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "evolver_overall_score",
			Help: "Overall score of the latest evaluated schema",
		},
	)

	DimensionScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evolver_dimension_score",
			Help: "Per-dimension score of the latest evaluated schema",
		},
		[]string{"dimension"},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evolver_runs_total",
			Help: "Finished runs by terminal status",
		},
		[]string{"status"},
	)

	ImplementedItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evolver_implemented_items_total",
			Help: "Storage engine items by kind and status",
		},
		[]string{"kind", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		GenerationAttempts, GenerationDuration, DegradedBriefs,
		MergeDiagnostics, RoundsTotal, OverallScore, DimensionScore,
		RunsTotal, ImplementedItems,
	)
}
