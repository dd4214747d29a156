package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(generations, generationLatency, reviewScores, reviewFailures)
}

var (
	generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generation attempts by image strategy and outcome category.",
		},
		[]string{"strategy", "outcome"},
	)

	generationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_seconds",
			Help:      "Latency of provider calls that produced a completion.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"model"},
	)

	reviewScores = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quality_score",
			Help:      "Combined quality score of assessed alt text.",
			Buckets:   []float64{10, 25, 45, 60, 70, 75, 90, 100},
		},
		[]string{"status"},
	)

	reviewFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_failures_total",
			Help:      "Model reviews that failed and fell back to the heuristic score.",
		},
	)
)

// ObserveGeneration counts one strategy attempt. outcome is "ok" or an error category.
func ObserveGeneration(strategy, outcome string, latency time.Duration, model string) {
	generations.WithLabelValues(norm(strategy), outcome).Inc()
	if outcome == "ok" {
		generationLatency.WithLabelValues(norm(model)).Observe(latency.Seconds())
	}
}

// ObserveAssessment records a combined quality score
func ObserveAssessment(status string, score int, reviewFailed bool) {
	reviewScores.WithLabelValues(norm(status)).Observe(float64(score))
	if reviewFailed {
		reviewFailures.Inc()
	}
}
