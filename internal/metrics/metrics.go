// Package metrics exposes Prometheus instrumentation for the recognition
// pipeline and the approval workflow.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage names used as label values.
const (
	StageDecode    = "decode"
	StageCondition = "condition"
	StageExtract   = "extract"
	StageNormalize = "normalize"
	StageCorrect   = "correct"
	StageFuse      = "fuse"
	StagePersist   = "persist"
)

var (
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rxscan_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	providerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxscan_provider_calls_total",
			Help: "Recognition provider calls by result",
		},
		[]string{"provider", "result"}, // result: ok, rate_limited, error
	)

	prescriptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxscan_prescriptions_total",
			Help: "Processed prescriptions by outcome and triage decision",
		},
		[]string{"outcome", "review_required"},
	)

	candidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxscan_candidates_total",
			Help: "Medicine candidates by match source",
		},
		[]string{"match_source"}, // historical, index, none
	)

	fusedConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rxscan_fused_confidence",
			Help:    "Fused confidence of medicine candidates",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxscan_approval_transitions_total",
			Help: "Approval state transitions by target status and reviewer kind",
		},
		[]string{"status", "reviewer"}, // reviewer: human, system
	)

	corrections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rxscan_corrections_logged_total",
			Help: "Correction log entries appended by approvals",
		},
	)

	decodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rxscan_decode_failures_total",
			Help: "Uploads no decoder could read",
		},
	)
)

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func ProviderCall(provider, result string) {
	providerCalls.WithLabelValues(provider, result).Inc()
}

func Prescription(outcome string, reviewRequired bool) {
	prescriptions.WithLabelValues(outcome, strconv.FormatBool(reviewRequired)).Inc()
}

// Candidate records a finished candidate. An empty source counts as "none".
func Candidate(source string, fused float64) {
	if source == "" {
		source = "none"
	}
	candidates.WithLabelValues(source).Inc()
	fusedConfidence.Observe(fused)
}

func Transition(status string, system bool) {
	reviewer := "human"
	if system {
		reviewer = "system"
	}
	transitions.WithLabelValues(status, reviewer).Inc()
}

func CorrectionsLogged(n int) {
	corrections.Add(float64(n))
}

func DecodeFailure() {
	decodeFailures.Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
