package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "otasync"

const (
	OutcomeCompleted = "completed"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
	// OutcomeUnrecorded counts submissions whose result could not be written back.
	OutcomeUnrecorded = "unrecorded"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Ops API requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	claimedEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_claimed_total",
			Help:      "Queue entries claimed by the dispatcher.",
		},
	)

	reclaimedEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_reclaimed_total",
			Help:      "Processing entries returned to pending after their claim expired.",
		},
	)

	dispatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_outcomes_total",
			Help:      "Resolved submissions by outcome.",
		},
		[]string{"outcome"},
	)

	diffDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diff_decisions_total",
			Help:      "Diff engine results (sync or skip).",
		},
		[]string{"decision"},
	)

	enqueuedEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Queue entries produced by the batcher.",
		},
	)

	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "submissions_in_flight",
			Help:      "Submissions holding a concurrency slot.",
		},
	)

	submitLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_duration_seconds",
			Help:      "Remote stock writer call latency.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			claimedEntries,
			reclaimedEntries,
			dispatchOutcomes,
			diffDecisions,
			enqueuedEntries,
			inFlight,
			submitLatency,
		)
	})
}

func IncHTTP(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}

func AddClaimed(n int) {
	claimedEntries.Add(float64(n))
}

func AddReclaimed(n int64) {
	reclaimedEntries.Add(float64(n))
}

func IncOutcome(outcome string) {
	dispatchOutcomes.WithLabelValues(outcome).Inc()
}

func IncDiffDecision(needsSync bool) {
	decision := "skip"
	if needsSync {
		decision = "sync"
	}
	diffDecisions.WithLabelValues(decision).Inc()
}

func AddEnqueued(n int) {
	enqueuedEntries.Add(float64(n))
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func TrackInFlight() func() {
	inFlight.Inc()
	return inFlight.Dec
}

func ObserveSubmit(d time.Duration) {
	submitLatency.Observe(d.Seconds())
}
