// Package metrics implements Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"firestige.xyz/callmon/internal/core"
)

// Discovery outcomes.
const (
	OutcomeFound     = "found"
	OutcomeTimedOut  = "timed_out"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Termination outcomes.
const (
	OutcomeRemoved     = "removed"
	OutcomeAlreadyGone = "already_gone"
	OutcomeFailed      = "failed"
)

var (
	// DiscoveriesTotal counts discovery attempts by outcome
	DiscoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callmon_discoveries_total",
			Help: "Total number of participant discoveries by outcome",
		},
		[]string{"outcome"},
	)

	// DiscoveryDuration observes how long discovery took
	DiscoveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "callmon_discovery_duration_seconds",
			Help:    "Time from the start of discovery to its outcome",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	// CallsActive is the number of calls currently being monitored
	CallsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "callmon_calls_active",
			Help: "Number of calls currently being monitored",
		},
	)

	// CallsEndedTotal counts ended calls by termination reason
	CallsEndedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callmon_calls_ended_total",
			Help: "Total number of monitored calls that ended, by reason",
		},
		[]string{"reason"},
	)

	// CallDuration observes monitored call durations
	CallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "callmon_call_duration_seconds",
			Help:    "Duration of monitored calls",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
	)

	// TerminationsTotal counts forced removals by outcome
	TerminationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callmon_terminations_total",
			Help: "Total number of forced call terminations by outcome",
		},
		[]string{"outcome"},
	)
)

// ObserveDiscovery records the outcome of one discovery.
func ObserveDiscovery(outcome string, elapsed time.Duration) {
	DiscoveriesTotal.WithLabelValues(outcome).Inc()
	DiscoveryDuration.Observe(elapsed.Seconds())
}

// CallStarted marks a call as being monitored.
func CallStarted() {
	CallsActive.Inc()
}

// CallEnded records the end of a monitored call.
func CallEnded(reason core.TerminationReason, duration time.Duration) {
	CallsActive.Dec()
	CallsEndedTotal.WithLabelValues(string(reason)).Inc()
	CallDuration.Observe(duration.Seconds())
}

// ObserveTermination records the outcome of a forced removal.
func ObserveTermination(outcome string) {
	TerminationsTotal.WithLabelValues(outcome).Inc()
}
