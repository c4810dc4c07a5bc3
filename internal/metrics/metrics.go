// Package metrics exposes the driver's Prometheus surface described in
// spec section 6.4: sandbox invocation outcomes, scheduler heartbeat and
// callout throughput, connection counts by state, and persistence
// operation latency.
//
// Grounded on the teacher's internal/app/metrics package: one package-level
// prometheus.Registry holding every collector, registered once in init,
// with narrow record-this-event helper functions so call sites never touch
// a prometheus type directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this package registers. Kept separate
// from prometheus.DefaultRegisterer so embedding a muddriver process into
// a larger binary never collides with that binary's own metrics.
var Registry = prometheus.NewRegistry()

var (
	sandboxInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muddriver",
			Subsystem: "sandbox",
			Name:      "invocations_total",
			Help:      "Total sandbox invocations by outcome.",
		},
		[]string{"outcome"},
	)

	sandboxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "muddriver",
			Subsystem: "sandbox",
			Name:      "invocation_duration_seconds",
			Help:      "Duration of sandbox invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"outcome"},
	)

	heartbeatTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "muddriver",
			Subsystem: "scheduler",
			Name:      "heartbeats_total",
			Help:      "Total heartbeat deliveries across all subscribed objects.",
		},
	)

	calloutsRun = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muddriver",
			Subsystem: "scheduler",
			Name:      "callouts_total",
			Help:      "Total callouts run, by outcome.",
		},
		[]string{"outcome"},
	)

	connectionsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "muddriver",
			Subsystem: "connection",
			Name:      "sessions",
			Help:      "Current number of connections in each session state.",
		},
		[]string{"state"},
	)

	persistenceOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "muddriver",
			Subsystem: "persistence",
			Name:      "operation_duration_seconds",
			Help:      "Duration of persistence adapter operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"operation", "outcome"},
	)

	resetPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muddriver",
			Subsystem: "scheduler",
			Name:      "reset_passes_total",
			Help:      "Total reset-handler invocations run on the cron schedule, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		sandboxInvocations,
		sandboxDuration,
		heartbeatTicks,
		calloutsRun,
		connectionsByState,
		persistenceOpDuration,
		resetPasses,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing this package's registered
// collectors, mountable on the connection transport's admin router or a
// standalone metrics listener.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordSandboxInvocation records one completed sandbox call. outcome is
// one of "success", "timeout", "interrupted" (includes the memory-cap
// interrupt goja itself does not distinguish from a timeout interrupt),
// "pool_exhausted", or "error", per spec section 4.2's invocation result
// taxonomy.
func RecordSandboxInvocation(outcome string, seconds float64) {
	sandboxInvocations.WithLabelValues(outcome).Inc()
	sandboxDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordHeartbeatTick records one heartbeat delivery.
func RecordHeartbeatTick() {
	heartbeatTicks.Inc()
}

// RecordCallout records one callout run. outcome is "success" or "error".
func RecordCallout(outcome string) {
	calloutsRun.WithLabelValues(outcome).Inc()
}

// SetConnectionsByState replaces the current connection-state gauge
// readings wholesale; the caller (the connection manager) is the only
// thing that can enumerate every live connection's state cheaply.
func SetConnectionsByState(counts map[string]int) {
	connectionsByState.Reset()
	for state, n := range counts {
		connectionsByState.WithLabelValues(state).Set(float64(n))
	}
}

// RecordPersistenceOp records the duration of one adapter operation.
// outcome is "ok" or "error".
func RecordPersistenceOp(operation, outcome string, seconds float64) {
	persistenceOpDuration.WithLabelValues(operation, outcome).Observe(seconds)
}

// RecordResetPass records one reset-handler invocation. outcome is
// "success" or "error".
func RecordResetPass(outcome string) {
	resetPasses.WithLabelValues(outcome).Inc()
}
