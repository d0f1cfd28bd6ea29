// Package metrics exposes cf-agent's Prometheus counters: KV store
// operations, connection cache state, and promise outcomes, using a
// registry/collector-vec pattern.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds cf-agent's Prometheus collectors, kept separate from
// the default global registry so tests can construct throwaway
// instances without cross-contaminating global state.
var Registry = prometheus.NewRegistry()

var (
	kvOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfagent",
			Subsystem: "kv",
			Name:      "operations_total",
			Help:      "Total number of KV store operations by handle and op.",
		},
		[]string{"handle", "op", "status"},
	)

	kvOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cfagent",
			Subsystem: "kv",
			Name:      "operation_duration_seconds",
			Help:      "Duration of KV store operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"handle", "op"},
	)

	connCacheState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cfagent",
			Subsystem: "netcache",
			Name:      "connections",
			Help:      "Current number of cached connections by state.",
		},
		[]string{"state"},
	)

	promiseOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfagent",
			Subsystem: "actuation",
			Name:      "promise_outcomes_total",
			Help:      "Total number of promise outcomes by promise type and outcome.",
		},
		[]string{"promise_type", "outcome"},
	)

	lockContention = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfagent",
			Subsystem: "actuation",
			Name:      "lock_contention_total",
			Help:      "Total number of lock acquisition attempts that found the lock held.",
		},
		[]string{"scope"},
	)
)

func init() {
	Registry.MustRegister(
		kvOperations,
		kvOperationDuration,
		connCacheState,
		promiseOutcomes,
		lockContention,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler returns an http.Handler exposing Registry in the Prometheus
// text exposition format. No command in this tree serves it.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordKVOperation records one KV store operation's outcome and
// latency, called from internal/kv's Read/Write/Delete/Cursor paths.
func RecordKVOperation(handle, op string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	kvOperations.WithLabelValues(handle, op, status).Inc()
	kvOperationDuration.WithLabelValues(handle, op).Observe(duration.Seconds())
}

// SetConnCacheState sets the current connection count for a netcache
// status bucket ("idle", "busy", "broken", "offline").
func SetConnCacheState(state string, count int) {
	connCacheState.WithLabelValues(state).Set(float64(count))
}

// RecordPromiseOutcome records one promise's actuation outcome, called
// from the actuation pipeline's outcome-report step.
func RecordPromiseOutcome(promiseType, outcome string) {
	promiseOutcomes.WithLabelValues(promiseType, outcome).Inc()
}

// RecordLockContention records one failed-to-acquire lock attempt for
// the given scope ("global" or a promise handle).
func RecordLockContention(scope string) {
	lockContention.WithLabelValues(scope).Inc()
}
