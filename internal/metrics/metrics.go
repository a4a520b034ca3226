package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rentsync"

var (
	once sync.Once

	operationsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_applied_total",
			Help:      "Queued operations applied to the remote API.",
		},
		[]string{"entity_kind", "kind"},
	)

	operationsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_failed_total",
			Help:      "Failed apply attempts, including those later retried.",
		},
		[]string{"entity_kind", "kind"},
	)

	operationsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_dropped_total",
			Help:      "Operations moved to the dead-letter list.",
		},
		[]string{"entity_kind", "reason"},
	)

	conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Updates whose remote version was newer than the local enqueue time.",
		},
		[]string{"entity_kind"},
	)

	persistErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed writes of the queue to durable storage.",
		},
	)

	pending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_operations",
			Help:      "Operations waiting in the queue.",
		},
	)

	online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when the remote API is reachable.",
		},
	)

	passDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_pass_duration_seconds",
			Help:      "Duration of a replay pass over the queue.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			operationsApplied,
			operationsFailed,
			operationsDropped,
			conflicts,
			persistErrors,
			pending,
			online,
			passDuration,
		)
	})
}

func IncApplied(entityKind, kind string) {
	operationsApplied.WithLabelValues(entityKind, kind).Inc()
}

func IncFailed(entityKind, kind string) {
	operationsFailed.WithLabelValues(entityKind, kind).Inc()
}

func IncDropped(entityKind, reason string) {
	operationsDropped.WithLabelValues(entityKind, reason).Inc()
}

func IncConflict(entityKind string) {
	conflicts.WithLabelValues(entityKind).Inc()
}

func IncPersistError() {
	persistErrors.Inc()
}

func SetPending(n int) {
	pending.Set(float64(n))
}

func SetOnline(isOnline bool) {
	if isOnline {
		online.Set(1)
		return
	}
	online.Set(0)
}

func ObservePass(seconds float64) {
	passDuration.Observe(seconds)
}
