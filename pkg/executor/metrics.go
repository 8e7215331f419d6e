package executor

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "voxgraph"

const executorSubsystem = "executor"

// Metrics holds the Prometheus collectors of one executor. Collectors are
// registered on the executor's own registry so independent graphs never
// share counters.
type Metrics struct {
	// Computations counts node results actually computed.
	// Labels: kind
	Computations *prometheus.CounterVec

	// Hits counts results reused without computing.
	// Labels: tier (fresh, store)
	Hits *prometheus.CounterVec

	// Failures counts nodes that entered the Error state.
	// Labels: kind
	Failures *prometheus.CounterVec

	// Discards counts results dropped because the node was edited while
	// they were computed.
	Discards prometheus.Counter

	// ComputeSeconds measures node computation time.
	// Labels: kind
	ComputeSeconds *prometheus.HistogramVec

	// InFlight tracks node computations holding a pool slot.
	InFlight prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: executorSubsystem,
			Name:      "computations_total",
			Help:      "Node results computed, by node kind.",
		}, []string{"kind"}),
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: executorSubsystem,
			Name:      "hits_total",
			Help:      "Node results reused without computing, by tier.",
		}, []string{"tier"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: executorSubsystem,
			Name:      "failures_total",
			Help:      "Nodes that entered the error state, by node kind.",
		}, []string{"kind"}),
		Discards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: executorSubsystem,
			Name:      "discards_total",
			Help:      "Results discarded because the node changed while computing.",
		}),
		ComputeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: executorSubsystem,
			Name:      "compute_seconds",
			Help:      "Node computation time, by node kind.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"kind"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: executorSubsystem,
			Name:      "in_flight",
			Help:      "Node computations currently running.",
		}),
	}
	reg.MustRegister(m.Computations, m.Hits, m.Failures, m.Discards, m.ComputeSeconds, m.InFlight)
	return m
}
