package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Event metrics
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squares_reaction_events_total",
			Help: "Total number of reaction events by outcome",
		},
		[]string{"outcome"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "squares_reconciliation_duration_seconds",
			Help:    "Time spent in the critical section for one event",
			Buckets: prometheus.DefBuckets,
		},
	)

	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "squares_fetch_duration_seconds",
			Help:    "Time spent fetching live reaction state before reconciling",
			Buckets: prometheus.DefBuckets,
		},
	)

	ChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squares_reaction_changes_total",
			Help: "Total number of reaction records added or removed",
		},
		[]string{"op", "color"},
	)

	// Error metrics
	InvariantViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "squares_invariant_violations_total",
			Help: "Total number of skipped sub-operations that violated a store invariant",
		},
	)

	PersistenceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squares_persistence_failures_total",
			Help: "Total number of failed snapshot writes by aggregate",
		},
		[]string{"aggregate"},
	)

	// Squareboard metrics
	SquareboardTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squares_squareboard_transitions_total",
			Help: "Total number of squareboard transitions by kind",
		},
		[]string{"transition"},
	)

	// State gauges
	ReactionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "squares_reactions",
			Help: "Number of stored reactions by color",
		},
		[]string{"color"},
	)

	CachedMessagesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "squares_cached_messages",
			Help: "Number of messages in the message cache",
		},
	)

	SquareboardEntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "squares_squareboard_entries",
			Help: "Number of messages mirrored on the squareboard",
		},
	)

	// Sink metrics
	InfluxWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squares_influx_writes_total",
			Help: "Total number of influx point batches by result",
		},
		[]string{"result"},
	)

	// Health metrics
	ComponentHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "squares_component_healthy",
			Help: "Whether a component last reported healthy (1) or not (0)",
		},
		[]string{"component"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(ChangesTotal)
	prometheus.MustRegister(InvariantViolationsTotal)
	prometheus.MustRegister(PersistenceFailuresTotal)
	prometheus.MustRegister(SquareboardTransitionsTotal)
	prometheus.MustRegister(ReactionsTotal)
	prometheus.MustRegister(CachedMessagesTotal)
	prometheus.MustRegister(SquareboardEntriesTotal)
	prometheus.MustRegister(InfluxWritesTotal)
	prometheus.MustRegister(ComponentHealthy)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
