// Package metrics holds the Prometheus collectors for the exploration
// runtime. All collectors register on Registry, which the API serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "statespace"

// Registry is the registry served on /metrics.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// EngineQueries counts engine queries by outcome
	// (yes, no, interrupted, exception, reported_errors, protocol_error).
	EngineQueries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "queries_total",
		Help:      "Engine queries by terminal outcome",
	}, []string{"outcome"})

	// EngineQueryDuration measures the wall time of a single query.
	EngineQueryDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "query_duration_seconds",
		Help:      "Engine query latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	// EngineCallbacks counts callback requests answered inline.
	EngineCallbacks = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "callbacks_total",
		Help:      "Callback requests answered by the client",
	}, []string{"request"})

	// StatesExplored counts states whose outgoing operations were computed.
	StatesExplored = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "states_explored_total",
		Help:      "States explored",
	})

	// StatesDiscovered counts vertices added to any graph.
	StatesDiscovered = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "states_discovered_total",
		Help:      "States added as vertices",
	})

	// TransitionsAdded counts edges added to any graph.
	TransitionsAdded = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "transitions_added_total",
		Help:      "Transitions added as edges",
	})

	// CheckRuns counts finished model-check runs by status.
	CheckRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "modelcheck",
		Name:      "runs_total",
		Help:      "Finished model-check runs by terminal status",
	}, []string{"status"})

	// CheckSteps counts step commands issued by model-check runs.
	CheckSteps = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "modelcheck",
		Name:      "steps_total",
		Help:      "Model-check step commands issued",
	})

	// RunningChecks is the number of model-check jobs currently running.
	RunningChecks = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "modelcheck",
		Name:      "running",
		Help:      "Model-check jobs currently running",
	})

	// ReplayDeltas counts replay deltas by kind (match, rename, split, infeasible).
	ReplayDeltas = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "replay",
		Name:      "deltas_total",
		Help:      "Replay deltas by kind",
	}, []string{"kind"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
