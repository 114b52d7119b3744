package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// oracleCalls counts oracle calls by operation and outcome
	oracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphsight_oracle_calls_total",
		Help: "Total oracle calls by operation and outcome",
	}, []string{"op", "outcome"})

	// oracleLatency tracks oracle call latency
	oracleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graphsight_oracle_call_duration_seconds",
		Help:    "Oracle call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
	}, []string{"op"})

	// oracleTokens counts tokens by direction
	oracleTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphsight_oracle_tokens_total",
		Help: "Total oracle tokens by direction",
	}, []string{"direction"})

	// traversalSteps counts steps by kind
	traversalSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphsight_traversal_steps_total",
		Help: "Traversal steps by kind (explored, skipped, malformed)",
	}, []string{"kind"})

	// runsTotal counts finished runs by end state
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphsight_runs_total",
		Help: "Interpretation runs by end state",
	}, []string{"diagram_type", "state"})

	// runCost tracks the approximate spend per run
	runCost = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graphsight_run_cost_usd",
		Help:    "Approximate oracle spend per run in USD",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	// runDuration tracks wall-clock time per run
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graphsight_run_duration_seconds",
		Help:    "Interpretation run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5m
	})
)

// Step kinds for ObserveStep.
const (
	StepExplored  = "explored"
	StepSkipped   = "skipped"
	StepMalformed = "malformed"
	StepAudited   = "audited"
)

// ObserveOracleCall records one oracle call.
func ObserveOracleCall(op string, duration time.Duration, inputTokens, outputTokens int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	oracleCalls.WithLabelValues(op, outcome).Inc()
	oracleLatency.WithLabelValues(op).Observe(duration.Seconds())
	oracleTokens.WithLabelValues("input").Add(float64(inputTokens))
	oracleTokens.WithLabelValues("output").Add(float64(outputTokens))
}

// ObserveStep records one traversal iteration.
func ObserveStep(kind string) {
	traversalSteps.WithLabelValues(kind).Inc()
}

// ObserveRun records a finished interpretation run.
func ObserveRun(diagramType, state string, cost float64, duration time.Duration) {
	runsTotal.WithLabelValues(diagramType, state).Inc()
	runCost.Observe(cost)
	runDuration.Observe(duration.Seconds())
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
