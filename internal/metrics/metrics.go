// Package metrics registers the pipeline's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge the pipeline updates. Construct with
// New so each metric is registered exactly once.
type Metrics struct {
	BatchesSequenced    prometheus.Counter
	BatchesFailed       prometheus.Counter
	ProofsGenerated     prometheus.Counter
	ProofsFailed        prometheus.Counter
	SettlementAttempts  *prometheus.CounterVec
	RetryCycles         prometheus.Counter
	ConsecutiveFailures prometheus.Gauge
}

// New constructs and registers the pipeline's metrics against the given
// registerer. The coordinator process passes its own prometheus.NewRegistry()
// and serves that registry on /metrics; tests should likewise pass a fresh
// registry to avoid duplicate-registration panics across test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BatchesSequenced: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollup_batches_sequenced_total",
			Help: "Number of batches that executed successfully and were handed to the prover.",
		}),
		BatchesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollup_batches_failed_total",
			Help: "Number of batches dropped because a transaction inside them failed or had no effect.",
		}),
		ProofsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollup_proofs_generated_total",
			Help: "Number of batch proofs successfully produced by the prover subprocess.",
		}),
		ProofsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollup_proofs_failed_total",
			Help: "Number of batches whose prover invocation failed.",
		}),
		SettlementAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_settlement_attempts_total",
			Help: "Settlement attempts by terminal result (verified, failed).",
		}, []string{"result"}),
		RetryCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollup_retry_cycles_total",
			Help: "Number of AutoRetryTick cycles the circuit breaker allowed to proceed.",
		}),
		ConsecutiveFailures: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rollup_consecutive_retry_failures",
			Help: "Current consecutive-retry-failure count backing the circuit breaker's backoff.",
		}),
	}
}
