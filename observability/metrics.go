// Package observability carries the service's prometheus registry, domain
// counters, and HTTP instrumentation middleware.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var registry = prometheus.NewRegistry()

// Registry returns the registry all service metrics are registered against.
func Registry() *prometheus.Registry { return registry }

var (
	// LedgerMutations counts coin balance mutations by action and outcome.
	LedgerMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siege",
		Name:      "ledger_mutations_total",
		Help:      "Coin ledger mutations by action and outcome.",
	}, []string{"action", "outcome"})

	// AggregatorLookups counts time-tracking stat lookups by cache result.
	AggregatorLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siege",
		Name:      "aggregator_lookups_total",
		Help:      "Hackatime stat lookups by cache result.",
	}, []string{"result"})

	// UpstreamFailures counts failed calls to external dependencies.
	UpstreamFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siege",
		Name:      "upstream_failures_total",
		Help:      "Failed calls to external dependencies.",
	}, []string{"dependency"})
)

func init() {
	registry.MustRegister(LedgerMutations, AggregatorLookups, UpstreamFailures)
}
