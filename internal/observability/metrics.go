// Package observability exposes Prometheus instrumentation for the billing engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics holds the collectors published on /metrics.
type Metrics struct {
	UsageIngested       *prometheus.CounterVec
	AlertsTriggered     *prometheus.CounterVec
	InvoicesGenerated   prometheus.Counter
	RolloverRuns        prometheus.Counter
	RolloverFailures    prometheus.Counter
	RolloverDuration    prometheus.Histogram
	CircuitTransitions  *prometheus.CounterVec
	GatewaySyncFailures prometheus.Counter
}

// NewRegistry builds the registry for the engine's own collectors.
// Runtime, process and gorm pool collectors live on the default
// registry; /metrics gathers both.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// NewMetrics registers the billing collectors on the provided registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		UsageIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "usage_records_ingested_total",
			Help:      "Number of usage records accepted, by metric.",
		}, []string{"metric"}),
		AlertsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "usage_alerts_triggered_total",
			Help:      "Number of usage alerts fired, by metric.",
		}, []string{"metric"}),
		InvoicesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "invoices_generated_total",
			Help:      "Number of invoices generated.",
		}),
		RolloverRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "billing_rollover_runs_total",
			Help:      "Number of billing period rollover sweeps executed.",
		}),
		RolloverFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "billing_rollover_failures_total",
			Help:      "Number of subscriptions that failed to roll over.",
		}),
		RolloverDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "meterline",
			Name:      "billing_rollover_duration_seconds",
			Help:      "Duration of billing rollover sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		CircuitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "circuit_state_transitions_total",
			Help:      "Circuit breaker state transitions, by circuit and target state.",
		}, []string{"circuit", "state"}),
		GatewaySyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "gateway_sync_failures_total",
			Help:      "Number of failed best-effort gateway calls.",
		}),
	}

	reg.MustRegister(
		m.UsageIngested,
		m.AlertsTriggered,
		m.InvoicesGenerated,
		m.RolloverRuns,
		m.RolloverFailures,
		m.RolloverDuration,
		m.CircuitTransitions,
		m.GatewaySyncFailures,
	)
	return m
}

// Module wires the Prometheus registry and collectors.
var Module = fx.Module("observability",
	fx.Provide(
		NewRegistry,
		NewMetrics,
	),
)
