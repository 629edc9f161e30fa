// Package metrics holds the Prometheus instruments of the action lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the lifecycle service
type Metrics struct {
	// Lifecycle
	ActionsCreated        *prometheus.CounterVec
	ApprovalRequired      *prometheus.CounterVec
	ConfirmationsResolved *prometheus.CounterVec
	Conflicts             *prometheus.CounterVec

	// Dispatch
	Executions        *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	Rollbacks         *prometheus.CounterVec

	// Platform
	BreakerState *prometheus.GaugeVec
	RateLimited  prometheus.Counter
	Reconciled   *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuesync_actions_created_total",
				Help: "Actions accepted by the action store",
			},
			[]string{"service", "action_type"},
		),
		ApprovalRequired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuesync_actions_approval_required_total",
				Help: "Confirmation requests that need a human decision",
			},
			[]string{"service"},
		),
		ConfirmationsResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuesync_confirmations_resolved_total",
				Help: "Confirmation requests resolved",
			},
			[]string{"decision"}, // confirmed, rejected, auto_confirmed
		),
		Conflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuesync_lifecycle_conflicts_total",
				Help: "Operations refused because of the action or confirmation state",
			},
			[]string{"operation"},
		),

		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuesync_executions_total",
				Help: "Action executions dispatched to external services",
			},
			[]string{"service", "outcome"}, // outcome: succeeded, failed
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "venuesync_execution_duration_seconds",
				Help:    "Duration of external side-effect calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "operation"}, // operation: execute, rollback
		),
		Rollbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuesync_rollbacks_total",
				Help: "Rollbacks dispatched to external services",
			},
			[]string{"service", "outcome"},
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "venuesync_connector_breaker_state",
				Help: "Connector circuit breaker state (0 closed, 1 half open, 2 open)",
			},
			[]string{"service"},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "venuesync_http_rate_limited_total",
				Help: "Requests refused by the rate limiter",
			},
		),
		Reconciled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuesync_reconciled_total",
				Help: "Records repaired by the reconciliation pass",
			},
			[]string{"kind"}, // kind: rollback, abandoned_execution
		),
	}
}

// ObserveDispatch records one external call.
func (m *Metrics) ObserveDispatch(service, operation string, d time.Duration) {
	m.ExecutionDuration.WithLabelValues(service, operation).Observe(d.Seconds())
}
