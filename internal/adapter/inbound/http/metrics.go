// Package http serves the observability endpoints: Prometheus metrics
// and a health probe. The MCP surface itself runs over stdio.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for lightning-enable.
// Pass to components that need to record metrics.
type Metrics struct {
	ApprovalChecks  *prometheus.CounterVec
	PaymentsTotal   *prometheus.CounterVec
	PaymentSats     prometheus.Counter
	PriceFetches    *prometheus.CounterVec
	SessionSpentUSD prometheus.Gauge
	ToolCalls       *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ApprovalChecks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lightning_enable",
				Name:      "approval_checks_total",
				Help:      "Total budget approval checks by resulting level",
			},
			[]string{"level"}, // auto_approve/log_and_approve/form_confirm/url_confirm/denied
		),
		PaymentsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lightning_enable",
				Name:      "payments_total",
				Help:      "Total payment attempts by backend and outcome",
			},
			[]string{"backend", "status"}, // status=paid/failed/denied
		),
		PaymentSats: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "lightning_enable",
				Name:      "payment_sats_total",
				Help:      "Total sats settled across successful payments",
			},
		),
		PriceFetches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lightning_enable",
				Name:      "price_fetches_total",
				Help:      "Total BTC/USD price fetch attempts by source",
			},
			[]string{"source", "outcome"}, // outcome=ok/error
		),
		SessionSpentUSD: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "lightning_enable",
				Name:      "session_spent_usd",
				Help:      "USD spent in the current session",
			},
		),
		ToolCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lightning_enable",
				Name:      "tool_calls_total",
				Help:      "Total MCP tool invocations",
			},
			[]string{"tool", "status"}, // status=ok/error
		),
	}
}

// PriceFetchObserver adapts the metrics to the price oracle's
// per-source fetch callback.
func (m *Metrics) PriceFetchObserver() func(source, outcome string) {
	return func(source, outcome string) {
		m.PriceFetches.WithLabelValues(source, outcome).Inc()
	}
}
