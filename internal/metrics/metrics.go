// Package metrics exposes the engine's Prometheus counters and gauges,
// scraped at /metrics on the webhook server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// FillsProcessed counts order fills the fill monitor has detected,
	// split by the kind of fill (entry|tp).
	FillsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_fills_processed_total",
			Help: "Order fills detected by the fill monitor.",
		},
		[]string{"kind"},
	)

	// RiskActionsTotal counts risk-engine audit rows written, split by
	// action type (hedge_close|partial_close|full_close).
	RiskActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_risk_actions_total",
			Help: "Risk engine offset actions recorded, by action type.",
		},
		[]string{"action"},
	)

	// OpenPositionGroups is a live gauge of non-terminal groups, set on
	// every risk engine tick.
	OpenPositionGroups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_open_position_groups",
			Help: "Currently non-terminal position groups across all users.",
		},
	)
)

func init() {
	prometheus.MustRegister(FillsProcessed, RiskActionsTotal, OpenPositionGroups)
}
