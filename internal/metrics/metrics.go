// Package metrics exposes the server's Prometheus collectors. All counters
// are registered on the default registry and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts inbound events by type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftgate_events_total",
		Help: "Inbound notification events, by event type.",
	}, []string{"event_type"})

	// RouteMatchesTotal counts route matches by route name.
	RouteMatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftgate_route_matches_total",
		Help: "Route matches, by route name.",
	}, []string{"route"})

	// SuppressedTotal counts notifications dropped before delivery.
	// Reason is dedup or throttle.
	SuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftgate_suppressed_total",
		Help: "Notifications suppressed before delivery, by reason.",
	}, []string{"reason"})

	// DeliveriesTotal counts channel delivery attempts by outcome.
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftgate_deliveries_total",
		Help: "Channel delivery attempts, by channel and status.",
	}, []string{"channel", "status"})

	// EscalationsTotal counts incidents that advanced past their first level.
	EscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driftgate_escalations_total",
		Help: "Incidents escalated beyond their first level.",
	})
)
