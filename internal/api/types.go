package api

import (
	"github.com/driftgate/driftgate/internal/escalation"
	"github.com/driftgate/driftgate/internal/rule"
	"github.com/driftgate/driftgate/internal/stats"
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int      `json:"uptime_seconds"`
	Routes        int      `json:"routes"`
	Channels      []string `json:"channels,omitempty"`
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Pipeline   stats.Snapshot    `json:"pipeline"`
	Escalation *escalation.Stats `json:"escalation,omitempty"`
}

// RouteResponse is one entry of GET /api/v1/routes.
type RouteResponse struct {
	Name             string           `json:"name"`
	Priority         int              `json:"priority"`
	StopOnMatch      bool             `json:"stop_on_match"`
	Actions          []string         `json:"actions"`
	EscalationPolicy string           `json:"escalation_policy,omitempty"`
	Rule             *rule.RuleConfig `json:"rule,omitempty"`
}

// RoutesResponse is the body of GET /api/v1/routes.
type RoutesResponse struct {
	Routes       []RouteResponse `json:"routes"`
	DefaultRoute *RouteResponse  `json:"default_route,omitempty"`
}

// ActorRequest carries the acting identity for incident transitions.
type ActorRequest struct {
	Actor string `json:"actor"`
}

type errorResponse struct {
	Error string `json:"error"`
}
