// Package event defines the inbound notification event and the read-only
// evaluation context derived from it. Events are produced by the upstream
// data-quality engine; this package only consumes them.
package event

import (
	"time"
)

// Severity levels, ordered from least to most urgent.
const (
	SeverityInfo     = "info"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// severityRank maps a severity string to its ordering weight.
// Unknown severities rank below info.
var severityRank = map[string]int{
	SeverityInfo:     1,
	SeverityLow:      2,
	SeverityMedium:   3,
	SeverityHigh:     4,
	SeverityCritical: 5,
}

// SeverityRank returns the ordering weight of a severity string.
// Unknown severities return 0.
func SeverityRank(s string) int {
	return severityRank[s]
}

// NotificationEvent is a single occurrence reported by the upstream
// validation/drift engine. Immutable once created.
type NotificationEvent struct {
	EventType  string         `json:"event_type"`
	SourceID   string         `json:"source_id"`
	SourceName string         `json:"source_name"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}

// RouteContext is the flat, read-only projection of an event that rules
// evaluate against. It is built once per dispatch cycle and never mutated
// during evaluation.
type RouteContext struct {
	EventType    string
	SourceID     string
	SourceName   string
	Timestamp    time.Time
	Severity     string
	Status       string
	DataAsset    string
	ErrorMessage string
	IssueCount   int
	PassRate     float64
	Tags         []string
	Metadata     map[string]any
}

// NewRouteContext projects ev into a RouteContext, pulling the well-known
// fields out of ev.Data. Remaining data keys stay reachable via Metadata.
func NewRouteContext(ev *NotificationEvent) *RouteContext {
	ctx := &RouteContext{
		EventType:  ev.EventType,
		SourceID:   ev.SourceID,
		SourceName: ev.SourceName,
		Timestamp:  ev.Timestamp,
		PassRate:   1.0,
		Metadata:   map[string]any{},
	}
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now()
	}

	for k, v := range ev.Data {
		switch k {
		case "severity":
			ctx.Severity, _ = v.(string)
		case "status":
			ctx.Status, _ = v.(string)
		case "data_asset":
			ctx.DataAsset, _ = v.(string)
		case "error_message":
			ctx.ErrorMessage, _ = v.(string)
		case "issue_count":
			ctx.IssueCount = toInt(v)
		case "pass_rate":
			ctx.PassRate = toFloat(v)
		case "tags":
			ctx.Tags = toStrings(v)
		default:
			ctx.Metadata[k] = v
		}
	}
	return ctx
}

// HasTag reports whether the context carries the given tag.
func (c *RouteContext) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		// JSON numbers decode as float64.
		return int(n)
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func toStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
