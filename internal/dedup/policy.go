package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/driftgate/driftgate/internal/event"
)

// Policy kinds, from loosest to strictest fingerprinting.
const (
	KindNone     = "none"     // every notification passes
	KindBasic    = "basic"    // type + channel + severity + asset, fixed window
	KindSeverity = "severity" // basic fingerprint, window varies by severity
	KindIssue    = "issue"    // basic fingerprint + failing validator names
	KindStrict   = "strict"   // basic fingerprint + raw payload hash
)

// DefaultWindow is used when a policy omits its window.
const DefaultWindow = 5 * time.Minute

// defaultSeverityWindows shortens suppression for urgent severities so a
// persisting critical condition re-alerts sooner.
var defaultSeverityWindows = map[string]time.Duration{
	event.SeverityCritical: 1 * time.Minute,
	event.SeverityHigh:     3 * time.Minute,
	event.SeverityMedium:   5 * time.Minute,
	event.SeverityLow:      15 * time.Minute,
	event.SeverityInfo:     30 * time.Minute,
}

// Policy selects the fingerprint composition and suppression window.
type Policy struct {
	Kind   string
	Window time.Duration

	// SeverityWindows overrides the per-severity windows for KindSeverity.
	// Nil falls back to the built-in defaults.
	SeverityWindows map[string]time.Duration
}

// NewPolicy creates a Policy of the given kind, rejecting unknown kinds.
func NewPolicy(kind string, window time.Duration) (Policy, error) {
	switch kind {
	case KindNone, KindBasic, KindSeverity, KindIssue, KindStrict:
	case "":
		kind = KindBasic
	default:
		return Policy{}, fmt.Errorf("dedup: unknown policy kind %q", kind)
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return Policy{Kind: kind, Window: window}, nil
}

// Fingerprint derives the deduplication identity of a notification headed
// for channel. KindNone returns "" — callers skip the store entirely.
func (p Policy) Fingerprint(ev *event.NotificationEvent, rctx *event.RouteContext, channel string) string {
	if p.Kind == KindNone {
		return ""
	}

	parts := []string{ev.EventType, channel, rctx.Severity, rctx.DataAsset}

	switch p.Kind {
	case KindIssue:
		parts = append(parts, failingValidators(rctx)...)
	case KindStrict:
		parts = append(parts, payloadHash(ev))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}

// WindowFor returns the suppression window for a notification of the given
// severity.
func (p Policy) WindowFor(severity string) time.Duration {
	if p.Kind != KindSeverity {
		return p.Window
	}
	windows := p.SeverityWindows
	if windows == nil {
		windows = defaultSeverityWindows
	}
	if w, ok := windows[severity]; ok {
		return w
	}
	return p.Window
}

// failingValidators extracts the sorted failing validator names, so the
// same set always yields the same fingerprint regardless of order.
func failingValidators(rctx *event.RouteContext) []string {
	raw, ok := rctx.Metadata["failed_validators"]
	if !ok {
		return nil
	}
	var names []string
	switch v := raw.(type) {
	case []string:
		names = append(names, v...)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				names = append(names, s)
			}
		}
	}
	sort.Strings(names)
	return names
}

func payloadHash(ev *event.NotificationEvent) string {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return "unserializable"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
