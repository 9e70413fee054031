package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/driftgate/driftgate/internal/channel"
	"github.com/driftgate/driftgate/internal/dedup"
	"github.com/driftgate/driftgate/internal/escalation"
	"github.com/driftgate/driftgate/internal/event"
	"github.com/driftgate/driftgate/internal/metrics"
	"github.com/driftgate/driftgate/internal/routing"
	"github.com/driftgate/driftgate/internal/stats"
	"github.com/driftgate/driftgate/internal/throttle"
	"github.com/driftgate/driftgate/internal/ws"
)

// Delivery statuses reported per channel action.
const (
	StatusSent           = "sent"
	StatusFailed         = "failed"
	StatusDeduplicated   = "deduplicated"
	StatusThrottled      = "throttled"
	StatusUnknownChannel = "unknown_channel"
)

// Throttler is the rate-limit check the dispatcher consults per channel.
type Throttler interface {
	Acquire(ctx context.Context, scope string) bool
}

// MemoryThrottler adapts the in-process limiter to the Throttler contract.
func MemoryThrottler(l *throttle.Limiter) Throttler {
	return memThrottler{l}
}

type memThrottler struct{ l *throttle.Limiter }

func (m memThrottler) Acquire(_ context.Context, scope string) bool {
	return m.l.Acquire(scope)
}

// Delivery is the outcome of one channel action.
type Delivery struct {
	Channel string `json:"channel"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Result is the full outcome of dispatching one event.
type Result struct {
	Match      routing.MatchResult `json:"match"`
	Deliveries []Delivery          `json:"deliveries"`
	Incidents  []string            `json:"incidents,omitempty"`
}

// Dispatcher runs events through routing, suppression, delivery, and
// escalation. Escalation engine, throttler, and hub are optional.
type Dispatcher struct {
	router      *routing.Router
	dedupPolicy dedup.Policy
	dedupStore  dedup.Store
	throttler   Throttler
	channels    *channel.Registry
	escalations *escalation.Engine
	hub         *ws.Hub
	collector   *stats.Collector
}

// Options carries the dispatcher's collaborators.
type Options struct {
	Router      *routing.Router
	DedupPolicy dedup.Policy
	DedupStore  dedup.Store
	Throttler   Throttler
	Channels    *channel.Registry
	Escalations *escalation.Engine
	Hub         *ws.Hub
	Collector   *stats.Collector
}

// New builds a Dispatcher. Router, dedup store, channels, and collector are
// required.
func New(opts Options) (*Dispatcher, error) {
	if opts.Router == nil || opts.DedupStore == nil || opts.Channels == nil || opts.Collector == nil {
		return nil, fmt.Errorf("dispatch: router, dedup store, channels, and collector are required")
	}
	return &Dispatcher{
		router:      opts.Router,
		dedupPolicy: opts.DedupPolicy,
		dedupStore:  opts.DedupStore,
		throttler:   opts.Throttler,
		channels:    opts.Channels,
		escalations: opts.Escalations,
		hub:         opts.Hub,
		collector:   opts.Collector,
	}, nil
}

// Dispatch runs one event through the pipeline and returns what happened.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *event.NotificationEvent) Result {
	rctx := event.NewRouteContext(ev)

	metrics.EventsTotal.WithLabelValues(ev.EventType).Inc()
	d.collector.EventReceived(ev, rctx)

	match := d.router.Match(rctx)
	d.collector.EventMatched(len(match.MatchedRoutes) > 0)
	for _, name := range match.MatchedRoutes {
		metrics.RouteMatchesTotal.WithLabelValues(name).Inc()
	}

	res := Result{Match: match}
	if len(match.Actions) == 0 {
		slog.Debug("dispatch: no route matched", "event_type", ev.EventType, "source", ev.SourceName)
		return res
	}

	res.Deliveries = d.deliver(ctx, ev, rctx, match.Actions)
	res.Incidents = d.escalate(ev, match)

	if d.hub != nil {
		d.hub.BroadcastToRoom(ws.RoomEvents, ws.NewEnvelope("notification_sent", map[string]any{
			"event_type": ev.EventType,
			"source":     ev.SourceName,
			"severity":   rctx.Severity,
			"routes":     match.MatchedRoutes,
			"deliveries": res.Deliveries,
		}))
	}
	return res
}

// deliver fans one event out to its channel actions concurrently. Each
// channel passes dedup and throttle independently; a successful send marks
// the fingerprint as sent.
func (d *Dispatcher) deliver(ctx context.Context, ev *event.NotificationEvent, rctx *event.RouteContext, actions []string) []Delivery {
	out := make([]Delivery, len(actions))

	var wg sync.WaitGroup
	for i, ch := range actions {
		wg.Add(1)
		go func(i int, ch string) {
			defer wg.Done()
			out[i] = d.deliverOne(ctx, ev, rctx, ch)
		}(i, ch)
	}
	wg.Wait()
	return out
}

func (d *Dispatcher) deliverOne(ctx context.Context, ev *event.NotificationEvent, rctx *event.RouteContext, ch string) Delivery {
	del := Delivery{Channel: ch}

	fp := d.dedupPolicy.Fingerprint(ev, rctx, ch)
	if fp != "" {
		dup, err := d.dedupStore.IsDuplicate(ctx, fp)
		if err != nil {
			// A broken dedup backend must not silence notifications.
			slog.Warn("dispatch: dedup check failed, delivering anyway", "channel", ch, "err", err)
		} else if dup {
			del.Status = StatusDeduplicated
			d.suppress(ch, "dedup")
			return del
		}
	}

	if d.throttler != nil && !d.throttler.Acquire(ctx, ch) {
		del.Status = StatusThrottled
		d.suppress(ch, "throttle")
		return del
	}

	notifier, ok := d.channels.Get(ch)
	if !ok {
		del.Status = StatusUnknownChannel
		del.Error = fmt.Sprintf("channel %q is not configured", ch)
		slog.Error("dispatch: unknown channel in route actions", "channel", ch)
		d.collector.Delivery(ch, false)
		metrics.DeliveriesTotal.WithLabelValues(ch, StatusFailed).Inc()
		return del
	}

	if err := notifier.Send(ctx, buildMessage(ev, rctx), ev); err != nil {
		del.Status = StatusFailed
		del.Error = err.Error()
		slog.Error("dispatch: delivery failed", "channel", ch, "event_type", ev.EventType, "err", err)
		d.collector.Delivery(ch, false)
		metrics.DeliveriesTotal.WithLabelValues(ch, StatusFailed).Inc()
		return del
	}

	del.Status = StatusSent
	d.collector.Delivery(ch, true)
	metrics.DeliveriesTotal.WithLabelValues(ch, StatusSent).Inc()

	if fp != "" {
		if err := d.dedupStore.MarkSent(ctx, fp, d.dedupPolicy.WindowFor(rctx.Severity)); err != nil {
			slog.Warn("dispatch: mark-sent failed", "channel", ch, "err", err)
		}
	}
	return del
}

func (d *Dispatcher) suppress(ch, reason string) {
	slog.Debug("dispatch: suppressed", "channel", ch, "reason", reason)
	d.collector.Suppressed(reason)
	metrics.SuppressedTotal.WithLabelValues(reason).Inc()
}

// escalate opens an incident for every matched route that names an
// escalation policy. Unknown policies are logged and skipped.
func (d *Dispatcher) escalate(ev *event.NotificationEvent, match routing.MatchResult) []string {
	if d.escalations == nil {
		return nil
	}

	var incidents []string
	for _, name := range match.MatchedRoutes {
		rt, ok := d.router.Route(name)
		if !ok && d.router.DefaultRoute() != nil && d.router.DefaultRoute().Name == name {
			rt, ok = d.router.DefaultRoute(), true
		}
		if !ok || rt.EscalationPolicy == "" {
			continue
		}
		inc, err := d.escalations.Trigger(rt.EscalationPolicy, ev)
		if err != nil {
			slog.Error("dispatch: escalation trigger failed", "route", name, "policy", rt.EscalationPolicy, "err", err)
			continue
		}
		incidents = append(incidents, inc.ID)
	}
	return incidents
}

// buildMessage renders the default notification text for an event.
func buildMessage(ev *event.NotificationEvent, rctx *event.RouteContext) channel.Message {
	title := ev.EventType
	if rctx.DataAsset != "" {
		title = fmt.Sprintf("%s: %s", ev.EventType, rctx.DataAsset)
	}

	text := rctx.ErrorMessage
	if text == "" {
		text = fmt.Sprintf("%s from %s", ev.EventType, ev.SourceName)
		if rctx.IssueCount > 0 {
			text = fmt.Sprintf("%s (%d issues, pass rate %.1f%%)", text, rctx.IssueCount, rctx.PassRate*100)
		}
	}

	return channel.Message{Title: title, Text: text, Severity: rctx.Severity}
}
