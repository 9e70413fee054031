// Package stats aggregates runtime counters across the dispatch pipeline and
// serves them as a cached snapshot. Counting is cheap and lock-scoped;
// Snapshot reuses its last result for a short TTL so an aggressive poller
// cannot turn stats reads into contention.
package stats

import (
	"sync"
	"time"

	"github.com/driftgate/driftgate/internal/event"
)

const (
	defaultRingSize = 50
	defaultCacheTTL = 2 * time.Second
)

// RecentEvent is one entry in the recent-event ring.
type RecentEvent struct {
	EventType  string    `json:"event_type"`
	SourceName string    `json:"source_name"`
	Severity   string    `json:"severity"`
	DataAsset  string    `json:"data_asset,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Snapshot is the aggregate view served by the admin API.
type Snapshot struct {
	EventsReceived   int            `json:"events_received"`
	EventsMatched    int            `json:"events_matched"`
	EventsUnrouted   int            `json:"events_unrouted"`
	Suppressed       map[string]int `json:"suppressed"`
	Deliveries       map[string]int `json:"deliveries"`
	DeliveryFailures map[string]int `json:"delivery_failures"`
	RecentEvents     []RecentEvent  `json:"recent_events"`
	GeneratedAt      time.Time      `json:"generated_at"`
}

// Collector accumulates pipeline counters.
type Collector struct {
	mu               sync.Mutex
	now              func() time.Time
	eventsReceived   int
	eventsMatched    int
	eventsUnrouted   int
	suppressed       map[string]int
	deliveries       map[string]int
	deliveryFailures map[string]int

	ring     []RecentEvent
	ringNext int
	ringFull bool

	cacheTTL  time.Duration
	cached    Snapshot
	cachedAt  time.Time
	haveCache bool
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		now:              time.Now,
		suppressed:       make(map[string]int),
		deliveries:       make(map[string]int),
		deliveryFailures: make(map[string]int),
		ring:             make([]RecentEvent, defaultRingSize),
		cacheTTL:         defaultCacheTTL,
	}
}

// EventReceived records an inbound event in the counters and the ring.
func (c *Collector) EventReceived(ev *event.NotificationEvent, ctx *event.RouteContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsReceived++

	entry := RecentEvent{ReceivedAt: c.now()}
	if ev != nil {
		entry.EventType = ev.EventType
		entry.SourceName = ev.SourceName
	}
	if ctx != nil {
		entry.Severity = ctx.Severity
		entry.DataAsset = ctx.DataAsset
	}
	c.ring[c.ringNext] = entry
	c.ringNext = (c.ringNext + 1) % len(c.ring)
	if c.ringNext == 0 {
		c.ringFull = true
	}
}

// EventMatched records whether routing found at least one route.
func (c *Collector) EventMatched(matched bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if matched {
		c.eventsMatched++
	} else {
		c.eventsUnrouted++
	}
}

// Suppressed records a pre-delivery drop, keyed by reason.
func (c *Collector) Suppressed(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suppressed[reason]++
}

// Delivery records a channel send outcome.
func (c *Collector) Delivery(channel string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.deliveries[channel]++
	} else {
		c.deliveryFailures[channel]++
	}
}

// Snapshot returns the current aggregate view. Results are cached for a
// short TTL; callers get a private copy either way.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.haveCache && now.Sub(c.cachedAt) < c.cacheTTL {
		return c.cached
	}

	s := Snapshot{
		EventsReceived:   c.eventsReceived,
		EventsMatched:    c.eventsMatched,
		EventsUnrouted:   c.eventsUnrouted,
		Suppressed:       copyCounts(c.suppressed),
		Deliveries:       copyCounts(c.deliveries),
		DeliveryFailures: copyCounts(c.deliveryFailures),
		RecentEvents:     c.recent(),
		GeneratedAt:      now,
	}
	c.cached = s
	c.cachedAt = now
	c.haveCache = true
	return s
}

// recent returns ring entries newest first. Caller holds c.mu.
func (c *Collector) recent() []RecentEvent {
	n := c.ringNext
	size := n
	if c.ringFull {
		size = len(c.ring)
	}
	out := make([]RecentEvent, 0, size)
	for i := 1; i <= size; i++ {
		out = append(out, c.ring[(n-i+len(c.ring))%len(c.ring)])
	}
	return out
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
