package throttle

import (
	"sync"
	"time"
)

// Config holds the per-scope limits. A zero limit disables that
// granularity. Burst is extra headroom granted inside each window on top
// of every configured limit.
type Config struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
	PerDay    int `yaml:"per_day"`
	Burst     int `yaml:"burst"`
}

// Enabled reports whether any granularity is configured.
func (c Config) Enabled() bool {
	return c.PerMinute > 0 || c.PerHour > 0 || c.PerDay > 0
}

type granularity struct {
	name  string
	width time.Duration
	limit func(Config) int
}

var granularities = []granularity{
	{"minute", time.Minute, func(c Config) int { return c.PerMinute }},
	{"hour", time.Hour, func(c Config) int { return c.PerHour }},
	{"day", 24 * time.Hour, func(c Config) int { return c.PerDay }},
}

type window struct {
	start time.Time
	count int
}

type scopeState struct {
	mu      sync.Mutex
	windows map[string]*window // granularity name -> window
}

// Limiter enforces fixed-window limits per scope (typically per channel).
// Locking is per scope, so hot channels do not contend with each other.
type Limiter struct {
	cfg Config
	now func() time.Time // injectable for deterministic tests

	mu     sync.Mutex
	scopes map[string]*scopeState
}

// NewLimiter creates a Limiter with the given config.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		cfg:    cfg,
		now:    time.Now,
		scopes: make(map[string]*scopeState),
	}
}

// Acquire records one notification attempt for scope. It returns true and
// increments every configured granularity's counter when all of them are
// under limit+burst, false (with no counter change) otherwise.
func (l *Limiter) Acquire(scope string) bool {
	if !l.cfg.Enabled() {
		return true
	}

	st := l.scope(scope)
	now := l.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	// Roll over any window whose aligned start has moved.
	for _, g := range granularities {
		if g.limit(l.cfg) <= 0 {
			continue
		}
		aligned := now.Truncate(g.width)
		w, ok := st.windows[g.name]
		if !ok {
			w = &window{}
			st.windows[g.name] = w
		}
		if !w.start.Equal(aligned) {
			w.start = aligned
			w.count = 0
		}
	}

	// All configured granularities must permit the request.
	for _, g := range granularities {
		limit := g.limit(l.cfg)
		if limit <= 0 {
			continue
		}
		if st.windows[g.name].count >= limit+l.cfg.Burst {
			return false
		}
	}

	for _, g := range granularities {
		if g.limit(l.cfg) > 0 {
			st.windows[g.name].count++
		}
	}
	return true
}

// Counts returns the current per-granularity counts for scope. Windows
// that have rolled past their boundary report zero.
func (l *Limiter) Counts(scope string) map[string]int {
	st := l.scope(scope)
	now := l.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	out := map[string]int{}
	for _, g := range granularities {
		if g.limit(l.cfg) <= 0 {
			continue
		}
		w, ok := st.windows[g.name]
		if !ok || !w.start.Equal(now.Truncate(g.width)) {
			out[g.name] = 0
			continue
		}
		out[g.name] = w.count
	}
	return out
}

func (l *Limiter) scope(name string) *scopeState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.scopes[name]
	if !ok {
		st = &scopeState{windows: make(map[string]*window)}
		l.scopes[name] = st
	}
	return st
}
