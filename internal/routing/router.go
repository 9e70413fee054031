package routing

import (
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/driftgate/driftgate/internal/event"
	"github.com/driftgate/driftgate/internal/rule"
)

// Route is a named, prioritized binding of a rule to channel actions.
// Routes are immutable once installed; reconfiguration replaces the whole
// table.
type Route struct {
	Name             string
	Rule             rule.Rule
	Actions          []string
	Priority         int
	StopOnMatch      bool
	IsActive         bool
	EscalationPolicy string
}

// MatchResult is the outcome of one router pass.
type MatchResult struct {
	// MatchedRoutes lists the names of routes that matched, in evaluation
	// order. UsedDefault is true when the only entry is the default route.
	MatchedRoutes []string

	// Actions is the sorted union of channel IDs from all matched routes.
	Actions []string

	// Stopped is true when a stop_on_match route ended the pass early.
	Stopped bool

	// UsedDefault is true when the default route supplied the result.
	UsedDefault bool

	// Elapsed is the wall-clock time the pass took.
	Elapsed time.Duration
}

type table struct {
	routes       []*Route // active routes, priority descending, stable
	defaultRoute *Route
}

// Router matches events against the current route table. Safe for
// concurrent use; Swap publishes a new table atomically so readers never
// block on reloads.
type Router struct {
	table atomic.Pointer[table]
}

// NewRouter creates a Router with an empty table.
func NewRouter() *Router {
	r := &Router{}
	r.table.Store(&table{})
	return r
}

// Swap replaces the route table wholesale. Inactive routes are dropped and
// the rest are ordered by priority descending; insertion order is preserved
// for equal priorities.
func (r *Router) Swap(routes []*Route, defaultRoute *Route) {
	active := make([]*Route, 0, len(routes))
	for _, rt := range routes {
		if rt.IsActive {
			active = append(active, rt)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})
	r.table.Store(&table{routes: active, defaultRoute: defaultRoute})
}

// Routes returns the active routes in evaluation order.
func (r *Router) Routes() []*Route {
	return r.table.Load().routes
}

// DefaultRoute returns the configured fallback route, or nil.
func (r *Router) DefaultRoute() *Route {
	return r.table.Load().defaultRoute
}

// Route returns the route carrying the given name, searching the active
// table and the default route.
func (r *Router) Route(name string) (*Route, bool) {
	t := r.table.Load()
	for _, rt := range t.routes {
		if rt.Name == name {
			return rt, true
		}
	}
	if t.defaultRoute != nil && t.defaultRoute.Name == name {
		return t.defaultRoute, true
	}
	return nil, false
}

// Match evaluates ctx against the current table. Rule evaluation errors are
// contained per route and count as non-match; the remaining routes still
// evaluate. The default route applies only when no explicit route matched
// and its own rule matches.
func (r *Router) Match(ctx *event.RouteContext) MatchResult {
	start := time.Now()
	t := r.table.Load()

	var res MatchResult
	actions := map[string]struct{}{}

	for _, rt := range t.routes {
		if !safeMatches(rt, ctx) {
			continue
		}
		res.MatchedRoutes = append(res.MatchedRoutes, rt.Name)
		for _, a := range rt.Actions {
			actions[a] = struct{}{}
		}
		if rt.StopOnMatch {
			res.Stopped = true
			break
		}
	}

	if len(res.MatchedRoutes) == 0 && t.defaultRoute != nil && safeMatches(t.defaultRoute, ctx) {
		res.MatchedRoutes = []string{t.defaultRoute.Name}
		res.UsedDefault = true
		for _, a := range t.defaultRoute.Actions {
			actions[a] = struct{}{}
		}
	}

	res.Actions = make([]string, 0, len(actions))
	for a := range actions {
		res.Actions = append(res.Actions, a)
	}
	sort.Strings(res.Actions)
	res.Elapsed = time.Since(start)
	return res
}

// safeMatches evaluates a route's rule, containing panics so one broken
// rule cannot abort the router pass.
func safeMatches(rt *Route, ctx *event.RouteContext) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("router: rule evaluation panicked — treating as non-match",
				"route", rt.Name, "panic", r)
			matched = false
		}
	}()
	if rt.Rule == nil {
		return false
	}
	return rt.Rule.Matches(ctx)
}
