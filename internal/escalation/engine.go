package escalation

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftgate/driftgate/internal/event"
)

// Sentinel errors for incident lookups and invalid transitions.
var (
	ErrNotFound      = errors.New("incident not found")
	ErrBadTransition = errors.New("invalid incident state transition")
)

// Incident lifecycle states.
const (
	StatePending      = "pending"
	StateTriggered    = "triggered"
	StateAcknowledged = "acknowledged"
	StateEscalated    = "escalated"
	StateResolved     = "resolved"
)

// Change kinds passed to the engine's OnChange hook.
const (
	ChangeCreated      = "incident_created"
	ChangeNotified     = "incident_notified"
	ChangeStateChanged = "incident_state_changed"
	ChangeResolved     = "incident_resolved"
)

// Incident is one live execution of an escalation policy. Copies of it are
// handed out; the engine owns the canonical state.
type Incident struct {
	ID             string     `json:"id"`
	PolicyID       string     `json:"policy_id"`
	State          string     `json:"state"`
	CurrentLevel   int        `json:"current_level"`
	Repeats        int        `json:"repeats"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`

	Event *event.NotificationEvent `json:"event,omitempty"`
}

// NotifyFunc delivers an escalation notification to a level's targets.
// Delivery failures are the notifier's concern; the engine does not retry.
type NotifyFunc func(inc Incident, level Level)

// ChangeFunc observes incident lifecycle changes, e.g. for realtime
// broadcast. May be nil.
type ChangeFunc func(kind string, inc Incident)

type incidentState struct {
	Incident
	timer *time.Timer
	seq   int // bumped on every transition; stale timer fires bail out
}

// Engine owns all incidents and their deferred-check timers. All state
// transitions on one incident are serialized through the engine mutex.
type Engine struct {
	notify   NotifyFunc
	onChange ChangeFunc
	now      func() time.Time // injectable for deterministic tests

	mu        sync.Mutex
	policies  map[string]Policy
	incidents map[string]*incidentState

	// Aggregate counters for stats.
	triggered     int
	acknowledged  int
	resolved      int
	escalations   int
	totalResolveD time.Duration
}

// NewEngine creates an Engine with the given policies. Invalid policies
// are rejected.
func NewEngine(policies []Policy, notify NotifyFunc, onChange ChangeFunc) (*Engine, error) {
	e := &Engine{
		notify:    notify,
		onChange:  onChange,
		now:       time.Now,
		policies:  make(map[string]Policy, len(policies)),
		incidents: make(map[string]*incidentState),
	}
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		e.policies[p.ID] = p
	}
	return e, nil
}

// HasPolicy reports whether a policy ID is known.
func (e *Engine) HasPolicy(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.policies[id]
	return ok
}

// Trigger starts a new incident under the given policy and returns a copy
// of it. The first level fires after its delay; a zero delay fires before
// Trigger returns.
func (e *Engine) Trigger(policyID string, ev *event.NotificationEvent) (Incident, error) {
	e.mu.Lock()

	policy, ok := e.policies[policyID]
	if !ok {
		e.mu.Unlock()
		return Incident{}, fmt.Errorf("escalation: unknown policy %q", policyID)
	}

	st := &incidentState{Incident: Incident{
		ID:           uuid.NewString(),
		PolicyID:     policyID,
		State:        StatePending,
		CurrentLevel: 1,
		CreatedAt:    e.now(),
		Event:        ev,
	}}
	e.incidents[st.ID] = st
	e.triggered++

	e.emit(ChangeCreated, st.Incident)
	slog.Info("escalation: incident created", "incident", st.ID, "policy", policyID)

	first := policy.Levels[0]
	if first.Delay <= 0 {
		e.fireLevel(st, policy)
		inc := st.Incident
		e.mu.Unlock()
		return inc, nil
	}

	e.schedule(st, first.Delay)
	inc := st.Incident
	e.mu.Unlock()
	return inc, nil
}

// Acknowledge marks the incident acknowledged and cancels its pending
// deferred check. No further escalation fires afterwards.
func (e *Engine) Acknowledge(id, actor string) (Incident, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.incidents[id]
	if !ok {
		return Incident{}, fmt.Errorf("escalation: %w: %q", ErrNotFound, id)
	}
	switch st.State {
	case StateAcknowledged, StateResolved:
		return Incident{}, fmt.Errorf("escalation: %w: incident %q is already %s", ErrBadTransition, id, st.State)
	}

	e.cancelTimer(st)
	now := e.now()
	st.State = StateAcknowledged
	st.AcknowledgedAt = &now
	st.AcknowledgedBy = actor
	e.acknowledged++

	e.emit(ChangeStateChanged, st.Incident)
	slog.Info("escalation: incident acknowledged", "incident", id, "actor", actor)
	return st.Incident, nil
}

// Resolve closes the incident from any non-resolved state and records the
// resolution duration.
func (e *Engine) Resolve(id, actor string) (Incident, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.incidents[id]
	if !ok {
		return Incident{}, fmt.Errorf("escalation: %w: %q", ErrNotFound, id)
	}
	if st.State == StateResolved {
		return Incident{}, fmt.Errorf("escalation: %w: incident %q is already resolved", ErrBadTransition, id)
	}

	e.cancelTimer(st)
	now := e.now()
	st.State = StateResolved
	st.ResolvedAt = &now
	st.ResolvedBy = actor
	e.resolved++
	e.totalResolveD += now.Sub(st.CreatedAt)

	e.emit(ChangeResolved, st.Incident)
	slog.Info("escalation: incident resolved", "incident", id, "actor", actor,
		"duration", now.Sub(st.CreatedAt))
	return st.Incident, nil
}

// Incident returns a copy of the incident with the given ID.
func (e *Engine) Incident(id string) (Incident, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.incidents[id]
	if !ok {
		return Incident{}, false
	}
	return st.Incident, true
}

// Incidents returns copies of all incidents, newest first.
func (e *Engine) Incidents() []Incident {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Incident, 0, len(e.incidents))
	for _, st := range e.incidents {
		out = append(out, st.Incident)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Stats summarizes engine activity since start.
type Stats struct {
	Active           int     `json:"active"`
	Triggered        int     `json:"triggered"`
	Acknowledged     int     `json:"acknowledged"`
	Resolved         int     `json:"resolved"`
	Escalations      int     `json:"escalations"`
	AvgResolveSecond float64 `json:"avg_resolve_seconds"`
}

// Stats returns the aggregate counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		Triggered:    e.triggered,
		Acknowledged: e.acknowledged,
		Resolved:     e.resolved,
		Escalations:  e.escalations,
	}
	for _, st := range e.incidents {
		switch st.State {
		case StatePending, StateTriggered, StateEscalated:
			s.Active++
		}
	}
	if e.resolved > 0 {
		s.AvgResolveSecond = e.totalResolveD.Seconds() / float64(e.resolved)
	}
	return s
}

// Shutdown cancels all pending timers. Incidents keep their last state.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.incidents {
		e.cancelTimer(st)
	}
}

// --- internal ---------------------------------------------------------------

// fireLevel notifies the incident's current level and schedules the next
// deferred check. Caller holds e.mu.
func (e *Engine) fireLevel(st *incidentState, policy Policy) {
	level := policy.Levels[st.CurrentLevel-1]

	if st.State == StatePending {
		st.State = StateTriggered
		e.emit(ChangeStateChanged, st.Incident)
	}

	inc := st.Incident
	go e.notify(inc, level)
	e.emit(ChangeNotified, inc)
	slog.Info("escalation: level notified",
		"incident", st.ID, "level", level.Level, "targets", len(level.Targets))

	if !level.RequireAck {
		// Chain ends here; the incident stays in its current state.
		return
	}

	switch {
	case st.Repeats < level.RepeatCount:
		e.schedule(st, level.RepeatInterval)
	case st.CurrentLevel < len(policy.Levels):
		next := policy.Levels[st.CurrentLevel]
		e.schedule(st, next.Delay)
	default:
		// Last level, no repeats left, still unacknowledged: the incident
		// stays escalated (or triggered, for a single-level policy)
		// terminally. Not an error.
	}
}

// deferredCheck runs when an incident's timer fires: still unacknowledged
// means repeat the current level or advance to the next one.
func (e *Engine) deferredCheck(id string, seq int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.incidents[id]
	if !ok || st.seq != seq {
		// Cancelled or transitioned since this timer was armed.
		return
	}
	switch st.State {
	case StateAcknowledged, StateResolved:
		return
	}

	policy, ok := e.policies[st.PolicyID]
	if !ok {
		slog.Error("escalation: policy vanished, skipping step", "incident", id, "policy", st.PolicyID)
		return
	}

	// A pending incident's timer is its delayed first-level notification,
	// not a repeat/advance check.
	if st.State == StatePending {
		e.fireLevel(st, policy)
		return
	}

	level := policy.Levels[st.CurrentLevel-1]
	if st.Repeats < level.RepeatCount {
		st.Repeats++
		e.fireLevel(st, policy)
		return
	}

	if st.CurrentLevel < len(policy.Levels) {
		st.CurrentLevel++
		st.Repeats = 0
		st.State = StateEscalated
		e.escalations++
		e.emit(ChangeStateChanged, st.Incident)
		slog.Warn("escalation: advancing level", "incident", id, "level", st.CurrentLevel)
		e.fireLevel(st, policy)
	}
}

// schedule arms the incident's single deferred-check timer. Caller holds
// e.mu. The sequence number is captured after cancelTimer bumps it so the
// armed timer matches the incident's current generation.
func (e *Engine) schedule(st *incidentState, d time.Duration) {
	e.cancelTimer(st)
	id, seq := st.ID, st.seq
	st.timer = time.AfterFunc(d, func() { e.deferredCheck(id, seq) })
}

// cancelTimer stops the pending timer and invalidates in-flight fires.
// Caller holds e.mu.
func (e *Engine) cancelTimer(st *incidentState) {
	st.seq++
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

func (e *Engine) emit(kind string, inc Incident) {
	if e.onChange != nil {
		e.onChange(kind, inc)
	}
}
