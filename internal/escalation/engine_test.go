package escalation

import (
	"sync"
	"testing"
	"time"

	"github.com/driftgate/driftgate/internal/event"
)

type notifyRecord struct {
	incidentID string
	level      int
	state      string
}

// recorder collects notifications on a channel so tests can wait for timer
// fires without sleeping blindly.
type recorder struct {
	mu    sync.Mutex
	calls []notifyRecord
	ch    chan notifyRecord
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan notifyRecord, 16)}
}

func (r *recorder) notify(inc Incident, level Level) {
	rec := notifyRecord{incidentID: inc.ID, level: level.Level, state: inc.State}
	r.mu.Lock()
	r.calls = append(r.calls, rec)
	r.mu.Unlock()
	r.ch <- rec
}

func (r *recorder) wait(t *testing.T, timeout time.Duration) notifyRecord {
	t.Helper()
	select {
	case rec := <-r.ch:
		return rec
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a notification")
		return notifyRecord{}
	}
}

func (r *recorder) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case rec := <-r.ch:
		t.Fatalf("unexpected notification for level %d", rec.level)
	case <-time.After(d):
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func twoLevelPolicy(delay2 time.Duration) Policy {
	return Policy{
		ID: "dq-oncall",
		Levels: []Level{
			{Level: 1, Delay: 0, Targets: []string{"slack"}, RequireAck: true},
			{Level: 2, Delay: delay2, Targets: []string{"pagerduty"}, RequireAck: true},
		},
	}
}

func TestTrigger_FirstLevelFiresImmediately(t *testing.T) {
	rec := newRecorder()
	e, err := NewEngine([]Policy{twoLevelPolicy(time.Hour)}, rec.notify, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	inc, err := e.Trigger("dq-oncall", &event.NotificationEvent{EventType: "validation_failed"})
	if err != nil {
		t.Fatal(err)
	}
	if inc.State != StateTriggered {
		t.Errorf("state after trigger: got %q, want %q", inc.State, StateTriggered)
	}
	if inc.CurrentLevel != 1 {
		t.Errorf("current level: got %d, want 1", inc.CurrentLevel)
	}

	got := rec.wait(t, time.Second)
	if got.level != 1 {
		t.Errorf("first notification level: got %d, want 1", got.level)
	}
}

func TestTrigger_UnknownPolicy(t *testing.T) {
	e, err := NewEngine(nil, func(Incident, Level) {}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Trigger("missing", nil); err == nil {
		t.Error("trigger with an unknown policy succeeded, want error")
	}
}

func TestEscalation_AdvancesWhenUnacknowledged(t *testing.T) {
	rec := newRecorder()
	e, err := NewEngine([]Policy{twoLevelPolicy(30 * time.Millisecond)}, rec.notify, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	inc, err := e.Trigger("dq-oncall", nil)
	if err != nil {
		t.Fatal(err)
	}

	first := rec.wait(t, time.Second)
	if first.level != 1 {
		t.Fatalf("first notification level: got %d, want 1", first.level)
	}

	// No acknowledgment: level 2 fires after its delay.
	second := rec.wait(t, time.Second)
	if second.level != 2 {
		t.Errorf("second notification level: got %d, want 2", second.level)
	}

	got, ok := e.Incident(inc.ID)
	if !ok {
		t.Fatal("incident disappeared")
	}
	if got.State != StateEscalated {
		t.Errorf("state after escalation: got %q, want %q", got.State, StateEscalated)
	}
	if got.CurrentLevel != 2 {
		t.Errorf("level after escalation: got %d, want 2", got.CurrentLevel)
	}

	// Level 2 is the last level; nothing further fires.
	rec.quiet(t, 80*time.Millisecond)
}

func TestAcknowledge_CancelsPendingEscalation(t *testing.T) {
	rec := newRecorder()
	e, err := NewEngine([]Policy{twoLevelPolicy(50 * time.Millisecond)}, rec.notify, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	inc, err := e.Trigger("dq-oncall", nil)
	if err != nil {
		t.Fatal(err)
	}
	rec.wait(t, time.Second) // level 1

	acked, err := e.Acknowledge(inc.ID, "oncall@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if acked.State != StateAcknowledged {
		t.Errorf("state after ack: got %q, want %q", acked.State, StateAcknowledged)
	}
	if acked.AcknowledgedAt == nil || acked.AcknowledgedBy != "oncall@example.com" {
		t.Error("ack metadata not recorded")
	}

	// Wait past the original level-2 delay; the cancelled timer must not fire.
	rec.quiet(t, 120*time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("notifications after ack: got %d, want 1", rec.count())
	}
}

func TestAcknowledge_Twice(t *testing.T) {
	e, err := NewEngine([]Policy{twoLevelPolicy(time.Hour)}, func(Incident, Level) {}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	inc, _ := e.Trigger("dq-oncall", nil)
	if _, err := e.Acknowledge(inc.ID, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Acknowledge(inc.ID, "b"); err == nil {
		t.Error("second ack succeeded, want error")
	}
}

func TestResolve_FromAnyActiveState(t *testing.T) {
	rec := newRecorder()
	e, err := NewEngine([]Policy{twoLevelPolicy(time.Hour)}, rec.notify, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	inc, _ := e.Trigger("dq-oncall", nil)
	rec.wait(t, time.Second)

	res, err := e.Resolve(inc.ID, "steward")
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateResolved {
		t.Errorf("state: got %q, want %q", res.State, StateResolved)
	}
	if res.ResolvedAt == nil || res.ResolvedBy != "steward" {
		t.Error("resolve metadata not recorded")
	}
	if _, err := e.Resolve(inc.ID, "again"); err == nil {
		t.Error("resolving a resolved incident succeeded, want error")
	}

	// Resolve is also valid after an ack.
	inc2, _ := e.Trigger("dq-oncall", nil)
	rec.wait(t, time.Second)
	e.Acknowledge(inc2.ID, "a")
	if _, err := e.Resolve(inc2.ID, "a"); err != nil {
		t.Errorf("resolve after ack: %v", err)
	}
}

func TestRepeat_RenotifiesBeforeAdvancing(t *testing.T) {
	rec := newRecorder()
	policy := Policy{
		ID: "repeater",
		Levels: []Level{
			{
				Level: 1, Delay: 0, Targets: []string{"slack"},
				RepeatCount: 2, RepeatInterval: 20 * time.Millisecond, RequireAck: true,
			},
			{Level: 2, Delay: 20 * time.Millisecond, Targets: []string{"pagerduty"}, RequireAck: true},
		},
	}
	e, err := NewEngine([]Policy{policy}, rec.notify, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	if _, err := e.Trigger("repeater", nil); err != nil {
		t.Fatal(err)
	}

	// Initial fire plus two repeats at level 1, then level 2.
	for i := 0; i < 3; i++ {
		got := rec.wait(t, time.Second)
		if got.level != 1 {
			t.Fatalf("notification %d at level %d, want 1", i+1, got.level)
		}
	}
	got := rec.wait(t, time.Second)
	if got.level != 2 {
		t.Errorf("final notification at level %d, want 2", got.level)
	}
}

func TestNoAckRequired_ChainStops(t *testing.T) {
	rec := newRecorder()
	policy := Policy{
		ID: "fyi",
		Levels: []Level{
			{Level: 1, Delay: 0, Targets: []string{"slack"}, RequireAck: false},
			{Level: 2, Delay: 10 * time.Millisecond, Targets: []string{"pagerduty"}, RequireAck: true},
		},
	}
	e, err := NewEngine([]Policy{policy}, rec.notify, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	if _, err := e.Trigger("fyi", nil); err != nil {
		t.Fatal(err)
	}
	rec.wait(t, time.Second)

	// require_ack=false on level 1 means the chain never reaches level 2.
	rec.quiet(t, 60*time.Millisecond)
}

func TestDelayedFirstLevel(t *testing.T) {
	rec := newRecorder()
	policy := Policy{
		ID: "slow-start",
		Levels: []Level{
			{Level: 1, Delay: 30 * time.Millisecond, Targets: []string{"slack"}, RequireAck: true},
		},
	}
	e, err := NewEngine([]Policy{policy}, rec.notify, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	inc, err := e.Trigger("slow-start", nil)
	if err != nil {
		t.Fatal(err)
	}
	if inc.State != StatePending {
		t.Errorf("state before first fire: got %q, want %q", inc.State, StatePending)
	}

	rec.wait(t, time.Second)
	got, _ := e.Incident(inc.ID)
	if got.State != StateTriggered {
		t.Errorf("state after first fire: got %q, want %q", got.State, StateTriggered)
	}
}

func TestDelayedFirstLevel_NotifiesBeforeAdvancing(t *testing.T) {
	rec := newRecorder()
	policy := Policy{
		ID: "slow-chain",
		Levels: []Level{
			{Level: 1, Delay: 20 * time.Millisecond, Targets: []string{"slack"}, RequireAck: true},
			{Level: 2, Delay: 20 * time.Millisecond, Targets: []string{"pagerduty"}, RequireAck: true},
		},
	}
	e, err := NewEngine([]Policy{policy}, rec.notify, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	inc, err := e.Trigger("slow-chain", nil)
	if err != nil {
		t.Fatal(err)
	}

	// The first timer fire delivers level 1; only the one after that
	// escalates to level 2.
	first := rec.wait(t, time.Second)
	if first.level != 1 {
		t.Fatalf("first notification level: got %d, want 1", first.level)
	}
	second := rec.wait(t, time.Second)
	if second.level != 2 {
		t.Fatalf("second notification level: got %d, want 2", second.level)
	}

	got, _ := e.Incident(inc.ID)
	if got.State != StateEscalated || got.CurrentLevel != 2 {
		t.Errorf("incident after chain: state %q level %d", got.State, got.CurrentLevel)
	}
}

func TestAcknowledge_BeforeFirstFire(t *testing.T) {
	rec := newRecorder()
	policy := Policy{
		ID: "slow-start",
		Levels: []Level{
			{Level: 1, Delay: 40 * time.Millisecond, Targets: []string{"slack"}, RequireAck: true},
		},
	}
	e, err := NewEngine([]Policy{policy}, rec.notify, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	inc, _ := e.Trigger("slow-start", nil)
	if _, err := e.Acknowledge(inc.ID, "fast"); err != nil {
		t.Fatal(err)
	}
	rec.quiet(t, 100*time.Millisecond)
}

func TestStats(t *testing.T) {
	rec := newRecorder()
	e, err := NewEngine([]Policy{twoLevelPolicy(time.Hour)}, rec.notify, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	a, _ := e.Trigger("dq-oncall", nil)
	b, _ := e.Trigger("dq-oncall", nil)
	rec.wait(t, time.Second)
	rec.wait(t, time.Second)

	e.Acknowledge(a.ID, "x")
	e.Resolve(b.ID, "y")

	s := e.Stats()
	if s.Triggered != 2 {
		t.Errorf("triggered: got %d, want 2", s.Triggered)
	}
	if s.Acknowledged != 1 || s.Resolved != 1 {
		t.Errorf("acknowledged/resolved: got %d/%d, want 1/1", s.Acknowledged, s.Resolved)
	}
	if s.Active != 0 {
		t.Errorf("active: got %d, want 0", s.Active)
	}
}

func TestChangeHook_SeesLifecycle(t *testing.T) {
	var mu sync.Mutex
	var kinds []string
	hook := func(kind string, inc Incident) {
		mu.Lock()
		kinds = append(kinds, kind)
		mu.Unlock()
	}

	rec := newRecorder()
	e, err := NewEngine([]Policy{twoLevelPolicy(time.Hour)}, rec.notify, hook)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	inc, _ := e.Trigger("dq-oncall", nil)
	rec.wait(t, time.Second)
	e.Resolve(inc.ID, "x")

	mu.Lock()
	defer mu.Unlock()
	want := []string{ChangeCreated, ChangeStateChanged, ChangeNotified, ChangeResolved}
	if len(kinds) != len(want) {
		t.Fatalf("change kinds: got %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("change %d: got %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestPolicyValidation(t *testing.T) {
	bad := []Policy{
		{},
		{ID: "p"},
		{ID: "p", Levels: []Level{{Level: 2, Targets: []string{"x"}}}},
		{ID: "p", Levels: []Level{{Level: 1}}},
		{ID: "p", Levels: []Level{{Level: 1, Targets: []string{"x"}, Delay: -time.Second}}},
		{ID: "p", Levels: []Level{{Level: 1, Targets: []string{"x"}, RepeatCount: 2}}},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("policy %d validated, want error", i)
		}
	}
	if _, err := NewEngine(bad[:1], func(Incident, Level) {}, nil); err == nil {
		t.Error("engine accepted an invalid policy")
	}
}
