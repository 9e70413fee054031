package rule

import (
	"reflect"
	"testing"
	"time"

	"github.com/driftgate/driftgate/internal/expreval"
)

func newTestRegistry() *Registry {
	return NewRegistry(expreval.New(), expreval.NewTemplateEvaluator())
}

func mustBuild(t *testing.T, reg *Registry, cfg RuleConfig) Rule {
	t.Helper()
	r, err := Build(reg, nil, cfg)
	if err != nil {
		t.Fatalf("Build(%s): %v", cfg.Type, err)
	}
	return r
}

func TestLeafRules(t *testing.T) {
	reg := newTestRegistry()
	ctx := testCtx() // high severity, 7 issues, pass_rate 0.62, tags prod+finance

	tests := []struct {
		name string
		cfg  RuleConfig
		want bool
	}{
		{"always", RuleConfig{Type: "always"}, true},
		{"never", RuleConfig{Type: "never"}, false},

		{"severity min met", RuleConfig{Type: "severity", Params: map[string]any{"min": "medium"}}, true},
		{"severity min not met", RuleConfig{Type: "severity", Params: map[string]any{"min": "critical"}}, false},
		{"severity levels hit", RuleConfig{Type: "severity", Params: map[string]any{"levels": []string{"high", "critical"}}}, true},
		{"severity levels miss", RuleConfig{Type: "severity", Params: map[string]any{"levels": []string{"info"}}}, false},

		{"issue_count default gte", RuleConfig{Type: "issue_count", Params: map[string]any{"value": 5}}, true},
		{"issue_count gt miss", RuleConfig{Type: "issue_count", Params: map[string]any{"op": "gt", "value": 7}}, false},
		{"issue_count eq", RuleConfig{Type: "issue_count", Params: map[string]any{"op": "eq", "value": 7}}, true},

		{"pass_rate default lt", RuleConfig{Type: "pass_rate", Params: map[string]any{"value": 0.9}}, true},
		{"pass_rate lt miss", RuleConfig{Type: "pass_rate", Params: map[string]any{"value": 0.5}}, false},

		{"tag any hit", RuleConfig{Type: "tag", Params: map[string]any{"any": []string{"staging", "prod"}}}, true},
		{"tag any miss", RuleConfig{Type: "tag", Params: map[string]any{"any": []string{"staging"}}}, false},
		{"tag all hit", RuleConfig{Type: "tag", Params: map[string]any{"all": []string{"prod", "finance"}}}, true},
		{"tag all miss", RuleConfig{Type: "tag", Params: map[string]any{"all": []string{"prod", "pii"}}}, false},

		{"data_asset exact", RuleConfig{Type: "data_asset", Params: map[string]any{"assets": []string{"warehouse.orders"}}}, true},
		{"data_asset glob", RuleConfig{Type: "data_asset", Params: map[string]any{"pattern": "warehouse.*"}}, true},
		{"data_asset glob miss", RuleConfig{Type: "data_asset", Params: map[string]any{"pattern": "lake.*"}}, false},

		{"metadata eq", RuleConfig{Type: "metadata", Params: map[string]any{"key": "owner", "value": "data-eng"}}, true},
		{"metadata ne on missing key", RuleConfig{Type: "metadata", Params: map[string]any{"key": "absent", "op": "ne", "value": "x"}}, true},
		{"metadata gt", RuleConfig{Type: "metadata", Params: map[string]any{"key": "retries", "op": "gt", "value": 2}}, true},
		{"metadata contains", RuleConfig{Type: "metadata", Params: map[string]any{"key": "owner", "op": "contains", "value": "eng"}}, true},

		{"status hit", RuleConfig{Type: "status", Params: map[string]any{"in": []string{"failed", "errored"}}}, true},
		{"status miss", RuleConfig{Type: "status", Params: map[string]any{"in": []string{"passed"}}}, false},

		{"error_pattern miss on empty message", RuleConfig{Type: "error_pattern", Params: map[string]any{"pattern": "timeout"}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := mustBuild(t, reg, tc.cfg).Matches(ctx); got != tc.want {
				t.Errorf("Matches: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestErrorPattern(t *testing.T) {
	reg := newTestRegistry()
	ctx := testCtx()
	ctx.ErrorMessage = "connection timeout after 30s"

	r := mustBuild(t, reg, RuleConfig{Type: "error_pattern", Params: map[string]any{"pattern": `timeout after \d+s`}})
	if !r.Matches(ctx) {
		t.Error("error_pattern: got false, want true")
	}

	if _, err := Build(reg, nil, RuleConfig{Type: "error_pattern", Params: map[string]any{"pattern": "("}}); err == nil {
		t.Error("bad regexp accepted, want constructor error")
	}
}

func TestTimeWindow(t *testing.T) {
	reg := newTestRegistry()

	tests := []struct {
		name   string
		params map[string]any
		at     time.Time
		want   bool
	}{
		{
			"inside business hours",
			map[string]any{"start": "09:00", "end": "17:00"},
			time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC), // Wednesday
			true,
		},
		{
			"outside business hours",
			map[string]any{"start": "09:00", "end": "17:00"},
			time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC),
			false,
		},
		{
			"wraps past midnight, late evening",
			map[string]any{"start": "22:00", "end": "06:00"},
			time.Date(2026, 3, 4, 23, 15, 0, 0, time.UTC),
			true,
		},
		{
			"wraps past midnight, early morning",
			map[string]any{"start": "22:00", "end": "06:00"},
			time.Date(2026, 3, 4, 5, 0, 0, 0, time.UTC),
			true,
		},
		{
			"wraps past midnight, midday miss",
			map[string]any{"start": "22:00", "end": "06:00"},
			time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
			false,
		},
		{
			"weekday filter miss",
			map[string]any{"days": []string{"sat", "sun"}},
			time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC), // Wednesday
			false,
		},
		{
			"weekday filter hit",
			map[string]any{"days": []string{"wed"}},
			time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
			true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testCtx()
			ctx.Timestamp = tc.at
			r := mustBuild(t, reg, RuleConfig{Type: "time_window", Params: tc.params})
			if got := r.Matches(ctx); got != tc.want {
				t.Errorf("Matches at %s: got %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

// TestConfigRoundTrip rebuilds every built-in leaf type from its own
// Config() output and verifies identical matching behavior on a
// representative context.
func TestConfigRoundTrip(t *testing.T) {
	reg := newTestRegistry()
	ctx := testCtx()
	ctx.ErrorMessage = "schema drift detected"

	cfgs := []RuleConfig{
		{Type: "always"},
		{Type: "never"},
		{Type: "severity", Params: map[string]any{"min": "medium"}},
		{Type: "severity", Params: map[string]any{"levels": []string{"high"}}},
		{Type: "issue_count", Params: map[string]any{"op": "gte", "value": 5}},
		{Type: "pass_rate", Params: map[string]any{"op": "lt", "value": 0.9}},
		{Type: "time_window", Params: map[string]any{"start": "09:00", "end": "17:00"}},
		{Type: "tag", Params: map[string]any{"any": []string{"prod"}}},
		{Type: "data_asset", Params: map[string]any{"pattern": "warehouse.*"}},
		{Type: "metadata", Params: map[string]any{"key": "owner", "op": "eq", "value": "data-eng"}},
		{Type: "status", Params: map[string]any{"in": []string{"failed"}}},
		{Type: "error_pattern", Params: map[string]any{"pattern": "drift"}},
		{Type: "expression", Params: map[string]any{"source": "issue_count > 3 and severity == \"high\""}},
		{Type: "template", Params: map[string]any{"source": "{{if gt .issue_count 3}}true{{end}}"}},
		{Type: TypeAllOf, Rules: []RuleConfig{{Type: "always"}, {Type: "status", Params: map[string]any{"in": []string{"failed"}}}}},
		{Type: TypeNot, Rule: &RuleConfig{Type: "never"}},
	}

	for _, cfg := range cfgs {
		t.Run(cfg.Type, func(t *testing.T) {
			original := mustBuild(t, reg, cfg)
			rebuilt := mustBuild(t, reg, original.Config())

			if got, want := rebuilt.Matches(ctx), original.Matches(ctx); got != want {
				t.Errorf("rebuilt rule matches=%v, original matches=%v", got, want)
			}
			if !reflect.DeepEqual(rebuilt.Config(), original.Config()) {
				t.Errorf("Config not stable:\n got %+v\nwant %+v", rebuilt.Config(), original.Config())
			}
		})
	}
}

func TestRegistry_Extensible(t *testing.T) {
	reg := newTestRegistry()
	reg.Register("weekend", Schema{}, func(map[string]any) (Rule, error) {
		return NewAnyOf(), nil // never matches; behavior is irrelevant here
	})

	if !reg.Has("weekend") {
		t.Fatal("Has(weekend): got false after Register")
	}
	// The combinator and builder code paths need no changes for a new leaf.
	cfg := RuleConfig{Type: TypeAllOf, Rules: []RuleConfig{{Type: "weekend"}}}
	if _, err := Build(reg, nil, cfg); err != nil {
		t.Fatalf("Build with registered custom type: %v", err)
	}
}

func TestBuild_RefExpansion(t *testing.T) {
	reg := newTestRegistry()
	defs := map[string]RuleConfig{
		"prod_only": {Type: "tag", Params: map[string]any{"any": []string{"prod"}}},
	}

	r, err := Build(reg, defs, RuleConfig{Type: TypeRef, Params: map[string]any{"name": "prod_only"}})
	if err != nil {
		t.Fatalf("Build ref: %v", err)
	}
	if !r.Matches(testCtx()) {
		t.Error("ref rule: got false, want true")
	}
}

func TestBuild_RefCycleRejected(t *testing.T) {
	reg := newTestRegistry()
	defs := map[string]RuleConfig{
		"a": {Type: TypeAllOf, Rules: []RuleConfig{{Type: TypeRef, Params: map[string]any{"name": "b"}}}},
		"b": {Type: TypeRef, Params: map[string]any{"name": "a"}},
	}

	if _, err := Build(reg, defs, RuleConfig{Type: TypeRef, Params: map[string]any{"name": "a"}}); err == nil {
		t.Fatal("Build with ref cycle: got nil error")
	}
}
