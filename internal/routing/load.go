package routing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/driftgate/driftgate/internal/rule"
)

// CodeInvalidRoute marks route-level (not rule-level) configuration defects.
const CodeInvalidRoute = "invalid_route"

// Defaults are applied to routes that omit the corresponding field.
type Defaults struct {
	Priority    int  `yaml:"priority"`
	StopOnMatch bool `yaml:"stop_on_match"`
}

// RouteSpec is the serialized form of one route. Multiple entries under
// rules combine as an implicit all_of.
type RouteSpec struct {
	Name             string            `yaml:"name"`
	Rules            []rule.RuleConfig `yaml:"rules"`
	Actions          []string          `yaml:"actions"`
	Priority         *int              `yaml:"priority"`
	StopOnMatch      *bool             `yaml:"stop_on_match"`
	IsActive         *bool             `yaml:"is_active"`
	EscalationPolicy string            `yaml:"escalation_policy"`
}

// File is the routing configuration file: named rule definitions, the route
// list, an optional default route, and per-route defaults.
type File struct {
	Defaults     Defaults                   `yaml:"defaults"`
	RuleDefs     map[string]rule.RuleConfig `yaml:"rule_defs"`
	Routes       []RouteSpec                `yaml:"routes"`
	DefaultRoute *RouteSpec                 `yaml:"default_route"`
}

// LoadFile reads and parses the routing file at path. Parsing alone does
// not validate; call Validate before Build.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("routing: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes routing YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("routing: parse yaml: %w", err)
	}
	return &f, nil
}

// Validate checks every route and rule tree in f. The file either
// validates entirely or is rejected entirely; all defects are collected.
func Validate(f *File, v *rule.Validator) rule.ValidationResult {
	var res rule.ValidationResult
	res.Valid = true

	merge := func(r rule.ValidationResult) {
		res.Errors = append(res.Errors, r.Errors...)
		res.RuleCount += r.RuleCount
		if r.MaxDepth > res.MaxDepth {
			res.MaxDepth = r.MaxDepth
		}
	}

	seen := map[string]bool{}
	for i, spec := range f.Routes {
		path := fmt.Sprintf("routes[%d]", i)
		checkRouteShape(&res, spec, path, seen)
		merge(v.Validate(f.RuleDefs, spec.Rules...))
	}
	if f.DefaultRoute != nil {
		checkRouteShape(&res, *f.DefaultRoute, "default_route", seen)
		merge(v.Validate(f.RuleDefs, f.DefaultRoute.Rules...))
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func checkRouteShape(res *rule.ValidationResult, spec RouteSpec, path string, seen map[string]bool) {
	fail := func(format string, args ...any) {
		res.Errors = append(res.Errors, rule.ValidationError{
			Code:    CodeInvalidRoute,
			Path:    path,
			Message: fmt.Sprintf(format, args...),
		})
	}
	if spec.Name == "" {
		fail("route has no name")
	} else if seen[spec.Name] {
		fail("duplicate route name %q", spec.Name)
	} else {
		seen[spec.Name] = true
	}
	// The non-empty actions invariant: after validation passes, every
	// route can actually notify someone.
	if len(spec.Actions) == 0 {
		fail("route %q has no actions", spec.Name)
	}
}

// Build constructs the runtime routes from a validated file. Build errors
// should not occur for configs that passed Validate; they are returned for
// defense against skipped validation.
func Build(f *File, reg *rule.Registry) ([]*Route, *Route, error) {
	routes := make([]*Route, 0, len(f.Routes))
	for i, spec := range f.Routes {
		rt, err := buildRoute(spec, f, reg)
		if err != nil {
			return nil, nil, fmt.Errorf("routes[%d] %q: %w", i, spec.Name, err)
		}
		routes = append(routes, rt)
	}

	var def *Route
	if f.DefaultRoute != nil {
		rt, err := buildRoute(*f.DefaultRoute, f, reg)
		if err != nil {
			return nil, nil, fmt.Errorf("default_route: %w", err)
		}
		def = rt
	}
	return routes, def, nil
}

func buildRoute(spec RouteSpec, f *File, reg *rule.Registry) (*Route, error) {
	// A single rule stands on its own; multiple entries combine as an
	// implicit all_of. The unwrapped form keeps Config() round-trippable to
	// what the file actually said.
	cfg := rule.RuleConfig{Type: rule.TypeAllOf, Rules: spec.Rules}
	if len(spec.Rules) == 1 {
		cfg = spec.Rules[0]
	}
	r, err := rule.Build(reg, f.RuleDefs, cfg)
	if err != nil {
		return nil, err
	}

	rt := &Route{
		Name:             spec.Name,
		Rule:             r,
		Actions:          append([]string(nil), spec.Actions...),
		Priority:         f.Defaults.Priority,
		StopOnMatch:      f.Defaults.StopOnMatch,
		IsActive:         true,
		EscalationPolicy: spec.EscalationPolicy,
	}
	if spec.Priority != nil {
		rt.Priority = *spec.Priority
	}
	if spec.StopOnMatch != nil {
		rt.StopOnMatch = *spec.StopOnMatch
	}
	if spec.IsActive != nil {
		rt.IsActive = *spec.IsActive
	}
	return rt, nil
}
