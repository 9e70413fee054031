package rule

import (
	"fmt"
	"sort"

	"github.com/driftgate/driftgate/internal/event"
	"github.com/driftgate/driftgate/internal/expreval"
)

// Combinator and reference type tags. Leaf tags live with their constructors.
const (
	TypeAllOf = "all_of"
	TypeAnyOf = "any_of"
	TypeNot   = "not"
	TypeRef   = "ref"
)

// Rule is a side-effect-free predicate over a RouteContext.
type Rule interface {
	// Matches reports whether the rule matches the given context.
	// Implementations must not mutate ctx and must not panic; dynamic
	// rules swallow evaluation errors and report false.
	Matches(ctx *event.RouteContext) bool

	// Config returns the configuration this rule was built from, suitable
	// for round-tripping through Build.
	Config() RuleConfig
}

// RuleConfig is the serialized form of a rule tree (YAML or JSON).
// Combinators use Rules/Rule; leaves use Params.
type RuleConfig struct {
	Type   string         `yaml:"type" json:"type"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Rules  []RuleConfig   `yaml:"rules,omitempty" json:"rules,omitempty"`
	Rule   *RuleConfig    `yaml:"rule,omitempty" json:"rule,omitempty"`
}

// ParamSpec describes one parameter of a leaf rule type.
type ParamSpec struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// Schema is the static parameter schema of a leaf rule type.
type Schema map[string]ParamSpec

// Constructor builds a leaf rule from its params.
type Constructor func(params map[string]any) (Rule, error)

// Registry maps leaf rule type tags to constructors and schemas. It is an
// explicit value built at startup and passed by reference into the builder,
// validator, and router — new leaf types register here without touching
// combinator or routing code.
type Registry struct {
	constructors map[string]Constructor
	schemas      map[string]Schema
}

// NewRegistry creates a Registry with all built-in leaf rule types
// registered. The dynamic tiers share the provided evaluators.
func NewRegistry(exprEval *expreval.Evaluator, tmplEval *expreval.TemplateEvaluator) *Registry {
	r := &Registry{
		constructors: map[string]Constructor{},
		schemas:      map[string]Schema{},
	}
	registerBuiltins(r, exprEval, tmplEval)
	return r
}

// Register adds a leaf rule type. Registering an existing tag replaces it.
func (r *Registry) Register(name string, schema Schema, ctor Constructor) {
	r.constructors[name] = ctor
	r.schemas[name] = schema
}

// Has reports whether a leaf type tag is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.constructors[name]
	return ok
}

// Schema returns the parameter schema for a registered leaf type.
func (r *Registry) Schema(name string) (Schema, bool) {
	s, ok := r.schemas[name]
	return s, ok
}

// Types returns all registered leaf type tags, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build constructs a Rule tree from cfg. defs holds named rule definitions
// that `ref` rules resolve against; refs are expanded inline. Build assumes
// cfg has passed validation but still guards against ref cycles so a bad
// config cannot recurse forever.
func Build(reg *Registry, defs map[string]RuleConfig, cfg RuleConfig) (Rule, error) {
	return build(reg, defs, cfg, map[string]bool{})
}

func build(reg *Registry, defs map[string]RuleConfig, cfg RuleConfig, inPath map[string]bool) (Rule, error) {
	switch cfg.Type {
	case TypeAllOf, TypeAnyOf:
		children := make([]Rule, 0, len(cfg.Rules))
		for i, child := range cfg.Rules {
			r, err := build(reg, defs, child, inPath)
			if err != nil {
				return nil, fmt.Errorf("%s.rules[%d]: %w", cfg.Type, i, err)
			}
			children = append(children, r)
		}
		if cfg.Type == TypeAllOf {
			return &AllOf{children: children}, nil
		}
		return &AnyOf{children: children}, nil

	case TypeNot:
		n := &Not{}
		if cfg.Rule != nil {
			r, err := build(reg, defs, *cfg.Rule, inPath)
			if err != nil {
				return nil, fmt.Errorf("not.rule: %w", err)
			}
			n.child = r
		}
		return n, nil

	case TypeRef:
		name, _ := cfg.Params["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("ref: missing name param")
		}
		def, ok := defs[name]
		if !ok {
			return nil, fmt.Errorf("ref: unknown rule definition %q", name)
		}
		if inPath[name] {
			return nil, fmt.Errorf("ref: circular reference through %q", name)
		}
		inPath[name] = true
		r, err := build(reg, defs, def, inPath)
		delete(inPath, name)
		if err != nil {
			return nil, fmt.Errorf("ref %q: %w", name, err)
		}
		return r, nil

	default:
		ctor, ok := reg.constructors[cfg.Type]
		if !ok {
			return nil, fmt.Errorf("unknown rule type %q", cfg.Type)
		}
		return ctor(cfg.Params)
	}
}

// --- param extraction helpers -----------------------------------------------

func paramString(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func paramStrings(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func paramInt(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func paramFloat(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
