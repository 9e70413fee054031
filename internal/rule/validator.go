package rule

import (
	"fmt"
	"sort"
	"strings"
)

// Validation error codes.
const (
	CodeInvalidShape   = "invalid_shape"
	CodeUnknownType    = "unknown_type"
	CodeMissingParam   = "missing_param"
	CodeReservedParam  = "reserved_param"
	CodeInvalidParams  = "invalid_params"
	CodeMaxDepth       = "max_depth_exceeded"
	CodeMaxChildren    = "max_children_exceeded"
	CodeMaxRules       = "max_rules_exceeded"
	CodeCircularRef    = "circular_reference"
	CodeUnknownRuleRef = "unknown_rule_ref"
)

// reservedParams are field names that carry structural meaning and must not
// appear inside a rule's params map.
var reservedParams = []string{"type", "rules", "rule", "params"}

// Limits bounds the shape of a rule configuration tree.
type Limits struct {
	MaxDepth    int
	MaxChildren int
	MaxRules    int
}

// DefaultLimits are applied when a Limits field is zero.
var DefaultLimits = Limits{MaxDepth: 10, MaxChildren: 20, MaxRules: 200}

// ValidationError is one typed configuration defect with its tree path.
type ValidationError struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s at %s: %s", e.Code, e.Path, e.Message)
}

// ValidationResult is the outcome of validating a rule configuration tree.
// A config either validates entirely or is rejected entirely.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Errors    []ValidationError `json:"errors,omitempty"`
	RuleCount int               `json:"rule_count"`
	MaxDepth  int               `json:"max_depth"`
}

// Validator checks raw rule configuration trees against a registry, named
// definitions, and structural limits. Validation is exhaustive: all defects
// are collected, not just the first.
type Validator struct {
	reg    *Registry
	limits Limits
}

// NewValidator creates a Validator. Zero limits fields fall back to
// DefaultLimits.
func NewValidator(reg *Registry, limits Limits) *Validator {
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = DefaultLimits.MaxDepth
	}
	if limits.MaxChildren <= 0 {
		limits.MaxChildren = DefaultLimits.MaxChildren
	}
	if limits.MaxRules <= 0 {
		limits.MaxRules = DefaultLimits.MaxRules
	}
	return &Validator{reg: reg, limits: limits}
}

// Validate checks every tree in cfgs (with defs available for ref
// resolution) and returns the aggregate result.
func (v *Validator) Validate(defs map[string]RuleConfig, cfgs ...RuleConfig) ValidationResult {
	w := &walker{v: v, defs: defs, onPath: map[string]bool{}}
	for i, cfg := range cfgs {
		w.walk(cfg, fmt.Sprintf("rules[%d]", i), 1)
	}
	res := ValidationResult{
		Valid:     len(w.errs) == 0,
		Errors:    w.errs,
		RuleCount: w.count,
		MaxDepth:  w.maxDepth,
	}
	if w.count > v.limits.MaxRules {
		res.Valid = false
		res.Errors = append(res.Errors, ValidationError{
			Code:    CodeMaxRules,
			Path:    "rules",
			Message: fmt.Sprintf("%d rules exceed the limit of %d", w.count, v.limits.MaxRules),
		})
	}
	return res
}

type walker struct {
	v    *Validator
	defs map[string]RuleConfig

	// onPath is the path-scoped visited set for circular-reference
	// detection. Identifiers are pushed on entry and popped on exit, so
	// two structurally identical sibling subtrees are not misreported as
	// a cycle.
	onPath map[string]bool

	errs     []ValidationError
	count    int
	maxDepth int
}

func (w *walker) fail(code, path, format string, args ...any) {
	w.errs = append(w.errs, ValidationError{
		Code:    code,
		Path:    path,
		Message: fmt.Sprintf(format, args...),
	})
}

func (w *walker) walk(cfg RuleConfig, path string, depth int) {
	w.count++
	if depth > w.maxDepth {
		w.maxDepth = depth
	}
	if depth > w.v.limits.MaxDepth {
		w.fail(CodeMaxDepth, path, "nesting depth %d exceeds the limit of %d", depth, w.v.limits.MaxDepth)
		return
	}

	if cfg.Type == "" {
		w.fail(CodeInvalidShape, path, "rule has no type")
		return
	}

	id := nodeID(cfg, path)
	if w.onPath[id] {
		w.fail(CodeCircularRef, path, "circular reference through %q", cfg.Type)
		return
	}
	w.onPath[id] = true
	defer delete(w.onPath, id)

	switch cfg.Type {
	case TypeAllOf, TypeAnyOf:
		if cfg.Rule != nil {
			w.fail(CodeInvalidShape, path, "%s takes rules, not rule", cfg.Type)
		}
		if len(cfg.Rules) > w.v.limits.MaxChildren {
			w.fail(CodeMaxChildren, path, "%d children exceed the limit of %d", len(cfg.Rules), w.v.limits.MaxChildren)
			return
		}
		for i, child := range cfg.Rules {
			w.walk(child, fmt.Sprintf("%s.rules[%d]", path, i), depth+1)
		}

	case TypeNot:
		if len(cfg.Rules) > 0 {
			w.fail(CodeInvalidShape, path, "not takes rule, not rules")
		}
		// A missing child is legal: not of a missing rule is always true.
		if cfg.Rule != nil {
			w.walk(*cfg.Rule, path+".rule", depth+1)
		}

	case TypeRef:
		w.checkLeafShape(cfg, path)
		name := paramString(cfg.Params, "name")
		if name == "" {
			return // missing_param already recorded by checkLeafShape
		}
		def, ok := w.defs[name]
		if !ok {
			w.fail(CodeUnknownRuleRef, path, "rule definition %q does not exist", name)
			return
		}
		w.walk(def, fmt.Sprintf("%s->%s", path, name), depth+1)

	default:
		w.checkLeafShape(cfg, path)
	}
}

// checkLeafShape runs the leaf-level checks in spec order: type existence,
// required params, reserved names, then constructor-level param validation.
func (w *walker) checkLeafShape(cfg RuleConfig, path string) {
	if len(cfg.Rules) > 0 || cfg.Rule != nil {
		w.fail(CodeInvalidShape, path, "leaf rule %q must not have child rules", cfg.Type)
	}

	schema, ok := w.v.reg.Schema(cfg.Type)
	if !ok {
		w.fail(CodeUnknownType, path, "rule type %q is not registered (known: %s)",
			cfg.Type, strings.Join(w.v.reg.Types(), ", "))
		return
	}

	missing := false
	for _, name := range sortedKeys(schema) {
		spec := schema[name]
		if spec.Required {
			if _, ok := cfg.Params[name]; !ok {
				w.fail(CodeMissingParam, path, "rule type %q requires param %q", cfg.Type, name)
				missing = true
			}
		}
	}
	for _, name := range reservedParams {
		if _, ok := cfg.Params[name]; ok {
			w.fail(CodeReservedParam, path, "param name %q is reserved", name)
			return
		}
	}
	if missing || cfg.Type == TypeRef {
		return
	}

	// Constructor-level validation catches bad operators, malformed
	// patterns, and rejected dynamic sources.
	if ctor, ok := w.v.reg.constructors[cfg.Type]; ok {
		if _, err := ctor(cfg.Params); err != nil {
			w.fail(CodeInvalidParams, path, "%v", err)
		}
	}
}

// nodeID derives a cycle-detection identifier: type plus canonical params
// for leaves and refs, type plus structural path for combinators.
func nodeID(cfg RuleConfig, path string) string {
	switch cfg.Type {
	case TypeAllOf, TypeAnyOf, TypeNot:
		return cfg.Type + "@" + path
	case TypeRef:
		return "ref:" + paramString(cfg.Params, "name")
	default:
		return cfg.Type + "{" + canonicalParams(cfg.Params) + "}"
	}
}

func canonicalParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=%v", k, params[k])
	}
	return sb.String()
}

func sortedKeys(s Schema) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
