package rule

import "github.com/driftgate/driftgate/internal/event"

// AllOf matches when every child matches. An empty child list is vacuously
// true. Children are evaluated left to right; evaluation stops at the first
// non-matching child.
type AllOf struct {
	children []Rule
}

// NewAllOf creates an AllOf over the given children.
func NewAllOf(children ...Rule) *AllOf {
	return &AllOf{children: children}
}

func (a *AllOf) Matches(ctx *event.RouteContext) bool {
	for _, child := range a.children {
		if !child.Matches(ctx) {
			return false
		}
	}
	return true
}

func (a *AllOf) Config() RuleConfig {
	return RuleConfig{Type: TypeAllOf, Rules: childConfigs(a.children)}
}

// AnyOf matches when at least one child matches. An empty child list is
// vacuously false. Evaluation stops at the first matching child.
type AnyOf struct {
	children []Rule
}

// NewAnyOf creates an AnyOf over the given children.
func NewAnyOf(children ...Rule) *AnyOf {
	return &AnyOf{children: children}
}

func (a *AnyOf) Matches(ctx *event.RouteContext) bool {
	for _, child := range a.children {
		if child.Matches(ctx) {
			return true
		}
	}
	return false
}

func (a *AnyOf) Config() RuleConfig {
	return RuleConfig{Type: TypeAnyOf, Rules: childConfigs(a.children)}
}

// Not matches when its child does not. A missing child is defined as
// always-false, so Not with no child matches.
type Not struct {
	child Rule
}

// NewNot creates a Not over child. child may be nil.
func NewNot(child Rule) *Not {
	return &Not{child: child}
}

func (n *Not) Matches(ctx *event.RouteContext) bool {
	if n.child == nil {
		return true
	}
	return !n.child.Matches(ctx)
}

func (n *Not) Config() RuleConfig {
	cfg := RuleConfig{Type: TypeNot}
	if n.child != nil {
		child := n.child.Config()
		cfg.Rule = &child
	}
	return cfg
}

func childConfigs(children []Rule) []RuleConfig {
	out := make([]RuleConfig, 0, len(children))
	for _, c := range children {
		out = append(out, c.Config())
	}
	return out
}
