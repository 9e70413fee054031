package rule

import (
	"fmt"
	"log/slog"

	"github.com/driftgate/driftgate/internal/event"
	"github.com/driftgate/driftgate/internal/expreval"
)

// DynamicRule is a rule whose condition is user-supplied source text rather
// than structured params. Both the whitelist expression tier and the
// denylist template tier implement it, so combinators and the router treat
// the two uniformly.
type DynamicRule interface {
	Rule

	// Source returns the condition source text.
	Source() string

	// Trusted reports whether the rule belongs to the whitelist-checked
	// tier. Template rules report false.
	Trusted() bool
}

// Env flattens a RouteContext into the evaluation environment shared by
// both dynamic tiers.
func Env(ctx *event.RouteContext) map[string]any {
	return map[string]any{
		"event_type":    ctx.EventType,
		"source_id":     ctx.SourceID,
		"source_name":   ctx.SourceName,
		"severity":      ctx.Severity,
		"status":        ctx.Status,
		"data_asset":    ctx.DataAsset,
		"error_message": ctx.ErrorMessage,
		"issue_count":   ctx.IssueCount,
		"pass_rate":     ctx.PassRate,
		"tags":          ctx.Tags,
		"metadata":      ctx.Metadata,
		"timestamp":     ctx.Timestamp,
		"hour":          ctx.Timestamp.Hour(),
		"weekday":       int(ctx.Timestamp.Weekday()),
	}
}

type expressionRule struct {
	source string
	eval   *expreval.Evaluator
}

func newExpressionRule(eval *expreval.Evaluator, params map[string]any) (Rule, error) {
	source := paramString(params, "source")
	if source == "" {
		return nil, fmt.Errorf("expression: source is required")
	}
	if err := eval.Check(source); err != nil {
		return nil, fmt.Errorf("expression: %w", err)
	}
	return &expressionRule{source: source, eval: eval}, nil
}

func (r *expressionRule) Matches(ctx *event.RouteContext) bool {
	ok, err := r.eval.EvalBool(r.source, Env(ctx))
	if err != nil {
		// Fail closed: a broken expression never matches.
		slog.Warn("rule: expression evaluation failed", "source", r.source, "err", err)
		return false
	}
	return ok
}

func (r *expressionRule) Config() RuleConfig {
	return RuleConfig{Type: "expression", Params: map[string]any{"source": r.source}}
}

func (r *expressionRule) Source() string { return r.source }
func (r *expressionRule) Trusted() bool  { return true }

type templateRule struct {
	source string
	eval   *expreval.TemplateEvaluator
}

func newTemplateRule(eval *expreval.TemplateEvaluator, params map[string]any) (Rule, error) {
	source := paramString(params, "source")
	if source == "" {
		return nil, fmt.Errorf("template: source is required")
	}
	if err := eval.Check(source); err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	return &templateRule{source: source, eval: eval}, nil
}

func (r *templateRule) Matches(ctx *event.RouteContext) bool {
	ok, err := r.eval.EvalBool(r.source, Env(ctx))
	if err != nil {
		slog.Warn("rule: template evaluation failed", "source", r.source, "err", err)
		return false
	}
	return ok
}

func (r *templateRule) Config() RuleConfig {
	return RuleConfig{Type: "template", Params: map[string]any{"source": r.source}}
}

func (r *templateRule) Source() string { return r.source }
func (r *templateRule) Trusted() bool  { return false }
