package rule

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/driftgate/driftgate/internal/event"
	"github.com/driftgate/driftgate/internal/expreval"
)

// registerBuiltins installs every built-in leaf rule type into r.
func registerBuiltins(r *Registry, exprEval *expreval.Evaluator, tmplEval *expreval.TemplateEvaluator) {
	r.Register("always", Schema{}, func(map[string]any) (Rule, error) {
		return alwaysRule{}, nil
	})
	r.Register("never", Schema{}, func(map[string]any) (Rule, error) {
		return neverRule{}, nil
	})
	r.Register("severity", Schema{
		"min":    {Type: "string", Description: "minimum severity (info|low|medium|high|critical)"},
		"levels": {Type: "[]string", Description: "explicit severity set; overrides min"},
	}, newSeverityRule)
	r.Register("issue_count", Schema{
		"op":    {Type: "string", Description: "comparison operator: gt|gte|lt|lte|eq (default gte)"},
		"value": {Type: "int", Required: true, Description: "threshold"},
	}, newIssueCountRule)
	r.Register("pass_rate", Schema{
		"op":    {Type: "string", Description: "comparison operator: gt|gte|lt|lte|eq (default lt)"},
		"value": {Type: "float", Required: true, Description: "threshold in [0,1]"},
	}, newPassRateRule)
	r.Register("time_window", Schema{
		"start": {Type: "string", Description: "window start, HH:MM (default 00:00)"},
		"end":   {Type: "string", Description: "window end, HH:MM (default 24:00)"},
		"days":  {Type: "[]string", Description: "weekdays (mon..sun); empty means every day"},
	}, newTimeWindowRule)
	r.Register("tag", Schema{
		"any": {Type: "[]string", Description: "match if the event carries any of these tags"},
		"all": {Type: "[]string", Description: "match only if the event carries all of these tags"},
	}, newTagRule)
	r.Register("data_asset", Schema{
		"pattern": {Type: "string", Description: "glob pattern matched against the asset name"},
		"assets":  {Type: "[]string", Description: "explicit asset names"},
	}, newDataAssetRule)
	r.Register("metadata", Schema{
		"key":   {Type: "string", Required: true, Description: "metadata key to inspect"},
		"op":    {Type: "string", Description: "eq|ne|contains|gt|lt (default eq)"},
		"value": {Type: "any", Required: true, Description: "comparison operand"},
	}, newMetadataRule)
	r.Register("status", Schema{
		"in": {Type: "[]string", Required: true, Description: "status values that match"},
	}, newStatusRule)
	r.Register("error_pattern", Schema{
		"pattern": {Type: "string", Required: true, Description: "regexp applied to the error message"},
	}, newErrorPatternRule)
	r.Register("expression", Schema{
		"source": {Type: "string", Required: true, Description: "sandboxed boolean expression"},
	}, func(params map[string]any) (Rule, error) {
		return newExpressionRule(exprEval, params)
	})
	r.Register("template", Schema{
		"source": {Type: "string", Required: true, Description: "template condition (lower-trust tier)"},
	}, func(params map[string]any) (Rule, error) {
		return newTemplateRule(tmplEval, params)
	})
	// ref is resolved by the builder, registered here only so type-existence
	// checks and schema listings include it.
	r.Register(TypeRef, Schema{
		"name": {Type: "string", Required: true, Description: "named rule definition to reuse"},
	}, func(params map[string]any) (Rule, error) {
		return nil, fmt.Errorf("ref rules are resolved by Build, not constructed directly")
	})
}

// --- always / never ---------------------------------------------------------

type alwaysRule struct{}

func (alwaysRule) Matches(*event.RouteContext) bool { return true }
func (alwaysRule) Config() RuleConfig               { return RuleConfig{Type: "always"} }

type neverRule struct{}

func (neverRule) Matches(*event.RouteContext) bool { return false }
func (neverRule) Config() RuleConfig               { return RuleConfig{Type: "never"} }

// --- severity ---------------------------------------------------------------

type severityRule struct {
	min    string
	levels []string
}

func newSeverityRule(params map[string]any) (Rule, error) {
	r := &severityRule{
		min:    paramString(params, "min"),
		levels: paramStrings(params, "levels"),
	}
	if r.min == "" && len(r.levels) == 0 {
		return nil, fmt.Errorf("severity: one of min or levels is required")
	}
	if r.min != "" && event.SeverityRank(r.min) == 0 {
		return nil, fmt.Errorf("severity: unknown level %q", r.min)
	}
	return r, nil
}

func (r *severityRule) Matches(ctx *event.RouteContext) bool {
	if len(r.levels) > 0 {
		for _, l := range r.levels {
			if ctx.Severity == l {
				return true
			}
		}
		return false
	}
	return event.SeverityRank(ctx.Severity) >= event.SeverityRank(r.min)
}

func (r *severityRule) Config() RuleConfig {
	params := map[string]any{}
	if r.min != "" {
		params["min"] = r.min
	}
	if len(r.levels) > 0 {
		params["levels"] = r.levels
	}
	return RuleConfig{Type: "severity", Params: params}
}

// --- numeric thresholds -----------------------------------------------------

func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case "gt":
		return v > threshold
	case "gte":
		return v >= threshold
	case "lt":
		return v < threshold
	case "lte":
		return v <= threshold
	case "eq":
		return v == threshold
	}
	return false
}

func validOp(op string) bool {
	switch op {
	case "gt", "gte", "lt", "lte", "eq":
		return true
	}
	return false
}

type issueCountRule struct {
	op    string
	value int
}

func newIssueCountRule(params map[string]any) (Rule, error) {
	value, ok := paramInt(params, "value")
	if !ok {
		return nil, fmt.Errorf("issue_count: value is required")
	}
	op := paramString(params, "op")
	if op == "" {
		op = "gte"
	}
	if !validOp(op) {
		return nil, fmt.Errorf("issue_count: unknown op %q", op)
	}
	return &issueCountRule{op: op, value: value}, nil
}

func (r *issueCountRule) Matches(ctx *event.RouteContext) bool {
	return compareFloat(float64(ctx.IssueCount), r.op, float64(r.value))
}

func (r *issueCountRule) Config() RuleConfig {
	return RuleConfig{Type: "issue_count", Params: map[string]any{"op": r.op, "value": r.value}}
}

type passRateRule struct {
	op    string
	value float64
}

func newPassRateRule(params map[string]any) (Rule, error) {
	value, ok := paramFloat(params, "value")
	if !ok {
		return nil, fmt.Errorf("pass_rate: value is required")
	}
	op := paramString(params, "op")
	if op == "" {
		op = "lt"
	}
	if !validOp(op) {
		return nil, fmt.Errorf("pass_rate: unknown op %q", op)
	}
	return &passRateRule{op: op, value: value}, nil
}

func (r *passRateRule) Matches(ctx *event.RouteContext) bool {
	return compareFloat(ctx.PassRate, r.op, r.value)
}

func (r *passRateRule) Config() RuleConfig {
	return RuleConfig{Type: "pass_rate", Params: map[string]any{"op": r.op, "value": r.value}}
}

// --- time_window ------------------------------------------------------------

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

type timeWindowRule struct {
	start, end int // minutes of day; end may exceed start (wrap handled)
	days       map[time.Weekday]bool
	rawStart   string
	rawEnd     string
	rawDays    []string
}

func newTimeWindowRule(params map[string]any) (Rule, error) {
	r := &timeWindowRule{
		rawStart: paramString(params, "start"),
		rawEnd:   paramString(params, "end"),
		rawDays:  paramStrings(params, "days"),
		end:      24 * 60,
	}
	var err error
	if r.rawStart != "" {
		if r.start, err = parseClock(r.rawStart); err != nil {
			return nil, fmt.Errorf("time_window: start: %w", err)
		}
	}
	if r.rawEnd != "" {
		if r.end, err = parseClock(r.rawEnd); err != nil {
			return nil, fmt.Errorf("time_window: end: %w", err)
		}
	}
	if len(r.rawDays) > 0 {
		r.days = map[time.Weekday]bool{}
		for _, d := range r.rawDays {
			wd, ok := weekdays[strings.ToLower(d)]
			if !ok {
				return nil, fmt.Errorf("time_window: unknown day %q", d)
			}
			r.days[wd] = true
		}
	}
	return r, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 24 || m < 0 || m > 59 {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return h*60 + m, nil
}

func (r *timeWindowRule) Matches(ctx *event.RouteContext) bool {
	ts := ctx.Timestamp
	if r.days != nil && !r.days[ts.Weekday()] {
		return false
	}
	minute := ts.Hour()*60 + ts.Minute()
	if r.start <= r.end {
		return minute >= r.start && minute < r.end
	}
	// Window wraps past midnight, e.g. 22:00–06:00.
	return minute >= r.start || minute < r.end
}

func (r *timeWindowRule) Config() RuleConfig {
	params := map[string]any{}
	if r.rawStart != "" {
		params["start"] = r.rawStart
	}
	if r.rawEnd != "" {
		params["end"] = r.rawEnd
	}
	if len(r.rawDays) > 0 {
		params["days"] = r.rawDays
	}
	return RuleConfig{Type: "time_window", Params: params}
}

// --- tag --------------------------------------------------------------------

type tagRule struct {
	any []string
	all []string
}

func newTagRule(params map[string]any) (Rule, error) {
	r := &tagRule{
		any: paramStrings(params, "any"),
		all: paramStrings(params, "all"),
	}
	if len(r.any) == 0 && len(r.all) == 0 {
		return nil, fmt.Errorf("tag: one of any or all is required")
	}
	return r, nil
}

func (r *tagRule) Matches(ctx *event.RouteContext) bool {
	for _, t := range r.all {
		if !ctx.HasTag(t) {
			return false
		}
	}
	if len(r.any) == 0 {
		return true
	}
	for _, t := range r.any {
		if ctx.HasTag(t) {
			return true
		}
	}
	return false
}

func (r *tagRule) Config() RuleConfig {
	params := map[string]any{}
	if len(r.any) > 0 {
		params["any"] = r.any
	}
	if len(r.all) > 0 {
		params["all"] = r.all
	}
	return RuleConfig{Type: "tag", Params: params}
}

// --- data_asset -------------------------------------------------------------

type dataAssetRule struct {
	pattern string
	assets  []string
}

func newDataAssetRule(params map[string]any) (Rule, error) {
	r := &dataAssetRule{
		pattern: paramString(params, "pattern"),
		assets:  paramStrings(params, "assets"),
	}
	if r.pattern == "" && len(r.assets) == 0 {
		return nil, fmt.Errorf("data_asset: one of pattern or assets is required")
	}
	if r.pattern != "" {
		if _, err := path.Match(r.pattern, ""); err != nil {
			return nil, fmt.Errorf("data_asset: bad pattern %q: %w", r.pattern, err)
		}
	}
	return r, nil
}

func (r *dataAssetRule) Matches(ctx *event.RouteContext) bool {
	for _, a := range r.assets {
		if ctx.DataAsset == a {
			return true
		}
	}
	if r.pattern != "" {
		ok, err := path.Match(r.pattern, ctx.DataAsset)
		return err == nil && ok
	}
	return false
}

func (r *dataAssetRule) Config() RuleConfig {
	params := map[string]any{}
	if r.pattern != "" {
		params["pattern"] = r.pattern
	}
	if len(r.assets) > 0 {
		params["assets"] = r.assets
	}
	return RuleConfig{Type: "data_asset", Params: params}
}

// --- metadata ---------------------------------------------------------------

type metadataRule struct {
	key   string
	op    string
	value any
}

func newMetadataRule(params map[string]any) (Rule, error) {
	r := &metadataRule{
		key:   paramString(params, "key"),
		op:    paramString(params, "op"),
		value: params["value"],
	}
	if r.key == "" {
		return nil, fmt.Errorf("metadata: key is required")
	}
	if r.value == nil {
		return nil, fmt.Errorf("metadata: value is required")
	}
	if r.op == "" {
		r.op = "eq"
	}
	switch r.op {
	case "eq", "ne", "contains", "gt", "lt":
	default:
		return nil, fmt.Errorf("metadata: unknown op %q", r.op)
	}
	return r, nil
}

func (r *metadataRule) Matches(ctx *event.RouteContext) bool {
	got, ok := ctx.Metadata[r.key]
	if !ok {
		return r.op == "ne"
	}
	switch r.op {
	case "eq":
		return looseEqual(got, r.value)
	case "ne":
		return !looseEqual(got, r.value)
	case "contains":
		s, ok1 := got.(string)
		sub, ok2 := r.value.(string)
		return ok1 && ok2 && strings.Contains(s, sub)
	case "gt", "lt":
		gf, ok1 := asFloat(got)
		wf, ok2 := asFloat(r.value)
		if !ok1 || !ok2 {
			return false
		}
		return compareFloat(gf, r.op, wf)
	}
	return false
}

func (r *metadataRule) Config() RuleConfig {
	return RuleConfig{Type: "metadata", Params: map[string]any{
		"key": r.key, "op": r.op, "value": r.value,
	}}
}

// looseEqual compares values with numeric coercion, so a YAML int matches a
// JSON float of the same magnitude.
func looseEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// --- status -----------------------------------------------------------------

type statusRule struct {
	in []string
}

func newStatusRule(params map[string]any) (Rule, error) {
	in := paramStrings(params, "in")
	if len(in) == 0 {
		return nil, fmt.Errorf("status: in is required")
	}
	return &statusRule{in: in}, nil
}

func (r *statusRule) Matches(ctx *event.RouteContext) bool {
	for _, s := range r.in {
		if ctx.Status == s {
			return true
		}
	}
	return false
}

func (r *statusRule) Config() RuleConfig {
	return RuleConfig{Type: "status", Params: map[string]any{"in": r.in}}
}

// --- error_pattern ----------------------------------------------------------

type errorPatternRule struct {
	pattern string
	re      *regexp.Regexp
}

func newErrorPatternRule(params map[string]any) (Rule, error) {
	pattern := paramString(params, "pattern")
	if pattern == "" {
		return nil, fmt.Errorf("error_pattern: pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("error_pattern: %w", err)
	}
	return &errorPatternRule{pattern: pattern, re: re}, nil
}

func (r *errorPatternRule) Matches(ctx *event.RouteContext) bool {
	return ctx.ErrorMessage != "" && r.re.MatchString(ctx.ErrorMessage)
}

func (r *errorPatternRule) Config() RuleConfig {
	return RuleConfig{Type: "error_pattern", Params: map[string]any{"pattern": r.pattern}}
}
