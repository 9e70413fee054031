package expreval

import (
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// deniedSubstrings rejects template sources that reach for anything beyond
// plain field interpolation and comparison. Substring denial cannot prove a
// template safe — it only blocks the known-dangerous shapes, which is why
// template conditions are the lower-trust tier.
var deniedSubstrings = []string{
	"__",
	"call ",
	"call.",
	"template",
	"define",
	"block",
	"exec",
	"import",
	"system",
	"urlquery",
}

// truthy values accepted from a rendered template, lower-cased.
var truthy = map[string]bool{"true": true, "1": true, "yes": true}

// TemplateEvaluator renders text/template conditions against a flat context
// and interprets the trimmed output as a boolean. Parsed templates are
// cached by source. Safe for concurrent use.
type TemplateEvaluator struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewTemplateEvaluator creates an empty TemplateEvaluator.
func NewTemplateEvaluator() *TemplateEvaluator {
	return &TemplateEvaluator{cache: map[string]*template.Template{}}
}

// Check verifies source against the denylist and parses it, without
// rendering. Used by the configuration validator.
func (t *TemplateEvaluator) Check(source string) error {
	lower := strings.ToLower(source)
	for _, bad := range deniedSubstrings {
		if strings.Contains(lower, bad) {
			return fmt.Errorf("template contains denied substring %q", bad)
		}
	}
	_, err := t.parse(source)
	return err
}

// EvalBool renders source against env and returns whether the trimmed
// output is a truthy string ("true", "1", "yes", case-insensitive).
func (t *TemplateEvaluator) EvalBool(source string, env map[string]any) (bool, error) {
	if err := t.Check(source); err != nil {
		return false, err
	}
	tmpl, err := t.parse(source)
	if err != nil {
		return false, err
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, env); err != nil {
		return false, fmt.Errorf("render: %w", err)
	}
	return truthy[strings.ToLower(strings.TrimSpace(sb.String()))], nil
}

func (t *TemplateEvaluator) parse(source string) (*template.Template, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tmpl, ok := t.cache[source]; ok {
		return tmpl, nil
	}
	tmpl, err := template.New("condition").Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	t.cache[source] = tmpl
	return tmpl, nil
}
