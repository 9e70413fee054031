// Package expreval implements the sandboxed dynamic-condition evaluators.
//
// Evaluator is the primary, whitelist-based tier: expression sources are
// parsed to an AST and every node is checked against an allow-list of node
// kinds, member names, and callable functions before compilation. Evaluation
// runs on a worker goroutine under a context deadline that the VM observes
// cooperatively, so a looping program stops instead of running unbounded.
//
// TemplateEvaluator is the secondary, denylist-based tier: a text/template
// is rendered against the same flat context and the output is interpreted
// as a boolean. Its security model is substring denial, which is strictly
// weaker than the AST whitelist — treat template conditions as lower-trust
// configuration.
//
// Both tiers fail closed: any parse, check, render, or timeout error means
// the condition does not match.
package expreval
