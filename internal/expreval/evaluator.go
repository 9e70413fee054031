package expreval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// ctxVar is the env key the VM reads its cancellation context from.
// Programs are compiled with expr.WithContext, so loops and calls observe
// the deadline and abort instead of running to completion.
const ctxVar = "ctx"

const (
	// DefaultMaxNodes bounds expression AST size. Pathological
	// comprehensions are rejected at check time rather than at runtime.
	DefaultMaxNodes = 500

	// DefaultTimeout is the per-evaluation wall-clock budget.
	DefaultTimeout = 500 * time.Millisecond
)

// ErrTimeout is returned when an evaluation exceeds its wall-clock budget.
// The deadline is cooperative: the VM checks the context on loop and call
// boundaries, so the worker unwinds shortly after the budget elapses.
var ErrTimeout = errors.New("expression evaluation timed out")

// allowedFuncs is the fixed set of callable functions. Anything else in
// call position fails the whitelist check.
var allowedFuncs = map[string]struct{}{
	"len": {}, "abs": {}, "min": {}, "max": {},
	"all": {}, "any": {}, "none": {}, "one": {},
	"filter": {}, "map": {}, "count": {}, "sum": {},
	"contains": {}, "startsWith": {}, "endsWith": {},
	"lower": {}, "upper": {}, "trim": {},
	"int": {}, "float": {}, "string": {},
}

// blockedNames are member/identifier names that are never addressable,
// matching the dunder and introspection hooks of the source rule language.
var blockedNames = []string{"__", "constructor", "prototype"}

// Evaluator compiles and runs sandboxed boolean expressions against a flat
// context map. Compiled programs are cached by source. Safe for concurrent use.
type Evaluator struct {
	maxNodes int
	timeout  time.Duration

	mu    sync.Mutex
	cache map[string]*vm.Program
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTimeout overrides the per-evaluation wall-clock budget.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.timeout = d }
}

// WithMaxNodes overrides the AST node ceiling.
func WithMaxNodes(n int) Option {
	return func(e *Evaluator) { e.maxNodes = n }
}

// New creates an Evaluator with the default limits.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		maxNodes: DefaultMaxNodes,
		timeout:  DefaultTimeout,
		cache:    map[string]*vm.Program{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check parses source and verifies it against the whitelist without
// evaluating it. Used by the configuration validator.
func (e *Evaluator) Check(source string) error {
	tree, err := parser.Parse(source)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	w := &whitelist{maxNodes: e.maxNodes}
	ast.Walk(&tree.Node, w)
	return w.err
}

// EvalBool evaluates source against env and returns the boolean result.
// Any error — syntax, whitelist violation, runtime failure, non-boolean
// result, timeout — is returned to the caller, who is expected to treat
// it as "does not match".
func (e *Evaluator) EvalBool(source string, env map[string]any) (bool, error) {
	prog, err := e.compile(source)
	if err != nil {
		return false, err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	// Do not mutate the caller's map; the context slot is ours.
	runEnv := make(map[string]any, len(env)+1)
	for k, v := range env {
		runEnv[k] = v
	}
	runEnv[ctxVar] = runCtx

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := vm.Run(prog, runEnv)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if runCtx.Err() != nil {
				return false, ErrTimeout
			}
			return false, fmt.Errorf("run: %w", r.err)
		}
		b, ok := r.out.(bool)
		if !ok {
			return false, fmt.Errorf("expression returned %T, want bool", r.out)
		}
		return b, nil
	case <-runCtx.Done():
		// Return promptly; the worker observes the same context and
		// unwinds at its next loop or call boundary.
		return false, ErrTimeout
	}
}

func (e *Evaluator) compile(source string) (*vm.Program, error) {
	e.mu.Lock()
	prog, ok := e.cache[source]
	e.mu.Unlock()
	if ok {
		return prog, nil
	}

	if err := e.Check(source); err != nil {
		return nil, err
	}

	prog, err := expr.Compile(source,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
		expr.WithContext(ctxVar),
	)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	e.mu.Lock()
	e.cache[source] = prog
	e.mu.Unlock()
	return prog, nil
}

// whitelist walks an expression AST and records the first violation of the
// allowed node-kind, name, and function sets. It also enforces the node
// ceiling so oversized expressions are rejected before compilation.
type whitelist struct {
	maxNodes int
	seen     int
	err      error
}

func (w *whitelist) Visit(node *ast.Node) {
	if w.err != nil {
		return
	}
	w.seen++
	if w.seen > w.maxNodes {
		w.err = fmt.Errorf("expression exceeds %d nodes", w.maxNodes)
		return
	}

	switch n := (*node).(type) {
	case *ast.NilNode, *ast.IntegerNode, *ast.FloatNode, *ast.BoolNode,
		*ast.StringNode, *ast.ConstantNode,
		*ast.UnaryNode, *ast.BinaryNode, *ast.ConditionalNode,
		*ast.ArrayNode, *ast.MapNode, *ast.PairNode,
		*ast.SliceNode, *ast.ChainNode,
		*ast.ClosureNode, *ast.PointerNode:
		// Allowed structural kinds.

	case *ast.IdentifierNode:
		if blocked(n.Value) {
			w.err = fmt.Errorf("name %q is not allowed", n.Value)
		}

	case *ast.MemberNode:
		if s, ok := n.Property.(*ast.StringNode); ok && blocked(s.Value) {
			w.err = fmt.Errorf("member %q is not allowed", s.Value)
		}

	case *ast.CallNode:
		id, ok := n.Callee.(*ast.IdentifierNode)
		if !ok {
			w.err = errors.New("only direct function calls are allowed")
			return
		}
		if _, ok := allowedFuncs[id.Value]; !ok {
			w.err = fmt.Errorf("function %q is not allowed", id.Value)
		}

	case *ast.BuiltinNode:
		if _, ok := allowedFuncs[n.Name]; !ok {
			w.err = fmt.Errorf("builtin %q is not allowed", n.Name)
		}

	default:
		w.err = fmt.Errorf("construct %T is not allowed", *node)
	}
}

func blocked(name string) bool {
	for _, b := range blockedNames {
		if strings.Contains(name, b) {
			return true
		}
	}
	return false
}
