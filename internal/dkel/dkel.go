package dkel

import (
	"fmt"
	"time"
)

// DefaultBudget is the wall-clock evaluation allowance. Overruns are
// detected after evaluation completes, not preempted; the recursion-depth
// ceiling is the hard stop.
const DefaultBudget = 100 * time.Millisecond

// Scope is the three-part read-only environment expressions evaluate
// against.
type Scope struct {
	Input    any
	Workflow WorkflowScope
	Node     NodeScope
}

// WorkflowScope exposes run-level state to expressions as workflow.state.
type WorkflowScope struct {
	State any
}

// NodeScope exposes the evaluating node's configuration as node.config.
type NodeScope struct {
	Config any
}

// ParseResult carries a parsed AST or the reasons parsing failed.
type ParseResult struct {
	AST    Expr
	Errors []string
}

// EvalResult carries an evaluated value or the reasons evaluation failed.
type EvalResult struct {
	Value  any
	Errors []string
}

// Option customizes evaluation limits.
type Option func(*settings)

type settings struct {
	maxDepth int
	budget   time.Duration
	now      func() time.Time
}

// WithMaxDepth overrides the recursion ceiling.
func WithMaxDepth(depth int) Option {
	return func(s *settings) {
		if depth > 0 {
			s.maxDepth = depth
		}
	}
}

// WithBudget overrides the wall-clock evaluation allowance.
func WithBudget(budget time.Duration) Option {
	return func(s *settings) {
		if budget > 0 {
			s.budget = budget
		}
	}
}

// withClock lets tests control elapsed-time measurement.
func withClock(clock func() time.Time) Option {
	return func(s *settings) {
		if clock != nil {
			s.now = clock
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		maxDepth: DefaultMaxDepth,
		budget:   DefaultBudget,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// Parse lexes and parses the expression text. The AST is immutable and safe
// to reuse across evaluations with different scopes.
func Parse(expression string) ParseResult {
	tokens, lexErrs := tokenize(expression)
	if len(lexErrs) > 0 {
		return ParseResult{Errors: lexErrs}
	}
	ast, parseErrs := parseTokens(tokens)
	if len(parseErrs) > 0 {
		return ParseResult{Errors: parseErrs}
	}
	return ParseResult{AST: ast}
}

// Evaluate parses and evaluates the expression against the scope. It never
// panics or returns a Go error for expression-level problems: the Errors
// list carries every diagnostic.
func Evaluate(expression string, scope Scope, opts ...Option) EvalResult {
	parsed := Parse(expression)
	if len(parsed.Errors) > 0 {
		return EvalResult{Errors: parsed.Errors}
	}
	return EvaluateAST(parsed.AST, scope, opts...)
}

// EvaluateAST evaluates a previously parsed expression against the scope.
func EvaluateAST(ast Expr, scope Scope, opts ...Option) EvalResult {
	if ast == nil {
		return EvalResult{Errors: []string{"Expression is empty"}}
	}
	cfg := newSettings(opts)
	started := cfg.now()
	value, err := newEvaluator(scope, cfg.maxDepth).eval(ast)
	if err != nil {
		return EvalResult{Errors: []string{errorMessage(err)}}
	}
	if elapsed := cfg.now().Sub(started); elapsed > cfg.budget {
		return EvalResult{Errors: []string{fmt.Sprintf("Evaluation time budget %s exceeded", cfg.budget)}}
	}
	return EvalResult{Value: value}
}

func errorMessage(err error) string {
	if ee, ok := err.(evalError); ok {
		return ee.message
	}
	return err.Error()
}
