package compliance

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// ExpressionEvaluator runs CEL boolean expressions over a document view.
// Compiled programs are cached by source text.
type ExpressionEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewExpressionEvaluator builds the CEL environment. Expressions see `doc`
// (the document view, see documentView) and `now`.
func NewExpressionEvaluator() (*ExpressionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &ExpressionEvaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// Compile type-checks expr and caches the program.
func (e *ExpressionEvaluator) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Eval evaluates expr; the result must be a bool.
func (e *ExpressionEvaluator) Eval(expr string, doc map[string]any, now time.Time) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"doc": doc, "now": now})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q does not yield a bool", expr)
	}
	return val, nil
}

func (e *ExpressionEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if !ast.OutputType().IsAssignableType(cel.BoolType) {
		return nil, fmt.Errorf("expression %q has type %s, want bool", expr, ast.OutputType())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.cache[expr] = prg
	return prg, nil
}
