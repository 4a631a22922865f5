// Package condition evaluates the boolean and selector expressions configured
// on FLOW nodes (IF conditions, SWITCH selectors, FILTER predicates, SORT
// keys). Expressions are compiled once per source string and cached;
// evaluation runs over the node's input payload as the environment, so field
// paths such as "data.score >= 40" resolve into nested maps.
//
// The expression language is expr-lang/expr with all builtin functions
// disabled: comparisons, boolean operators, literals and field paths only.
package condition

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator compiles and caches expressions. The zero value is not usable;
// construct with New.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New returns an Evaluator with an empty program cache.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Check compiles src and reports syntax or denied-construct errors without
// evaluating. The validator uses this at workflow creation time.
func (e *Evaluator) Check(src string) error {
	_, err := e.compile(src)
	return err
}

// Eval evaluates src against env and returns the raw result.
func (e *Evaluator) Eval(src string, env map[string]any) (any, error) {
	prog, err := e.compile(src)
	if err != nil {
		return nil, err
	}
	if env == nil {
		env = map[string]any{}
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", src, err)
	}
	return out, nil
}

// EvalBool evaluates src and requires a boolean result.
func (e *Evaluator) EvalBool(src string, env map[string]any) (bool, error) {
	out, err := e.Eval(src, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q yielded %T, want bool", src, out)
	}
	return b, nil
}

// EvalString evaluates src and coerces the result to a string label. Used by
// SWITCH to select a case.
func (e *Evaluator) EvalString(src string, env map[string]any) (string, error) {
	out, err := e.Eval(src, env)
	if err != nil {
		return "", err
	}
	switch v := out.(type) {
	case string:
		return v, nil
	case bool:
		return fmt.Sprintf("%t", v), nil
	case int, int64, float64:
		return fmt.Sprintf("%v", v), nil
	}
	return "", fmt.Errorf("expression %q yielded %T, want string label", src, out)
}

func (e *Evaluator) compile(src string) (*vm.Program, error) {
	e.mu.RLock()
	prog, ok := e.cache[src]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}
	prog, err := expr.Compile(src,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.DisableAllBuiltins(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	e.mu.Lock()
	e.cache[src] = prog
	e.mu.Unlock()
	return prog, nil
}
