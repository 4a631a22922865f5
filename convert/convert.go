// Package convert runs the per-edge conversion functions that transform an
// upstream node's output into a downstream node's input.
//
// # Sandbox
//
// Conversion sources are ECMAScript programs that must define the entrypoint
//
//	function convert(input_data) { ... return output_data }
//
// Programs run on a fresh goja VM per invocation with no host bindings: there
// is no filesystem, no network, no module loader, and no Go values beyond the
// input payload. Sources that reference ambient-authority identifiers
// (require, fetch, process, ...) are rejected at parse time, and every
// evaluation is bounded by a wall-time budget enforced with the VM interrupt
// mechanism. Programs are compiled once per source text and cached.
package convert

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
)

// DefaultBudget bounds a single conversion invocation when no explicit
// budget is configured.
const DefaultBudget = 200 * time.Millisecond

// maxMessage truncates sandboxed exception messages before they reach
// execution records.
const maxMessage = 200

// denied matches identifiers that would reach for ambient authority. goja
// has no module system or host I/O, so this is defense in depth: the
// identifiers are rejected before the program ever runs.
var denied = regexp.MustCompile(`\b(require|import|eval|Function|fetch|XMLHttpRequest|process|globalThis)\b`)

type (
	// Runtime compiles, caches, and executes conversion functions.
	Runtime struct {
		budget time.Duration

		mu    sync.RWMutex
		cache map[string]*goja.Program
	}

	// Error reports a conversion failure. Timeout distinguishes budget
	// exhaustion from script errors; both surface as CONVERSION_ERROR to the
	// scheduler.
	Error struct {
		Message string
		Timeout bool
	}
)

// Error implements the error interface.
func (e *Error) Error() string { return "conversion error: " + e.Message }

// AsError returns the first *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// New constructs a Runtime with the given wall-time budget per invocation.
// Non-positive budgets fall back to DefaultBudget.
func New(budget time.Duration) *Runtime {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Runtime{budget: budget, cache: make(map[string]*goja.Program)}
}

// Check validates src without converting anything: it must parse, must not
// reference denied identifiers, and must define a unary convert entrypoint.
// The workflow validator calls this at creation time.
func (r *Runtime) Check(src string) error {
	_, _, err := r.instantiate(src)
	return err
}

// Convert runs src's convert entrypoint over input and returns the exported
// result as plain Go data (maps, slices, primitives). A nil error with a nil
// result is legal: the downstream edge simply delivers a null value.
func (r *Runtime) Convert(ctx context.Context, src string, input any) (any, error) {
	vm, fn, err := r.instantiate(src)
	if err != nil {
		return nil, err
	}

	timer := time.AfterFunc(r.budget, func() { vm.Interrupt("conversion budget exceeded") })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt("canceled") })
	defer stop()

	res, err := fn(goja.Undefined(), vm.ToValue(input))
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, &Error{Message: truncate(fmt.Sprint(interrupted.Value())), Timeout: true}
		}
		return nil, &Error{Message: truncate(err.Error())}
	}
	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return nil, nil
	}
	return res.Export(), nil
}

// instantiate builds a fresh VM, runs the program to define the entrypoint,
// and returns the callable convert function.
func (r *Runtime) instantiate(src string) (*goja.Runtime, goja.Callable, error) {
	prog, err := r.compile(src)
	if err != nil {
		return nil, nil, err
	}
	vm := goja.New()
	timer := time.AfterFunc(r.budget, func() { vm.Interrupt("conversion budget exceeded") })
	if _, err := vm.RunProgram(prog); err != nil {
		timer.Stop()
		return nil, nil, &Error{Message: truncate(err.Error())}
	}
	timer.Stop()
	vm.ClearInterrupt()
	fn, ok := goja.AssertFunction(vm.Get("convert"))
	if !ok {
		return nil, nil, &Error{Message: "source does not define function convert(input_data)"}
	}
	return vm, fn, nil
}

func (r *Runtime) compile(src string) (*goja.Program, error) {
	r.mu.RLock()
	prog, ok := r.cache[src]
	r.mu.RUnlock()
	if ok {
		return prog, nil
	}
	if m := denied.FindString(src); m != "" {
		return nil, &Error{Message: fmt.Sprintf("denied identifier %q", m)}
	}
	if _, err := parser.ParseFile(nil, "convert.js", src, 0); err != nil {
		return nil, &Error{Message: truncate(err.Error())}
	}
	prog, err := goja.Compile("convert.js", src, true)
	if err != nil {
		return nil, &Error{Message: truncate(err.Error())}
	}
	r.mu.Lock()
	r.cache[src] = prog
	r.mu.Unlock()
	return prog, nil
}

func truncate(s string) string {
	if len(s) > maxMessage {
		return s[:maxMessage] + "..."
	}
	return s
}
