package node

import (
	"context"
	"fmt"
	"sort"
	"time"

	"goa.design/flow/condition"
	"goa.design/flow/execution"
)

// Flow executes the control-flow subtypes. Expressions are evaluated with
// the shared call-free condition language.
type Flow struct {
	eval *condition.Evaluator
}

// NewFlow constructs the executor.
func NewFlow(eval *condition.Evaluator) *Flow {
	if eval == nil {
		eval = condition.New()
	}
	return &Flow{eval: eval}
}

// Execute implements Executor.
func (f *Flow) Execute(_ context.Context, in *Input) (*Output, error) {
	switch in.Subtype {
	case "IF":
		return f.executeIf(in)
	case "SWITCH":
		return f.executeSwitch(in)
	case "LOOP":
		return f.executeLoop(in)
	case "MERGE":
		return f.executeMerge(in)
	case "FILTER":
		return f.executeFilter(in)
	case "SORT":
		return f.executeSort(in)
	case "WAIT":
		seconds := configInt(in.Config, "duration_seconds")
		return &Output{
			Values: map[string]any{"result": passthrough(in.Payload)},
			Delay:  time.Duration(seconds) * time.Second,
		}, nil
	case "DELAY":
		seconds := configInt(in.Config, "delay_seconds")
		return &Output{
			Values: map[string]any{"result": passthrough(in.Payload)},
			Delay:  time.Duration(seconds) * time.Second,
		}, nil
	}
	return nil, execution.NewError(execution.KindInvalidRequest, "unknown flow subtype %s", in.Subtype)
}

func (f *Flow) executeIf(in *Input) (*Output, error) {
	env := unwrap(in.Payload)
	ok, err := f.eval.EvalBool(configString(in.Config, "condition_expression"), env)
	if err != nil {
		return nil, execution.NewError(execution.KindInvalidRequest, "condition: %v", err)
	}
	key := "false"
	if ok {
		key = "true"
	}
	return &Output{Values: map[string]any{key: passthrough(in.Payload)}}, nil
}

func (f *Flow) executeSwitch(in *Input) (*Output, error) {
	env := unwrap(in.Payload)
	label, err := f.eval.EvalString(configString(in.Config, "switch_expression"), env)
	if err != nil {
		return nil, execution.NewError(execution.KindInvalidRequest, "switch: %v", err)
	}
	if !switchCaseDeclared(in.Config, label) {
		label = configString(in.Config, "default_case")
		if label == "" {
			label = "default"
		}
	}
	return &Output{Values: map[string]any{label: passthrough(in.Payload)}}, nil
}

func switchCaseDeclared(cfg map[string]any, label string) bool {
	cases, ok := cfg["cases"].([]any)
	if !ok {
		return false
	}
	for _, c := range cases {
		if s, ok := c.(string); ok && s == label {
			return true
		}
	}
	return false
}

func (f *Flow) executeLoop(in *Input) (*Output, error) {
	items, ok := in.Payload["items"].([]any)
	if !ok {
		return nil, execution.NewError(execution.KindInvalidRequest, "items input must be a list")
	}
	limit := configInt(in.Config, "max_iterations")
	if limit > 0 && len(items) > limit {
		return nil, execution.NewError(execution.KindInvalidRequest,
			"collection size %d exceeds max_iterations %d", len(items), limit)
	}
	fanout := make([]any, len(items))
	for i, item := range items {
		fanout[i] = map[string]any{"item": item, "index": i}
	}
	return &Output{
		Values: map[string]any{"result": items},
		Items:  fanout,
	}, nil
}

// executeMerge emits the joined value. The engine accumulates fan-in
// deliveries under the "items" key; plain branch joins pass through.
func (f *Flow) executeMerge(in *Input) (*Output, error) {
	if items, ok := in.Payload["items"].([]any); ok {
		return &Output{Values: map[string]any{"result": items}}, nil
	}
	return &Output{Values: map[string]any{"result": passthrough(in.Payload)}}, nil
}

func (f *Flow) executeFilter(in *Input) (*Output, error) {
	items, ok := in.Payload["items"].([]any)
	if !ok {
		return nil, execution.NewError(execution.KindInvalidRequest, "items input must be a list")
	}
	expr := configString(in.Config, "predicate_expression")
	kept := make([]any, 0, len(items))
	for i, item := range items {
		ok, err := f.eval.EvalBool(expr, map[string]any{"item": item, "index": i})
		if err != nil {
			return nil, execution.NewError(execution.KindInvalidRequest, "predicate: %v", err)
		}
		if ok {
			kept = append(kept, item)
		}
	}
	return &Output{Values: map[string]any{"result": kept}}, nil
}

func (f *Flow) executeSort(in *Input) (*Output, error) {
	items, ok := in.Payload["items"].([]any)
	if !ok {
		return nil, execution.NewError(execution.KindInvalidRequest, "items input must be a list")
	}
	expr := configString(in.Config, "key_expression")
	if expr == "" {
		expr = "item"
	}
	keys := make([]any, len(items))
	for i, item := range items {
		key, err := f.eval.Eval(expr, map[string]any{"item": item, "index": i})
		if err != nil {
			return nil, execution.NewError(execution.KindInvalidRequest, "sort key: %v", err)
		}
		keys[i] = key
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	desc := configString(in.Config, "order") == "desc"
	var sortErr error
	sort.SliceStable(idx, func(a, b int) bool {
		i, j := idx[a], idx[b]
		if desc {
			// Flip the operands, not the result: !less would report equal
			// keys as ordered and break stability.
			i, j = j, i
		}
		less, err := lessValues(keys[i], keys[j])
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return less
	})
	if sortErr != nil {
		return nil, execution.NewError(execution.KindInvalidRequest, "sort: %v", sortErr)
	}
	sorted := make([]any, len(items))
	for i, j := range idx {
		sorted[i] = items[j]
	}
	return &Output{Values: map[string]any{"result": sorted}}, nil
}

func lessValues(a, b any) (bool, error) {
	if na, aok := toFloat(a); aok {
		nb, bok := toFloat(b)
		if !bok {
			return false, fmt.Errorf("mixed key types %T and %T", a, b)
		}
		return na < nb, nil
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		return sa < sb, nil
	}
	return false, fmt.Errorf("unsortable key types %T and %T", a, b)
}

func toFloat(v any) (float64, bool) {
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
