// Package node defines the executor contract the engine dispatches scheduled
// nodes through, and the built-in executors for every shipped node type.
// Executors are pure workers: they receive a materialized configuration and
// the merged input payload, do their work and return output values keyed by
// the node's output keys. Routing, retries, timeouts and persistence belong
// to the engine.
package node

import (
	"context"
	"fmt"
	"time"

	"goa.design/flow/execution"
	"goa.design/flow/spec"
)

type (
	// Input is everything an executor receives for one attempt.
	Input struct {
		ExecutionID string
		WorkflowID  string
		NodeID      string
		Type        spec.Type
		Subtype     string
		// Attempt counts from 1.
		Attempt int
		// Config is the materialized node configuration.
		Config map[string]any
		// Payload is the merged input payload.
		Payload map[string]any
		// Secrets resolves provider credentials.
		Secrets SecretSource
		// Trigger carries the trigger payload, set for trigger nodes only.
		Trigger map[string]any
		// TriggerTime is when the execution was triggered.
		TriggerTime time.Time
		// Attached lists the resolved attached nodes, set for AI agents.
		Attached []AttachedNode
	}

	// AttachedNode is a MEMORY or TOOL node resolved for its owning agent.
	AttachedNode struct {
		ID      string
		Type    spec.Type
		Subtype string
		Config  map[string]any
		// Appendix is the spec's guidance text surfaced to the owning
		// agent's system prompt.
		Appendix string
	}

	// Wait asks the engine to park the node until a human responds or the
	// timeout elapses.
	Wait struct {
		Token       execution.ResumeToken
		Correlation map[string]any
		// Prompt is the rendered question, kept for response
		// classification at resume time.
		Prompt string
		// Timeout bounds the pause.
		Timeout time.Duration
	}

	// Output is the result of one attempt. Exactly one of the completion
	// shapes applies: Values for normal completion, Waiting for a parked
	// HIL node. Items and Delay refine normal completion.
	Output struct {
		// Values maps output keys to emitted values.
		Values map[string]any
		// Items fans out one downstream wave per element on the "item"
		// key. Only LOOP sets it.
		Items []any
		// Delay defers output delivery, used by WAIT and DELAY.
		Delay time.Duration
		// Waiting parks the node.
		Waiting *Wait
		// Attached records MEMORY and TOOL operations performed during the
		// attempt.
		Attached []execution.AttachedExecution
	}

	// Executor runs one node attempt. Failures are reported as errors,
	// structured via execution.Error so the engine can classify them.
	Executor interface {
		Execute(ctx context.Context, in *Input) (*Output, error)
	}

	// SecretSource resolves credentials by provider and workspace.
	SecretSource interface {
		Secret(provider, workspace string) (string, bool)
	}

	// StaticSecrets is a SecretSource backed by a map keyed
	// "provider/workspace".
	StaticSecrets map[string]string
)

// Secret implements SecretSource.
func (s StaticSecrets) Secret(provider, workspace string) (string, bool) {
	if workspace == "" {
		workspace = "default"
	}
	v, ok := s[provider+"/"+workspace]
	return v, ok
}

// Registry maps node types and subtypes to executors. A subtype entry wins
// over the type-level fallback.
type Registry struct {
	exact    map[string]Executor
	fallback map[spec.Type]Executor
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string]Executor),
		fallback: make(map[spec.Type]Executor),
	}
}

// Register binds an executor to one subtype.
func (r *Registry) Register(typ spec.Type, subtype string, ex Executor) {
	r.exact[string(typ)+"/"+subtype] = ex
}

// RegisterType binds a fallback executor for every subtype of a type.
func (r *Registry) RegisterType(typ spec.Type, ex Executor) {
	r.fallback[typ] = ex
}

// Lookup resolves the executor for a node.
func (r *Registry) Lookup(typ spec.Type, subtype string) (Executor, error) {
	if ex, ok := r.exact[string(typ)+"/"+subtype]; ok {
		return ex, nil
	}
	if ex, ok := r.fallback[typ]; ok {
		return ex, nil
	}
	return nil, fmt.Errorf("no executor registered for %s/%s", typ, subtype)
}

// Config accessors tolerate the numeric shapes JSON decoding produces.

func configString(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

func configInt(cfg map[string]any, key string) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func configFloat(cfg map[string]any, key string) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func configBool(cfg map[string]any, key string) bool {
	v, _ := cfg[key].(bool)
	return v
}

// unwrap returns the effective payload for nodes that operate on a single
// upstream value. Unconverted deliveries arrive under the "input" sentinel
// key; converted mappings arrive merged.
func unwrap(payload map[string]any) map[string]any {
	if len(payload) == 1 {
		if inner, ok := payload[spec.DefaultInputKey]; ok {
			if m, ok := inner.(map[string]any); ok {
				return m
			}
		}
	}
	return payload
}

// passthrough is the value flow nodes forward downstream: the single wrapped
// input when present, otherwise the whole payload.
func passthrough(payload map[string]any) any {
	if len(payload) == 1 {
		if inner, ok := payload[spec.DefaultInputKey]; ok {
			return inner
		}
	}
	return payload
}
