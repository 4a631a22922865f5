// Package workflow defines the user-facing workflow model (nodes,
// connections, settings) and the whole-workflow validator that gates
// execution. A workflow is a directed graph of typed nodes; the validator
// checks it against the spec registry before the engine ever sees it.
package workflow

import (
	"goa.design/flow/spec"
)

type (
	// Node is one unit of work inside a workflow. Type and Subtype must
	// resolve in the spec registry; Configurations is the user-supplied
	// subset of the spec's configuration keys.
	Node struct {
		ID             string         `json:"id"`
		Type           spec.Type      `json:"type"`
		Subtype        string         `json:"subtype"`
		Configurations map[string]any `json:"configurations,omitempty"`
		InputParams    map[string]any `json:"input_params,omitempty"`
		OutputParams   map[string]any `json:"output_params,omitempty"`
		// AttachedNodes lists TOOL/MEMORY node ids owned by this node.
		// Only legal when the spec allows attachment (AI_AGENT).
		AttachedNodes []string `json:"attached_nodes,omitempty"`
		// Position is editor metadata, opaque to the engine.
		Position map[string]any `json:"position,omitempty"`
	}

	// Connection is a directed edge. OutputKey selects which logical output
	// of FromNode the edge carries; empty means the default "result" key.
	// ConversionFunction optionally transforms the carried value (see the
	// convert package); empty means identity passthrough.
	Connection struct {
		ID                 string `json:"id"`
		FromNode           string `json:"from_node"`
		ToNode             string `json:"to_node"`
		OutputKey          string `json:"output_key,omitempty"`
		ConversionFunction string `json:"conversion_function,omitempty"`
	}

	// ErrorPolicy selects how the scheduler reacts to node failures.
	ErrorPolicy string

	// Settings carries workflow-wide execution settings.
	Settings struct {
		TimeoutSeconds int         `json:"timeout_seconds,omitempty"`
		Timezone       string      `json:"timezone,omitempty"`
		ErrorPolicy    ErrorPolicy `json:"error_policy,omitempty"`
		// SaveExecutionProgress enables mid-run checkpoints. Terminal node
		// executions are persisted regardless.
		SaveExecutionProgress bool `json:"save_execution_progress,omitempty"`
	}

	// Workflow is a validated graph of nodes and connections.
	Workflow struct {
		ID          string       `json:"id"`
		Name        string       `json:"name"`
		Nodes       []Node       `json:"nodes"`
		Connections []Connection `json:"connections"`
		Settings    Settings     `json:"settings"`
	}
)

const (
	// StopOnError fails the execution on the first node error.
	StopOnError ErrorPolicy = "STOP_ON_ERROR"
	// ContinueRegularOutput records the error and continues as if the node
	// produced its schema defaults.
	ContinueRegularOutput ErrorPolicy = "CONTINUE_REGULAR_OUTPUT"
	// ContinueErrorOutput fires only the node's "error" edge and skips the
	// regular successors.
	ContinueErrorOutput ErrorPolicy = "CONTINUE_ERROR_OUTPUT"
)

// Valid reports whether p is a declared error policy. The empty policy is
// valid and treated as StopOnError.
func (p ErrorPolicy) Valid() bool {
	switch p {
	case "", StopOnError, ContinueRegularOutput, ContinueErrorOutput:
		return true
	}
	return false
}

// OrDefault resolves the empty policy to StopOnError.
func (p ErrorPolicy) OrDefault() ErrorPolicy {
	if p == "" {
		return StopOnError
	}
	return p
}

// Node returns the node with the given id, if present.
func (w *Workflow) Node(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// AttachedIDs returns the set of node ids attached to any node.
func (w *Workflow) AttachedIDs() map[string]bool {
	out := make(map[string]bool)
	for _, n := range w.Nodes {
		for _, id := range n.AttachedNodes {
			out[id] = true
		}
	}
	return out
}

// Key returns the edge's effective output key, resolving the default.
func (c Connection) Key() string {
	if c.OutputKey == "" {
		return spec.DefaultOutputKey
	}
	return c.OutputKey
}

// ErrorOutputKey is the engine-synthesized output key that fires under the
// CONTINUE_ERROR_OUTPUT policy. Legal on edges from any node type.
const ErrorOutputKey = "error"
