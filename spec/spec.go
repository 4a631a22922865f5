// Package spec defines the node specification catalog used to validate and
// materialize workflow nodes.
//
// # Core Concepts
//
// A Spec describes one (type, subtype) pair: its configuration schema, its
// input and output parameter schemas, and whether it may own attached
// TOOL/MEMORY nodes. Specs are immutable catalog entries; a Registry holds at
// most one active Spec per (type, subtype) and is sealed (read-only) after
// initialization so lookups are lock-free.
//
// The Registry exposes three operations to the rest of the engine:
//
//   - Lookup resolves a (type, subtype) pair to its Spec.
//   - ValidateConfig checks a node's configuration values against the Spec.
//   - Materialize produces a runtime NodeInstance with defaults applied.
//
// Built-in specs live in the builtin subpackage and are registered at process
// start.
package spec

type (
	// Type is the coarse node category. Every node in a workflow carries
	// exactly one Type; the Type constrains which engine executor handles it
	// and whether it may appear on the scheduler frontier.
	Type string

	// ConfigKind enumerates the value kinds a configuration entry accepts.
	ConfigKind string

	// ConfigSchema describes a single configuration key of a Spec.
	ConfigSchema struct {
		// Kind is the value kind expected for this key.
		Kind ConfigKind
		// Default is applied by Materialize when the node omits the key.
		// Required keys without a Default must be supplied by the node.
		Default any
		// Required indicates the key must have a value after defaulting.
		Required bool
		// Options lists the allowed values for KindEnum keys.
		Options []string
		// Min and Max bound numeric kinds when non-nil.
		Min *float64
		Max *float64
		// Sensitive marks values that must be redacted from logs and
		// snapshots (tokens, API keys).
		Sensitive bool
		// Multiline hints editors to render a multi-line input. Opaque to
		// the engine.
		Multiline bool
		// Schema optionally carries a JSON schema (as source text) that
		// KindJSON values must satisfy.
		Schema string
		// Description is human-readable help text.
		Description string
	}

	// ParamSchema describes one key of a Spec's input or output schema.
	ParamSchema struct {
		// Kind is the value kind of the parameter.
		Kind ConfigKind
		// Default is the value assumed when no upstream provides the key.
		Default any
		// Required marks input keys that must be present before the node is
		// considered ready.
		Required bool
		// Description is human-readable help text.
		Description string
	}

	// Spec is one immutable catalog entry: the full schema for a
	// (type, subtype) pair.
	Spec struct {
		// Type and Subtype identify the spec. At most one spec per pair is
		// active in a Registry.
		Type    Type
		Subtype string
		// Version tracks the spec revision. Informational.
		Version string

		// Name, Description, Tags and Examples are display metadata.
		Name        string
		Description string
		Tags        []string
		Examples    []string

		// Configurations maps config key to its schema.
		Configurations map[string]ConfigSchema
		// Input and Output map parameter key to its schema.
		Input  map[string]ParamSchema
		Output map[string]ParamSchema

		// AllowAttached reports whether nodes of this spec may declare
		// attached TOOL/MEMORY nodes. Only AI_AGENT specs set this.
		AllowAttached bool

		// SystemPromptAppendix is optional guidance text appended to an
		// upstream AI agent's system prompt when it selects this node.
		SystemPromptAppendix string
	}

	// NodeInstance is a runtime node produced by Registry.Materialize: the
	// node's configuration with spec defaults applied plus default input and
	// output parameter values derived from the schemas.
	NodeInstance struct {
		ID             string
		Type           Type
		Subtype        string
		Configurations map[string]any
		InputParams    map[string]any
		OutputParams   map[string]any
	}
)

const (
	TypeTrigger        Type = "TRIGGER"
	TypeAIAgent        Type = "AI_AGENT"
	TypeExternalAction Type = "EXTERNAL_ACTION"
	TypeAction         Type = "ACTION"
	TypeFlow           Type = "FLOW"
	TypeHumanInTheLoop Type = "HUMAN_IN_THE_LOOP"
	TypeTool           Type = "TOOL"
	TypeMemory         Type = "MEMORY"
)

const (
	KindString ConfigKind = "string"
	KindInt    ConfigKind = "int"
	KindFloat  ConfigKind = "float"
	KindBool   ConfigKind = "bool"
	KindEnum   ConfigKind = "enum"
	KindJSON   ConfigKind = "json"
	KindURL    ConfigKind = "url"
	KindEmail  ConfigKind = "email"
	KindCron   ConfigKind = "cron"
	KindFile   ConfigKind = "file"
)

// Types lists every node type in catalog order.
func Types() []Type {
	return []Type{
		TypeTrigger, TypeAIAgent, TypeExternalAction, TypeAction,
		TypeFlow, TypeHumanInTheLoop, TypeTool, TypeMemory,
	}
}

// Valid reports whether t is one of the declared node types.
func (t Type) Valid() bool {
	switch t {
	case TypeTrigger, TypeAIAgent, TypeExternalAction, TypeAction,
		TypeFlow, TypeHumanInTheLoop, TypeTool, TypeMemory:
		return true
	}
	return false
}

// Attachable reports whether nodes of this type may be attached to an
// AI_AGENT node. Only TOOL and MEMORY nodes are attachable.
func (t Type) Attachable() bool {
	return t == TypeTool || t == TypeMemory
}

// DefaultOutputKey is the sentinel output key carried by edges that do not
// select a specific logical output.
const DefaultOutputKey = "result"

// DefaultInputKey is the sentinel input key under which converted edge values
// are stored when the downstream spec declares no typed input keys.
const DefaultInputKey = "input"

// MainOutput reports whether the spec declares a main output, i.e. whether an
// edge with the default "result" key may fire from nodes of this spec.
func (s Spec) MainOutput() bool {
	if len(s.Output) == 0 {
		return true
	}
	_, ok := s.Output[DefaultOutputKey]
	return ok
}

// SensitiveKeys returns the configuration keys marked sensitive, used by
// snapshot writers to redact values.
func (s Spec) SensitiveKeys() []string {
	var keys []string
	for k, cs := range s.Configurations {
		if cs.Sensitive {
			keys = append(keys, k)
		}
	}
	return keys
}
