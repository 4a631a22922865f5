package workflow

import (
	"fmt"
	"sort"
	"time"

	"goa.design/flow/condition"
	"goa.design/flow/convert"
	"goa.design/flow/spec"
)

// IssueKind classifies validation failures.
type IssueKind string

const (
	KindTopology   IssueKind = "VALIDATION_TOPOLOGY"
	KindConfig     IssueKind = "VALIDATION_CONFIG"
	KindAttached   IssueKind = "VALIDATION_ATTACHED"
	KindConversion IssueKind = "VALIDATION_CONVERSION"
	KindCycle      IssueKind = "VALIDATION_CYCLE"
)

type (
	// Issue is a single validation finding attributed to a node or edge.
	Issue struct {
		Kind    IssueKind `json:"kind"`
		NodeID  string    `json:"node_id,omitempty"`
		EdgeID  string    `json:"edge_id,omitempty"`
		Message string    `json:"message"`
	}

	// Result accumulates findings. Errors reject the workflow; Warnings
	// (unreachable nodes) do not.
	Result struct {
		Errors   []Issue `json:"errors,omitempty"`
		Warnings []Issue `json:"warnings,omitempty"`
	}

	// Validator checks whole workflows against a spec registry. Construct
	// with NewValidator; the zero value is not usable.
	Validator struct {
		registry  *spec.Registry
		evaluator *condition.Evaluator
		converter *convert.Runtime
	}
)

// OK reports whether validation found no errors.
func (r *Result) OK() bool { return len(r.Errors) == 0 }

// Err returns the first error as a Go error, or nil.
func (r *Result) Err() error {
	if r.OK() {
		return nil
	}
	first := r.Errors[0]
	return fmt.Errorf("%s: %s (and %d more)", first.Kind, first.Message, len(r.Errors)-1)
}

func (r *Result) errorf(kind IssueKind, nodeID, edgeID, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Kind: kind, NodeID: nodeID, EdgeID: edgeID, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) warnf(kind IssueKind, nodeID, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Kind: kind, NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
}

// NewValidator constructs a Validator over the given registry. The
// evaluator and converter are used for syntax checks only; runtime
// evaluation uses the engine's own instances.
func NewValidator(registry *spec.Registry, evaluator *condition.Evaluator, converter *convert.Runtime) *Validator {
	return &Validator{registry: registry, evaluator: evaluator, converter: converter}
}

// Validate runs the full check sequence and accumulates every finding.
// Later checks that would only produce noise after earlier failures (cycle
// detection over unresolved endpoints) are skipped once the graph shape is
// known to be broken.
func (v *Validator) Validate(wf *Workflow) *Result {
	res := &Result{}

	specs := v.checkNodes(wf, res)
	v.checkConfigs(wf, specs, res)
	shapeOK := v.checkConnections(wf, specs, res)
	v.checkOutputKeys(wf, specs, res)
	v.checkAttached(wf, specs, res)
	if shapeOK {
		v.checkReachability(wf, res)
	}
	v.checkConversions(wf, res)
	if shapeOK {
		v.checkCycles(wf, specs, res)
	}
	v.checkSettings(wf, res)
	return res
}

// checkNodes verifies id uniqueness and registry resolution, returning the
// resolved spec per node id for use by later checks.
func (v *Validator) checkNodes(wf *Workflow, res *Result) map[string]spec.Spec {
	specs := make(map[string]spec.Spec, len(wf.Nodes))
	seen := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if n.ID == "" {
			res.errorf(KindTopology, "", "", "node with empty id")
			continue
		}
		if seen[n.ID] {
			res.errorf(KindTopology, n.ID, "", "duplicate node id %q", n.ID)
			continue
		}
		seen[n.ID] = true
		s, err := v.registry.Lookup(n.Type, n.Subtype)
		if err != nil {
			res.errorf(KindTopology, n.ID, "", "unresolved node spec %s.%s", n.Type, n.Subtype)
			continue
		}
		specs[n.ID] = s
	}
	return specs
}

func (v *Validator) checkConfigs(wf *Workflow, specs map[string]spec.Spec, res *Result) {
	for _, n := range wf.Nodes {
		s, ok := specs[n.ID]
		if !ok {
			continue
		}
		for _, e := range v.registry.ValidateConfig(s, n.Configurations) {
			res.errorf(KindConfig, n.ID, "", "%s", e.Error())
		}
		for _, key := range []string{"condition_expression", "switch_expression", "predicate_expression", "key_expression"} {
			if src, ok := n.Configurations[key].(string); ok && src != "" {
				if err := v.evaluator.Check(src); err != nil {
					res.errorf(KindConfig, n.ID, "", "%s: %v", key, err)
				}
			}
		}
	}
}

func (v *Validator) checkConnections(wf *Workflow, specs map[string]spec.Spec, res *Result) bool {
	ok := true
	type edgeKey struct{ from, key, to string }
	seen := make(map[edgeKey]bool, len(wf.Connections))
	for _, c := range wf.Connections {
		from, fromOK := wf.Node(c.FromNode)
		if !fromOK {
			res.errorf(KindTopology, "", c.ID, "edge from unknown node %q", c.FromNode)
			ok = false
		}
		if _, toOK := wf.Node(c.ToNode); !toOK {
			res.errorf(KindTopology, "", c.ID, "edge to unknown node %q", c.ToNode)
			ok = false
		}
		if c.FromNode == c.ToNode {
			if s, resolved := specs[c.FromNode]; !resolved || !(s.Type == spec.TypeFlow && from.Subtype == "LOOP") {
				res.errorf(KindTopology, c.FromNode, c.ID, "self-loop only permitted on FLOW.LOOP")
				ok = false
			}
		}
		k := edgeKey{c.FromNode, c.Key(), c.ToNode}
		if seen[k] {
			res.errorf(KindTopology, "", c.ID, "duplicate edge %s -[%s]-> %s", c.FromNode, c.Key(), c.ToNode)
			ok = false
		}
		seen[k] = true
	}
	return ok
}

func (v *Validator) checkOutputKeys(wf *Workflow, specs map[string]spec.Spec, res *Result) {
	for _, c := range wf.Connections {
		s, okSpec := specs[c.FromNode]
		if !okSpec {
			continue
		}
		key := c.Key()
		if key == ErrorOutputKey {
			continue // engine-synthesized, legal from any node
		}
		if _, declared := s.Output[key]; declared {
			continue
		}
		if key == spec.DefaultOutputKey && s.MainOutput() {
			continue
		}
		if s.Type == spec.TypeFlow && wf.switchCase(c.FromNode, key) {
			continue
		}
		res.errorf(KindTopology, c.FromNode, c.ID,
			"output key %q not declared by %s.%s", key, s.Type, s.Subtype)
	}
}

// switchCase reports whether key is a declared case label (or the default
// case) of the given FLOW.SWITCH node.
func (w *Workflow) switchCase(nodeID, key string) bool {
	n, ok := w.Node(nodeID)
	if !ok || n.Subtype != "SWITCH" {
		return false
	}
	if d, ok := n.Configurations["default_case"].(string); ok && key == d {
		return true
	}
	if key == "default" {
		return true
	}
	cases, _ := n.Configurations["cases"].([]any)
	for _, c := range cases {
		if s, ok := c.(string); ok && s == key {
			return true
		}
	}
	return false
}

func (v *Validator) checkAttached(wf *Workflow, specs map[string]spec.Spec, res *Result) {
	endpoint := make(map[string]bool)
	for _, c := range wf.Connections {
		endpoint[c.FromNode] = true
		endpoint[c.ToNode] = true
	}
	for _, n := range wf.Nodes {
		if len(n.AttachedNodes) == 0 {
			continue
		}
		s, ok := specs[n.ID]
		if ok && !s.AllowAttached {
			res.errorf(KindAttached, n.ID, "", "%s.%s does not permit attached nodes", n.Type, n.Subtype)
			continue
		}
		for _, id := range n.AttachedNodes {
			att, exists := wf.Node(id)
			if !exists {
				res.errorf(KindAttached, n.ID, "", "attached node %q does not exist", id)
				continue
			}
			if !att.Type.Attachable() {
				res.errorf(KindAttached, n.ID, "", "attached node %q has type %s; only TOOL and MEMORY may attach", id, att.Type)
			}
			if endpoint[id] {
				res.errorf(KindAttached, n.ID, "", "attached node %q also appears as an edge endpoint", id)
			}
		}
	}
}

func (v *Validator) checkReachability(wf *Workflow, res *Result) {
	attached := wf.AttachedIDs()
	var triggers []string
	for _, n := range wf.Nodes {
		if n.Type == spec.TypeTrigger && !attached[n.ID] {
			triggers = append(triggers, n.ID)
		}
	}
	switch len(triggers) {
	case 0:
		res.errorf(KindTopology, "", "", "workflow has no trigger node")
		return
	case 1:
	default:
		sort.Strings(triggers)
		res.errorf(KindTopology, "", "", "workflow has %d trigger nodes (%v); exactly one entry is permitted", len(triggers), triggers)
		return
	}

	reached := map[string]bool{triggers[0]: true}
	frontier := []string{triggers[0]}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, c := range wf.Connections {
			if c.FromNode == cur && !reached[c.ToNode] {
				reached[c.ToNode] = true
				frontier = append(frontier, c.ToNode)
			}
		}
	}
	for _, n := range wf.Nodes {
		if !reached[n.ID] && !attached[n.ID] {
			res.warnf(KindTopology, n.ID, "node %q is unreachable from the trigger", n.ID)
		}
	}
}

func (v *Validator) checkConversions(wf *Workflow, res *Result) {
	for _, c := range wf.Connections {
		if c.ConversionFunction == "" {
			continue
		}
		if err := v.converter.Check(c.ConversionFunction); err != nil {
			res.errorf(KindConversion, "", c.ID, "%v", err)
		}
	}
}

// checkCycles runs Kahn's algorithm over the edge set excluding self-loops
// on FLOW.LOOP, which are the only legal back edges.
func (v *Validator) checkCycles(wf *Workflow, specs map[string]spec.Spec, res *Result) {
	indeg := make(map[string]int, len(wf.Nodes))
	succ := make(map[string][]string)
	for _, n := range wf.Nodes {
		indeg[n.ID] = 0
	}
	for _, c := range wf.Connections {
		if c.FromNode == c.ToNode {
			continue
		}
		succ[c.FromNode] = append(succ[c.FromNode], c.ToNode)
		indeg[c.ToNode]++
	}
	var queue []string
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range succ[cur] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(wf.Nodes) {
		var cyclic []string
		for id, d := range indeg {
			if d > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		res.errorf(KindCycle, "", "", "cycle detected involving nodes %v", cyclic)
	}
}

func (v *Validator) checkSettings(wf *Workflow, res *Result) {
	if !wf.Settings.ErrorPolicy.Valid() {
		res.errorf(KindConfig, "", "", "unknown error policy %q", wf.Settings.ErrorPolicy)
	}
	if tz := wf.Settings.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			res.errorf(KindConfig, "", "", "unknown timezone %q", tz)
		}
	}
	if wf.Settings.TimeoutSeconds < 0 {
		res.errorf(KindConfig, "", "", "negative workflow timeout")
	}
}
