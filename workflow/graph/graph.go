// Package graph derives the per-execution adjacency structure from a
// validated workflow: predecessors and successors per node, grouped by
// output key, plus the readiness rules the scheduler consults. A Graph is
// built once per execution and is immutable afterwards.
package graph

import (
	"fmt"
	"sort"

	"goa.design/flow/spec"
	"goa.design/flow/workflow"
)

type (
	// Edge is one connection with its effective output key resolved.
	Edge struct {
		ID         string
		From       string
		To         string
		OutputKey  string
		Conversion string
	}

	// Graph holds the adjacency derived from a workflow. All lookup methods
	// are safe for concurrent use once Build returns.
	Graph struct {
		wf       *workflow.Workflow
		specs    map[string]spec.Spec
		preds    map[string][]Edge
		succs    map[string]map[string][]Edge
		attached map[string]bool
		entry    string
	}
)

// Build derives the graph for a validated workflow. It resolves every node
// spec and locates the single trigger entry; failures here indicate the
// workflow bypassed validation.
func Build(wf *workflow.Workflow, registry *spec.Registry) (*Graph, error) {
	g := &Graph{
		wf:       wf,
		specs:    make(map[string]spec.Spec, len(wf.Nodes)),
		preds:    make(map[string][]Edge),
		succs:    make(map[string]map[string][]Edge),
		attached: wf.AttachedIDs(),
	}
	for _, n := range wf.Nodes {
		s, err := registry.Lookup(n.Type, n.Subtype)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.ID, err)
		}
		g.specs[n.ID] = s
		if n.Type == spec.TypeTrigger && !g.attached[n.ID] {
			if g.entry != "" {
				return nil, fmt.Errorf("multiple trigger nodes (%q, %q)", g.entry, n.ID)
			}
			g.entry = n.ID
		}
	}
	if g.entry == "" {
		return nil, fmt.Errorf("workflow %q has no trigger node", wf.ID)
	}
	for _, c := range wf.Connections {
		e := Edge{ID: c.ID, From: c.FromNode, To: c.ToNode, OutputKey: c.Key(), Conversion: c.ConversionFunction}
		g.preds[e.To] = append(g.preds[e.To], e)
		if g.succs[e.From] == nil {
			g.succs[e.From] = make(map[string][]Edge)
		}
		g.succs[e.From][e.OutputKey] = append(g.succs[e.From][e.OutputKey], e)
	}
	return g, nil
}

// Entry returns the id of the trigger node that starts the execution.
func (g *Graph) Entry() string { return g.entry }

// Node returns the workflow node with the given id.
func (g *Graph) Node(id string) (workflow.Node, bool) { return g.wf.Node(id) }

// Spec returns the resolved spec for the given node id.
func (g *Graph) Spec(id string) spec.Spec { return g.specs[id] }

// Attached reports whether id is attached to some AI agent and therefore
// never scheduled on the frontier.
func (g *Graph) Attached(id string) bool { return g.attached[id] }

// ScheduledNodes returns the ids of every node that participates in the main
// graph (attached nodes excluded), sorted for determinism.
func (g *Graph) ScheduledNodes() []string {
	var out []string
	for _, n := range g.wf.Nodes {
		if !g.attached[n.ID] {
			out = append(out, n.ID)
		}
	}
	sort.Strings(out)
	return out
}

// Predecessors returns the edges delivering into the node.
func (g *Graph) Predecessors(id string) []Edge { return g.preds[id] }

// Successors returns the outgoing edges grouped by output key.
func (g *Graph) Successors(id string) map[string][]Edge { return g.succs[id] }

// SuccessorsFor returns the outgoing edges carrying the given output key.
func (g *Graph) SuccessorsFor(id, key string) []Edge { return g.succs[id][key] }

// PredecessorNodes returns the distinct upstream node ids, self-loops
// excluded, sorted for determinism.
func (g *Graph) PredecessorNodes(id string) []string {
	seen := make(map[string]bool)
	for _, e := range g.preds[id] {
		if e.From != id {
			seen[e.From] = true
		}
	}
	out := make([]string, 0, len(seen))
	for from := range seen {
		out = append(out, from)
	}
	sort.Strings(out)
	return out
}

// MergeMode returns the configured mode for a FLOW.MERGE node, defaulting
// to "all".
func (g *Graph) MergeMode(id string) string {
	n, ok := g.wf.Node(id)
	if !ok {
		return "all"
	}
	if m, ok := n.Configurations["mode"].(string); ok && m != "" {
		return m
	}
	return "all"
}

// Ready reports whether the node's inputs are satisfied given the upstream
// nodes that have delivered values so far.
//
//   - TRIGGER nodes are never ready; the scheduler seeds them explicitly.
//   - FLOW.MERGE with mode "any" is ready once any predecessor delivered;
//     with mode "all" once every distinct predecessor delivered.
//   - Every other node is ready when all of its distinct predecessors have
//     delivered. Nodes whose spec declares required input keys additionally
//     need values for those keys.
func (g *Graph) Ready(id string, delivered map[string]bool, inputs map[string]any) bool {
	n, ok := g.wf.Node(id)
	if !ok || g.attached[id] {
		return false
	}
	if n.Type == spec.TypeTrigger {
		return false
	}
	predNodes := g.PredecessorNodes(id)
	if len(predNodes) == 0 {
		return false
	}
	if n.Type == spec.TypeFlow && n.Subtype == "MERGE" {
		count := 0
		for _, p := range predNodes {
			if delivered[p] {
				count++
			}
		}
		if g.MergeMode(id) == "any" {
			return count > 0
		}
		return count == len(predNodes)
	}
	for _, p := range predNodes {
		if !delivered[p] {
			return false
		}
	}
	s := g.specs[id]
	for key, ps := range s.Input {
		if !ps.Required {
			continue
		}
		if _, ok := inputs[key]; !ok {
			if ps.Default == nil {
				return false
			}
		}
	}
	return true
}
