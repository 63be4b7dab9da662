// Package validate implements the graph validator & builder (C2): the
// structural checks and normalization pass of spec §4.1. Grounded on
// _examples/original_source/magic_agents/util/graph_validator.py.
package validate

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/flowcore/agentflow/internal/condition"
	"github.com/flowcore/agentflow/internal/graph"
)

// OutputHandles and DefaultHandle are read from a Conditional node's
// Data map under these keys; output_handles is a []string (declared
// expected handles), default_handle an optional string.
const (
	dataKeyOutputHandles = "output_handles"
	dataKeyDefaultHandle = "default_handle"
	dataKeyCondition     = "condition"
)

// Build runs every check of §4.1 against g, attaching ValidationErrors
// and performing normalization (synthetic terminal insertion, void-
// handle rewriting, End-node wiring). It never refuses to return a
// graph: validation failure is recorded, not fatal, per spec §4.1
// "Failure semantics".
func Build(g *graph.Graph, evaluator *condition.Evaluator) *graph.Graph {
	checkSingleUserInput(g)
	checkDuplicateEdges(g)
	checkEdgeEndpointsExist(g)
	checkConditionalHandles(g)
	checkConditionalSyntax(g, evaluator)
	checkInnerGraphs(g, evaluator)
	normalize(g)
	return g
}

// innerGraphDataKeys mirrors internal/node's Inner behavior: the nested
// graph definition may be authored under any of these keys.
var innerGraphDataKeys = []string{"magic_flow", "flow", "graph", "subgraph"}

// checkInnerGraphs recursively builds and validates every Inner node's
// nested graph (spec §4.1 "Recursively build inner sub-graphs for Inner
// nodes"), folding the inner graph's own validation errors into the
// outer graph so a misconfigured nested flow is caught before the outer
// graph ever runs. The inner graph itself is discarded here — Inner's
// Behavior (internal/node) re-decodes and executes it at run time via
// deps.SubGraph, since this package cannot import the executor that runs
// it without an import cycle.
func checkInnerGraphs(g *graph.Graph, evaluator *condition.Evaluator) {
	for _, n := range g.NodesByKind(graph.KindInner) {
		var raw map[string]any
		for _, key := range innerGraphDataKeys {
			if v, ok := n.Data[key].(map[string]any); ok {
				raw = v
				break
			}
		}
		if raw == nil {
			g.AddValidationError(graph.NewValidationError(
				graph.ErrConfiguration,
				fmt.Sprintf("inner node %s has no nested graph definition (magic_flow/flow/graph/subgraph)", n.ID),
				map[string]any{"node_id": n.ID},
			))
			continue
		}

		inner := DecodeRawGraph(raw)
		Build(inner, evaluator)
		for _, verr := range inner.ValidationErrors {
			g.AddValidationError(graph.NewValidationError(
				verr.Kind,
				fmt.Sprintf("inner graph of node %s: %s", n.ID, verr.Message),
				map[string]any{"node_id": n.ID, "inner_context": verr.Context},
			))
		}
	}
}

// DecodeRawGraph builds a graph.Graph from the wire format's node/edge
// map shape ({"graph_type","debug","nodes":[{id,type,data}],
// "edges":[{id,source,target,source_handle,target_handle}]}), independent
// of package agentflow's typed GraphInput so validate can recursively
// resolve Inner nodes' nested definitions without importing it.
func DecodeRawGraph(raw map[string]any) *graph.Graph {
	graphType, _ := raw["graph_type"].(string)
	debug, _ := raw["debug"].(bool)
	g := graph.NewGraph(graphType, debug)

	if nodes, ok := raw["nodes"].([]any); ok {
		for _, rn := range nodes {
			m, ok := rn.(map[string]any)
			if !ok {
				continue
			}
			id, _ := m["id"].(string)
			kind, _ := m["type"].(string)
			data, _ := m["data"].(map[string]any)
			g.AddNode(graph.NewNode(id, graph.Kind(kind), data))
		}
	}

	if edges, ok := raw["edges"].([]any); ok {
		for _, re := range edges {
			m, ok := re.(map[string]any)
			if !ok {
				continue
			}
			id, _ := m["id"].(string)
			source, _ := m["source"].(string)
			target, _ := m["target"].(string)
			sourceHandle, _ := m["source_handle"].(string)
			targetHandle, _ := m["target_handle"].(string)
			if targetHandle == "" {
				targetHandle = graph.HandleVoid
			}
			g.AddEdge(graph.Edge{
				ID:           id,
				Source:       source,
				SourceHandle: sourceHandle,
				Target:       target,
				TargetHandle: targetHandle,
			})
		}
	}

	return g
}

func checkSingleUserInput(g *graph.Graph) {
	userInputs := g.NodesByKind(graph.KindUserInput)
	if len(userInputs) != 1 {
		g.AddValidationError(graph.NewValidationError(
			graph.ErrGraphValidation,
			fmt.Sprintf("graph must have exactly one user_input node, found %d", len(userInputs)),
			map[string]any{"count": len(userInputs)},
		))
	}
}

func checkDuplicateEdges(g *graph.Graph) {
	seen := make(map[[4]string]struct{}, len(g.Edges))
	var deduped []graph.Edge
	for _, e := range g.Edges {
		k := [4]string{e.Source, e.SourceHandle, e.Target, e.TargetHandle}
		if _, dup := seen[k]; dup {
			g.AddValidationError(graph.NewValidationError(
				graph.ErrDuplicateEdge,
				fmt.Sprintf("duplicate edge %s.%s -> %s.%s", e.Source, e.SourceHandle, e.Target, e.TargetHandle),
				map[string]any{"edge_id": e.ID},
			))
			continue
		}
		seen[k] = struct{}{}
		deduped = append(deduped, e)
		if e.IsSelfLoop() {
			g.AddValidationError(graph.NewValidationError(
				graph.ErrSelfLoopEdge,
				fmt.Sprintf("self-loop edge on node %s", e.Source),
				map[string]any{"node_id": e.Source},
			))
		}
	}
	g.Edges = deduped
}

func checkEdgeEndpointsExist(g *graph.Graph) {
	var kept []graph.Edge
	for _, e := range g.Edges {
		_, srcOK := g.Nodes[e.Source]
		_, tgtOK := g.Nodes[e.Target]
		if !srcOK {
			g.AddValidationError(graph.NewValidationError(
				graph.ErrInvalidEdgeSource,
				fmt.Sprintf("edge %s references unknown source node %s", e.ID, e.Source),
				map[string]any{"edge_id": e.ID, "node_id": e.Source},
			))
			continue
		}
		if !tgtOK {
			g.AddValidationError(graph.NewValidationError(
				graph.ErrInvalidEdgeTarget,
				fmt.Sprintf("edge %s references unknown target node %s", e.ID, e.Target),
				map[string]any{"edge_id": e.ID, "node_id": e.Target},
			))
			continue
		}
		kept = append(kept, e)
	}
	g.Edges = kept
}

func checkConditionalHandles(g *graph.Graph) {
	for _, n := range g.NodesByKind(graph.KindConditional) {
		declared, _ := n.Data[dataKeyOutputHandles].([]string)
		outgoing := g.OutgoingEdges(n.ID)
		actualHandles := map[string]struct{}{}
		for _, e := range outgoing {
			actualHandles[e.SourceHandle] = struct{}{}
		}

		if len(declared) == 0 {
			var list []string
			for h := range actualHandles {
				list = append(list, h)
			}
			g.AddValidationError(graph.NewValidationError(
				graph.ErrUndeclaredOutputs,
				fmt.Sprintf("conditional %s has no declared output_handles; actual edge handles: %v", n.ID, list),
				map[string]any{"node_id": n.ID, "actual_handles": list},
			))
		} else {
			for _, h := range declared {
				if _, ok := actualHandles[h]; !ok {
					g.AddValidationError(graph.NewValidationError(
						graph.ErrMissingCondEdge,
						fmt.Sprintf("conditional %s declares output handle %q with no outgoing edge", n.ID, h),
						map[string]any{"node_id": n.ID, "handle": h},
					))
				}
			}
		}

		if def, ok := n.Data[dataKeyDefaultHandle].(string); ok && def != "" {
			if _, ok := actualHandles[def]; !ok {
				g.AddValidationError(graph.NewValidationError(
					graph.ErrMissingDefaultEdge,
					fmt.Sprintf("conditional %s declares default_handle %q with no outgoing edge", n.ID, def),
					map[string]any{"node_id": n.ID, "handle": def},
				))
			}
		}
	}
}

func checkConditionalSyntax(g *graph.Graph, evaluator *condition.Evaluator) {
	if evaluator == nil {
		return
	}
	for _, n := range g.NodesByKind(graph.KindConditional) {
		cond, ok := n.Data[dataKeyCondition].(string)
		if !ok || cond == "" {
			continue
		}
		if err := evaluator.CheckSelectorSyntax(cond); err != nil {
			g.AddValidationError(graph.NewValidationError(
				graph.ErrTemplateSyntax,
				fmt.Sprintf("conditional %s has invalid condition syntax: %v", n.ID, err),
				map[string]any{"node_id": n.ID},
			))
		}
	}
}

// normalize inserts the synthetic terminal node, rewrites void-handle
// edges onto it, and wires End nodes to it.
func normalize(g *graph.Graph) {
	terminalID := "__terminal__" + uuid.NewString()
	terminal := graph.NewNode(terminalID, graph.KindEnd, nil)
	g.AddNode(terminal)
	g.TerminalNodeID = terminalID

	for i, e := range g.Edges {
		if e.TargetHandle == graph.HandleVoid {
			g.Edges[i].Target = terminalID
			g.Edges[i].TargetHandle = "in"
		}
	}

	for _, n := range g.NodesByKind(graph.KindEnd) {
		if n.ID == terminalID {
			continue
		}
		g.AddEdge(graph.Edge{
			ID:           "__synthetic__" + uuid.NewString(),
			Source:       n.ID,
			SourceHandle: endOutputHandle(n),
			Target:       terminalID,
			TargetHandle: "in",
		})
	}
}

// endOutputHandle mirrors internal/node's End() behavior: the handle it
// actually emits under is data["output_handle"], defaulting to
// "handle_end_output", not the bare "out" the synthetic wiring used to
// hardcode.
func endOutputHandle(n *graph.Node) string {
	if h, ok := n.Data["output_handle"].(string); ok && h != "" {
		return h
	}
	return "handle_end_output"
}
