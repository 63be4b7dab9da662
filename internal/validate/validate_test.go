package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/agentflow/internal/condition"
	"github.com/flowcore/agentflow/internal/graph"
)

func hasKind(g *graph.Graph, kind error) bool {
	for _, e := range g.ValidationErrors {
		if errors.Is(e.Kind, kind) {
			return true
		}
	}
	return false
}

func TestBuild_RequiresExactlyOneUserInput(t *testing.T) {
	g := graph.NewGraph("test", false)
	g.AddNode(graph.NewNode("E", graph.KindEnd, nil))
	Build(g, nil)
	assert.True(t, hasKind(g, graph.ErrGraphValidation))
}

func TestBuild_DropsDuplicateEdgesAndFlagsSelfLoop(t *testing.T) {
	g := graph.NewGraph("test", false)
	g.AddNode(graph.NewNode("U", graph.KindUserInput, nil))
	g.AddEdge(graph.Edge{ID: "e1", Source: "U", SourceHandle: "out", Target: "U", TargetHandle: "in"})
	g.AddEdge(graph.Edge{ID: "e2", Source: "U", SourceHandle: "out", Target: "U", TargetHandle: "in"})
	Build(g, nil)
	assert.True(t, hasKind(g, graph.ErrDuplicateEdge))
	assert.True(t, hasKind(g, graph.ErrSelfLoopEdge))
	assert.Len(t, g.Edges, 1)
}

func TestBuild_DropsEdgesWithUnknownEndpoints(t *testing.T) {
	g := graph.NewGraph("test", false)
	g.AddNode(graph.NewNode("U", graph.KindUserInput, nil))
	g.AddEdge(graph.Edge{ID: "e1", Source: "U", SourceHandle: "out", Target: "ghost", TargetHandle: "in"})
	g.AddEdge(graph.Edge{ID: "e2", Source: "ghost", SourceHandle: "out", Target: "U", TargetHandle: "in"})
	Build(g, nil)
	assert.True(t, hasKind(g, graph.ErrInvalidEdgeTarget))
	assert.True(t, hasKind(g, graph.ErrInvalidEdgeSource))
	assert.Empty(t, g.Edges)
}

func TestBuild_ConditionalMissingDeclaredEdge(t *testing.T) {
	g := graph.NewGraph("test", false)
	g.AddNode(graph.NewNode("U", graph.KindUserInput, nil))
	g.AddNode(graph.NewNode("C", graph.KindConditional, map[string]any{
		"output_handles": []string{"yes", "no"},
	}))
	g.AddEdge(graph.Edge{ID: "e1", Source: "C", SourceHandle: "yes", Target: "U", TargetHandle: "in"})
	Build(g, nil)
	assert.True(t, hasKind(g, graph.ErrMissingCondEdge))
}

func TestBuild_ConditionalUndeclaredOutputs(t *testing.T) {
	g := graph.NewGraph("test", false)
	g.AddNode(graph.NewNode("U", graph.KindUserInput, nil))
	g.AddNode(graph.NewNode("C", graph.KindConditional, nil))
	g.AddEdge(graph.Edge{ID: "e1", Source: "C", SourceHandle: "yes", Target: "U", TargetHandle: "in"})
	Build(g, nil)
	assert.True(t, hasKind(g, graph.ErrUndeclaredOutputs))
}

func TestBuild_ConditionalInvalidSyntax(t *testing.T) {
	g := graph.NewGraph("test", false)
	g.AddNode(graph.NewNode("U", graph.KindUserInput, nil))
	g.AddNode(graph.NewNode("C", graph.KindConditional, map[string]any{
		"output_handles": []string{"yes"},
		"condition":      `output.value ==`,
	}))
	g.AddEdge(graph.Edge{ID: "e1", Source: "C", SourceHandle: "yes", Target: "U", TargetHandle: "in"})
	Build(g, condition.NewEvaluator())
	assert.True(t, hasKind(g, graph.ErrTemplateSyntax))
}

func TestBuild_NormalizeRewritesVoidHandlesAndWiresEndNodes(t *testing.T) {
	g := graph.NewGraph("test", false)
	g.AddNode(graph.NewNode("U", graph.KindUserInput, nil))
	g.AddNode(graph.NewNode("E", graph.KindEnd, nil))
	g.AddEdge(graph.Edge{ID: "e1", Source: "U", SourceHandle: "out", Target: "E", TargetHandle: graph.HandleVoid})

	Build(g, nil)

	require_NotEmpty(t, g.TerminalNodeID)
	terminal, ok := g.Nodes[g.TerminalNodeID]
	if !ok {
		t.Fatalf("terminal node %s not found", g.TerminalNodeID)
	}
	assert.Equal(t, graph.KindEnd, terminal.Kind)

	foundVoidRewrite := false
	foundEndWiring := false
	for _, e := range g.Edges {
		if e.Source == "U" && e.Target == g.TerminalNodeID {
			foundVoidRewrite = true
		}
		if e.Source == "E" && e.Target == g.TerminalNodeID {
			foundEndWiring = true
		}
	}
	assert.True(t, foundVoidRewrite)
	assert.True(t, foundEndWiring)
}

func TestBuild_EndNodeWithCustomOutputHandleWiresSyntheticEdgeToIt(t *testing.T) {
	g := graph.NewGraph("test", false)
	g.AddNode(graph.NewNode("U", graph.KindUserInput, nil))
	g.AddNode(graph.NewNode("E", graph.KindEnd, map[string]any{"output_handle": "handle_custom_end"}))

	Build(g, nil)

	var wired bool
	for _, e := range g.Edges {
		if e.Source == "E" && e.Target == g.TerminalNodeID {
			assert.Equal(t, "handle_custom_end", e.SourceHandle)
			wired = true
		}
	}
	assert.True(t, wired)
}

func TestBuild_EndNodeDefaultOutputHandleMatchesBehaviorDefault(t *testing.T) {
	g := graph.NewGraph("test", false)
	g.AddNode(graph.NewNode("U", graph.KindUserInput, nil))
	g.AddNode(graph.NewNode("E", graph.KindEnd, nil))

	Build(g, nil)

	var wired bool
	for _, e := range g.Edges {
		if e.Source == "E" && e.Target == g.TerminalNodeID {
			assert.Equal(t, "handle_end_output", e.SourceHandle)
			wired = true
		}
	}
	assert.True(t, wired)
}

func TestDecodeRawGraph_BuildsNodesAndEdgesFromWireFormat(t *testing.T) {
	raw := map[string]any{
		"graph_type": "chat",
		"debug":      true,
		"nodes": []any{
			map[string]any{"id": "U", "type": string(graph.KindUserInput), "data": map[string]any{"text": "hi"}},
			map[string]any{"id": "E", "type": string(graph.KindEnd)},
		},
		"edges": []any{
			map[string]any{"id": "e1", "source": "U", "target": "E", "source_handle": "handle_user_message", "target_handle": "in"},
		},
	}

	g := DecodeRawGraph(raw)

	assert.Equal(t, "chat", g.GraphType)
	assert.True(t, g.DebugEnabled)
	assert.Len(t, g.Nodes, 2)
	assert.Equal(t, graph.KindUserInput, g.Nodes["U"].Kind)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "U", g.Edges[0].Source)
	assert.Equal(t, "E", g.Edges[0].Target)
}

func TestDecodeRawGraph_MissingTargetHandleDefaultsToVoid(t *testing.T) {
	raw := map[string]any{
		"nodes": []any{
			map[string]any{"id": "U", "type": string(graph.KindUserInput)},
			map[string]any{"id": "E", "type": string(graph.KindEnd)},
		},
		"edges": []any{
			map[string]any{"id": "e1", "source": "U", "target": "E", "source_handle": "out"},
		},
	}

	g := DecodeRawGraph(raw)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, graph.HandleVoid, g.Edges[0].TargetHandle)
}

func TestBuild_InnerNodeMissingGraphDefinitionIsConfigurationError(t *testing.T) {
	g := graph.NewGraph("test", false)
	g.AddNode(graph.NewNode("U", graph.KindUserInput, nil))
	g.AddNode(graph.NewNode("I", graph.KindInner, nil))
	Build(g, nil)
	assert.True(t, hasKind(g, graph.ErrConfiguration))
}

func TestBuild_InnerNodeRecursivelyValidatesNestedGraph(t *testing.T) {
	g := graph.NewGraph("test", false)
	g.AddNode(graph.NewNode("U", graph.KindUserInput, nil))
	g.AddNode(graph.NewNode("I", graph.KindInner, map[string]any{
		"magic_flow": map[string]any{
			"nodes": []any{
				map[string]any{"id": "IE1", "type": string(graph.KindEnd)},
				map[string]any{"id": "IE2", "type": string(graph.KindEnd)},
			},
		},
	}))

	Build(g, nil)

	// The nested graph has zero user_input nodes, which checkSingleUserInput
	// flags; that error must surface on the outer graph, prefixed with the
	// Inner node's id, not silently swallowed.
	var found bool
	for _, e := range g.ValidationErrors {
		if errors.Is(e.Kind, graph.ErrGraphValidation) {
			found = true
			if ctx, ok := e.Context["node_id"]; ok {
				assert.Equal(t, "I", ctx)
			}
		}
	}
	assert.True(t, found)
}

func TestBuild_InnerNodeAcceptsFlowGraphAndSubgraphAliases(t *testing.T) {
	for _, key := range []string{"flow", "graph", "subgraph"} {
		g := graph.NewGraph("test", false)
		g.AddNode(graph.NewNode("U", graph.KindUserInput, nil))
		g.AddNode(graph.NewNode("I", graph.KindInner, map[string]any{
			key: map[string]any{
				"nodes": []any{
					map[string]any{"id": "IU", "type": string(graph.KindUserInput)},
				},
			},
		}))
		Build(g, nil)
		assert.False(t, hasKind(g, graph.ErrConfiguration), "alias %q should have been recognized", key)
	}
}

func require_NotEmpty(t *testing.T, s string) {
	t.Helper()
	if s == "" {
		t.Fatal("expected non-empty string")
	}
}
