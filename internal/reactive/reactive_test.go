package reactive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/agentflow/internal/condition"
	"github.com/flowcore/agentflow/internal/debugpipe"
	"github.com/flowcore/agentflow/internal/dispatch"
	"github.com/flowcore/agentflow/internal/graph"
	"github.com/flowcore/agentflow/internal/node"
	"github.com/flowcore/agentflow/internal/streambus"
)

func testOptions() Options {
	return Options{MaxConcurrent: 10, PerNodeInputTimeout: 2 * time.Second}
}

// Three-node linear graph: U -> T -> E. Every node executes, none are
// bypassed, and no content events are produced.
func TestRun_LinearGraph_AllNodesExecute(t *testing.T) {
	g := graph.NewGraph("test", false)
	g.AddNode(graph.NewNode("U", graph.KindUserInput, map[string]any{"text": "hello"}))
	g.AddNode(graph.NewNode("T", graph.KindText, map[string]any{"output_handle": "out"}))
	g.AddNode(graph.NewNode("E", graph.KindEnd, nil))
	g.AddEdge(graph.Edge{ID: "e1", Source: "U", SourceHandle: "handle_user_message", Target: "T", TargetHandle: "text"})
	g.AddEdge(graph.Edge{ID: "e2", Source: "T", SourceHandle: "out", Target: "E", TargetHandle: "in"})

	d := dispatch.New(g)
	registry := node.NewRegistry()
	registry.Register("user_input", node.UserInput())
	registry.Register("text", node.Text())
	registry.Register("end", node.End())
	dbg := debugpipe.NewNoop()
	stream := streambus.NewStream(8)

	for _, id := range d.SourceNodes() {
		d.SetState(id, graph.StateReady)
	}

	done := make(chan struct{})
	go func() {
		Run(context.Background(), g, d, registry, dbg, stream, testOptions())
		stream.Close()
		close(done)
	}()

	var contentEvents int
	for ev := range stream.Events() {
		if ev.Kind == "content" {
			contentEvents++
		}
	}
	<-done

	assert.Equal(t, 0, contentEvents)
	assert.Equal(t, graph.StateCompleted, g.Nodes["U"].State())
	assert.Equal(t, graph.StateCompleted, g.Nodes["T"].State())
	assert.Equal(t, graph.StateCompleted, g.Nodes["E"].State())
}

// U -> C -> {Ty, Tn} -> E, conditional prune: exactly one of Ty/Tn
// executes and the other is bypassed, per spec §8 scenario 2.
func runConditionalPrune(t *testing.T, userText string) (*graph.Graph, *dispatch.Dispatcher) {
	t.Helper()
	g := graph.NewGraph("test", false)
	g.AddNode(graph.NewNode("U", graph.KindUserInput, map[string]any{"text": userText}))
	g.AddNode(graph.NewNode("C", graph.KindConditional, map[string]any{
		"condition":      `{{ 'yes' if handle_user_message|trim else 'no' }}`,
		"default_handle": "no",
	}))
	g.AddNode(graph.NewNode("Ty", graph.KindText, map[string]any{"output_handle": "out"}))
	g.AddNode(graph.NewNode("Tn", graph.KindText, map[string]any{"output_handle": "out"}))
	g.AddNode(graph.NewNode("E", graph.KindEnd, nil))
	g.AddEdge(graph.Edge{ID: "e1", Source: "U", SourceHandle: "handle_user_message", Target: "C", TargetHandle: "handle_user_message"})
	g.AddEdge(graph.Edge{ID: "e2", Source: "C", SourceHandle: "yes", Target: "Ty", TargetHandle: "in"})
	g.AddEdge(graph.Edge{ID: "e3", Source: "C", SourceHandle: "no", Target: "Tn", TargetHandle: "in"})
	g.AddEdge(graph.Edge{ID: "e4", Source: "Ty", SourceHandle: "out", Target: "E", TargetHandle: "in"})
	g.AddEdge(graph.Edge{ID: "e5", Source: "Tn", SourceHandle: "out", Target: "E", TargetHandle: "in"})

	d := dispatch.New(g)
	registry := node.NewRegistry()
	registry.Register("user_input", node.UserInput())
	registry.Register("conditional", node.Conditional(node.Deps{Condition: condition.NewEvaluator()}))
	registry.Register("text", node.Text())
	registry.Register("end", node.End())
	dbg := debugpipe.NewNoop()
	stream := streambus.NewStream(8)

	done := make(chan struct{})
	go func() {
		Run(context.Background(), g, d, registry, dbg, stream, testOptions())
		stream.Close()
		close(done)
	}()
	for range stream.Events() {
	}
	<-done
	return g, d
}

func TestRun_ConditionalPrune_NonEmptyMessageExecutesYesBranch(t *testing.T) {
	g, _ := runConditionalPrune(t, "x")
	assert.Equal(t, graph.StateCompleted, g.Nodes["Ty"].State())
	assert.True(t, g.Nodes["Tn"].Bypassed())
	assert.Equal(t, graph.StateCompleted, g.Nodes["E"].State())
}

func TestRun_ConditionalPrune_EmptyMessageExecutesNoBranch(t *testing.T) {
	g, _ := runConditionalPrune(t, "")
	assert.Equal(t, graph.StateCompleted, g.Nodes["Tn"].State())
	assert.True(t, g.Nodes["Ty"].Bypassed())
	assert.Equal(t, graph.StateCompleted, g.Nodes["E"].State())
}

// A Conditional that selects a handle with no outgoing edge and no
// usable default produces a routing error and bypasses everything
// downstream, per spec §8 scenario 5.
func TestRun_MissingEdgeRouting_EmitsErrorAndBypassesDownstream(t *testing.T) {
	g := graph.NewGraph("test", false)
	g.AddNode(graph.NewNode("U", graph.KindUserInput, map[string]any{"text": "x"}))
	g.AddNode(graph.NewNode("C", graph.KindConditional, map[string]any{
		"condition": `{{ 'ghost' if handle_user_message == "x" else 'other' }}`,
	}))
	g.AddNode(graph.NewNode("Y", graph.KindText, nil))
	g.AddEdge(graph.Edge{ID: "e1", Source: "U", SourceHandle: "handle_user_message", Target: "C", TargetHandle: "handle_user_message"})
	g.AddEdge(graph.Edge{ID: "e2", Source: "C", SourceHandle: "other", Target: "Y", TargetHandle: "in"})

	d := dispatch.New(g)
	registry := node.NewRegistry()
	registry.Register("user_input", node.UserInput())
	registry.Register("conditional", node.Conditional(node.Deps{Condition: condition.NewEvaluator()}))
	registry.Register("text", node.Text())

	pipeline := debugpipe.NewPipeline()
	dbg := debugpipe.New("exec1", "test", pipeline, nil)
	stream := streambus.NewStream(8)

	var routingErrors int
	go func() {
		for ev := range stream.Events() {
			if ev.Kind == "debug" && ev.EventType == "routing_error" {
				routingErrors++
			}
		}
	}()

	Run(context.Background(), g, d, registry, dbg, stream, testOptions())
	stream.Close()
	time.Sleep(20 * time.Millisecond)

	// The registry is nil, so no debug event reaches the stream; the
	// collector still records the routing error.
	for _, e := range dbg.Finish(context.Background()).AllEvents {
		if e.Kind == debugpipe.KindRoutingError {
			routingErrors++
		}
	}
	require.Equal(t, 1, routingErrors)
	assert.True(t, g.Nodes["Y"].Bypassed())
}
