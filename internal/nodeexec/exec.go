// Package nodeexec holds the single-node execution step shared by the
// reactive executor (C5, concurrent per-node goroutines) and the loop
// sub-executor (C6, sequential per-phase execution): run one node's
// behavior to completion, classify its events, and route its outputs
// through the dispatcher. Factoring this out keeps C5 and C6 from
// duplicating the conditional-routing and bypass-propagation rules of
// spec §4.5 point 5.
package nodeexec

import (
	"context"
	"fmt"

	"github.com/flowcore/agentflow/internal/debugpipe"
	"github.com/flowcore/agentflow/internal/dispatch"
	"github.com/flowcore/agentflow/internal/graph"
	"github.com/flowcore/agentflow/internal/node"
)

// StreamSink is the minimal surface nodeexec needs from the output
// stream: push a content chunk. Debug events go through the dbg
// debugpipe.Context instead, matching spec §4.5's "debug -> push
// through the debug pipeline" routing.
type StreamSink interface {
	PublishContent(content any, sourceNode string)
}

// Run executes n to completion: waits out its behavior's event channel,
// classifies each event per §4.5 point 4, then propagates outputs and
// (for Conditional nodes) resolves routing per §4.5 point 5. Returns the
// node's terminal state. The validator's synthetic terminal node runs
// without debug events, so it is not counted in the debug summary.
func Run(ctx context.Context, g *graph.Graph, d *dispatch.Dispatcher, registry *node.Registry, dbg *debugpipe.Context, stream StreamSink, n *graph.Node) graph.State {
	if g != nil && g.TerminalNodeID != "" && n.ID == g.TerminalNodeID {
		dbg = debugpipe.NewNoop()
	}
	behavior, ok := registry.Get(string(n.Kind))
	if !ok {
		err := fmt.Errorf("%w: no behavior registered for kind %q", graph.ErrConfiguration, n.Kind)
		n.SetError(err)
		dbg.NodeError(ctx, n.ID, string(n.Kind), err)
		d.SetState(n.ID, graph.StateError)
		return graph.StateError
	}

	d.SetState(n.ID, graph.StateExecuting)
	dbg.NodeStart(ctx, n.ID, string(n.Kind))

	events, err := behavior.Execute(ctx, n.AllInputs(), n.Data)
	if err != nil {
		n.SetError(err)
		dbg.NodeError(ctx, n.ID, string(n.Kind), fmt.Errorf("%w: %v", graph.ErrNode, err))
		d.SetState(n.ID, graph.StateError)
		return graph.StateError
	}

	selectedHandle := ""
	for ev := range events {
		switch {
		case ev.Kind == graph.KindContent:
			if stream != nil {
				stream.PublishContent(ev.Content, n.ID)
			}
		case ev.Kind == graph.KindDebug || ev.Kind == graph.KindDebugSummary:
			dbg.Emit(ctx, debugpipe.KindTiming, debugpipe.SeverityDebug, n.ID, string(n.Kind), map[string]any{"content": ev.Content})
		case graph.IsSystemSignal(ev.Kind):
			if ev.Kind == graph.SignalBypassAll {
				d.SetState(n.ID, graph.StateCompleted)
				dbg.NodeEnd(ctx, n.ID, string(n.Kind))
				d.HandleBypassAll(n.ID)
				return graph.StateCompleted
			}
		default:
			n.SetOutput(ev.Kind, graph.Value{ProducerKind: string(n.Kind), Content: ev.Content})
			if n.Kind == graph.KindConditional && selectedHandle == "" {
				selectedHandle = ev.Kind
				n.SetSelectedHandle(ev.Kind)
			}
		}
	}

	if err := n.Err(); err != nil {
		d.SetState(n.ID, graph.StateError)
		return graph.StateError
	}

	d.SetState(n.ID, graph.StateCompleted)
	dbg.NodeEnd(ctx, n.ID, string(n.Kind))
	d.PropagateOutputs(n.ID, n.AllOutputs())

	if n.Kind == graph.KindConditional {
		resolveConditionalRouting(ctx, g, d, dbg, n, selectedHandle)
	}

	return graph.StateCompleted
}

// resolveConditionalRouting verifies selectedHandle has an outgoing
// edge, falling back to default_handle, or emitting a routing error and
// bypassing everything downstream (spec §4.5 point 5, §7).
func resolveConditionalRouting(ctx context.Context, g *graph.Graph, d *dispatch.Dispatcher, dbg *debugpipe.Context, n *graph.Node, selectedHandle string) {
	if selectedHandle == "" {
		d.PropagateConditionalBypass(n.ID, "")
		return
	}
	hasEdge := func(handle string) bool {
		for _, e := range d.Outgoing(n.ID) {
			if e.SourceHandle == handle {
				return true
			}
		}
		return false
	}
	if hasEdge(selectedHandle) {
		d.PropagateConditionalBypass(n.ID, selectedHandle)
		return
	}
	if def, ok := n.Data["default_handle"].(string); ok && def != "" && hasEdge(def) {
		d.PropagateConditionalBypass(n.ID, def)
		return
	}
	dbg.Emit(ctx, debugpipe.KindRoutingError, debugpipe.SeverityError, n.ID, string(n.Kind), map[string]any{
		"message":         "conditional selected a handle with no outgoing edge and no usable default",
		"selected_handle": selectedHandle,
	})
	d.HandleBypassAll(n.ID)
}
