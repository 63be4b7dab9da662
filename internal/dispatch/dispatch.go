// Package dispatch implements the event dispatcher (C4): edge maps, one
// tracker per node, output routing and recursive conditional-bypass
// propagation. Grounded on
// _examples/original_source/magic_agents/execution/event_dispatcher.py.
package dispatch

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/flowcore/agentflow/internal/graph"
	"github.com/flowcore/agentflow/internal/tracker"
)

// Dispatcher owns one Tracker per node plus the incoming/outgoing edge
// maps built once from the graph. NodeExecution state lives in an
// xsync.MapOf rather than behind a single mutex+map: many goroutines
// read it (the reactive executor's completion loop, the debug
// collector) far more often than the owning node's single task writes
// it, exactly the read-heavy/low-contention shape xsync.MapOf targets.
type Dispatcher struct {
	g        *graph.Graph
	trackers map[string]*tracker.Tracker
	incoming map[string][]graph.Edge
	outgoing map[string][]graph.Edge
	states   *xsync.MapOf[string, graph.State]
}

func New(g *graph.Graph) *Dispatcher {
	d := &Dispatcher{
		g:        g,
		trackers: make(map[string]*tracker.Tracker, len(g.Nodes)),
		incoming: make(map[string][]graph.Edge),
		outgoing: make(map[string][]graph.Edge),
		states:   xsync.NewMapOf[string, graph.State](),
	}
	for _, e := range g.Edges {
		d.incoming[e.Target] = append(d.incoming[e.Target], e)
		d.outgoing[e.Source] = append(d.outgoing[e.Source], e)
	}
	for id := range g.Nodes {
		expected := make(map[string]struct {
			SourceNode   string
			SourceHandle graph.Handle
		})
		for _, e := range d.incoming[id] {
			expected[e.TargetHandle] = struct {
				SourceNode   string
				SourceHandle graph.Handle
			}{SourceNode: e.Source, SourceHandle: e.SourceHandle}
		}
		d.trackers[id] = tracker.New(id, expected)
		d.states.Store(id, graph.StatePending)
	}
	return d
}

func (d *Dispatcher) Tracker(nodeID string) *tracker.Tracker { return d.trackers[nodeID] }

func (d *Dispatcher) Outgoing(nodeID string) []graph.Edge { return d.outgoing[nodeID] }
func (d *Dispatcher) Incoming(nodeID string) []graph.Edge { return d.incoming[nodeID] }

func (d *Dispatcher) SetState(nodeID string, s graph.State) {
	d.states.Store(nodeID, s)
	if n, ok := d.g.Nodes[nodeID]; ok {
		n.SetState(s)
	}
}

func (d *Dispatcher) State(nodeID string) graph.State {
	s, _ := d.states.Load(nodeID)
	return s
}

// DispatchInput writes value into target's input handle and notifies
// its tracker. value is unwrapped one Value-envelope layer first, per
// spec §4.4.
func (d *Dispatcher) DispatchInput(target string, handle graph.Handle, value any) {
	n, ok := d.g.Nodes[target]
	if !ok {
		return
	}
	n.SetInput(handle, graph.Unwrap(value))
	if t := d.trackers[target]; t != nil {
		t.ReceiveInput(handle, graph.Unwrap(value))
	}
}

// PropagateOutputs dispatches every outgoing edge of source whose
// SourceHandle is present in outputs.
func (d *Dispatcher) PropagateOutputs(source string, outputs map[graph.Handle]graph.Value) {
	for _, e := range d.outgoing[source] {
		v, ok := outputs[e.SourceHandle]
		if !ok {
			continue
		}
		d.DispatchInput(e.Target, e.TargetHandle, v)
	}
}

// PropagateConditionalBypass partitions source's outgoing edges into
// selected (reachable via selectedHandle) and bypassed (reachable only
// via other handles); a target reachable via both is selected (spec's
// "selected wins over bypassed" tie-break, §4.4/§9). Every purely-
// bypassed target enters RecursiveBypass.
func (d *Dispatcher) PropagateConditionalBypass(source string, selectedHandle graph.Handle) {
	selected := map[string]struct{}{}
	bypassCandidates := map[string]struct{}{}
	for _, e := range d.outgoing[source] {
		if e.SourceHandle == selectedHandle {
			selected[e.Target] = struct{}{}
		} else {
			bypassCandidates[e.Target] = struct{}{}
		}
	}
	for target := range bypassCandidates {
		if _, isSelected := selected[target]; isSelected {
			continue
		}
		d.bypassEdgeInto(source, target)
	}
}

// HandleBypassAll bypasses every downstream target of source
// unconditionally (used on conditional failure / BYPASS_ALL signal).
func (d *Dispatcher) HandleBypassAll(source string) {
	for _, e := range d.outgoing[source] {
		d.bypassEdgeInto(source, e.Target)
	}
}

// bypassEdgeInto marks every edge from source into target's matching
// handle(s) as bypassed on target's tracker, then attempts recursive
// bypass.
func (d *Dispatcher) bypassEdgeInto(source, target string) {
	for _, e := range d.outgoing[source] {
		if e.Target != target {
			continue
		}
		if t := d.trackers[target]; t != nil {
			t.ReceiveBypass(e.TargetHandle)
		}
	}
	d.RecursiveBypass(target)
}

// RecursiveBypass marks as bypassed each of nodeID's still-pending
// handles that no source can still deliver to (every source feeding the
// handle is already Completed, Bypassed or Error); if its tracker then
// reports IsBypassed, sets its state to Bypassed and recurses into its
// own out-neighbours. A node is visited at most once per call, so a
// loop-back cycle ends the recursion.
func (d *Dispatcher) RecursiveBypass(nodeID string) {
	d.recursiveBypass(nodeID, map[string]struct{}{})
}

func (d *Dispatcher) recursiveBypass(nodeID string, visited map[string]struct{}) {
	if _, seen := visited[nodeID]; seen {
		return
	}
	visited[nodeID] = struct{}{}
	t := d.trackers[nodeID]
	if t == nil {
		return
	}
	for _, h := range t.PendingHandles() {
		live := false
		for _, e := range d.incoming[nodeID] {
			if s := d.State(e.Source); e.TargetHandle == h && (s == graph.StatePending || s == graph.StateReady || s == graph.StateExecuting) {
				live = true
			}
		}
		if !live {
			t.ReceiveBypass(h)
		}
	}
	if !t.IsBypassed() {
		return
	}
	if n, ok := d.g.Nodes[nodeID]; ok {
		if n.State() == graph.StateCompleted || n.State() == graph.StateExecuting {
			return
		}
		n.MarkBypassed()
	}
	d.SetState(nodeID, graph.StateBypassed)
	for _, e := range d.outgoing[nodeID] {
		d.recursiveBypass(e.Target, visited)
	}
}

// SourceNodes returns every node with zero incoming edges: immediately
// ready per spec §4.4.
func (d *Dispatcher) SourceNodes() []string {
	var out []string
	for id := range d.g.Nodes {
		if len(d.incoming[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}
