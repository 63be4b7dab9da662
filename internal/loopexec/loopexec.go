package loopexec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowcore/agentflow/internal/debugpipe"
	"github.com/flowcore/agentflow/internal/dispatch"
	"github.com/flowcore/agentflow/internal/graph"
	"github.com/flowcore/agentflow/internal/node"
	"github.com/flowcore/agentflow/internal/nodeexec"
	"github.com/flowcore/agentflow/internal/streambus"
)

const defaultMaxIterations = 1000

// itemPreviewMaxLen bounds Progress.ItemPreview (spec §4.6(c).1 / §6).
const itemPreviewMaxLen = 100

// Progress is the payload of the loop_progress stream event (spec
// §4.6(c).1, §6's schema table): loop_id/current/total/progress plus a
// truncated preview of the item just dispatched and elapsed/estimated
// timing, computed from the loop's start time.
type Progress struct {
	LoopNodeID           string  `json:"loop_id"`
	Index                int     `json:"current"`
	Total                int     `json:"total"`
	ProgressPct          float64 `json:"progress"`
	ItemPreview          string  `json:"item_preview"`
	ElapsedMS            int64   `json:"elapsed_ms"`
	EstimatedRemainingMS int64   `json:"estimated_remaining_ms"`
}

// newProgress computes every field of Progress for iteration idx of
// total, given the loop's start time: progress is current/total as a
// percentage, elapsed is time since start, and the remaining estimate
// extrapolates the per-iteration average over the iterations left.
func newProgress(loopID string, idx, total int, item any, start time.Time) Progress {
	elapsed := time.Since(start)
	current := idx + 1
	var pct float64
	if total > 0 {
		pct = float64(current) / float64(total) * 100
	}
	var remaining time.Duration
	if current > 0 && total > current {
		remaining = elapsed / time.Duration(current) * time.Duration(total-current)
	}
	return Progress{
		LoopNodeID:           loopID,
		Index:                current,
		Total:                total,
		ProgressPct:          pct,
		ItemPreview:          truncatePreview(item),
		ElapsedMS:            elapsed.Milliseconds(),
		EstimatedRemainingMS: remaining.Milliseconds(),
	}
}

// truncatePreview renders item as a string and clips it to
// itemPreviewMaxLen runes, the Go counterpart of a Python f-string
// slice.
func truncatePreview(item any) string {
	s := fmt.Sprint(item)
	r := []rune(s)
	if len(r) <= itemPreviewMaxLen {
		return s
	}
	return string(r[:itemPreviewMaxLen])
}

// Run executes every Loop-kind node of g found by the caller (spec §4.5
// point 2 delegates whole-graph execution here whenever any node is a
// Loop node). Each loop is partitioned into a static phase, an
// iteration phase and a post-loop phase and run to completion in that
// order; node tasks run sequentially within a phase since each phase's
// topological order already guarantees every producer has finished
// before its consumer starts. Grounded on
// _examples/original_source/magic_agents/node_system/NodeLoop.py (the
// list/item/loop/end handle contract) and
// _examples/smilemakc-mbflow's wave-index rewind for loop-back edges
// (adapted into an explicit phase partition, since spec §9 settles on
// disjoint phases over wave rewinding).
func Run(ctx context.Context, g *graph.Graph, d *dispatch.Dispatcher, registry *node.Registry, dbg *debugpipe.Context, stream *streambus.Stream, loopIDs []string) {
	for _, loopID := range loopIDs {
		runOneLoop(ctx, g, d, registry, dbg, stream, loopID)
	}
	runNonLoopRemainder(ctx, g, d, registry, dbg, stream, loopIDs)
}

// runNonLoopRemainder executes, in topological order, every node that
// is not a Loop node and was not already run as part of some loop's
// static/iteration/post-loop phase (a graph may mix independent
// branches with no relation to any loop at all).
func runNonLoopRemainder(ctx context.Context, g *graph.Graph, d *dispatch.Dispatcher, registry *node.Registry, dbg *debugpipe.Context, stream *streambus.Stream, loopIDs []string) {
	handled := make(map[string]struct{}, len(g.Nodes))
	for _, id := range loopIDs {
		handled[id] = struct{}{}
	}
	for id, n := range g.Nodes {
		if n.Executed() || n.Bypassed() {
			handled[id] = struct{}{}
		}
	}
	remaining := make(map[string]struct{})
	for id := range g.Nodes {
		if _, ok := handled[id]; !ok {
			remaining[id] = struct{}{}
		}
	}
	if len(remaining) == 0 {
		return
	}
	for _, id := range topoSort(remaining, g.Edges) {
		n := g.Nodes[id]
		if n.Executed() || n.Bypassed() {
			continue
		}
		nodeexec.Run(ctx, g, d, registry, dbg, stream, n)
	}
}

func runOneLoop(ctx context.Context, g *graph.Graph, d *dispatch.Dispatcher, registry *node.Registry, dbg *debugpipe.Context, stream *streambus.Stream, loopID string) {
	loopNode := g.Nodes[loopID]
	classes := classifyEdges(g, loopID)
	outIdx := buildOutgoingIndex(g.Edges)

	endTargets := edgeTargets(classes.end)
	postLoop := bfsForward(endTargets, outIdx, loopID, func(graph.Edge) bool { return false })

	itemTargets := edgeTargets(classes.item)
	iteration := bfsForward(itemTargets, outIdx, loopID, func(e graph.Edge) bool {
		return e.Target == loopID
	})
	for id := range postLoop {
		delete(iteration, id)
	}

	static := make(map[string]struct{})
	for id := range g.Nodes {
		if id == loopID {
			continue
		}
		if _, ok := iteration[id]; ok {
			continue
		}
		if _, ok := postLoop[id]; ok {
			continue
		}
		static[id] = struct{}{}
	}

	// (b) Static phase: topological order over the static node set,
	// restricted to the graph's full edge list so cross-phase producers
	// (e.g. a static node feeding the loop's list handle) still wire up
	// through the shared dispatcher.
	for _, id := range topoSort(static, g.Edges) {
		n := g.Nodes[id]
		if n.Bypassed() || n.Executed() {
			continue
		}
		nodeexec.Run(ctx, g, d, registry, dbg, stream, n)
	}

	list, bypassed := resolveList(loopNode)
	if bypassed {
		bypassLoop(d, loopNode, iteration, postLoop)
		return
	}

	maxIter := intData(loopNode.Data, "max_iterations", defaultMaxIterations)
	iterationOrder := topoSort(iteration, g.Edges)
	aggregate := make([]any, 0, len(list))

	// A node already Bypassed here was bypassed by a conditional outside
	// the loop (the static phase), not by this loop's own machinery —
	// Reset() would otherwise wrongly resurrect it on the next
	// iteration, so it is excluded from every iteration's reset/run.
	externallyBypassed := make(map[string]struct{})
	for id := range iteration {
		if g.Nodes[id].Bypassed() {
			externallyBypassed[id] = struct{}{}
		}
	}

	total := len(list)
	if total > maxIter {
		dbg.Emit(ctx, debugpipe.KindValidationError, debugpipe.SeverityWarn, loopID, string(loopNode.Kind), map[string]any{
			"message":        "list length exceeds max_iterations, truncating",
			"list_length":    total,
			"max_iterations": maxIter,
		})
		total = maxIter
	}

	loopStart := time.Now()
	for idx := 0; idx < total; idx++ {
		item := list[idx]

		if stream != nil {
			stream.PublishLoopProgress(newProgress(loopID, idx, total, item, loopStart))
		}
		dbg.Emit(ctx, debugpipe.KindIterationStart, debugpipe.SeverityDebug, loopID, string(loopNode.Kind), map[string]any{"index": idx})

		for id := range iteration {
			if _, skip := externallyBypassed[id]; skip {
				continue
			}
			g.Nodes[id].Reset()
		}
		loopNode.SetInput(graph.LoopHandleLoop, nil)

		for _, e := range classes.item {
			if _, skip := externallyBypassed[e.Target]; skip {
				continue
			}
			d.DispatchInput(e.Target, e.TargetHandle, item)
		}

		for _, id := range iterationOrder {
			n := g.Nodes[id]
			if n.Bypassed() || n.Executed() {
				continue
			}
			nodeexec.Run(ctx, g, d, registry, dbg, stream, n)
		}

		if fb, ok := loopNode.Input(graph.LoopHandleLoop); ok {
			aggregate = append(aggregate, graph.Unwrap(fb))
		}
		dbg.Emit(ctx, debugpipe.KindIterationEnd, debugpipe.SeverityDebug, loopID, string(loopNode.Kind), map[string]any{"index": idx})
	}

	loopNode.SetOutput(graph.LoopHandleEnd, graph.Value{ProducerKind: string(loopNode.Kind), Content: aggregate})
	d.SetState(loopID, graph.StateCompleted)
	dbg.NodeEnd(ctx, loopID, string(loopNode.Kind))
	d.PropagateOutputs(loopID, loopNode.AllOutputs())

	// (d) Post-loop phase.
	for _, id := range topoSort(postLoop, g.Edges) {
		n := g.Nodes[id]
		if n.Bypassed() || n.Executed() {
			continue
		}
		nodeexec.Run(ctx, g, d, registry, dbg, stream, n)
	}
}

// resolveList reads the loop node's list input, accepting either an
// already-decoded slice or a JSON-encoded string (spec §4.6 edge case:
// upstream nodes may hand the loop a raw string body). The second
// return value reports whether the list's source was bypassed upstream
// (no value ever arrived on the handle).
func resolveList(loopNode *graph.Node) ([]any, bool) {
	raw, ok := loopNode.Input(graph.LoopHandleList)
	if !ok {
		return nil, true
	}
	switch v := raw.(type) {
	case []any:
		return v, false
	case string:
		var decoded []any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return nil, false
		}
		return decoded, false
	default:
		return nil, false
	}
}

// bypassLoop propagates a bypass across the loop node and both of its
// sub-phases when the list source itself was bypassed, per spec §4.6's
// "bypassed list source" edge case: no error, the whole loop collapses.
func bypassLoop(d *dispatch.Dispatcher, loopNode *graph.Node, iteration, postLoop map[string]struct{}) {
	loopNode.MarkBypassed()
	d.SetState(loopNode.ID, graph.StateBypassed)
	for id := range iteration {
		markBypassedIfIdle(d, id)
	}
	for id := range postLoop {
		markBypassedIfIdle(d, id)
	}
}

func markBypassedIfIdle(d *dispatch.Dispatcher, id string) {
	if d.Tracker(id) == nil {
		return
	}
	d.RecursiveBypass(id)
}

func edgeTargets(edges []graph.Edge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.Target)
	}
	return out
}

func intData(data map[string]any, key string, def int) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
