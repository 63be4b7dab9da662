// Package loopexec implements the loop sub-executor (C6): edge
// classification, the static/iteration/post-loop phase partition, and
// per-iteration reset. Grounded on
// _examples/original_source/magic_agents/node_system/NodeLoop.py and
// the wave/loop-edge handling in
// _examples/smilemakc-mbflow/backend/pkg/engine/dag_executor.go
// (adapted: the teacher jumps a wave index backward for loop edges,
// this package instead partitions edges into disjoint phases per
// spec §4.6, which the design notes declare authoritative).
package loopexec

import "github.com/flowcore/agentflow/internal/graph"

// edgeClasses is the result of phase (a): every edge of the graph
// sorted into the four disjoint classes of spec §4.6.
type edgeClasses struct {
	item     []graph.Edge
	loopBack []graph.Edge
	end      []graph.Edge
	static   []graph.Edge
}

func classifyEdges(g *graph.Graph, loopID string) edgeClasses {
	var c edgeClasses
	for _, e := range g.Edges {
		switch {
		case e.Source == loopID && e.SourceHandle == graph.LoopHandleItem:
			c.item = append(c.item, e)
		case e.Target == loopID && e.TargetHandle == graph.LoopHandleLoop:
			c.loopBack = append(c.loopBack, e)
		case e.Source == loopID && e.SourceHandle == graph.LoopHandleEnd:
			c.end = append(c.end, e)
		default:
			c.static = append(c.static, e)
		}
	}
	return c
}

// bfsForward collects every node reachable from seeds by following
// outgoing edges drawn from outgoing, skipping any edge for which
// stop(e) is true (its target is not added through that edge, though it
// may still be reached by another route) and never visiting loopID.
func bfsForward(seeds []string, outgoing map[string][]graph.Edge, loopID string, stop func(graph.Edge) bool) map[string]struct{} {
	visited := make(map[string]struct{})
	queue := append([]string(nil), seeds...)
	for _, s := range seeds {
		visited[s] = struct{}{}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == loopID {
			continue
		}
		for _, e := range outgoing[cur] {
			if stop(e) {
				continue
			}
			if e.Target == loopID {
				continue
			}
			if _, ok := visited[e.Target]; ok {
				continue
			}
			visited[e.Target] = struct{}{}
			queue = append(queue, e.Target)
		}
	}
	return visited
}

func buildOutgoingIndex(edges []graph.Edge) map[string][]graph.Edge {
	out := make(map[string][]graph.Edge)
	for _, e := range edges {
		out[e.Source] = append(out[e.Source], e)
	}
	return out
}

// topoSort runs Kahn's algorithm over the given node set restricted to
// edges whose both endpoints are in nodes. Per spec §4.6 "tie-breaks",
// an incomplete sort (cycle) appends the unplaced remainder in
// discovery order instead of failing.
func topoSort(nodes map[string]struct{}, allEdges []graph.Edge) []string {
	inDegree := make(map[string]int, len(nodes))
	adj := make(map[string][]string)
	order := make([]string, 0, len(nodes))
	discovery := make([]string, 0, len(nodes))

	for id := range nodes {
		inDegree[id] = 0
		discovery = append(discovery, id)
	}
	for _, e := range allEdges {
		if _, ok := nodes[e.Source]; !ok {
			continue
		}
		if _, ok := nodes[e.Target]; !ok {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
		inDegree[e.Target]++
	}

	var queue []string
	for _, id := range discovery {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	placed := make(map[string]struct{})
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		placed[cur] = struct{}{}
		for _, next := range adj[cur] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) < len(nodes) {
		for _, id := range discovery {
			if _, ok := placed[id]; !ok {
				order = append(order, id)
			}
		}
	}
	return order
}
