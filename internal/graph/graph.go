package graph

// Graph is the normalized, ready-to-execute (or rejected) graph of spec
// §3. GraphType and DebugEnabled are carried through from the raw input
// verbatim; ValidationErrors is populated by the validator (C2) and is
// never fatal to construction — a graph with errors still executes, with
// those errors surfaced as debug events before the first node runs.
type Graph struct {
	GraphType    string
	DebugEnabled bool

	Nodes map[string]*Node
	Edges []Edge

	ValidationErrors []*ValidationError

	// TerminalNodeID is the synthetic terminal node inserted by the
	// builder; empty until normalization runs.
	TerminalNodeID string
}

// NewGraph returns an empty graph ready to have nodes/edges added by the
// builder.
func NewGraph(graphType string, debugEnabled bool) *Graph {
	return &Graph{
		GraphType:    graphType,
		DebugEnabled: debugEnabled,
		Nodes:        make(map[string]*Node),
	}
}

func (g *Graph) AddNode(n *Node) { g.Nodes[n.ID] = n }

func (g *Graph) AddEdge(e Edge) { g.Edges = append(g.Edges, e) }

func (g *Graph) AddValidationError(err *ValidationError) {
	g.ValidationErrors = append(g.ValidationErrors, err)
}

func (g *Graph) HasErrors() bool { return len(g.ValidationErrors) > 0 }

// OutgoingEdges returns every edge whose Source is nodeID, in declaration
// order.
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns every edge whose Target is nodeID, in declaration
// order.
func (g *Graph) IncomingEdges(nodeID string) []Edge {
	var in []Edge
	for _, e := range g.Edges {
		if e.Target == nodeID {
			in = append(in, e)
		}
	}
	return in
}

// NodesByKind returns every node of the given kind, in map-iteration
// (unordered) fashion; callers that need determinism sort by ID.
func (g *Graph) NodesByKind(kind Kind) []*Node {
	var out []*Node
	for _, n := range g.Nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}
