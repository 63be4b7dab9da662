package debugpipe

import (
	"sync"
	"time"
)

// NodeSummary aggregates what happened to one node over an execution.
type NodeSummary struct {
	NodeID      string
	NodeKind    string
	State       string
	StartedAt   time.Time
	EndedAt     time.Time
	DurationMs  int64
	Error       string
	EventCount  int
}

// Summary is the GraphExecutionSummary of spec §4.7, emitted exactly
// once as the last stream event (debug_summary), right after the
// graph_end debug event, when debug is enabled.
type Summary struct {
	ExecutionID     string
	GraphType       string
	Start           time.Time
	End             time.Time
	TotalDurationMs int64
	Nodes           map[string]*NodeSummary
	Executed        int
	Bypassed        int
	Failed          int
	EdgesProcessed  int
	AllEvents       []Event
}

// Flat returns the reverse-compatible flat-dictionary form spec §4.7
// mentions, matching the shape the original Python collector.py exposes
// for callers that predate the structured Summary type.
func (s *Summary) Flat() map[string]any {
	return map[string]any{
		"execution_id":      s.ExecutionID,
		"graph_type":        s.GraphType,
		"total_duration_ms": s.TotalDurationMs,
		"executed_nodes":    s.Executed,
		"bypassed_nodes":    s.Bypassed,
		"failed_nodes":      s.Failed,
		"edges_processed":   s.EdgesProcessed,
	}
}

// Collector aggregates every Event that survives the transform pipeline
// into a running Summary.
type Collector struct {
	mu      sync.Mutex
	summary *Summary
}

func NewCollector(executionID, graphType string) *Collector {
	return &Collector{summary: &Summary{
		ExecutionID: executionID,
		GraphType:   graphType,
		Start:       time.Now(),
		Nodes:       make(map[string]*NodeSummary),
	}}
}

func (c *Collector) nodeSummary(nodeID, nodeKind string) *NodeSummary {
	ns, ok := c.summary.Nodes[nodeID]
	if !ok {
		ns = &NodeSummary{NodeID: nodeID, NodeKind: nodeKind}
		c.summary.Nodes[nodeID] = ns
	}
	return ns
}

func (c *Collector) Collect(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.summary.AllEvents = append(c.summary.AllEvents, e)

	if e.NodeID == "" {
		if e.Kind == KindEdgeTraversed {
			c.summary.EdgesProcessed++
		}
		return
	}

	ns := c.nodeSummary(e.NodeID, e.NodeKind)
	ns.EventCount++

	switch e.Kind {
	case KindNodeStart:
		ns.StartedAt = e.Timestamp
		ns.State = "executing"
	case KindNodeEnd:
		ns.EndedAt = e.Timestamp
		ns.State = "completed"
		if !ns.StartedAt.IsZero() {
			ns.DurationMs = ns.EndedAt.Sub(ns.StartedAt).Milliseconds()
		}
		c.summary.Executed++
	case KindNodeError:
		ns.State = "error"
		if msg, ok := e.Payload["message"].(string); ok {
			ns.Error = msg
		}
		c.summary.Failed++
	case KindNodeBypass:
		ns.State = "bypassed"
		c.summary.Bypassed++
	}
}

// Finish stamps End/TotalDurationMs and returns the final Summary.
func (c *Collector) Finish() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.End = time.Now()
	c.summary.TotalDurationMs = c.summary.End.Sub(c.summary.Start).Milliseconds()
	return c.summary
}
