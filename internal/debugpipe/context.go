package debugpipe

import (
	"context"
	"sync/atomic"
)

// Context ties capture + transform pipeline + emitter registry +
// collector into the single facade node tasks and the scheduler call
// into. A disabled Context is a no-op so capture call sites never need
// an `if debugEnabled` branch (spec §9 "avoids conditional branches on
// every capture call").
type Context struct {
	enabled     bool
	executionID string
	pipeline    *Pipeline
	registry    *Registry
	collector   *Collector
	seq         int64
}

func New(executionID, graphType string, pipeline *Pipeline, registry *Registry) *Context {
	return &Context{
		enabled:     true,
		executionID: executionID,
		pipeline:    pipeline,
		registry:    registry,
		collector:   NewCollector(executionID, graphType),
	}
}

// NewNoop returns a disabled Context: every method is a cheap no-op.
func NewNoop() *Context {
	return &Context{enabled: false}
}

func (c *Context) Enabled() bool { return c.enabled }

func (c *Context) nextSeq() int64 {
	return atomic.AddInt64(&c.seq, 1)
}

// Emit runs e through the transform pipeline, hands survivors to the
// registry (stream + log + callback + ...) and the collector.
func (c *Context) Emit(ctx context.Context, kind Kind, severity Severity, nodeID, nodeKind string, payload map[string]any) {
	if !c.enabled {
		return
	}
	e := NewEvent(kind, severity, c.executionID, c.nextSeq(), payload)
	e.NodeID = nodeID
	e.NodeKind = nodeKind

	out := e
	if c.pipeline != nil {
		var ok bool
		out, ok = c.pipeline.Apply(ctx, e)
		if !ok {
			return
		}
	}
	if c.registry != nil {
		c.registry.Emit(ctx, out)
	}
	c.collector.Collect(out)
}

func (c *Context) NodeStart(ctx context.Context, nodeID, nodeKind string) {
	c.Emit(ctx, KindNodeStart, SeverityInfo, nodeID, nodeKind, nil)
}

func (c *Context) NodeEnd(ctx context.Context, nodeID, nodeKind string) {
	c.Emit(ctx, KindNodeEnd, SeverityInfo, nodeID, nodeKind, nil)
}

func (c *Context) NodeError(ctx context.Context, nodeID, nodeKind string, err error) {
	c.Emit(ctx, KindNodeError, SeverityError, nodeID, nodeKind, map[string]any{"message": err.Error()})
}

func (c *Context) NodeBypass(ctx context.Context, nodeID, nodeKind string) {
	c.Emit(ctx, KindNodeBypass, SeverityDebug, nodeID, nodeKind, nil)
}

// Finish closes the registry and returns the final Summary, or nil when
// disabled.
func (c *Context) Finish(ctx context.Context) *Summary {
	if !c.enabled {
		return nil
	}
	if c.registry != nil {
		c.registry.Close(ctx)
	}
	return c.collector.Finish()
}
