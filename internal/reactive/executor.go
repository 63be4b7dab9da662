// Package reactive implements the reactive executor (C5): one goroutine
// per node, conditional routing, and per-node timeouts draining into a
// single streambus.Stream. Grounded on
// _examples/original_source/magic_agents/execution/reactive_executor.py.
package reactive

import (
	"context"
	"sync"
	"time"

	"github.com/flowcore/agentflow/internal/debugpipe"
	"github.com/flowcore/agentflow/internal/dispatch"
	"github.com/flowcore/agentflow/internal/graph"
	"github.com/flowcore/agentflow/internal/node"
	"github.com/flowcore/agentflow/internal/nodeexec"
	"github.com/flowcore/agentflow/internal/streambus"
)

// Options are the execution parameters of spec §6.
type Options struct {
	MaxConcurrent         int
	PerNodeInputTimeout   time.Duration
}

func DefaultOptions() Options {
	return Options{MaxConcurrent: 10, PerNodeInputTimeout: 60 * time.Second}
}

// Run executes every node of g (a non-loop graph — callers route loop
// graphs to internal/loopexec instead, per spec §4.5 point 2) as its own
// goroutine, gated by a counting semaphore, and returns once every node
// task has finished. It never closes stream, so a caller can still push
// the debug summary; callers own Stream lifetime per spec §5 "driver
// task ... inserts a sentinel".
func Run(ctx context.Context, g *graph.Graph, d *dispatch.Dispatcher, registry *node.Registry, dbg *debugpipe.Context, stream *streambus.Stream, opts Options) {
	sem := make(chan struct{}, opts.MaxConcurrent)
	var wg sync.WaitGroup

	for id := range g.Nodes {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			n := g.Nodes[id]
			t := d.Tracker(id)

			waitCtx := ctx
			var cancel context.CancelFunc
			if opts.PerNodeInputTimeout > 0 {
				waitCtx, cancel = context.WithTimeout(ctx, opts.PerNodeInputTimeout)
				defer cancel()
			}

			shouldExecute, err := t.WaitReady(waitCtx)
			if err != nil {
				n.SetError(err)
				d.SetState(id, graph.StateError)
				dbg.Emit(ctx, debugpipe.KindTimeoutError, debugpipe.SeverityError, id, string(n.Kind), map[string]any{
					"message": "per-node input wait timed out",
				})
				d.HandleBypassAll(id)
				return
			}
			if !shouldExecute {
				n.MarkBypassed()
				d.SetState(id, graph.StateBypassed)
				if id != g.TerminalNodeID {
					dbg.NodeBypass(ctx, id, string(n.Kind))
				}
				return
			}

			nodeexec.Run(ctx, g, d, registry, dbg, stream, n)
		}()
	}

	wg.Wait()
}
