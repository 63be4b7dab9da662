// Package agentflow is the public entry point: it decodes the wire
// graph format of spec §6, runs the validator/builder (C2), wires the
// dispatcher (C4), debug pipeline (C7) and node registry (C8), then
// delegates to either the reactive executor (C5) or the loop
// sub-executor (C6) depending on whether the graph contains any Loop
// node. Grounded on
// _examples/original_source/magic_agents/execution/graph_executor.py's
// top-level run() (decode -> validate -> dispatch -> drain output
// queue) and _examples/smilemakc-mbflow/mbflow.go's facade shape
// (single constructor returning a ready-to-run engine over its own
// config struct).
package agentflow

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flowcore/agentflow/internal/condition"
	"github.com/flowcore/agentflow/internal/debugpipe"
	"github.com/flowcore/agentflow/internal/dispatch"
	"github.com/flowcore/agentflow/internal/graph"
	"github.com/flowcore/agentflow/internal/loopexec"
	"github.com/flowcore/agentflow/internal/node"
	"github.com/flowcore/agentflow/internal/reactive"
	"github.com/flowcore/agentflow/internal/streambus"
	"github.com/flowcore/agentflow/internal/validate"
)

// NodeInput is one node record of the wire format (spec §6): {id,
// type-tag, data?}.
type NodeInput struct {
	ID   string         `json:"id" yaml:"id"`
	Type string         `json:"type" yaml:"type"`
	Data map[string]any `json:"data" yaml:"data"`
}

// EdgeInput is one edge record of the wire format: {id, source, target,
// source_handle, target_handle?}.
type EdgeInput struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"source_handle" yaml:"source_handle"`
	TargetHandle string `json:"target_handle" yaml:"target_handle"`
}

// GraphInput is the full wire record the builder consumes.
type GraphInput struct {
	GraphType   string            `json:"graph_type" yaml:"graph_type"`
	Debug       bool              `json:"debug" yaml:"debug"`
	DebugConfig *debugpipe.Config `json:"debug_config" yaml:"debug_config"`
	Nodes       []NodeInput       `json:"nodes" yaml:"nodes"`
	Edges       []EdgeInput       `json:"edges" yaml:"edges"`
}

// RunOptions bundles the execution parameters of spec §6 plus the host
// wiring (HTTP client, OpenAI API key, logger) that spec §1 calls out
// as necessary for the core to be exercised end-to-end at all.
type RunOptions struct {
	MaxConcurrent       int
	PerNodeInputTimeout time.Duration
	OpenAIAPIKey        string
	HTTPClient          *http.Client
	Log                 zerolog.Logger
}

// DefaultRunOptions mirrors reactive.DefaultOptions, extended with the
// host wiring fields.
func DefaultRunOptions() RunOptions {
	ro := reactive.DefaultOptions()
	return RunOptions{
		MaxConcurrent:       ro.MaxConcurrent,
		PerNodeInputTimeout: ro.PerNodeInputTimeout,
		HTTPClient:          http.DefaultClient,
		Log:                 zerolog.Nop(),
	}
}

// Engine runs a single decoded graph to completion, yielding its output
// stream. One Engine corresponds to one execution (spec §2's graph
// execution unit); build a new Engine per run.
type Engine struct {
	opts RunOptions
}

// New builds an Engine from RunOptions.
func New(opts RunOptions) *Engine {
	if opts.MaxConcurrent <= 0 {
		def := DefaultRunOptions()
		opts.MaxConcurrent = def.MaxConcurrent
	}
	if opts.PerNodeInputTimeout <= 0 {
		def := DefaultRunOptions()
		opts.PerNodeInputTimeout = def.PerNodeInputTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Engine{opts: opts}
}

// Run decodes in, validates and normalizes it, and executes it,
// returning the output stream (spec §6) immediately — the caller drains
// stream.Events() while the graph runs in the background. The stream is
// closed, with a graph_end debug event and then the debug_summary event
// pushed just before close, once
// every node task (and, for loop graphs, every loop phase) has
// finished, per spec §5's "debug summary and graph-end events are
// guaranteed to be the last two events".
func (eng *Engine) Run(ctx context.Context, in GraphInput) *streambus.Stream {
	stream := streambus.NewStream(64)
	evaluator := condition.NewEvaluator()

	g := decodeGraph(in)
	g = validate.Build(g, evaluator)

	registry := node.DefaultRegistry(eng.buildDeps(evaluator))

	dbgConfig := debugpipe.DefaultConfig()
	if in.DebugConfig != nil {
		dbgConfig = *in.DebugConfig
	}
	dbgConfig.Enabled = in.Debug

	var dbg *debugpipe.Context
	if in.Debug {
		pipeline := dbgConfig.BuildPipeline()
		registryEmit := dbgConfig.BuildRegistry(stream, eng.opts.Log)
		dbg = debugpipe.New(uuid.NewString(), in.GraphType, pipeline, registryEmit)
	} else {
		dbg = debugpipe.NewNoop()
	}

	d := dispatch.New(g)

	go func() {
		defer stream.Close()

		for _, verr := range g.ValidationErrors {
			dbg.Emit(ctx, debugpipe.KindValidationError, debugpipe.SeverityWarn, "", "", map[string]any{
				"kind":    verr.Kind.Error(),
				"message": verr.Message,
				"context": verr.Context,
			})
		}

		loopIDs := loopNodeIDs(g)
		if len(loopIDs) > 0 {
			loopexec.Run(ctx, g, d, registry, dbg, stream, loopIDs)
		} else {
			opts := reactive.Options{
				MaxConcurrent:       eng.opts.MaxConcurrent,
				PerNodeInputTimeout: eng.opts.PerNodeInputTimeout,
			}
			reactive.Run(ctx, g, d, registry, dbg, stream, opts)
		}

		dbg.Emit(ctx, debugpipe.KindGraphEnd, debugpipe.SeverityInfo, "", "", nil)
		if summary := dbg.Finish(ctx); summary != nil {
			stream.PublishDebugSummary(summary.Flat())
		}
	}()

	return stream
}

// buildDeps assembles the node.Deps for one graph execution, wiring
// SubGraph back to eng.runSubGraph so Inner nodes anywhere in the graph
// (including inside another Inner node's nested graph) can recursively
// build and run their own nested flow.
func (eng *Engine) buildDeps(evaluator *condition.Evaluator) node.Deps {
	deps := node.NewDeps(eng.opts.OpenAIAPIKey, eng.opts.Log)
	deps.HTTP = eng.opts.HTTPClient
	deps.Condition = evaluator
	deps.SubGraph = eng.runSubGraph
	return deps
}

// runSubGraph implements node.SubGraphExecutor for Inner nodes (spec
// §4.1's "Recursively build inner sub-graphs for Inner nodes"): it
// decodes rawGraph, seeds every user_input node's message with
// userMessage (matching
// _examples/original_source/magic_agents/node_system/NodeInner.py's
// process(), which patches the inner graph's UserInput/Chat state with
// the caller's message before running it), builds and executes it
// synchronously, and returns its concatenated content output. Debug
// events from the nested graph are discarded — only content reaches the
// Inner node's own output handle.
func (eng *Engine) runSubGraph(ctx context.Context, rawGraph map[string]any, userMessage string) (string, error) {
	evaluator := condition.NewEvaluator()
	g := validate.DecodeRawGraph(rawGraph)
	for _, n := range g.NodesByKind(graph.KindUserInput) {
		if n.Data == nil {
			n.Data = map[string]any{}
		}
		n.Data["text"] = userMessage
	}
	g = validate.Build(g, evaluator)

	registry := node.DefaultRegistry(eng.buildDeps(evaluator))
	dbg := debugpipe.NewNoop()
	d := dispatch.New(g)
	inner := streambus.NewStream(64)

	go func() {
		defer inner.Close()
		loopIDs := loopNodeIDs(g)
		if len(loopIDs) > 0 {
			loopexec.Run(ctx, g, d, registry, dbg, inner, loopIDs)
		} else {
			opts := reactive.Options{
				MaxConcurrent:       eng.opts.MaxConcurrent,
				PerNodeInputTimeout: eng.opts.PerNodeInputTimeout,
			}
			reactive.Run(ctx, g, d, registry, dbg, inner, opts)
		}
	}()

	var content strings.Builder
	for ev := range inner.Events() {
		if ev.Kind == graph.KindContent {
			fmt.Fprint(&content, ev.Content)
		}
	}
	return content.String(), nil
}

func loopNodeIDs(g *graph.Graph) []string {
	var ids []string
	for _, n := range g.NodesByKind(graph.KindLoop) {
		ids = append(ids, n.ID)
	}
	return ids
}

func decodeGraph(in GraphInput) *graph.Graph {
	g := graph.NewGraph(in.GraphType, in.Debug)
	for _, n := range in.Nodes {
		g.AddNode(graph.NewNode(n.ID, graph.Kind(n.Type), n.Data))
	}
	for _, e := range in.Edges {
		targetHandle := e.TargetHandle
		if targetHandle == "" {
			targetHandle = graph.HandleVoid
		}
		g.AddEdge(graph.Edge{
			ID:           e.ID,
			Source:       e.Source,
			SourceHandle: e.SourceHandle,
			Target:       e.Target,
			TargetHandle: targetHandle,
		})
	}
	return g
}

