// Package node implements the node contract (§4.2, C8) and the concrete
// node-kind behaviors: external collaborators the reactive executor
// calls into but whose internals are explicitly out of scope for the
// core per spec §1. Grounded throughout on
// _examples/original_source/magic_agents/node_system/*.py.
package node

import "context"

// Event is one item of a node's async-iteration output sequence (§4.2).
// Kind is either the reserved streaming-content kind, a reserved debug
// kind, a reserved system signal, or an output-handle name.
type Event struct {
	Kind    string
	Content any
}

// Behavior is the capability set every node kind implements. Execute
// returns a channel of Events and closes it when the node is done (or
// ctx is cancelled); a non-nil error return means the node failed
// before/while producing anything further.
type Behavior interface {
	// Execute runs the node against its already-delivered inputs,
	// streaming Events until done.
	Execute(ctx context.Context, inputs map[string]any, data map[string]any) (<-chan Event, error)
}

// Func adapts a plain function into a Behavior.
type Func func(ctx context.Context, inputs map[string]any, data map[string]any) (<-chan Event, error)

func (f Func) Execute(ctx context.Context, inputs map[string]any, data map[string]any) (<-chan Event, error) {
	return f(ctx, inputs, data)
}

// Registry maps a node kind string to its Behavior, mirroring
// _examples/smilemakc-mbflow/internal/node/registry.go's
// thread-light registration style but keyed on the core's Kind enum
// via plain strings so callers don't need to import internal/graph.
type Registry struct {
	behaviors map[string]Behavior
}

func NewRegistry() *Registry { return &Registry{behaviors: make(map[string]Behavior)} }

func (r *Registry) Register(kind string, b Behavior) { r.behaviors[kind] = b }

func (r *Registry) Get(kind string) (Behavior, bool) {
	b, ok := r.behaviors[kind]
	return b, ok
}

// DefaultRegistry builds a Registry with eleven of the twelve node kinds
// of spec §3 wired to the behaviors in this package; loop has no
// behavior here, since internal/loopexec runs loop nodes. Every behavior is
// wrapped in WithTiming against deps.Log, the Go counterpart of
// magic_telemetry's automatic per-node start/elapsed log line.
func DefaultRegistry(deps Deps) *Registry {
	logFn := func(event string, fields map[string]any) {
		e := deps.Log.Debug()
		for k, v := range fields {
			e = e.Interface(k, v)
		}
		e.Msg(event)
	}

	timed := func(kind string, b Behavior) Behavior {
		fn, ok := b.(Func)
		if !ok {
			return b
		}
		return WithTiming(kind, logFn, fn)
	}

	r := NewRegistry()
	r.Register("user_input", timed("user_input", UserInput()))
	r.Register("text", timed("text", Text()))
	r.Register("parser", timed("parser", Parser(deps)))
	r.Register("fetch", timed("fetch", Fetch(deps)))
	r.Register("client", timed("client", ClientLLM(deps)))
	r.Register("llm", timed("llm", LLM(deps)))
	r.Register("chat", timed("chat", Chat()))
	r.Register("send_message", timed("send_message", SendMessage(deps)))
	r.Register("conditional", timed("conditional", Conditional(deps)))
	r.Register("inner", timed("inner", Inner(deps)))
	r.Register("end", timed("end", End()))
	return r
}
