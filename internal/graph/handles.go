// Package graph holds the typed data model for agent flow graphs: nodes,
// edges, handles and the small value envelope that travels between them.
package graph

// Handle names a port on a node's input or output side. Graph authors
// choose handle names freely; only a handful of strings are reserved by
// the framework (below).
type Handle = string

// Reserved handle and event-kind names. Graph authors may name ordinary
// handles however they like; these strings are the ones the core treats
// specially.
const (
	// HandleVoid is rewritten by the validator to point at the synthetic
	// terminal node rather than being routed anywhere else.
	HandleVoid = "handle-void"

	// KindContent is the streaming-content event kind: chunks destined
	// for the user-facing output stream rather than a named output
	// handle.
	KindContent = "content"

	// KindDebug and KindDebugSummary are passed through to the debug
	// pipeline rather than stored as node outputs.
	KindDebug        = "debug"
	KindDebugSummary = "debug_summary"

	// KindLoopProgress is emitted once per loop iteration start.
	KindLoopProgress = "loop_progress"
)

// System signal kinds a node may emit instead of (or alongside) an output
// handle name. These are recorded but never stored in Node.outputs.
const (
	SignalBypassAll = "__bypass_all__"
	SignalDefault   = "__default__"
	SignalError     = "__error__"
	SignalTimeout   = "__timeout__"
)

// Loop nodes reserve four handle names.
const (
	LoopHandleList = "list"
	LoopHandleLoop = "loop"
	LoopHandleItem = "item"
	LoopHandleEnd  = "end"
)

// systemEventKinds are kinds a node may emit that are never treated as
// output-handle names.
var systemEventKinds = map[string]struct{}{
	KindContent:      {},
	KindDebug:        {},
	KindDebugSummary: {},
}

// IsSystemEventKind reports whether kind is reserved for stream control
// rather than naming an output handle.
func IsSystemEventKind(kind string) bool {
	_, ok := systemEventKinds[kind]
	return ok
}

// IsSystemSignal reports whether kind is one of the reserved conditional
// system signals (§6).
func IsSystemSignal(kind string) bool {
	switch kind {
	case SignalBypassAll, SignalDefault, SignalError, SignalTimeout:
		return true
	default:
		return false
	}
}
