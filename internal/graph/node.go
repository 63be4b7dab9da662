package graph

import "sync"

// Kind tags the twelve node behaviors the core knows how to schedule.
// Concrete behavior for each kind lives in internal/node (C8); the core
// only ever switches on Kind for the Conditional/Loop/End special cases
// called out in spec §4.5-§4.6.
type Kind string

const (
	KindUserInput   Kind = "user_input"
	KindText        Kind = "text"
	KindParser      Kind = "parser"
	KindFetch       Kind = "fetch"
	KindClientLLM   Kind = "client"
	KindLLM         Kind = "llm"
	KindChat        Kind = "chat"
	KindSendMessage Kind = "send_message"
	KindConditional Kind = "conditional"
	KindLoop        Kind = "loop"
	KindInner       Kind = "inner"
	KindEnd         Kind = "end"
)

// State is a node's position in the lifecycle of spec §3.
type State int

const (
	StatePending State = iota
	StateReady
	StateExecuting
	StateCompleted
	StateBypassed
	StateError
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateBypassed:
		return "bypassed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Response distinguishes "never executed" (nil) from "executed and
// produced nothing" (a non-nil, possibly empty, marker).
type Response struct {
	Produced bool
}

// Node is a single vertex of an agent flow graph. The dispatcher and the
// node's own executing task are the only two writers; a mutex guards
// against the fan-in read (GetAllInputs, snapshot for debug) that can
// race with the tail end of the executing task's writes.
type Node struct {
	mu sync.RWMutex

	ID   string
	Kind Kind
	Data map[string]any // opaque node-kind-specific config, e.g. condition, output_handles

	inputs  map[Handle]any
	outputs map[Handle]Value

	response       *Response
	bypassed       bool
	state          State
	selectedHandle string // Conditional only, set after execution
	iterate        bool   // honored by the loop sub-executor
	err            error
}

// NewNode constructs a Node with empty input/output maps.
func NewNode(id string, kind Kind, data map[string]any) *Node {
	if data == nil {
		data = map[string]any{}
	}
	return &Node{
		ID:      id,
		Kind:    kind,
		Data:    data,
		inputs:  make(map[Handle]any),
		outputs: make(map[Handle]Value),
		state:   StatePending,
	}
}

func (n *Node) SetInput(handle Handle, value any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inputs[handle] = value
}

func (n *Node) Input(handle Handle) (any, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.inputs[handle]
	return v, ok
}

// AllInputs returns a snapshot copy of the node's received inputs.
func (n *Node) AllInputs() map[Handle]any {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[Handle]any, len(n.inputs))
	for k, v := range n.inputs {
		out[k] = v
	}
	return out
}

func (n *Node) SetOutput(handle Handle, v Value) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outputs[handle] = v
	n.response = &Response{Produced: true}
}

func (n *Node) Output(handle Handle) (Value, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.outputs[handle]
	return v, ok
}

func (n *Node) AllOutputs() map[Handle]Value {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[Handle]Value, len(n.outputs))
	for k, v := range n.outputs {
		out[k] = v
	}
	return out
}

func (n *Node) SetState(s State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = s
}

func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Node) MarkBypassed() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bypassed = true
	n.state = StateBypassed
	if n.response == nil {
		n.response = &Response{Produced: false}
	}
}

func (n *Node) Bypassed() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.bypassed
}

func (n *Node) SetSelectedHandle(h Handle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.selectedHandle = h
}

func (n *Node) SelectedHandle() Handle {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.selectedHandle
}

func (n *Node) SetError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
	n.state = StateError
}

func (n *Node) Err() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.err
}

func (n *Node) SetIterate(v bool) { n.mu.Lock(); n.iterate = v; n.mu.Unlock() }
func (n *Node) Iterate() bool     { n.mu.RLock(); defer n.mu.RUnlock(); return n.iterate }

// Executed reports whether the node has a recorded response: it ran, or
// it was bypassed (MarkBypassed records a Produced: false response). A
// node never reached at all reports false.
func (n *Node) Executed() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.response != nil
}

// Reset clears a node's per-invocation state so it can be re-executed
// by the loop sub-executor for the next iteration. ID, Kind and Data are
// untouched.
func (n *Node) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inputs = make(map[Handle]any)
	n.outputs = make(map[Handle]Value)
	n.response = nil
	n.bypassed = false
	n.state = StatePending
	n.selectedHandle = ""
	n.err = nil
}
