// Package tracker implements the per-node input tracker (C3): a record
// of a node's expected inputs, which of them have arrived or been
// bypassed, and a readiness signal the reactive executor waits on.
package tracker

import (
	"context"
	"sync"

	"github.com/flowcore/agentflow/internal/graph"
)

// handleState is the three-way state of a single expected handle:
// pending, received (with a value), or bypassed.
type handleState struct {
	sourceNode   string
	sourceHandle graph.Handle
	received     bool
	bypassed     bool
	value        any
}

// Tracker is one NodeInputTracker. Receive*/reset are guarded by mu; the
// readiness channel is closed exactly once, the moment IsReady flips
// true, so any number of waiters can observe it via a channel receive
// instead of polling.
type Tracker struct {
	NodeID string

	mu       sync.Mutex
	expected map[graph.Handle]*handleState
	ready    chan struct{}
	closed   bool
}

// New builds a tracker for a node given the set of handles it expects
// input on, each tagged with the (sourceNode, sourceHandle) that feeds
// it — used only for diagnostics, since delivery is keyed by target
// handle.
func New(nodeID string, expectedHandles map[graph.Handle]struct {
	SourceNode   string
	SourceHandle graph.Handle
}) *Tracker {
	t := &Tracker{
		NodeID:   nodeID,
		expected: make(map[graph.Handle]*handleState, len(expectedHandles)),
		ready:    make(chan struct{}),
	}
	for h, src := range expectedHandles {
		t.expected[h] = &handleState{sourceNode: src.SourceNode, sourceHandle: src.SourceHandle}
	}
	t.maybeSignalLocked()
	return t
}

// maybeSignalLocked closes the ready channel if IsReadyLocked now holds
// and it hasn't been closed yet. Caller must hold mu.
func (t *Tracker) maybeSignalLocked() {
	if !t.closed && t.isReadyLocked() {
		close(t.ready)
		t.closed = true
	}
}

func (t *Tracker) isReadyLocked() bool {
	for _, hs := range t.expected {
		if !hs.received && !hs.bypassed {
			return false
		}
	}
	return true
}

// IsReady reports whether every expected handle has been received or
// bypassed. A tracker with zero expected handles is always ready.
func (t *Tracker) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isReadyLocked()
}

// ShouldExecute reports IsReady && at least one handle was received (or
// there were no expected handles at all — a source node).
func (t *Tracker) ShouldExecute() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isReadyLocked() {
		return false
	}
	if len(t.expected) == 0 {
		return true
	}
	for _, hs := range t.expected {
		if hs.received {
			return true
		}
	}
	return false
}

// IsBypassed reports IsReady && every expected handle was bypassed (none
// received). A node with no expected handles is never bypassed by this
// definition.
func (t *Tracker) IsBypassed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isReadyLocked() || len(t.expected) == 0 {
		return false
	}
	for _, hs := range t.expected {
		if !hs.bypassed {
			return false
		}
	}
	return true
}

// ReceiveInput records handle as received with value, then signals
// readiness if this was the last pending handle. Receiving into an
// unexpected handle is a no-op: the dispatcher only calls this for
// handles it already knows are expected (static or dynamically declared
// via the node's own config), matching the source's "the core treats
// every other key as opaque" stance.
func (t *Tracker) ReceiveInput(handle graph.Handle, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hs, ok := t.expected[handle]
	if !ok {
		return
	}
	hs.received = true
	hs.value = value
	t.maybeSignalLocked()
}

// ReceiveBypass records handle (or, if handle is empty, every still-
// pending handle) as bypassed.
func (t *Tracker) ReceiveBypass(handle graph.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handle == "" {
		for _, hs := range t.expected {
			if !hs.received {
				hs.bypassed = true
			}
		}
	} else if hs, ok := t.expected[handle]; ok && !hs.received {
		hs.bypassed = true
	}
	t.maybeSignalLocked()
}

// PendingHandles returns the handles that are neither received nor
// bypassed yet.
func (t *Tracker) PendingHandles() []graph.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []graph.Handle
	for h, hs := range t.expected {
		if !hs.received && !hs.bypassed {
			out = append(out, h)
		}
	}
	return out
}

// GetAllInputs returns the map of handle -> received value (bypassed
// handles are omitted).
func (t *Tracker) GetAllInputs() map[graph.Handle]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[graph.Handle]any, len(t.expected))
	for h, hs := range t.expected {
		if hs.received {
			out[h] = hs.value
		}
	}
	return out
}

// ExpectedCount reports how many handles this tracker expects input on.
func (t *Tracker) ExpectedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.expected)
}

// WaitReady blocks until the tracker becomes ready or ctx is done,
// returning ShouldExecute()'s value, or false plus ctx.Err() on timeout
// or cancellation.
func (t *Tracker) WaitReady(ctx context.Context) (bool, error) {
	t.mu.Lock()
	readyCh := t.ready
	t.mu.Unlock()

	select {
	case <-readyCh:
		return t.ShouldExecute(), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Reset clears received/bypassed state and rearms the readiness signal,
// used by the loop sub-executor between iterations. A tracker with zero
// expected handles resets straight back to ready.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, hs := range t.expected {
		hs.received = false
		hs.bypassed = false
		hs.value = nil
	}
	t.ready = make(chan struct{})
	t.closed = false
	t.maybeSignalLocked()
}
