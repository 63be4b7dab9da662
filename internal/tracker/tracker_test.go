package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/agentflow/internal/graph"
)

type src = struct {
	SourceNode   string
	SourceHandle graph.Handle
}

func TestTracker_SourceNodeIsImmediatelyReady(t *testing.T) {
	tr := New("n1", map[graph.Handle]src{})
	assert.True(t, tr.IsReady())
	assert.True(t, tr.ShouldExecute())
	assert.False(t, tr.IsBypassed())
}

func TestTracker_ReadyOnlyAfterAllHandlesResolved(t *testing.T) {
	tr := New("n1", map[graph.Handle]src{
		"a": {SourceNode: "p1", SourceHandle: "out"},
		"b": {SourceNode: "p2", SourceHandle: "out"},
	})
	assert.False(t, tr.IsReady())

	tr.ReceiveInput("a", "hello")
	assert.False(t, tr.IsReady())

	tr.ReceiveBypass("b")
	assert.True(t, tr.IsReady())
	assert.True(t, tr.ShouldExecute())
	assert.False(t, tr.IsBypassed())
}

func TestTracker_IsBypassedOnlyWhenNothingReceived(t *testing.T) {
	tr := New("n1", map[graph.Handle]src{
		"a": {SourceNode: "p1", SourceHandle: "out"},
	})
	tr.ReceiveBypass("a")
	assert.True(t, tr.IsReady())
	assert.False(t, tr.ShouldExecute())
	assert.True(t, tr.IsBypassed())
}

func TestTracker_ReadinessMonotonic(t *testing.T) {
	tr := New("n1", map[graph.Handle]src{
		"a": {SourceNode: "p1", SourceHandle: "out"},
	})
	require.False(t, tr.IsReady())
	tr.ReceiveInput("a", 1)
	require.True(t, tr.IsReady())
	// Receiving again must not un-ready the tracker.
	tr.ReceiveInput("a", 2)
	assert.True(t, tr.IsReady())
}

func TestTracker_WaitReadyUnblocksOnSignal(t *testing.T) {
	tr := New("n1", map[graph.Handle]src{
		"a": {SourceNode: "p1", SourceHandle: "out"},
	})
	done := make(chan bool, 1)
	go func() {
		ok, err := tr.WaitReady(context.Background())
		require.NoError(t, err)
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	tr.ReceiveInput("a", "v")
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("WaitReady did not unblock")
	}
}

func TestTracker_WaitReadyTimesOut(t *testing.T) {
	tr := New("n1", map[graph.Handle]src{
		"a": {SourceNode: "p1", SourceHandle: "out"},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := tr.WaitReady(ctx)
	assert.Error(t, err)
}

func TestTracker_ResetRearmsReadiness(t *testing.T) {
	tr := New("n1", map[graph.Handle]src{
		"a": {SourceNode: "p1", SourceHandle: "out"},
	})
	tr.ReceiveInput("a", "v")
	require.True(t, tr.IsReady())

	tr.Reset()
	assert.False(t, tr.IsReady())
	assert.Empty(t, tr.GetAllInputs())

	tr.ReceiveInput("a", "v2")
	assert.True(t, tr.IsReady())
}
