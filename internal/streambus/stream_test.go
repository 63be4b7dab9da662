package streambus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStream_DefaultsNonPositiveCapacityTo64(t *testing.T) {
	s := NewStream(0)
	assert.Equal(t, 64, cap(s.ch))

	s = NewStream(-5)
	assert.Equal(t, 64, cap(s.ch))

	s = NewStream(8)
	assert.Equal(t, 8, cap(s.ch))
}

func TestStream_PublishContentCarriesSourceNode(t *testing.T) {
	s := NewStream(1)
	s.PublishContent("hi", "T")
	s.Close()

	ev := <-s.Events()
	assert.Equal(t, "content", ev.Kind)
	assert.Equal(t, "hi", ev.Content)
	assert.Equal(t, "T", ev.SourceNode)
}

func TestStream_PublishDebugCarriesEventType(t *testing.T) {
	s := NewStream(1)
	s.PublishDebug(map[string]any{"x": 1}, "routing_error")
	s.Close()

	ev := <-s.Events()
	assert.Equal(t, "debug", ev.Kind)
	assert.Equal(t, "routing_error", ev.EventType)
}

func TestStream_PublishDebugSummaryAndLoopProgress(t *testing.T) {
	s := NewStream(2)
	s.PublishDebugSummary(map[string]any{"executed_nodes": 3})
	s.PublishLoopProgress(map[string]any{"iteration": 1})
	s.Close()

	var events []StreamEvent
	for ev := range s.Events() {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "debug_summary", events[0].Kind)
	assert.Equal(t, "loop_progress", events[1].Kind)
}

func TestStream_EventsDrainsAllThenCloses(t *testing.T) {
	s := NewStream(4)
	s.PublishContent(1, "A")
	s.PublishContent(2, "B")
	s.Close()

	var got []any
	for ev := range s.Events() {
		got = append(got, ev.Content)
	}
	assert.Equal(t, []any{1, 2}, got)
}
