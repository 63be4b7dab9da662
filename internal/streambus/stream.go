// Package streambus is the single output-stream type shared by the
// reactive executor (C5) and the loop sub-executor (C6), factored out
// so neither package needs to import the other just to hand off the
// stream. Grounded on
// _examples/original_source/magic_agents/execution/reactive_executor.py's
// single output queue.
package streambus

import "github.com/flowcore/agentflow/internal/graph"

// StreamEvent is one record of the output stream schema of spec §6.
type StreamEvent struct {
	Kind       string // content | debug | debug_summary | loop_progress
	Content    any
	SourceNode string
	EventType  string // set for debug events
}

// Stream is the single multi-producer/single-consumer output channel of
// spec §9 ("one MPSC channel for the user-facing output stream"). It
// satisfies both nodeexec.StreamSink and debugpipe.StreamPublisher so
// every producer (node tasks, the debug pipeline's Queue emitter, the
// loop sub-executor) writes through the same bounded channel.
type Stream struct {
	ch chan StreamEvent
}

// NewStream builds a Stream with the given bounded capacity (spec §5
// "back-pressure": the output stream is a bounded queue; publishers
// await on full").
func NewStream(capacity int) *Stream {
	if capacity <= 0 {
		capacity = 64
	}
	return &Stream{ch: make(chan StreamEvent, capacity)}
}

func (s *Stream) Events() <-chan StreamEvent { return s.ch }

func (s *Stream) PublishContent(content any, sourceNode string) {
	s.ch <- StreamEvent{Kind: graph.KindContent, Content: content, SourceNode: sourceNode}
}

// PublishDebug implements debugpipe.StreamPublisher.
func (s *Stream) PublishDebug(content any, eventType string) {
	s.ch <- StreamEvent{Kind: graph.KindDebug, Content: content, EventType: eventType}
}

func (s *Stream) PublishDebugSummary(summary any) {
	s.ch <- StreamEvent{Kind: graph.KindDebugSummary, Content: summary}
}

func (s *Stream) PublishLoopProgress(progress any) {
	s.ch <- StreamEvent{Kind: graph.KindLoopProgress, Content: progress}
}

// Close closes the underlying channel; callers must guarantee no more
// Publish* calls happen afterward (the driver task owns this).
func (s *Stream) Close() { close(s.ch) }
