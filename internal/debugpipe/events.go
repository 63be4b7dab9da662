// Package debugpipe implements the debug event pipeline (C7):
// capture -> transform -> emit -> collect, grounded on
// _examples/original_source/magic_agents/debug/{events,transform,emitter,collector,context}.py.
package debugpipe

import (
	"time"

	"github.com/google/uuid"
)

// Kind partitions DebugEvent into the families spec §3/§7 name.
type Kind string

const (
	KindGraphStart      Kind = "graph_start"
	KindGraphEnd        Kind = "graph_end"
	KindNodeStart       Kind = "node_start"
	KindNodeEnd         Kind = "node_end"
	KindNodeError       Kind = "node_error"
	KindNodeBypass      Kind = "node_bypass"
	KindIterationStart  Kind = "iteration_start"
	KindIterationEnd    Kind = "iteration_end"
	KindInputReceived   Kind = "input_received"
	KindOutputProduced  Kind = "output_produced"
	KindEdgeTraversed   Kind = "edge_traversed"
	KindStateChange     Kind = "state_change"
	KindConditionEval   Kind = "condition_evaluated"
	KindTemplateRender  Kind = "template_rendered"
	KindLLMGeneration   Kind = "llm_generation"
	KindTiming          Kind = "timing"
	KindValidationError Kind = "validation_error"
	KindRoutingError    Kind = "routing_error"
	KindTimeoutError    Kind = "timeout_error"
	KindInputError      Kind = "input_error"
	KindTemplateError   Kind = "template_error"
	KindParseError      Kind = "parse_error"
)

// Severity is an ordered level used by the Filter transformer's severity
// floor and by the Log emitter's level mapping.
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityTrace:
		return "trace"
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// isErrorKind reports whether kind belongs to the error family that the
// Sample transformer must never drop.
func isErrorKind(k Kind) bool {
	switch k {
	case KindNodeError, KindValidationError, KindRoutingError, KindTimeoutError, KindInputError, KindTemplateError, KindParseError:
		return true
	default:
		return false
	}
}

// Event is the DebugEvent record of spec §3.
type Event struct {
	EventID     string
	Kind        Kind
	Severity    Severity
	Timestamp   time.Time
	ExecutionID string
	SequenceNo  int64
	NodeID      string
	NodeKind    string
	Payload     map[string]any
	Parents     []string
	Tags        []string
}

// NewEvent builds an Event with a fresh uuid EventID and a time.Now()
// Timestamp; a nil payload becomes an empty map.
func NewEvent(kind Kind, severity Severity, executionID string, seq int64, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		EventID:     uuid.NewString(),
		Kind:        kind,
		Severity:    severity,
		Timestamp:   time.Now(),
		ExecutionID: executionID,
		SequenceNo:  seq,
		Payload:     payload,
	}
}

// Clone returns a deep-enough copy of the event for transformers that
// rewrite Payload without mutating the original (Redact, Truncate).
func (e Event) Clone() Event {
	c := e
	c.Payload = cloneValue(e.Payload).(map[string]any)
	if e.Tags != nil {
		c.Tags = append([]string(nil), e.Tags...)
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
