package debugpipe

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Transformer may rewrite or drop (return ok=false) an Event. Pipeline
// runs transformers in ascending Order.
type Transformer interface {
	Name() string
	Order() int
	Transform(ctx context.Context, e Event) (Event, bool)
}

// Pipeline is an ordered list of Transformers, sorted once at
// construction to match the design-level order of spec §4.7:
// Redact(10) -> Sample(15) -> Filter(20) -> TagFilter(25) -> Truncate(30) -> Enrich(40).
type Pipeline struct {
	stages []Transformer
}

func NewPipeline(stages ...Transformer) *Pipeline {
	p := &Pipeline{stages: append([]Transformer(nil), stages...)}
	sortByOrder(p.stages)
	return p
}

func sortByOrder(s []Transformer) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].Order() > s[j].Order(); j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Apply runs e through every stage in order, stopping and returning
// ok=false the moment any stage drops it.
func (p *Pipeline) Apply(ctx context.Context, e Event) (Event, bool) {
	cur := e
	for _, stage := range p.stages {
		var ok bool
		cur, ok = stage.Transform(ctx, cur)
		if !ok {
			return Event{}, false
		}
	}
	return cur, true
}

// --- Redact (order 10) ---

var defaultSensitiveKeys = []string{"api_key", "token", "password", "bearer", "secret", "credential"}

const RedactMarker = "***REDACTED***"

type Redact struct {
	sensitive []string // lower-cased substrings
}

func NewRedact(extra ...string) *Redact {
	keys := append([]string(nil), defaultSensitiveKeys...)
	for _, k := range extra {
		keys = append(keys, strings.ToLower(k))
	}
	return &Redact{sensitive: keys}
}

func (r *Redact) Name() string { return "redact" }
func (r *Redact) Order() int   { return 10 }

func (r *Redact) Transform(_ context.Context, e Event) (Event, bool) {
	c := e.Clone()
	c.Payload = r.redactMap(c.Payload)
	return c, true
}

func (r *Redact) isSensitive(key string) bool {
	lk := strings.ToLower(key)
	for _, s := range r.sensitive {
		if strings.Contains(lk, s) {
			return true
		}
	}
	return false
}

func (r *Redact) redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if r.isSensitive(k) {
			out[k] = RedactMarker
			continue
		}
		out[k] = r.redactValue(v)
	}
	return out
}

func (r *Redact) redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return r.redactMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = r.redactValue(item)
		}
		return out
	default:
		return v
	}
}

// --- Sample (order 15) ---

type Sample struct {
	rate float64 // [0,1], fraction kept
	rnd  *rand.Rand
}

func NewSample(rate float64, rnd *rand.Rand) *Sample {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}
	return &Sample{rate: rate, rnd: rnd}
}

func (s *Sample) Name() string { return "sample" }
func (s *Sample) Order() int   { return 15 }

func (s *Sample) Transform(_ context.Context, e Event) (Event, bool) {
	if s.rate >= 1 || isErrorKind(e.Kind) {
		return e, true
	}
	if s.rate <= 0 {
		return Event{}, false
	}
	return e, s.rnd.Float64() < s.rate
}

// --- Filter (order 20) ---

type Filter struct {
	MinSeverity  Severity
	IncludeKinds map[Kind]struct{}
	ExcludeKinds map[Kind]struct{}
	IncludeNodes map[string]struct{}
	ExcludeNodes map[string]struct{}
}

func NewFilter() *Filter { return &Filter{} }

func (f *Filter) Name() string { return "filter" }
func (f *Filter) Order() int   { return 20 }

func (f *Filter) Transform(_ context.Context, e Event) (Event, bool) {
	if e.Severity < f.MinSeverity {
		return Event{}, false
	}
	if len(f.IncludeKinds) > 0 {
		if _, ok := f.IncludeKinds[e.Kind]; !ok {
			return Event{}, false
		}
	}
	if _, ok := f.ExcludeKinds[e.Kind]; ok {
		return Event{}, false
	}
	if e.NodeID != "" {
		if len(f.IncludeNodes) > 0 {
			if _, ok := f.IncludeNodes[e.NodeID]; !ok {
				return Event{}, false
			}
		}
		if _, ok := f.ExcludeNodes[e.NodeID]; ok {
			return Event{}, false
		}
	}
	return e, true
}

// --- TagFilter (order 25) ---

type TagFilter struct {
	Require []string
	Exclude []string
}

func (t *TagFilter) Name() string { return "tag_filter" }
func (t *TagFilter) Order() int   { return 25 }

func (t *TagFilter) Transform(_ context.Context, e Event) (Event, bool) {
	has := func(tag string) bool {
		for _, et := range e.Tags {
			if et == tag {
				return true
			}
		}
		return false
	}
	for _, tag := range t.Exclude {
		if has(tag) {
			return Event{}, false
		}
	}
	for _, tag := range t.Require {
		if !has(tag) {
			return Event{}, false
		}
	}
	return e, true
}

// --- Truncate (order 30) ---

type Truncate struct {
	MaxStringLen int
	MaxListItems int
	Suffix       string
}

func NewTruncate(maxStringLen, maxListItems int) *Truncate {
	return &Truncate{MaxStringLen: maxStringLen, MaxListItems: maxListItems, Suffix: "..."}
}

func (t *Truncate) Name() string { return "truncate" }
func (t *Truncate) Order() int   { return 30 }

func (t *Truncate) Transform(_ context.Context, e Event) (Event, bool) {
	c := e.Clone()
	c.Payload = t.truncateMap(c.Payload)
	return c, true
}

func (t *Truncate) truncateMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = t.truncateValue(v)
	}
	return out
}

func (t *Truncate) truncateValue(v any) any {
	switch x := v.(type) {
	case string:
		if t.MaxStringLen > 0 && len(x) > t.MaxStringLen {
			return x[:t.MaxStringLen] + t.Suffix
		}
		return x
	case map[string]any:
		return t.truncateMap(x)
	case []any:
		if t.MaxListItems > 0 && len(x) > t.MaxListItems {
			kept := make([]any, 0, t.MaxListItems+1)
			for i := 0; i < t.MaxListItems; i++ {
				kept = append(kept, t.truncateValue(x[i]))
			}
			kept = append(kept, fmt.Sprintf("...[%d more]", len(x)-t.MaxListItems))
			return kept
		}
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = t.truncateValue(item)
		}
		return out
	default:
		return v
	}
}

// --- Enrich (order 40) ---

// Enrich adds static fields, computed tags, and — when ctx carries an
// active OpenTelemetry span — trace_id/span_id fields. This is the one
// place go.opentelemetry.io/otel is used: attaching IDs from an already-
// active span, never creating a tracer or exporter (see DESIGN.md).
type Enrich struct {
	StaticFields map[string]any
	StaticTags   []string
}

func (en *Enrich) Name() string { return "enrich" }
func (en *Enrich) Order() int   { return 40 }

func (en *Enrich) Transform(ctx context.Context, e Event) (Event, bool) {
	c := e.Clone()
	for k, v := range en.StaticFields {
		c.Payload[k] = v
	}
	if len(en.StaticTags) > 0 {
		c.Tags = append(c.Tags, en.StaticTags...)
	}
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		c.Payload["trace_id"] = span.TraceID().String()
		c.Payload["span_id"] = span.SpanID().String()
	}
	return c, true
}
