package debugpipe

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Emitter satisfies the {name, emit, emit_batch, flush, close} contract
// of spec §4.7.
type Emitter interface {
	Name() string
	Emit(ctx context.Context, e Event) error
	EmitBatch(ctx context.Context, events []Event) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// StreamPublisher is satisfied by the executors' output stream
// (internal/streambus.Stream); the Queue emitter pushes onto it.
type StreamPublisher interface {
	PublishDebug(content any, eventType string)
}

// Registry fans an event out to every registered Emitter concurrently,
// isolating per-emitter failures — a failing emitter is logged and
// swallowed, never stalls the others (spec §5 "back-pressure").
type Registry struct {
	mu       sync.RWMutex
	emitters []Emitter
	log      zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{log: log}
}

func (r *Registry) Register(e Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitters = append(r.emitters, e)
}

func (r *Registry) Emit(ctx context.Context, e Event) {
	r.mu.RLock()
	emitters := append([]Emitter(nil), r.emitters...)
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, em := range emitters {
		wg.Add(1)
		go func(em Emitter) {
			defer wg.Done()
			if err := em.Emit(ctx, e); err != nil {
				r.log.Warn().Err(err).Str("emitter", em.Name()).Msg("debug emitter failed")
			}
		}(em)
	}
	wg.Wait()
}

func (r *Registry) Close(ctx context.Context) {
	r.mu.RLock()
	emitters := append([]Emitter(nil), r.emitters...)
	r.mu.RUnlock()
	for _, em := range emitters {
		if err := em.Close(ctx); err != nil {
			r.log.Warn().Err(err).Str("emitter", em.Name()).Msg("debug emitter close failed")
		}
	}
}

// --- Queue emitter: delivers to the caller's output stream ---

type QueueEmitter struct {
	stream       StreamPublisher
	legacyFormat bool
}

func NewQueueEmitter(stream StreamPublisher, legacyFormat bool) *QueueEmitter {
	return &QueueEmitter{stream: stream, legacyFormat: legacyFormat}
}

func (q *QueueEmitter) Name() string { return "queue" }

func (q *QueueEmitter) Emit(_ context.Context, e Event) error {
	if q.legacyFormat {
		flat := map[string]any{
			"event_id":     e.EventID,
			"kind":         string(e.Kind),
			"severity":     e.Severity.String(),
			"execution_id": e.ExecutionID,
			"node_id":      e.NodeID,
		}
		for k, v := range e.Payload {
			flat[k] = v
		}
		q.stream.PublishDebug(flat, string(e.Kind))
		return nil
	}
	q.stream.PublishDebug(e, string(e.Kind))
	return nil
}

func (q *QueueEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, e := range events {
		if err := q.Emit(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (q *QueueEmitter) Flush(context.Context) error { return nil }
func (q *QueueEmitter) Close(context.Context) error { return nil }

// --- Log emitter: severity-mapped zerolog sink ---

type LogEmitter struct {
	log zerolog.Logger
}

func NewLogEmitter(log zerolog.Logger) *LogEmitter { return &LogEmitter{log: log} }

func (l *LogEmitter) Name() string { return "log" }

func (l *LogEmitter) Emit(_ context.Context, e Event) error {
	var ev *zerolog.Event
	switch e.Severity {
	case SeverityTrace:
		ev = l.log.Trace()
	case SeverityDebug:
		ev = l.log.Debug()
	case SeverityInfo:
		ev = l.log.Info()
	case SeverityWarn:
		ev = l.log.Warn()
	default:
		ev = l.log.Error()
	}
	ev.Str("kind", string(e.Kind)).Str("node_id", e.NodeID).Str("execution_id", e.ExecutionID).Fields(e.Payload).Msg("debug event")
	return nil
}

func (l *LogEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, e := range events {
		_ = l.Emit(ctx, e)
	}
	return nil
}

func (l *LogEmitter) Flush(context.Context) error { return nil }
func (l *LogEmitter) Close(context.Context) error { return nil }

// --- Callback emitter: user-supplied sync function ---

type CallbackFunc func(ctx context.Context, e Event) error

type CallbackEmitter struct {
	fn CallbackFunc
}

func NewCallbackEmitter(fn CallbackFunc) *CallbackEmitter { return &CallbackEmitter{fn: fn} }

func (c *CallbackEmitter) Name() string { return "callback" }
func (c *CallbackEmitter) Emit(ctx context.Context, e Event) error {
	if c.fn == nil {
		return nil
	}
	return c.fn(ctx, e)
}
func (c *CallbackEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, e := range events {
		if err := c.Emit(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
func (c *CallbackEmitter) Flush(context.Context) error { return nil }
func (c *CallbackEmitter) Close(context.Context) error { return nil }

// --- Buffered emitter: batches with size/time triggers ---

type BufferedEmitter struct {
	inner     Emitter
	maxSize   int
	maxAge    time.Duration
	mu        sync.Mutex
	buf       []Event
	lastFlush time.Time
}

func NewBufferedEmitter(inner Emitter, maxSize int, maxAge time.Duration) *BufferedEmitter {
	return &BufferedEmitter{inner: inner, maxSize: maxSize, maxAge: maxAge, lastFlush: time.Now()}
}

func (b *BufferedEmitter) Name() string { return "buffered(" + b.inner.Name() + ")" }

func (b *BufferedEmitter) Emit(ctx context.Context, e Event) error {
	b.mu.Lock()
	b.buf = append(b.buf, e)
	shouldFlush := len(b.buf) >= b.maxSize || (b.maxAge > 0 && time.Since(b.lastFlush) >= b.maxAge)
	var toFlush []Event
	if shouldFlush {
		toFlush = b.buf
		b.buf = nil
		b.lastFlush = time.Now()
	}
	b.mu.Unlock()

	if toFlush != nil {
		return b.inner.EmitBatch(ctx, toFlush)
	}
	return nil
}

func (b *BufferedEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, e := range events {
		if err := b.Emit(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (b *BufferedEmitter) Flush(ctx context.Context) error {
	b.mu.Lock()
	toFlush := b.buf
	b.buf = nil
	b.lastFlush = time.Now()
	b.mu.Unlock()
	if len(toFlush) == 0 {
		return nil
	}
	return b.inner.EmitBatch(ctx, toFlush)
}

func (b *BufferedEmitter) Close(ctx context.Context) error {
	if err := b.Flush(ctx); err != nil {
		return err
	}
	return b.inner.Close(ctx)
}

// --- Filtered emitter: wraps any emitter with its own transform pipeline ---

type FilteredEmitter struct {
	inner    Emitter
	pipeline *Pipeline
}

func NewFilteredEmitter(inner Emitter, pipeline *Pipeline) *FilteredEmitter {
	return &FilteredEmitter{inner: inner, pipeline: pipeline}
}

func (f *FilteredEmitter) Name() string { return "filtered(" + f.inner.Name() + ")" }

func (f *FilteredEmitter) Emit(ctx context.Context, e Event) error {
	out, ok := f.pipeline.Apply(ctx, e)
	if !ok {
		return nil
	}
	return f.inner.Emit(ctx, out)
}

func (f *FilteredEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, e := range events {
		if err := f.Emit(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
func (f *FilteredEmitter) Flush(ctx context.Context) error { return f.inner.Flush(ctx) }
func (f *FilteredEmitter) Close(ctx context.Context) error { return f.inner.Close(ctx) }

// --- Null emitter ---

type NullEmitter struct{}

func (NullEmitter) Name() string                                    { return "null" }
func (NullEmitter) Emit(context.Context, Event) error                { return nil }
func (NullEmitter) EmitBatch(context.Context, []Event) error         { return nil }
func (NullEmitter) Flush(context.Context) error                      { return nil }
func (NullEmitter) Close(context.Context) error                      { return nil }
