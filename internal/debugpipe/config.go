package debugpipe

import (
	"math/rand"

	"github.com/rs/zerolog"
)

// Config is the debug configuration record of spec §6.
type Config struct {
	Enabled              bool
	MinSeverity          Severity
	IncludeKinds         []Kind
	ExcludeKinds         []Kind
	IncludeNodes         []string
	ExcludeNodes         []string
	Redact               bool
	AdditionalRedactKeys []string
	MaxPayloadLength     int
	MaxListItems         int
	CaptureInputs        bool
	CaptureOutputs       bool
	CaptureInternalState bool
	UseLegacyFormat      bool
	EmitToLog            bool
	LogLevel             Severity
	SampleRate           float64
	DefaultTags          []string
	Metadata             map[string]any
}

// DefaultConfig matches the Python engine's "default" preset: everything
// on, no sampling, generous caps.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		MinSeverity:      SeverityDebug,
		Redact:           true,
		MaxPayloadLength: 2000,
		MaxListItems:     50,
		CaptureInputs:    true,
		CaptureOutputs:   true,
		EmitToLog:        true,
		LogLevel:         SeverityInfo,
		SampleRate:       1.0,
	}
}

// MinimalConfig: warn+, no input/output capture.
func MinimalConfig() Config {
	c := DefaultConfig()
	c.MinSeverity = SeverityWarn
	c.CaptureInputs = false
	c.CaptureOutputs = false
	return c
}

// VerboseConfig: trace level, larger caps.
func VerboseConfig() Config {
	c := DefaultConfig()
	c.MinSeverity = SeverityTrace
	c.MaxPayloadLength = 20000
	c.MaxListItems = 500
	return c
}

// ProductionConfig: info+, sampled 0.1, only error kinds plus graph
// start/end.
func ProductionConfig() Config {
	c := DefaultConfig()
	c.MinSeverity = SeverityInfo
	c.SampleRate = 0.1
	c.IncludeKinds = []Kind{KindNodeError, KindRoutingError, KindTimeoutError, KindGraphStart, KindGraphEnd}
	return c
}

// ErrorsOnlyConfig: only the error-family kinds.
func ErrorsOnlyConfig() Config {
	c := DefaultConfig()
	c.MinSeverity = SeverityError
	c.IncludeKinds = []Kind{KindNodeError, KindValidationError, KindRoutingError, KindTimeoutError, KindInputError, KindTemplateError, KindParseError}
	return c
}

// BuildPipeline turns a Config into the concrete, order-sorted Pipeline
// of spec §4.7.
func (c Config) BuildPipeline() *Pipeline {
	var stages []Transformer
	if c.Redact {
		stages = append(stages, NewRedact(c.AdditionalRedactKeys...))
	}
	if c.SampleRate > 0 && c.SampleRate < 1 {
		stages = append(stages, NewSample(c.SampleRate, rand.New(rand.NewSource(1))))
	}
	f := NewFilter()
	f.MinSeverity = c.MinSeverity
	if len(c.IncludeKinds) > 0 {
		f.IncludeKinds = make(map[Kind]struct{}, len(c.IncludeKinds))
		for _, k := range c.IncludeKinds {
			f.IncludeKinds[k] = struct{}{}
		}
	}
	if len(c.ExcludeKinds) > 0 {
		f.ExcludeKinds = make(map[Kind]struct{}, len(c.ExcludeKinds))
		for _, k := range c.ExcludeKinds {
			f.ExcludeKinds[k] = struct{}{}
		}
	}
	if len(c.IncludeNodes) > 0 {
		f.IncludeNodes = make(map[string]struct{}, len(c.IncludeNodes))
		for _, n := range c.IncludeNodes {
			f.IncludeNodes[n] = struct{}{}
		}
	}
	if len(c.ExcludeNodes) > 0 {
		f.ExcludeNodes = make(map[string]struct{}, len(c.ExcludeNodes))
		for _, n := range c.ExcludeNodes {
			f.ExcludeNodes[n] = struct{}{}
		}
	}
	stages = append(stages, f)
	if c.MaxPayloadLength > 0 || c.MaxListItems > 0 {
		stages = append(stages, NewTruncate(c.MaxPayloadLength, c.MaxListItems))
	}
	stages = append(stages, &Enrich{StaticFields: c.Metadata, StaticTags: c.DefaultTags})
	return NewPipeline(stages...)
}

// BuildRegistry wires the standard emitter set for a Config against the
// given stream publisher and logger.
func (c Config) BuildRegistry(stream StreamPublisher, log zerolog.Logger) *Registry {
	reg := NewRegistry(log)
	reg.Register(NewQueueEmitter(stream, c.UseLegacyFormat))
	if c.EmitToLog {
		reg.Register(NewLogEmitter(log))
	}
	return reg
}
