// Command agentflow loads a graph file (JSON or YAML) and runs it to
// completion, printing its output stream to stdout. Grounded on
// _examples/smilemakc-mbflow/examples/ai-content-pipeline/main.go's
// flag-based demo shape, with the logger swapped to a colorable
// zerolog console writer the way
// _examples/smilemakc-mbflow/src/internal/config.go pulls in
// rs/zerolog/log.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/flowcore/agentflow"
	"github.com/flowcore/agentflow/internal/streambus"
)

func main() {
	graphPath := flag.String("graph", "", "path to a graph file (.json or .yaml/.yml)")
	debug := flag.Bool("debug", false, "enable the debug event pipeline")
	maxConcurrent := flag.Int("max-concurrent", 0, "node concurrency limit (0 = default)")
	timeout := flag.Duration("per-node-timeout", 0, "per-node input wait timeout (0 = default)")
	flag.Parse()

	log := newLogger()

	if *graphPath == "" {
		log.Fatal().Msg("missing required -graph flag")
	}

	in, err := loadGraph(*graphPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *graphPath).Msg("failed to load graph")
	}
	if *debug {
		in.Debug = true
	}

	opts := agentflow.DefaultRunOptions()
	opts.Log = log
	opts.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if *maxConcurrent > 0 {
		opts.MaxConcurrent = *maxConcurrent
	}
	if *timeout > 0 {
		opts.PerNodeInputTimeout = *timeout
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine := agentflow.New(opts)
	stream := engine.Run(ctx, in)

	for ev := range stream.Events() {
		printEvent(ev)
	}
}

func newLogger() zerolog.Logger {
	out := colorable.NewColorableStdout()
	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		writer.NoColor = true
	}
	return zerolog.New(writer).With().Timestamp().Logger()
}

func loadGraph(path string) (agentflow.GraphInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return agentflow.GraphInput{}, err
	}
	var in agentflow.GraphInput
	if isYAML(path) {
		err = yaml.Unmarshal(raw, &in)
	} else {
		err = json.Unmarshal(raw, &in)
	}
	return in, err
}

func isYAML(path string) bool {
	for _, ext := range []string{".yaml", ".yml"} {
		if len(path) >= len(ext) && path[len(path)-len(ext):] == ext {
			return true
		}
	}
	return false
}

func printEvent(ev streambus.StreamEvent) {
	switch ev.Kind {
	case "content":
		fmt.Print(ev.Content)
	case "debug":
		fmt.Printf("[debug:%s] %v\n", ev.EventType, ev.Content)
	case "debug_summary":
		fmt.Printf("[summary] %v\n", ev.Content)
	case "loop_progress":
		fmt.Printf("[loop] %v\n", ev.Content)
	default:
		fmt.Printf("[%s:%s] %v\n", ev.Kind, ev.SourceNode, ev.Content)
	}
}
