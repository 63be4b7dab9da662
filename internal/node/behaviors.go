package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/flowcore/agentflow/internal/graph"
	"github.com/flowcore/agentflow/internal/template"
)

// run is the common helper every behavior uses: it runs body in its own
// goroutine, closing ch when body returns, so Execute can hand back a
// live channel immediately (matching the async-generator shape of
// §4.2's node contract).
func run(body func(ch chan<- Event)) (<-chan Event, error) {
	ch := make(chan Event, 8)
	go func() {
		defer close(ch)
		body(ch)
	}()
	return ch, nil
}

func stringData(data map[string]any, key, def string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return def
}

// WithTiming wraps a node behavior function with an entry/elapsed debug
// log line, the Go equivalent of
// _examples/original_source/magic_agents/node_system/Node.py's
// magic_telemetry decorator: that decorator wraps the node's async
// generator, logging once when it starts and once more with elapsed
// time when it is exhausted. Here the channel itself is the generator,
// so elapsed time is logged once the wrapped channel is drained and
// closed rather than when Execute merely returns.
func WithTiming(kind string, log func(event string, fields map[string]any), fn Func) Func {
	return func(ctx context.Context, inputs map[string]any, data map[string]any) (<-chan Event, error) {
		start := time.Now()
		if log != nil {
			log("node_start", map[string]any{"kind": kind})
		}
		events, err := fn(ctx, inputs, data)
		if err != nil {
			if log != nil {
				log("node_error", map[string]any{"kind": kind, "error": err.Error()})
			}
			return events, err
		}
		out := make(chan Event, cap(events))
		go func() {
			defer close(out)
			for ev := range events {
				out <- ev
			}
			if log != nil {
				log("node_elapsed", map[string]any{"kind": kind, "elapsed_ms": time.Since(start).Milliseconds()})
			}
		}()
		return out, nil
	}
}

// --- UserInput ---

func UserInput() Behavior {
	return Func(func(_ context.Context, inputs map[string]any, data map[string]any) (<-chan Event, error) {
		return run(func(ch chan<- Event) {
			msgHandle := stringData(data, "message_handle", "handle_user_message")
			filesHandle := stringData(data, "files_handle", "handle_user_files")
			imagesHandle := stringData(data, "images_handle", "handle_user_images")
			ch <- Event{Kind: msgHandle, Content: data["text"]}
			ch <- Event{Kind: filesHandle, Content: data["files"]}
			ch <- Event{Kind: imagesHandle, Content: data["images"]}
		})
	})
}

// --- Text ---

func Text() Behavior {
	return Func(func(_ context.Context, _ map[string]any, data map[string]any) (<-chan Event, error) {
		return run(func(ch chan<- Event) {
			handle := stringData(data, "output_handle", "handle_text_output")
			ch <- Event{Kind: handle, Content: data["text"]}
		})
	})
}

// --- Parser ---

func Parser(deps Deps) Behavior {
	return Func(func(_ context.Context, inputs map[string]any, data map[string]any) (<-chan Event, error) {
		return run(func(ch chan<- Event) {
			tmpl := stringData(data, "template", "")
			handle := stringData(data, "output_handle", "handle_parser_output")
			out, err := template.Render(tmpl, template.Context{Input: inputs}, template.DefaultOptions())
			if err != nil {
				ch <- Event{Kind: graph.SignalError, Content: err.Error()}
				return
			}
			ch <- Event{Kind: handle, Content: out}
		})
	})
}

// --- Fetch ---

func Fetch(deps Deps) Behavior {
	return Func(func(ctx context.Context, inputs map[string]any, data map[string]any) (<-chan Event, error) {
		return run(func(ch chan<- Event) {
			url := stringData(data, "url", "")
			method := strings.ToUpper(stringData(data, "method", "GET"))
			handle := stringData(data, "output_handle", "handle_fetch_output")
			if url == "" {
				ch <- Event{Kind: graph.SignalError, Content: "fetch node missing url"}
				return
			}
			var body io.Reader
			if b, ok := inputs["body"]; ok {
				raw, _ := json.Marshal(b)
				body = bytes.NewReader(raw)
			}
			req, err := http.NewRequestWithContext(ctx, method, url, body)
			if err != nil {
				ch <- Event{Kind: graph.SignalError, Content: err.Error()}
				return
			}
			client := deps.HTTP
			if client == nil {
				client = http.DefaultClient
			}
			resp, err := client.Do(req)
			if err != nil {
				ch <- Event{Kind: graph.SignalError, Content: err.Error()}
				return
			}
			defer resp.Body.Close()
			respBody, _ := io.ReadAll(resp.Body)
			ch <- Event{Kind: handle, Content: string(respBody)}
		})
	})
}

// --- ClientLLM / LLM: streamed OpenAI chat completion ---

func ClientLLM(deps Deps) Behavior { return llmBehavior(deps, "handle_client_output") }
func LLM(deps Deps) Behavior       { return llmBehavior(deps, "handle_llm_output") }

func llmBehavior(deps Deps, defaultHandle string) Behavior {
	return Func(func(ctx context.Context, inputs map[string]any, data map[string]any) (<-chan Event, error) {
		return run(func(ch chan<- Event) {
			if deps.OpenAI == nil {
				ch <- Event{Kind: graph.SignalError, Content: "no openai client configured"}
				return
			}
			prompt := ""
			if v, ok := inputs["prompt"]; ok {
				prompt = fmt.Sprint(v)
			} else if v, ok := inputs["handle_user_message"]; ok {
				prompt = fmt.Sprint(v)
			}
			model := stringData(data, "model", openai.GPT4oMini)
			handle := stringData(data, "output_handle", defaultHandle)

			stream, err := deps.OpenAI.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
				Model:    model,
				Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
				Stream:   true,
			})
			if err != nil {
				ch <- Event{Kind: graph.SignalError, Content: err.Error()}
				return
			}
			defer stream.Close()

			var full strings.Builder
			for {
				resp, err := stream.Recv()
				if err != nil {
					break
				}
				if len(resp.Choices) == 0 {
					continue
				}
				delta := resp.Choices[0].Delta.Content
				full.WriteString(delta)
				if delta != "" {
					ch <- Event{Kind: graph.KindContent, Content: delta}
				}
			}
			ch <- Event{Kind: handle, Content: full.String()}
		})
	})
}

// --- Chat ---

func Chat() Behavior {
	return Func(func(_ context.Context, inputs map[string]any, data map[string]any) (<-chan Event, error) {
		return run(func(ch chan<- Event) {
			handle := stringData(data, "output_handle", "handle_chat_output")
			ch <- Event{Kind: handle, Content: inputs}
		})
	})
}

// --- SendMessage ---

func SendMessage(deps Deps) Behavior {
	return Func(func(ctx context.Context, inputs map[string]any, data map[string]any) (<-chan Event, error) {
		return run(func(ch chan<- Event) {
			handle := stringData(data, "output_handle", "handle_send_message_output")
			url := stringData(data, "webhook_url", "")
			if url == "" {
				ch <- Event{Kind: handle, Content: inputs}
				return
			}
			payload, _ := json.Marshal(inputs)
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
			if err != nil {
				ch <- Event{Kind: graph.SignalError, Content: err.Error()}
				return
			}
			req.Header.Set("Content-Type", "application/json")
			client := deps.HTTP
			if client == nil {
				client = http.DefaultClient
			}
			resp, err := client.Do(req)
			if err != nil {
				ch <- Event{Kind: graph.SignalError, Content: err.Error()}
				return
			}
			defer resp.Body.Close()
			ch <- Event{Kind: handle, Content: map[string]any{"status": resp.StatusCode}}
		})
	})
}

// --- Conditional ---

// conditionalPrimaryHandle is the input handle whose (parsed) value is
// additionally exposed as the bare `value` variable in the condition
// template's evaluation context, matching
// _examples/original_source/magic_agents/node_system/NodeConditional.py's
// INPUT_HANDLE_CTX/"value" alias and spec example 2's `value|trim`.
const conditionalPrimaryHandle = "handle_input"

// Conditional renders data["condition"] — a single Jinja2-style
// selector template, e.g. `{{ 'yes' if value|trim else 'no' }}` — via
// deps.Condition.EvaluateSelector and emits a single Event whose Kind is
// the rendered, trimmed result (spec §3 "rendered selected_handle
// string", §4.2). All delivered inputs are merged into one evaluation
// context first (dict-shaped inputs merge flat, others are keyed by
// their handle name); an empty render falls back to
// data["default_handle"] if set, else the node signals BYPASS_ALL.
func Conditional(deps Deps) Behavior {
	return Func(func(_ context.Context, inputs map[string]any, data map[string]any) (<-chan Event, error) {
		return run(func(ch chan<- Event) {
			cond := stringData(data, "condition", "")
			if cond == "" {
				ch <- Event{Kind: graph.KindDebug, Content: map[string]any{
					"error_type":    "ConfigurationError",
					"error_message": "conditional node requires a non-empty condition template",
				}}
				ch <- Event{Kind: graph.SignalBypassAll, Content: nil}
				return
			}

			primaryHandle := stringData(data, "input_handle", conditionalPrimaryHandle)
			vars := mergeConditionalInputs(inputs, primaryHandle)
			if len(vars) == 0 {
				ch <- Event{Kind: graph.KindDebug, Content: map[string]any{
					"error_type":    "InputError",
					"error_message": "conditional node received no input on any handle",
					"condition":     cond,
				}}
				ch <- Event{Kind: graph.SignalBypassAll, Content: nil}
				return
			}

			selected, err := deps.Condition.EvaluateSelector(cond, vars)
			if err != nil {
				ch <- Event{Kind: graph.KindDebug, Content: map[string]any{
					"error_type":    "TemplateError",
					"error_message": err.Error(),
					"condition":     cond,
				}}
				ch <- Event{Kind: graph.SignalBypassAll, Content: nil}
				return
			}

			if selected == "" {
				if def := stringData(data, "default_handle", ""); def != "" {
					selected = def
				} else {
					ch <- Event{Kind: graph.KindDebug, Content: map[string]any{
						"error_type":    "EmptyHandleError",
						"error_message": "condition evaluated to empty string with no default_handle configured",
						"condition":     cond,
					}}
					ch <- Event{Kind: graph.SignalBypassAll, Content: nil}
					return
				}
			}

			ch <- Event{Kind: selected, Content: vars}
		})
	})
}

// mergeConditionalInputs merges every delivered input into one context
// map for template evaluation: a dict-shaped input is merged at the top
// level (later handles win on key collision), anything else is stored
// under its own handle name. The primary handle's parsed value is also
// exposed as "value" when no other input already claims that key,
// mirroring the original's merge_strategy="flat" default.
func mergeConditionalInputs(inputs map[string]any, primaryHandle string) map[string]any {
	merged := make(map[string]any)
	var primary any
	hasPrimary := false
	for handle, raw := range inputs {
		if raw == nil {
			continue
		}
		parsed := parseConditionalInput(raw)
		if handle == primaryHandle {
			primary, hasPrimary = parsed, true
		}
		if m, ok := parsed.(map[string]any); ok {
			for k, v := range m {
				merged[k] = v
			}
			continue
		}
		merged[handle] = parsed
	}
	if hasPrimary {
		if _, exists := merged["value"]; !exists {
			merged["value"] = primary
		}
	}
	return merged
}

// parseConditionalInput attempts a JSON decode of a string input (a
// node upstream may have handed the conditional a raw JSON body, as
// loopexec.resolveList also tolerates), falling back to the plain
// string.
func parseConditionalInput(raw any) any {
	s, ok := raw.(string)
	if !ok {
		return raw
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err == nil {
		return decoded
	}
	return s
}

// --- Inner ---

// innerGraphDataKeys are the aliases an Inner node's nested graph
// definition may be authored under, grounded on
// _examples/original_source/magic_agents/models/factory/Nodes/InnerNodeModel.py's
// magic_flow/flow/graph/subgraph aliases (JSON definition is the source
// of truth; first one present wins).
var innerGraphDataKeys = []string{"magic_flow", "flow", "graph", "subgraph"}

const innerInputHandle = "handle_user_message"

// Inner executes a nested agent flow graph (spec §4.1's "Recursively
// build inner sub-graphs for Inner nodes") via deps.SubGraph, forwarding
// this node's single input as the inner graph's user message and
// emitting the inner graph's concatenated content as this node's own
// output, matching
// _examples/original_source/magic_agents/node_system/NodeInner.py's
// process(). deps.SubGraph is wired in by package agentflow, which
// already imports internal/reactive and internal/validate to build and
// run a nested graph.Graph — internal/node cannot import
// internal/reactive directly without creating an import cycle, since
// reactive.Run already takes a *node.Registry.
func Inner(deps Deps) Behavior {
	return Func(func(ctx context.Context, inputs map[string]any, data map[string]any) (<-chan Event, error) {
		return run(func(ch chan<- Event) {
			msg, ok := inputs[innerInputHandle]
			if !ok || msg == nil {
				ch <- Event{Kind: graph.KindDebug, Content: map[string]any{
					"error_type":    "InputError",
					"error_message": fmt.Sprintf("inner node requires input %q", innerInputHandle),
				}}
				ch <- Event{Kind: graph.SignalBypassAll, Content: nil}
				return
			}

			var rawGraph map[string]any
			for _, key := range innerGraphDataKeys {
				if g, ok := data[key].(map[string]any); ok {
					rawGraph = g
					break
				}
			}
			if rawGraph == nil || deps.SubGraph == nil {
				ch <- Event{Kind: graph.KindDebug, Content: map[string]any{
					"error_type":    "ConfigurationError",
					"error_message": "inner node has no inner graph definition (magic_flow/flow/graph/subgraph)",
				}}
				ch <- Event{Kind: graph.SignalBypassAll, Content: nil}
				return
			}

			content, err := deps.SubGraph(ctx, rawGraph, fmt.Sprint(msg))
			if err != nil {
				ch <- Event{Kind: graph.KindDebug, Content: map[string]any{
					"error_type":    "ExecutionError",
					"error_message": err.Error(),
				}}
				ch <- Event{Kind: graph.SignalBypassAll, Content: nil}
				return
			}

			handle := stringData(data, "output_handle", "handle_execution_content")
			ch <- Event{Kind: handle, Content: content}
		})
	})
}

// --- End ---

func End() Behavior {
	return Func(func(_ context.Context, inputs map[string]any, data map[string]any) (<-chan Event, error) {
		return run(func(ch chan<- Event) {
			handle := stringData(data, "output_handle", "handle_end_output")
			ch <- Event{Kind: handle, Content: inputs}
		})
	})
}
