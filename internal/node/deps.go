package node

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/flowcore/agentflow/internal/condition"
)

// SubGraphExecutor runs a nested graph definition (an Inner node's
// magic_flow/flow/graph/subgraph data) to completion and returns its
// concatenated content output. Implemented and wired by package
// agentflow, which already imports internal/reactive and
// internal/validate to build and run graphs end to end; internal/node
// cannot import internal/reactive itself without an import cycle
// (reactive.Run already takes a *node.Registry).
type SubGraphExecutor func(ctx context.Context, rawGraph map[string]any, userMessage string) (string, error)

// Deps bundles the external collaborators node behaviors need:
// an HTTP client for Fetch, an OpenAI client for ClientLLM/LLM, the
// shared condition evaluator for Conditional, a nested-graph executor
// for Inner, and a logger. None of this is part of the reactive core
// (C1-C7); it exists so the engine has something real to execute end-to-end.
type Deps struct {
	HTTP      *http.Client
	OpenAI    *openai.Client
	Condition *condition.Evaluator
	SubGraph  SubGraphExecutor
	Log       zerolog.Logger
}

func NewDeps(apiKey string, log zerolog.Logger) Deps {
	var client *openai.Client
	if apiKey != "" {
		client = openai.NewClient(apiKey)
	}
	return Deps{
		HTTP:      http.DefaultClient,
		OpenAI:    client,
		Condition: condition.NewEvaluator(),
		Log:       log,
	}
}
