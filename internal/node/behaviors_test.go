package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/agentflow/internal/condition"
	"github.com/flowcore/agentflow/internal/graph"
)

func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var evs []Event
	for ev := range ch {
		evs = append(evs, ev)
	}
	return evs
}

func TestText_EmitsConfiguredHandle(t *testing.T) {
	b := Text()
	ch, err := b.Execute(context.Background(), nil, map[string]any{"text": "hi", "output_handle": "out"})
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Len(t, evs, 1)
	assert.Equal(t, "out", evs[0].Kind)
	assert.Equal(t, "hi", evs[0].Content)
}

func TestParser_RendersTemplateAgainstInputs(t *testing.T) {
	b := Parser(Deps{})
	ch, err := b.Execute(context.Background(), map[string]any{"handle_parser_input": 3}, map[string]any{
		"template": "item={{ handle_parser_input }}",
	})
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Len(t, evs, 1)
	assert.Equal(t, "handle_parser_output", evs[0].Kind)
	assert.Equal(t, "item=3", evs[0].Content)
}

func TestParser_MissingVariableRendersBlankNonStrict(t *testing.T) {
	b := Parser(Deps{})
	ch, err := b.Execute(context.Background(), nil, map[string]any{
		"template": "v={{ missing }}",
	})
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Len(t, evs, 1)
	assert.Equal(t, "v=", evs[0].Content)
}

func TestConditional_RendersTernaryTemplateToSelectedHandle(t *testing.T) {
	b := Conditional(Deps{Condition: condition.NewEvaluator()})
	data := map[string]any{
		"condition": `{{ 'yes' if value == "x" else 'no' }}`,
	}
	ch, err := b.Execute(context.Background(), map[string]any{"value": "x"}, data)
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Len(t, evs, 1)
	assert.Equal(t, "yes", evs[0].Kind)
}

func TestConditional_TrimFilterMatchesSpecCanonicalExample(t *testing.T) {
	b := Conditional(Deps{Condition: condition.NewEvaluator()})
	data := map[string]any{"condition": `{{ 'yes' if value|trim else 'no' }}`}

	ch, err := b.Execute(context.Background(), map[string]any{"value": "  hi  "}, data)
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Len(t, evs, 1)
	assert.Equal(t, "yes", evs[0].Kind)

	ch, err = b.Execute(context.Background(), map[string]any{"value": "   "}, data)
	require.NoError(t, err)
	evs = drain(t, ch)
	require.Len(t, evs, 1)
	assert.Equal(t, "no", evs[0].Kind)
}

func TestConditional_EmptyRenderNoDefaultEmitsBypassAll(t *testing.T) {
	b := Conditional(Deps{Condition: condition.NewEvaluator()})
	data := map[string]any{"condition": `{{ '' if value == "mismatch" else '' }}`}
	ch, err := b.Execute(context.Background(), map[string]any{"value": "x"}, data)
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Len(t, evs, 2)
	assert.Equal(t, graph.KindDebug, evs[0].Kind)
	assert.Equal(t, graph.SignalBypassAll, evs[1].Kind)
}

func TestConditional_EmptyRenderFallsBackToDefaultHandle(t *testing.T) {
	b := Conditional(Deps{Condition: condition.NewEvaluator()})
	data := map[string]any{
		"condition":      `{{ '' if value == "mismatch" else '' }}`,
		"default_handle": "fallback",
	}
	ch, err := b.Execute(context.Background(), map[string]any{"value": "x"}, data)
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Len(t, evs, 1)
	assert.Equal(t, "fallback", evs[0].Kind)
}

func TestConditional_MissingConditionEmitsConfigurationErrorAndBypassAll(t *testing.T) {
	b := Conditional(Deps{Condition: condition.NewEvaluator()})
	ch, err := b.Execute(context.Background(), map[string]any{"value": "x"}, map[string]any{})
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Len(t, evs, 2)
	assert.Equal(t, graph.KindDebug, evs[0].Kind)
	assert.Equal(t, "ConfigurationError", evs[0].Content.(map[string]any)["error_type"])
	assert.Equal(t, graph.SignalBypassAll, evs[1].Kind)
}

func TestConditional_NoInputsEmitsInputErrorAndBypassAll(t *testing.T) {
	b := Conditional(Deps{Condition: condition.NewEvaluator()})
	data := map[string]any{"condition": `{{ 'yes' if value == "x" else 'no' }}`}
	ch, err := b.Execute(context.Background(), nil, data)
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Len(t, evs, 2)
	assert.Equal(t, "InputError", evs[0].Content.(map[string]any)["error_type"])
	assert.Equal(t, graph.SignalBypassAll, evs[1].Kind)
}

func TestInner_DelegatesToSubGraphExecutorAndEmitsContent(t *testing.T) {
	var gotMessage string
	var gotGraph map[string]any
	exec := func(_ context.Context, rawGraph map[string]any, userMessage string) (string, error) {
		gotGraph = rawGraph
		gotMessage = userMessage
		return "inner result", nil
	}
	b := Inner(Deps{SubGraph: exec})
	nested := map[string]any{"graph_type": "chat", "nodes": []any{}}
	data := map[string]any{"graph": nested}

	ch, err := b.Execute(context.Background(), map[string]any{"handle_user_message": "hi"}, data)
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Len(t, evs, 1)
	assert.Equal(t, "handle_execution_content", evs[0].Kind)
	assert.Equal(t, "inner result", evs[0].Content)
	assert.Equal(t, "hi", gotMessage)
	assert.Equal(t, nested, gotGraph)
}

func TestInner_MissingInputEmitsInputErrorAndBypassAll(t *testing.T) {
	b := Inner(Deps{SubGraph: func(context.Context, map[string]any, string) (string, error) {
		t.Fatal("SubGraph should not be called without input")
		return "", nil
	}})
	ch, err := b.Execute(context.Background(), nil, map[string]any{"graph": map[string]any{}})
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Len(t, evs, 2)
	assert.Equal(t, "InputError", evs[0].Content.(map[string]any)["error_type"])
	assert.Equal(t, graph.SignalBypassAll, evs[1].Kind)
}

func TestInner_MissingGraphDefinitionEmitsConfigurationErrorAndBypassAll(t *testing.T) {
	b := Inner(Deps{SubGraph: func(context.Context, map[string]any, string) (string, error) {
		t.Fatal("SubGraph should not be called without a graph definition")
		return "", nil
	}})
	ch, err := b.Execute(context.Background(), map[string]any{"handle_user_message": "hi"}, map[string]any{})
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Len(t, evs, 2)
	assert.Equal(t, "ConfigurationError", evs[0].Content.(map[string]any)["error_type"])
	assert.Equal(t, graph.SignalBypassAll, evs[1].Kind)
}

func TestEnd_EmitsInputsUnderConfiguredHandle(t *testing.T) {
	b := End()
	ch, err := b.Execute(context.Background(), map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Len(t, evs, 1)
	assert.Equal(t, "handle_end_output", evs[0].Kind)
}

func TestWithTiming_LogsStartAndElapsedAfterDrain(t *testing.T) {
	var events []string
	logFn := func(event string, fields map[string]any) {
		events = append(events, event)
	}
	inner := Func(Text().Execute)
	wrapped := WithTiming("text", logFn, inner)

	ch, err := wrapped(context.Background(), nil, map[string]any{"text": "v"})
	require.NoError(t, err)

	require.Equal(t, []string{"node_start"}, events)

	for range ch {
	}
	// node_elapsed is logged asynchronously once the output channel
	// closes; give the draining goroutine a moment to run.
	require.Eventually(t, func() bool {
		return len(events) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, "node_elapsed", events[1])
}
