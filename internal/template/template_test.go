package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_BareNamePrecedence(t *testing.T) {
	ctx := Context{
		Execution: map[string]any{"value": "exec"},
		Workflow:  map[string]any{"value": "workflow"},
		Input:     map[string]any{"value": "input"},
	}
	out, err := Render("v={{ value }}", ctx, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "v=exec", out)
}

func TestRender_FallsThroughPrecedence(t *testing.T) {
	ctx := Context{Input: map[string]any{"value": "input"}}
	out, err := Render("v={{ value }}", ctx, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "v=input", out)
}

func TestRender_PrefixedPaths(t *testing.T) {
	ctx := Context{
		Input:     map[string]any{"handle_parser_input": 1},
		Resources: map[string]any{"db": map[string]any{"url": "postgres://x"}},
	}
	out, err := Render("item={{ handle_parser_input }} db={{ resource.db.url }}", ctx, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "item=1 db=postgres://x", out)
}

func TestRender_MissingVariableNonStrict(t *testing.T) {
	out, err := Render("v={{ missing }}", Context{}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "v=", out)
}

func TestRender_MissingVariableStrict(t *testing.T) {
	_, err := Render("v={{ missing }}", Context{}, Options{StrictMode: true})
	assert.Error(t, err)
}
