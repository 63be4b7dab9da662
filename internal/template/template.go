// Package template implements the simple {{ var.path }} substitution
// engine used by the Parser node behavior (an external collaborator per
// spec §4.2 — the core itself never parses a template). The Conditional
// node behavior uses internal/condition's selector translation instead,
// since its condition template renders to the selected handle name
// itself rather than substituting into surrounding text. Grounded on
// _examples/smilemakc-mbflow/internal/application/template's VariableContext
// precedence rules, expressed as plain Go rather than a pydantic-style
// context object.
package template

import (
	"fmt"
	"strings"
)

// Context supplies variables in precedence order: Execution beats
// Workflow beats Input, matching the teacher's GetEnvVariable rule.
type Context struct {
	Execution map[string]any
	Workflow  map[string]any
	Input     map[string]any
	Resources map[string]any
}

// Options mirrors the teacher's TemplateOptions.
type Options struct {
	StrictMode          bool
	PlaceholderOnMissing string
}

func DefaultOptions() Options {
	return Options{StrictMode: false, PlaceholderOnMissing: ""}
}

// Render replaces every {{ path }} occurrence in tmpl. path is a dotted
// lookup: "input.field", "env.name", "resource.alias.field", or a bare
// name resolved against Execution > Workflow > Input in that order.
func Render(tmpl string, ctx Context, opts Options) (string, error) {
	var sb strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			sb.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			sb.WriteString(rest)
			break
		}
		end += start
		sb.WriteString(rest[:start])
		path := strings.TrimSpace(rest[start+2 : end])
		val, ok := lookup(path, ctx)
		if !ok {
			if opts.StrictMode {
				return "", fmt.Errorf("template: variable not found: %q", path)
			}
			sb.WriteString(opts.PlaceholderOnMissing)
		} else {
			sb.WriteString(fmt.Sprint(val))
		}
		rest = rest[end+2:]
	}
	return sb.String(), nil
}

func lookup(path string, ctx Context) (any, bool) {
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "env":
		return lookupIn(ctx.Execution, ctx.Workflow, nil, parts[1:])
	case "input":
		return lookupIn(ctx.Input, nil, nil, parts[1:])
	case "resource":
		return lookupIn(ctx.Resources, nil, nil, parts[1:])
	default:
		return lookupIn(ctx.Execution, ctx.Workflow, ctx.Input, parts)
	}
}

// lookupIn walks dotted path into the first of maps that contains
// path[0], falling through in the given precedence order.
func lookupIn(maps ...any) (any, bool) {
	// maps is (m1, m2, m3 map[string]any, path []string)
	n := len(maps)
	path, _ := maps[n-1].([]string)
	if len(path) == 0 {
		return nil, false
	}
	for i := 0; i < n-1; i++ {
		m, ok := maps[i].(map[string]any)
		if !ok || m == nil {
			continue
		}
		if v, ok := m[path[0]]; ok {
			return walk(v, path[1:])
		}
	}
	return nil, false
}

func walk(v any, path []string) (any, bool) {
	cur := v
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
