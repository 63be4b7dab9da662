// Package condition evaluates Conditional-node condition expressions
// using github.com/expr-lang/expr, with an LRU cache of compiled
// programs so a condition string authored once in a graph is compiled
// once regardless of how many times (loop iterations, fan-out) it is
// evaluated. Grounded on
// _examples/smilemakc-mbflow/backend/pkg/engine/condition_cache.go's
// ConditionCache + ExprConditionEvaluator.
package condition

import (
	"container/list"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// cache is a small LRU over compiled expr programs, keyed by source
// text. Unlike the teacher's version this one is safe for concurrent
// use from many node goroutines evaluating different conditions at
// once.
type cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recently used
}

type entry struct {
	key     string
	program *vm.Program
}

func newCache(capacity int) *cache {
	if capacity <= 0 {
		capacity = 256
	}
	return &cache{capacity: capacity, items: make(map[string]*list.Element), order: list.New()}
}

func (c *cache) get(key string) (*vm.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).program, true
}

func (c *cache) put(key string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*entry).program = program
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&entry{key: key, program: program})
	c.items[key] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}
}

func (c *cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Evaluator compiles-and-caches expr-lang boolean conditions against an
// env of {"output": ..., "input": ...}.
type Evaluator struct {
	cache *cache
}

func NewEvaluator() *Evaluator { return &Evaluator{cache: newCache(256)} }

// Evaluate compiles cond (or reuses the cached compiled program) and
// runs it against env, requiring a bool result.
func (e *Evaluator) Evaluate(cond string, env map[string]any) (bool, error) {
	program, ok := e.cache.get(cond)
	if !ok {
		var err error
		program, err = expr.Compile(cond, expr.Env(env), expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("compile condition %q: %w", cond, err)
		}
		e.cache.put(cond, program)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", cond, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to bool, got %T", cond, out)
	}
	return b, nil
}

// CheckSyntax compiles cond purely to validate it parses, without
// caching or requiring an env — used by the validator (§4.1 point 6) at
// build time, before any node output exists to evaluate against.
func (e *Evaluator) CheckSyntax(cond string) error {
	_, err := expr.Compile(cond, expr.AllowUndefinedVariables())
	if err != nil {
		return fmt.Errorf("syntax error in condition %q: %w", cond, err)
	}
	return nil
}

// withTrim returns a copy of vars with a "trim" function added, the
// runtime counterpart of translateSelector's `X|trim` -> `trim(X)`
// rewrite.
func withTrim(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	out["trim"] = func(v any) string { return strings.TrimSpace(fmt.Sprint(v)) }
	return out
}

// EvaluateSelector renders a Conditional node's condition template
// (spec §3's "rendered `selected_handle` string", §4.2) against vars and
// returns the selected handle name, trimmed. tmpl is translated to an
// expr-lang ternary expression by translateSelector and compiled/cached
// exactly like a boolean edge condition.
func (e *Evaluator) EvaluateSelector(tmpl string, vars map[string]any) (string, error) {
	exprSrc, err := translateSelector(tmpl)
	if err != nil {
		return "", err
	}
	env := withTrim(vars)

	program, ok := e.cache.get(exprSrc)
	if !ok {
		program, err = expr.Compile(exprSrc, expr.Env(env))
		if err != nil {
			return "", fmt.Errorf("compile condition %q: %w", tmpl, err)
		}
		e.cache.put(exprSrc, program)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return "", fmt.Errorf("evaluate condition %q: %w", tmpl, err)
	}
	return strings.TrimSpace(fmt.Sprint(out)), nil
}

// CheckSelectorSyntax validates a Conditional node's condition template
// at build time (spec §4.1 point 6), translating it through the exact
// same path EvaluateSelector uses so a template that passes validation
// is guaranteed to be the one actually executed.
func (e *Evaluator) CheckSelectorSyntax(tmpl string) error {
	exprSrc, err := translateSelector(tmpl)
	if err != nil {
		return fmt.Errorf("syntax error in condition %q: %w", tmpl, err)
	}
	env := withTrim(nil)
	if _, err := expr.Compile(exprSrc, expr.Env(env), expr.AllowUndefinedVariables()); err != nil {
		return fmt.Errorf("syntax error in condition %q: %w", tmpl, err)
	}
	return nil
}
