package condition

import (
	"fmt"
	"regexp"
	"strings"
)

// translateSelector rewrites a Conditional node's condition template
// (spec §4.2's Jinja2-style selector, e.g.
// `{{ 'yes' if value|trim else 'no' }}`, grounded on
// _examples/original_source/magic_agents/node_system/NodeConditional.py's
// jinja2.Environment().from_string(condition).render(**ctx)) into an
// expr-lang expression so the same compile/cache/run machinery already
// used for boolean edge conditions also drives handle selection: `A if
// COND else B` becomes expr-lang's native `COND ? A : B` ternary, and
// Jinja's `|trim` filter becomes a call to a `trim` function supplied in
// the evaluation env. Both CheckSelectorSyntax (build time) and
// EvaluateSelector (run time) call this first, so the two can never
// diverge on what "the condition" means.
func translateSelector(tmpl string) (string, error) {
	s := strings.TrimSpace(tmpl)
	if strings.HasPrefix(s, "{{") {
		s = strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(s, "{{")), "}}")
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return "", fmt.Errorf("condition: empty selector template")
	}
	return transformTernary(normalizeQuotes(s))
}

// transformTernary recurses on the else-branch so chained selectors
// ("'a' if x else 'b' if y else 'c'") translate to nested expr-lang
// ternaries, matching Jinja2's right-associative parse of the same
// syntax. A template with no top-level "if" is just a bare expression
// or literal and passes through unchanged (aside from filter rewrite).
func transformTernary(s string) (string, error) {
	s = strings.TrimSpace(s)
	ifIdx := findTopLevelKeyword(s, "if")
	if ifIdx < 0 {
		return replaceTrimFilter(s), nil
	}

	thenPart := strings.TrimSpace(s[:ifIdx])
	rest := s[ifIdx+2:]
	elseIdx := findTopLevelKeyword(rest, "else")
	if elseIdx < 0 {
		return "", fmt.Errorf("condition: %q has 'if' with no matching 'else'", s)
	}

	condPart := replaceTrimFilter(strings.TrimSpace(rest[:elseIdx]))
	if !looksBoolean(condPart) {
		// Jinja's implicit truthiness test on a bare value (spec example:
		// "value|trim", true when the trimmed string is non-empty).
		condPart = "(" + condPart + ") != \"\""
	}

	elseExpr, err := transformTernary(rest[elseIdx+4:])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s) ? (%s) : (%s)", condPart, thenPart, elseExpr), nil
}

var trimFilterPattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_.]*)\s*\|\s*trim\b`)

func replaceTrimFilter(s string) string {
	return trimFilterPattern.ReplaceAllString(s, "trim($1)")
}

// looksBoolean reports whether s already reads as a boolean expression
// (a comparison, negation, or logical combination) rather than a bare
// value needing an implicit truthiness test.
func looksBoolean(s string) bool {
	for _, tok := range []string{"==", "!=", "<=", ">=", "<", ">", " and ", " or "} {
		if strings.Contains(s, tok) {
			return true
		}
	}
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, "not ") || trimmed == "true" || trimmed == "false"
}

// findTopLevelKeyword returns the index of kw in s as a standalone word
// outside any quoted string literal, or -1 if absent.
func findTopLevelKeyword(s, kw string) int {
	inDouble := false
	n := len(kw)
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			inDouble = !inDouble
			continue
		}
		if inDouble {
			continue
		}
		if i+n > len(s) || s[i:i+n] != kw {
			continue
		}
		var before, after byte = ' ', ' '
		if i > 0 {
			before = s[i-1]
		}
		if i+n < len(s) {
			after = s[i+n]
		}
		if !isIdentChar(before) && !isIdentChar(after) {
			return i
		}
	}
	return -1
}

func isIdentChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// normalizeQuotes rewrites single-quoted string literals (Jinja/Python
// style, as in spec's own `'yes'`/`'no'` example) into double-quoted
// ones (expr-lang's string syntax), leaving already-double-quoted
// literals and everything else untouched.
func normalizeQuotes(s string) string {
	var sb strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		switch c {
		case '\'':
			j := i + 1
			for j < len(s) && s[j] != '\'' {
				j++
			}
			end := min(j, len(s))
			inner := strings.ReplaceAll(s[i+1:end], `"`, `\"`)
			sb.WriteString(`"` + inner + `"`)
			i = end + 1
		case '"':
			j := i + 1
			for j < len(s) && s[j] != '"' {
				j++
			}
			end := min(j, len(s))
			sb.WriteString(s[i : end+1])
			i = end + 1
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}
