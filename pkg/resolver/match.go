package resolver

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/morezero/rtbus/pkg/message"
)

// matcher is a selector compiled once per resolution.
type matcher struct {
	sel   message.Selector
	re    *regexp.Regexp
	glob  glob.Glob
	match func(m *matcher, value any, present bool) bool
}

func compile(sel message.Selector) (*matcher, error) {
	m := &matcher{sel: sel}
	switch sel.Match {
	case "", message.MatchExact:
		m.match = func(m *matcher, v any, ok bool) bool { return ok && equalValues(v, m.sel.Value) }
	case message.MatchIncludes:
		m.match = func(m *matcher, v any, ok bool) bool { return ok && includes(v, m.sel.Value) }
	case message.MatchStartsWith:
		m.match = func(m *matcher, v any, ok bool) bool {
			return ok && strings.HasPrefix(toString(v), toString(m.sel.Value))
		}
	case message.MatchEndsWith:
		m.match = func(m *matcher, v any, ok bool) bool {
			return ok && strings.HasSuffix(toString(v), toString(m.sel.Value))
		}
	case message.MatchRegex:
		re, err := regexp.Compile(toString(sel.Value))
		if err != nil {
			return nil, message.NewError(message.CodeInvalidArguments, "selector %s: invalid regex: %v", sel.Name, err)
		}
		m.re = re
		m.match = func(m *matcher, v any, ok bool) bool { return ok && m.re.MatchString(toString(v)) }
	case message.MatchGlob:
		g, err := glob.Compile(toString(sel.Value))
		if err != nil {
			return nil, message.NewError(message.CodeInvalidArguments, "selector %s: invalid glob: %v", sel.Name, err)
		}
		m.glob = g
		m.match = func(m *matcher, v any, ok bool) bool { return ok && m.glob.Match(toString(v)) }
	case message.MatchHas:
		m.match = func(_ *matcher, v any, ok bool) bool { return ok && v != nil }
	case message.MatchHasNot:
		m.match = func(_ *matcher, v any, ok bool) bool { return !ok || v == nil }
	default:
		return nil, message.NewError(message.CodeInvalidArguments, "selector %s: unknown match rule %q", sel.Name, sel.Match)
	}
	return m, nil
}

func compileAll(sels []message.Selector) ([]*matcher, error) {
	out := make([]*matcher, 0, len(sels))
	for _, s := range sels {
		m, err := compile(s)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (m *matcher) matches(c *Candidate) bool {
	v, ok := c.lookup(m.sel)
	return m.match(m, v, ok)
}

func matchesAll(ms []*matcher, c *Candidate) bool {
	for _, m := range ms {
		if !m.matches(c) {
			return false
		}
	}
	return true
}

func score(ms []*matcher, c *Candidate) int {
	n := 0
	for _, m := range ms {
		if m.matches(c) {
			n++
		}
	}
	return n
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// equalValues compares numbers by value and everything else by its text form,
// so JSON-decoded selector values match typed candidate values.
func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	return toString(a) == toString(b)
}

// includes is substring containment for scalars and membership for lists.
func includes(v, want any) bool {
	switch list := v.(type) {
	case []string:
		for _, item := range list {
			if item == toString(want) {
				return true
			}
		}
		return false
	case []any:
		for _, item := range list {
			if equalValues(item, want) {
				return true
			}
		}
		return false
	default:
		return strings.Contains(toString(v), toString(want))
	}
}
