package realtime

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/pkg/cerr"
)

type Op string

const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpIn       Op = "in"
	OpIs       Op = "is"
	OpContains Op = "cs"
)

// Condition is one term of a Filter. Values holds a single element except
// for OpIn and OpContains.
//
// String forms:
//
//	status=eq.Done
//	status=in.(ToDo,InProgress)
//	closed_at=is.null
//	assignee_ids=cs.{u1,u2}
//	title=eq."fix (a, b)"
//
// A value holding any of ,(){}" or a backslash, or leading or trailing
// spaces, is written as a Go-quoted string.
type Condition struct {
	Field  string
	Op     Op
	Values []string
}

func Eq(field, value string) Condition {
	return Condition{Field: field, Op: OpEq, Values: []string{value}}
}

func Neq(field, value string) Condition {
	return Condition{Field: field, Op: OpNeq, Values: []string{value}}
}

func In(field string, values ...string) Condition {
	return Condition{Field: field, Op: OpIn, Values: values}
}

func IsNull(field string) Condition {
	return Condition{Field: field, Op: OpIs, Values: []string{"null"}}
}

func Contains(field string, values ...string) Condition {
	return Condition{Field: field, Op: OpContains, Values: values}
}

func (c Condition) value() string {
	if len(c.Values) == 0 {
		return ""
	}
	return c.Values[0]
}

// Match reports whether row satisfies c. A missing field is treated as null.
func (c Condition) Match(row change.Fields) bool {
	v, ok := row[c.Field]
	switch c.Op {
	case OpEq:
		return ok && v != nil && scalar(v) == c.value()
	case OpNeq:
		return !ok || v == nil || scalar(v) != c.value()
	case OpIn:
		return ok && v != nil && slices.Contains(c.Values, scalar(v))
	case OpIs:
		switch c.value() {
		case "null":
			return !ok || v == nil || v == ""
		case "notnull":
			return ok && v != nil && v != ""
		case "true", "false":
			b, isBool := v.(bool)
			return isBool && strconv.FormatBool(b) == c.value()
		}
		return false
	case OpContains:
		have := row.Strings(c.Field)
		for _, want := range c.Values {
			if !slices.Contains(have, want) {
				return false
			}
		}
		return true
	}
	return false
}

func (c Condition) String() string {
	switch c.Op {
	case OpIn:
		return fmt.Sprintf("%s=%s.(%s)", c.Field, c.Op, joinValues(c.Values))
	case OpContains:
		return fmt.Sprintf("%s=%s.{%s}", c.Field, c.Op, joinValues(c.Values))
	}
	return fmt.Sprintf("%s=%s.%s", c.Field, c.Op, quoteValue(c.value()))
}

func joinValues(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quoteValue(v)
	}
	return strings.Join(quoted, ",")
}

func quoteValue(v string) string {
	if strings.ContainsAny(v, `,(){}"\`) || strings.TrimSpace(v) != v {
		return strconv.Quote(v)
	}
	return v
}

func unquoteValue(term, v string) (string, error) {
	if !strings.HasPrefix(v, `"`) {
		return v, nil
	}
	u, err := strconv.Unquote(v)
	if err != nil {
		return "", invalidFilter(term, "malformed quoted value")
	}
	return u, nil
}

// Filter is a conjunction of conditions. The zero Filter matches every row.
type Filter []Condition

func (f Filter) Match(row change.Fields) bool {
	for _, c := range f {
		if !c.Match(row) {
			return false
		}
	}
	return true
}

// MatchEvent reports whether either image of ev matches. Deletes always
// match so that views can drop rows they hold.
func (f Filter) MatchEvent(ev change.Event) bool {
	if ev.Kind == change.Delete {
		return true
	}
	if f.Match(ev.New) {
		return true
	}
	return ev.Old != nil && f.Match(ev.Old)
}

func (f Filter) String() string {
	parts := make([]string, 0, len(f))
	for _, c := range f {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ",")
}

// ParseFilter parses the form produced by Filter.String. An empty string is
// the empty filter.
func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	terms, err := splitTerms(s)
	if err != nil {
		return nil, err
	}
	f := make(Filter, 0, len(terms))
	for _, term := range terms {
		c, err := parseCondition(term)
		if err != nil {
			return nil, err
		}
		f = append(f, c)
	}
	return f, nil
}

// splitTerms splits on commas outside of (...), {...} and quoted values.
func splitTerms(s string) ([]string, error) {
	var (
		terms   []string
		depth   int
		start   int
		quoted  bool
		escaped bool
	)
	for i, r := range s {
		if quoted {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				quoted = false
			}
			continue
		}
		switch r {
		case '"':
			quoted = true
		case '(', '{':
			depth++
		case ')', '}':
			depth--
			if depth < 0 {
				return nil, invalidFilter(s, "unbalanced brackets")
			}
		case ',':
			if depth == 0 {
				terms = append(terms, s[start:i])
				start = i + 1
			}
		}
	}
	if quoted {
		return nil, invalidFilter(s, "unterminated quote")
	}
	if depth != 0 {
		return nil, invalidFilter(s, "unbalanced brackets")
	}
	return append(terms, s[start:]), nil
}

func parseCondition(term string) (Condition, error) {
	field, rest, ok := strings.Cut(strings.TrimSpace(term), "=")
	if !ok || field == "" {
		return Condition{}, invalidFilter(term, "expected field=op.value")
	}
	op, value, ok := strings.Cut(rest, ".")
	if !ok {
		return Condition{}, invalidFilter(term, "expected op.value")
	}
	c := Condition{Field: field, Op: Op(op)}
	switch c.Op {
	case OpEq, OpNeq:
		v, err := unquoteValue(term, value)
		if err != nil {
			return Condition{}, err
		}
		c.Values = []string{v}
	case OpIs:
		switch value {
		case "null", "notnull", "true", "false":
		default:
			return Condition{}, invalidFilter(term, "is accepts null, notnull, true or false")
		}
		c.Values = []string{value}
	case OpIn:
		list, err := parseList(term, value, '(', ')')
		if err != nil {
			return Condition{}, err
		}
		c.Values = list
	case OpContains:
		list, err := parseList(term, value, '{', '}')
		if err != nil {
			return Condition{}, err
		}
		c.Values = list
	default:
		return Condition{}, invalidFilter(term, fmt.Sprintf("unknown operator %q", op))
	}
	return c, nil
}

func parseList(term, value string, opening, closing byte) ([]string, error) {
	if len(value) < 2 || value[0] != opening || value[len(value)-1] != closing {
		return nil, invalidFilter(term, fmt.Sprintf("expected %c...%c", opening, closing))
	}
	inner := value[1 : len(value)-1]
	if inner == "" {
		return []string{}, nil
	}
	items, err := splitTerms(inner)
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		if items[i], err = unquoteValue(term, item); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func invalidFilter(term, reason string) error {
	return cerr.Validation("invalid filter").
		AddDetailMessageWithCode(fmt.Sprintf("%q: %s", term, reason), "filter.syntax")
}

// scalar renders a decoded JSON value the way it appears in a filter.
func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
