// Package filter builds record-store filter expressions. An Expr renders to the
// document store's filter syntax and can also be evaluated in-process by
// backends that have no query engine of their own.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Fielder exposes record fields by name.
type Fielder interface {
	Field(name string) (any, bool)
}

type Expr interface {
	String() string
	Match(r Fielder) bool
}

type op string

const (
	opEq   op = "="
	opGte  op = ">="
	opLte  op = "<="
	opLike op = "~"
)

type cmp struct {
	field string
	op    op
	value any
}

func Eq(field string, v any) Expr { return cmp{field: field, op: opEq, value: v} }
func Gte(field string, v any) Expr { return cmp{field: field, op: opGte, value: v} }
func Lte(field string, v any) Expr { return cmp{field: field, op: opLte, value: v} }
func Like(field, sub string) Expr { return cmp{field: field, op: opLike, value: sub} }
func And(exprs ...Expr) Expr { return group{join: "&&", all: true, exprs: compact(exprs)} }
func Or(exprs ...Expr) Expr { return group{join: "||", all: false, exprs: compact(exprs)} }

// Equality reports the field and value of a bare equality expression, so
// backends with secondary indexes can serve it without a scan.
func Equality(e Expr) (field string, v any, ok bool) {
	c, isCmp := e.(cmp)
	if !isCmp || c.op != opEq {
		return "", nil, false
	}
	return c.field, c.value, true
}

func (c cmp) String() string {
	return c.field + " " + string(c.op) + " " + Literal(c.value)
}

func (c cmp) Match(r Fielder) bool {
	got, ok := r.Field(c.field)
	if !ok {
		return false
	}
	if c.op == opLike {
		return strings.Contains(strings.ToLower(fmt.Sprint(got)), strings.ToLower(fmt.Sprint(c.value)))
	}
	d, ok := compare(got, c.value)
	if !ok {
		return false
	}
	switch c.op {
	case opEq:
		return d == 0
	case opGte:
		return d >= 0
	case opLte:
		return d <= 0
	default:
		return false
	}
}

type group struct {
	join  string
	all   bool
	exprs []Expr
}

func (g group) String() string {
	if len(g.exprs) == 1 {
		return g.exprs[0].String()
	}
	parts := make([]string, 0, len(g.exprs))
	for _, e := range g.exprs {
		parts = append(parts, "("+e.String()+")")
	}
	return strings.Join(parts, " "+g.join+" ")
}

func (g group) Match(r Fielder) bool {
	if len(g.exprs) == 0 {
		return g.all
	}
	for _, e := range g.exprs {
		m := e.Match(r)
		if g.all && !m {
			return false
		}
		if !g.all && m {
			return true
		}
	}
	return g.all
}

func compact(in []Expr) []Expr {
	out := make([]Expr, 0, len(in))
	for _, e := range in {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// TimeLayout is the timestamp format used inside filter literals.
const TimeLayout = "2006-01-02 15:04:05.000Z"

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Literal renders v as a filter literal. Strings and times are quoted with
// backslash and double-quote escaped.
func Literal(v any) string {
	switch t := v.(type) {
	case string:
		return `"` + quoteEscaper.Replace(t) + `"`
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return `"` + t.UTC().Format(TimeLayout) + `"`
	case fmt.Stringer:
		return `"` + quoteEscaper.Replace(t.String()) + `"`
	default:
		return `"` + quoteEscaper.Replace(fmt.Sprint(t)) + `"`
	}
}

// compare orders a against b, coercing numeric kinds. ok is false when the
// values are not comparable.
func compare(a, b any) (int, bool) {
	switch av := a.(type) {
	case string:
		bs, ok := asString(b)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bs), true
	case bool:
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bb {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	case time.Time:
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bt), true
	default:
		af, ok := asFloat(a)
		if !ok {
			return 0, false
		}
		bf, ok := asFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case fmt.Stringer:
		return t.String(), true
	default:
		return "", false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	default:
		return 0, false
	}
}

// Compare exposes the ordering used by Match, for in-process sorting.
func Compare(a, b any) int {
	d, _ := compare(a, b)
	return d
}
