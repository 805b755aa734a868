// Package formula evaluates the restricted formula expression language
// against a per-record bag of field values.
//
// A formula is a single expression built from field references ({field}),
// a fixed function library (IF, AND, CONCATENATE, ...), literals, and
// arithmetic/comparison/boolean operators. Evaluation is pure: no I/O, no
// host code execution, no dynamic dispatch on user strings. The source is
// tokenized and parsed into a restricted AST which is interpreted
// directly.
package formula

import (
	"strconv"
	"time"
)

// Kind identifies the runtime type of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindText
	KindBool
	KindDate
)

// String returns the display name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBool:
		return "boolean"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// Value is a typed scalar produced by (and consumed during) evaluation.
// Exactly one of the payload fields is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	Num  float64
	Text string
	Bool bool
	Date time.Time
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// Number wraps a float64.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// TextValue wraps a string.
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }

// Boolean wraps a bool.
func Boolean(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// DateValue wraps a time, truncated to UTC midnight.
func DateValue(t time.Time) Value {
	t = t.UTC()
	return Value{
		Kind: KindDate,
		Date: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
	}
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Format renders the value the way concatenation and display expect:
// numbers without trailing zeros, dates as YYYY-MM-DD, null as "".
func (v Value) Format() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindText:
		return v.Text
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindDate:
		return v.Date.Format("2006-01-02")
	default:
		return ""
	}
}

// Equal compares two values. Values of different kinds are unequal,
// except that null equals only null. Dates compare by day.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindNumber:
		return v.Num == o.Num
	case KindText:
		return v.Text == o.Text
	case KindBool:
		return v.Bool == o.Bool
	case KindDate:
		return v.Date.Equal(o.Date)
	default:
		return false
	}
}

// Context is the per-record mapping from field name to value that a
// formula is evaluated against. Assembled fresh for every evaluation and
// discarded afterwards; never persisted.
type Context map[string]Value
