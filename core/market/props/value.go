// Package props implements the typed property model used by market
// subscriptions: tagged property values, property sets with aspects, and the
// JSON/assertion parsing rules used to build them.
package props

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/mod/semver"
)

// Kind identifies the concrete type carried by a Value.
type Kind uint8

const (
	KindString Kind = iota
	KindBool
	KindNumber
	KindDecimal
	KindDateTime
	KindVersion
	KindList
)

// Valid reports whether k is one of the supported value kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindString, KindBool, KindNumber, KindDecimal, KindDateTime, KindVersion, KindList:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindDecimal:
		return "decimal"
	case KindDateTime:
		return "datetime"
	case KindVersion:
		return "version"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// InvalidLiteralError reports a property literal that failed to parse.
type InvalidLiteralError struct {
	Fragment string
	Reason   string
}

func (e *InvalidLiteralError) Error() string {
	return fmt.Sprintf("props: invalid literal %q: %s", e.Fragment, e.Reason)
}

// TypeMismatchError reports a comparison between two values of different
// kinds, such as a String against a Number.
type TypeMismatchError struct {
	Property string
	Expected Kind
	Got      Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("props: type mismatch on %q: expected %s, got %s", e.Property, e.Expected, e.Got)
}

// Value is a tagged variant over the property value space described in
// spec.md §3 and §4.1: string, boolean, number, decimal, datetime, semver
// version, or a list of values.
type Value struct {
	Kind     Kind
	Str      string
	Bool     bool
	Num      float64
	Dec      decimal.Decimal
	Time     time.Time
	Version  string
	List     []Value
}

// String builds a string-valued Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Bool builds a boolean-valued Value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Number builds a numeric Value.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// Decimal builds a decimal Value.
func Decimal(d decimal.Decimal) Value { return Value{Kind: KindDecimal, Dec: d} }

// DateTime builds an RFC 3339 datetime Value.
func DateTime(t time.Time) Value { return Value{Kind: KindDateTime, Time: t} }

// Version builds a semver Value. The version string must be accepted by
// golang.org/x/mod/semver, which requires a leading "v".
func Version(v string) Value { return Value{Kind: KindVersion, Version: v} }

// List builds a list-valued Value.
func List(values ...Value) Value { return Value{Kind: KindList, List: values} }

// ParseLiteral parses a single property value literal as described in
// spec.md §4.1: a quoted string, a bare number, true/false, d"…" decimal,
// t"…" RFC 3339 datetime, v"…" semver, or […] list.
func ParseLiteral(s string) (Value, error) {
	trimmed := strings.TrimSpace(s)
	switch {
	case trimmed == "true":
		return Bool(true), nil
	case trimmed == "false":
		return Bool(false), nil
	case strings.HasPrefix(trimmed, `d"`) && strings.HasSuffix(trimmed, `"`):
		inner := trimmed[2 : len(trimmed)-1]
		d, err := decimal.NewFromString(inner)
		if err != nil {
			return Value{}, &InvalidLiteralError{Fragment: s, Reason: "bad decimal: " + err.Error()}
		}
		return Decimal(d), nil
	case strings.HasPrefix(trimmed, `t"`) && strings.HasSuffix(trimmed, `"`):
		inner := trimmed[2 : len(trimmed)-1]
		t, err := time.Parse(time.RFC3339, inner)
		if err != nil {
			return Value{}, &InvalidLiteralError{Fragment: s, Reason: "bad datetime: " + err.Error()}
		}
		return DateTime(t), nil
	case strings.HasPrefix(trimmed, `v"`) && strings.HasSuffix(trimmed, `"`):
		inner := trimmed[2 : len(trimmed)-1]
		canonical := inner
		if !strings.HasPrefix(canonical, "v") {
			canonical = "v" + canonical
		}
		if !semver.IsValid(canonical) {
			return Value{}, &InvalidLiteralError{Fragment: s, Reason: "bad semver"}
		}
		return Version(canonical), nil
	case strings.HasPrefix(trimmed, `"`) && strings.HasSuffix(trimmed, `"`) && len(trimmed) >= 2:
		return String(trimmed[1 : len(trimmed)-1]), nil
	case strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"):
		inner := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
		if inner == "" {
			return List(), nil
		}
		parts := splitTopLevel(inner)
		values := make([]Value, 0, len(parts))
		for _, p := range parts {
			v, err := ParseLiteral(strings.TrimSpace(p))
			if err != nil {
				return Value{}, err
			}
			values = append(values, v)
		}
		return List(values...), nil
	default:
		if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return Number(n), nil
		}
		// Bare, unquoted text is treated as a string literal, matching the
		// permissive literal handling of the market property assertions.
		return String(trimmed), nil
	}
}

// splitTopLevel splits a comma-separated list body, ignoring commas nested
// inside quoted or bracketed sub-literals.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	inQuote := false
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			inQuote = !inQuote
		case '[':
			if !inQuote {
				depth++
			}
		case ']':
			if !inQuote {
				depth--
			}
		case ',':
			if !inQuote && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// hasWildcard reports whether a string value ends with the trailing-*
// wildcard marker described in spec.md §3.
func hasWildcard(s string) (string, bool) {
	if strings.HasSuffix(s, "*") {
		return strings.TrimSuffix(s, "*"), true
	}
	return s, false
}

// Equal implements the typed equality rules of spec.md §3: numbers compare
// numerically, strings support the trailing-* wildcard, and lists match if
// any element matches the other side.
func (v Value) Equal(other Value) (bool, error) {
	if v.Kind == KindList {
		for _, elem := range v.List {
			ok, err := elem.Equal(other)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	if other.Kind == KindList {
		return other.Equal(v)
	}
	if v.Kind != other.Kind {
		return false, &TypeMismatchError{Expected: v.Kind, Got: other.Kind}
	}
	switch v.Kind {
	case KindString:
		prefix, wildcard := hasWildcard(v.Str)
		if wildcard {
			return strings.HasPrefix(other.Str, prefix), nil
		}
		if otherPrefix, otherWildcard := hasWildcard(other.Str); otherWildcard {
			return strings.HasPrefix(v.Str, otherPrefix), nil
		}
		return v.Str == other.Str, nil
	case KindBool:
		return v.Bool == other.Bool, nil
	case KindNumber:
		return v.Num == other.Num, nil
	case KindDecimal:
		return v.Dec.Equal(other.Dec), nil
	case KindDateTime:
		return v.Time.Equal(other.Time), nil
	case KindVersion:
		return semver.Compare(v.Version, other.Version) == 0, nil
	default:
		return false, fmt.Errorf("props: unsupported kind %s", v.Kind)
	}
}

// Compare implements the ordering operators (<, <=, >, >=) of spec.md §4.2.
// Ordering is defined only for number, decimal, datetime, and version kinds.
func (v Value) Compare(other Value) (int, error) {
	if v.Kind != other.Kind {
		return 0, &TypeMismatchError{Expected: v.Kind, Got: other.Kind}
	}
	switch v.Kind {
	case KindNumber:
		switch {
		case v.Num < other.Num:
			return -1, nil
		case v.Num > other.Num:
			return 1, nil
		default:
			return 0, nil
		}
	case KindDecimal:
		return v.Dec.Cmp(other.Dec), nil
	case KindDateTime:
		switch {
		case v.Time.Before(other.Time):
			return -1, nil
		case v.Time.After(other.Time):
			return 1, nil
		default:
			return 0, nil
		}
	case KindVersion:
		return semver.Compare(v.Version, other.Version), nil
	default:
		return 0, fmt.Errorf("props: kind %s does not support ordering", v.Kind)
	}
}

// SortedStrings is a helper for deterministic hashing/logging of list values.
func (v Value) SortedStrings() []string {
	if v.Kind != KindList {
		return nil
	}
	out := make([]string, 0, len(v.List))
	for _, e := range v.List {
		out = append(out, fmt.Sprintf("%v", e))
	}
	sort.Strings(out)
	return out
}
