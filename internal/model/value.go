// Package model holds the telemetry data model: the tagged Value union,
// Resource/Span/Event records, and the identifiers that tie them together.
package model

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindUInt64
	KindDouble
	KindString
	KindBytes
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindUInt64:
		return "uint64"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the tagged sum {Null, Bool, Int64, UInt64, Double, String, Bytes,
// Array<Value>, Object<String,Value>} described by the value model.
// Only one of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind   Kind
	Bool   bool
	Int64  int64
	UInt64 uint64
	Double float64
	Str    string
	Bytes  []byte
	Array  []Value
	Object map[string]Value
}

func Null() Value                { return Value{Kind: KindNull} }
func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func Int64Value(v int64) Value   { return Value{Kind: KindInt64, Int64: v} }
func UInt64Value(v uint64) Value { return Value{Kind: KindUInt64, UInt64: v} }
func DoubleValue(v float64) Value {
	return Value{Kind: KindDouble, Double: v}
}
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func BytesValue(b []byte) Value  { return Value{Kind: KindBytes, Bytes: b} }
func ArrayValue(v []Value) Value { return Value{Kind: KindArray, Array: v} }
func ObjectValue(v map[string]Value) Value {
	return Value{Kind: KindObject, Object: v}
}

// Eq is true iff both values share a tag and equal content. Numeric tags
// never cross-compare: Int64(1) != UInt64(1).
func Eq(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt64:
		return a.Int64 == b.Int64
	case KindUInt64:
		return a.UInt64 == b.UInt64
	case KindDouble:
		return a.Double == b.Double
	case KindString:
		return a.Str == b.Str
	case KindBytes:
		return string(a.Bytes) == string(b.Bytes)
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Eq(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.Object) != len(b.Object) {
			return false
		}
		for k, av := range a.Object {
			bv, ok := b.Object[k]
			if !ok || !Eq(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Ordering is the result of Cmp: a total order within a comparable domain,
// or Incomparable when the pair has no defined order (mixed tags outside
// the unified-numeric group, NaN, containers).
type Ordering int

const (
	Less Ordering = -1
	Equal Ordering = 0
	Greater Ordering = 1
	Incomparable Ordering = 2
)

func isNumeric(k Kind) bool {
	return k == KindInt64 || k == KindUInt64 || k == KindDouble
}

func asFloat(v Value) float64 {
	switch v.Kind {
	case KindInt64:
		return float64(v.Int64)
	case KindUInt64:
		return float64(v.UInt64)
	case KindDouble:
		return v.Double
	default:
		return math.NaN()
	}
}

// Cmp defines a partial order within {Int64, UInt64, Double} (lossless
// upcast to float64, NaN incomparable), within String (lexicographic by
// code point), and within Bool (false < true). Anything else, including
// cross-kind pairs outside the numeric group, is Incomparable.
func Cmp(a, b Value) Ordering {
	if isNumeric(a.Kind) && isNumeric(b.Kind) {
		fa, fb := asFloat(a), asFloat(b)
		if math.IsNaN(fa) || math.IsNaN(fb) {
			return Incomparable
		}
		switch {
		case fa < fb:
			return Less
		case fa > fb:
			return Greater
		default:
			return Equal
		}
	}

	if a.Kind != b.Kind {
		return Incomparable
	}

	switch a.Kind {
	case KindString:
		return orderingOf(strings.Compare(a.Str, b.Str))
	case KindBool:
		if a.Bool == b.Bool {
			return Equal
		}
		if !a.Bool && b.Bool {
			return Less
		}
		return Greater
	default:
		return Incomparable
	}
}

func orderingOf(c int) Ordering {
	switch {
	case c < 0:
		return Less
	case c > 0:
		return Greater
	default:
		return Equal
	}
}

// StringForm renders a Value's textual form for wildcard/regex matching.
// Containers have no string form.
func StringForm(v Value) (string, bool) {
	switch v.Kind {
	case KindString:
		return v.Str, true
	case KindInt64:
		return fmt.Sprintf("%d", v.Int64), true
	case KindUInt64:
		return fmt.Sprintf("%d", v.UInt64), true
	case KindDouble:
		return fmt.Sprintf("%g", v.Double), true
	case KindBool:
		return fmt.Sprintf("%t", v.Bool), true
	case KindBytes:
		return string(v.Bytes), true
	case KindNull:
		return "", false
	default:
		return "", false
	}
}

// globCache memoizes compiled glob patterns as regexes. MatchWildcard fills
// it lazily on a miss, so concurrent queries both read and populate it; it
// is not confined to the writer and relies on the LRU's internal locking.
var globCache, _ = lru.New[string, *regexp.Regexp](1024)

// MatchWildcard implements the case-sensitive glob match: '*' any run, '?'
// one character, '\' escapes the following character.
func MatchWildcard(v Value, pattern string) bool {
	s, ok := StringForm(v)
	if !ok {
		return false
	}
	re, ok := globCache.Get(pattern)
	if !ok {
		compiled, err := regexp.Compile(globToRegex(pattern))
		if err != nil {
			return false
		}
		re = compiled
		globCache.Add(pattern, re)
	}
	return re.MatchString(s)
}

// MatchRegex implements the "/…/" regex operator. Values without a string
// form fail closed (never match).
func MatchRegex(v Value, re *regexp.Regexp) bool {
	s, ok := StringForm(v)
	if !ok {
		return false
	}
	return re.MatchString(s)
}

func globToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	escaped := false
	for _, r := range pattern {
		if escaped {
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if escaped {
		b.WriteString(regexp.QuoteMeta(`\`))
	}
	b.WriteString("$")
	return b.String()
}

// SortedKeys returns an object's attribute keys in deterministic order, used
// by the persistence encoder.
func SortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
