package filterql

import (
	"strings"

	"github.com/segfaults/venator/internal/model"
)

// PropertyKind distinguishes inherent, data-model-fixed fields from
// user-provided attribute paths.
type PropertyKind int

const (
	PropertyInherent PropertyKind = iota
	PropertyAttribute
)

// Property is the left-hand side of a Predicate: either an inherent field
// (#level, #target, #name, #parent, #file, #stack, #connected, #duration)
// or a dotted attribute path (@http.status.code).
type Property struct {
	Kind PropertyKind
	Name string   // inherent field name, lowercased
	Path []string // attribute dotted path, e.g. ["http", "status"]
}

// inherentNames are the builtin inherent properties recognized after '#'.
var inherentNames = map[string]bool{
	"level": true, "target": true, "name": true, "parent": true,
	"file": true, "stack": true, "connected": true, "duration": true,
}

// Op is a predicate comparison/match operator.
type Op int

const (
	OpEq Op = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpMatch    // '~'
	OpNotMatch // '!~'
)

func opFromText(s string) (Op, bool) {
	switch s {
	case "=":
		return OpEq, true
	case "!=":
		return OpNeq, true
	case "<":
		return OpLt, true
	case "<=":
		return OpLte, true
	case ">":
		return OpGt, true
	case ">=":
		return OpGte, true
	case "~":
		return OpMatch, true
	case "!~":
		return OpNotMatch, true
	default:
		return 0, false
	}
}

// Predicate is a single comparison: [!]property op value.
type Predicate struct {
	Property Property
	Op       Op
	Negate   bool

	// RHS holds the parsed comparison value for every operator except a
	// regex match, where IsRegex is true and RegexSrc holds the raw
	// pattern found between the /.../ delimiters.
	RHS      model.Value
	IsRegex  bool
	RegexSrc string

	// Text is the verbatim source slice this predicate was parsed from,
	// preserved for UI echo and for the parse/reserialize round-trip law.
	Text string
}

// Term is "[!] (Group | Predicate)".
type Term struct {
	Negate    bool
	Group     *Filter
	Predicate *Predicate
}

// Filter is the top-level AST: an implicit conjunction of Terms.
type Filter struct {
	Terms []Term
}

// AttributePaths walks a Filter and returns the dotted name of every
// user-attribute property referenced, inherent properties excluded. Used
// by the adaptive-indexing recommendation to see which unindexed
// attributes a query actually filtered on.
func AttributePaths(f *Filter) []string {
	var out []string
	var walk func(*Filter)
	walk = func(f *Filter) {
		if f == nil {
			return
		}
		for _, t := range f.Terms {
			if t.Group != nil {
				walk(t.Group)
			}
			if t.Predicate != nil && t.Predicate.Property.Kind == PropertyAttribute {
				out = append(out, strings.Join(t.Predicate.Property.Path, "."))
			}
		}
	}
	walk(f)
	return out
}
