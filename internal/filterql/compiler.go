package filterql

import (
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/segfaults/venator/internal/model"
)

// RecordView is the minimal read surface a Span or Event must expose so the
// compiled evaluator can be driven against either record kind without the
// filter package depending on the store package.
type RecordView interface {
	Level() model.Level
	Target() string
	Name() string
	File() string
	ParentID() (model.SpanID, bool)
	Duration() (int64, bool) // nanoseconds; ok is false for events and open spans
	ConnectedAt() int64
	Stack() []string
	Attribute(path []string) (model.Value, bool)
}

// Evaluator is a compiled predicate closure over a candidate record.
type Evaluator func(RecordView) bool

// DriverKind names which index should drive iteration for a compiled
// filter, per the compiler's index-selection rules.
type DriverKind int

const (
	DriverTimestamp DriverKind = iota
	DriverLevel
	DriverParent
	DriverAttribute
)

// Driver describes the single driving index chosen for a query.
type Driver struct {
	Kind      DriverKind
	MinLevel  model.Level // DriverLevel: level >= MinLevel
	ParentID  model.SpanID
	AttrPath  []string
	AttrValue model.Value
}

// Window is a nanosecond-bounded clamp, either side optional.
type Window struct {
	Start *int64
	End   *int64
}

// Compiled is a filter lowered to an evaluator, a driving index choice, and
// the time window the driving index must additionally be clamped to.
type Compiled struct {
	Eval   Evaluator
	Driver Driver
	Window Window
}

var regexCacheMu sync.Mutex
var regexCache, _ = lru.New[string, *regexp.Regexp](512)

func compileRegex(pattern string) (*regexp.Regexp, error) {
	regexCacheMu.Lock()
	defer regexCacheMu.Unlock()
	if re, ok := regexCache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errAt(0, "bad-regex", "%v", err)
	}
	regexCache.Add(pattern, re)
	return re, nil
}

// Compile lowers an AST into an evaluator plus a driving-index hint.
// indexedAttrs names the attributes with a standing attribute index, used
// by rule 3 of the driving-index selection order.
func Compile(f *Filter, indexedAttrs map[string]bool) (*Compiled, error) {
	eval, err := compileFilter(f)
	if err != nil {
		return nil, err
	}

	driver := selectDriver(f, indexedAttrs)
	window := extractWindow(f)

	return &Compiled{Eval: eval, Driver: driver, Window: window}, nil
}

func compileFilter(f *Filter) (Evaluator, error) {
	evals := make([]Evaluator, 0, len(f.Terms))
	for _, t := range f.Terms {
		e, err := compileTerm(t)
		if err != nil {
			return nil, err
		}
		evals = append(evals, e)
	}
	return func(r RecordView) bool {
		for _, e := range evals {
			if !e(r) {
				return false
			}
		}
		return true
	}, nil
}

func compileTerm(t Term) (Evaluator, error) {
	// A predicate's own Negate (mirrored from Term.Negate by the parser)
	// already folds the "!" into compilePredicate's output, so only a
	// grouped sub-filter needs the term-level negation applied here.
	if t.Predicate != nil {
		return compilePredicate(t.Predicate)
	}

	inner, err := compileFilter(t.Group)
	if err != nil {
		return nil, err
	}
	if t.Negate {
		return func(r RecordView) bool { return !inner(r) }, nil
	}
	return inner, nil
}

func compilePredicate(p *Predicate) (Evaluator, error) {
	var matchFn Evaluator

	if p.IsRegex {
		re, err := compileRegex(p.RegexSrc)
		if err != nil {
			return nil, err
		}
		matchFn = func(r RecordView) bool {
			v, ok := propertyValue(r, p.Property)
			if !ok {
				return p.Op == OpNotMatch
			}
			matched := model.MatchRegex(v, re)
			if p.Op == OpNotMatch {
				return !matched
			}
			return matched
		}
	} else {
		switch p.Op {
		case OpMatch, OpNotMatch:
			pattern, _ := model.StringForm(p.RHS)
			matchFn = func(r RecordView) bool {
				v, ok := propertyValue(r, p.Property)
				if !ok {
					return p.Op == OpNotMatch
				}
				matched := model.MatchWildcard(v, pattern)
				if p.Op == OpNotMatch {
					return !matched
				}
				return matched
			}
		case OpEq, OpNeq:
			matchFn = func(r RecordView) bool {
				v, ok := propertyValue(r, p.Property)
				if !ok {
					// A missing attribute is never equal to anything,
					// but is trivially "not equal".
					return p.Op == OpNeq
				}
				eq := model.Eq(v, p.RHS)
				if p.Op == OpNeq {
					return !eq
				}
				return eq
			}
		default: // OpLt, OpLte, OpGt, OpGte
			matchFn = func(r RecordView) bool {
				v, ok := propertyValue(r, p.Property)
				if !ok {
					return false
				}
				ord := model.Cmp(v, p.RHS)
				if ord == model.Incomparable {
					return false
				}
				switch p.Op {
				case OpLt:
					return ord == model.Less
				case OpLte:
					return ord == model.Less || ord == model.Equal
				case OpGt:
					return ord == model.Greater
				case OpGte:
					return ord == model.Greater || ord == model.Equal
				}
				return false
			}
		}
	}

	if p.Negate {
		inner := matchFn
		return func(r RecordView) bool { return !inner(r) }, nil
	}
	return matchFn, nil
}

// propertyValue resolves a Property against a candidate record, producing
// the comparable Value and whether the property was present at all.
func propertyValue(r RecordView, prop Property) (model.Value, bool) {
	if prop.Kind == PropertyAttribute {
		return r.Attribute(prop.Path)
	}

	switch prop.Name {
	case "level":
		return model.Int64Value(int64(r.Level())), true
	case "target":
		return model.StringValue(r.Target()), true
	case "name":
		return model.StringValue(r.Name()), true
	case "file":
		f := r.File()
		if f == "" {
			return model.Value{}, false
		}
		return model.StringValue(f), true
	case "duration":
		d, ok := r.Duration()
		if !ok {
			return model.Value{}, false
		}
		return model.Int64Value(d), true
	case "connected":
		return model.Int64Value(r.ConnectedAt()), true
	case "stack":
		return model.StringValue(strings.Join(r.Stack(), ">")), true
	case "parent":
		if id, ok := r.ParentID(); ok {
			return model.StringValue(id.String()), true
		}
		return model.Null(), true
	default:
		return model.Value{}, false
	}
}

// selectDriver implements the compiler's driving-index selection order:
// 1. #level >= L  2. #parent = P  3. an indexed-attribute equality
// 4. else the timestamp index. Only top-level, non-negated, non-grouped
// predicates are eligible — a negated predicate does not hold for every
// matching record, so it cannot safely narrow the driving index, and
// predicates inside a group are not examined.
func selectDriver(f *Filter, indexedAttrs map[string]bool) Driver {
	for _, t := range f.Terms {
		if t.Negate || t.Predicate == nil {
			continue
		}
		p := t.Predicate
		if p.Property.Kind == PropertyInherent && p.Property.Name == "level" &&
			(p.Op == OpGte || p.Op == OpGt) && !p.IsRegex {
			lvl := model.Level(p.RHS.Int64)
			if p.Op == OpGt {
				lvl++
			}
			return Driver{Kind: DriverLevel, MinLevel: lvl}
		}
	}

	for _, t := range f.Terms {
		if t.Negate || t.Predicate == nil {
			continue
		}
		p := t.Predicate
		if p.Property.Kind == PropertyInherent && p.Property.Name == "parent" &&
			p.Op == OpEq && !p.IsRegex && p.RHS.Kind == model.KindString {
			sid, ok := parseSpanIDString(p.RHS.Str)
			if ok {
				return Driver{Kind: DriverParent, ParentID: sid}
			}
		}
	}

	for _, t := range f.Terms {
		if t.Negate || t.Predicate == nil {
			continue
		}
		p := t.Predicate
		if p.Property.Kind == PropertyAttribute && p.Op == OpEq && !p.IsRegex {
			name := strings.Join(p.Property.Path, ".")
			if indexedAttrs[name] {
				return Driver{Kind: DriverAttribute, AttrPath: p.Property.Path, AttrValue: p.RHS}
			}
		}
	}

	return Driver{Kind: DriverTimestamp}
}

// extractWindow pulls a [start, end] clamp out of top-level timestamp/
// duration-adjacent comparisons against #connected, when present; the
// primary window is supplied by the caller's query arguments, but a
// filter-embedded bound (e.g. "#connected >= T") is intersected too.
func extractWindow(f *Filter) Window {
	var w Window
	for _, t := range f.Terms {
		if t.Negate || t.Predicate == nil {
			continue
		}
		p := t.Predicate
		if p.Property.Kind != PropertyInherent || p.Property.Name != "connected" || p.IsRegex {
			continue
		}
		v := p.RHS.Int64
		switch p.Op {
		case OpGte, OpGt:
			if w.Start == nil || v > *w.Start {
				w.Start = &v
			}
		case OpLte, OpLt:
			if w.End == nil || v < *w.End {
				w.End = &v
			}
		}
	}
	return w
}

func parseSpanIDString(s string) (model.SpanID, bool) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return model.SpanID{}, false
	}
	uuidPart, localPart := s[:idx], s[idx+1:]
	rid, ok := model.ParseResourceID(uuidPart)
	if !ok {
		return model.SpanID{}, false
	}
	local, ok := parseUint(localPart)
	if !ok {
		return model.SpanID{}, false
	}
	return model.SpanID{ResourceID: rid, Local: local}, true
}

func parseUint(s string) (uint64, bool) {
	var v uint64
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		v = v*10 + uint64(r-'0')
	}
	return v, true
}
