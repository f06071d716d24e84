package store

import (
	"strings"

	"github.com/segfaults/venator/internal/filterql"
	"github.com/segfaults/venator/internal/model"
)

// lookupAttr resolves a dotted path against a record's attributes. The
// whole dotted name (e.g. "http.status") is tried first as a flat key in
// the direct attributes, then in the inherited-attributes snapshot; failing
// that, path[0] is looked up the same way and path[1:] drills into nested
// Object values. Direct attributes always win over inherited ones for the
// same key, per the "self > parent > ..." scope-nearest-wins rule.
func lookupAttr(direct, inherited map[string]model.Value, path []string) (model.Value, bool) {
	if len(path) == 0 {
		return model.Value{}, false
	}
	if len(path) > 1 {
		name := strings.Join(path, ".")
		if v, ok := direct[name]; ok {
			return v, true
		}
		if v, ok := inherited[name]; ok {
			return v, true
		}
	}
	v, ok := direct[path[0]]
	if !ok {
		v, ok = inherited[path[0]]
	}
	if !ok {
		return model.Value{}, false
	}
	for _, seg := range path[1:] {
		if v.Kind != model.KindObject {
			return model.Value{}, false
		}
		v, ok = v.Object[seg]
		if !ok {
			return model.Value{}, false
		}
	}
	return v, true
}

// SpanView adapts a stored Span to filterql.RecordView.
type SpanView struct {
	Span  *model.Span
	store *Store
}

func NewSpanView(s *Store, sp *model.Span) *SpanView { return &SpanView{Span: sp, store: s} }

func (v *SpanView) Level() model.Level  { return v.Span.Level }
func (v *SpanView) Target() string      { return v.Span.Target }
func (v *SpanView) Name() string        { return v.Span.Name }
func (v *SpanView) File() string        { return v.Span.File }
func (v *SpanView) ConnectedAt() int64 {
	if r, ok := v.store.GetResource(v.Span.ID.ResourceID); ok {
		return r.ConnectedAt
	}
	return 0
}

func (v *SpanView) ParentID() (model.SpanID, bool) {
	if v.Span.ParentID == nil {
		return model.SpanID{}, false
	}
	return *v.Span.ParentID, true
}

// Duration reports the span's elapsed nanoseconds; ok is false while open,
// matching the spec's "#duration... always fails-closed" rule for
// not-yet-closed spans.
func (v *SpanView) Duration() (int64, bool) {
	if v.Span.IsOpen() {
		return 0, false
	}
	return v.Span.ClosedAt.Load() - v.Span.CreatedAt, true
}

// Stack renders the ancestor chain (root-first) of span names, walking
// parent links through the store.
func (v *SpanView) Stack() []string {
	return ancestorStack(v.store, v.Span.ParentID, v.Span.Name)
}

func (v *SpanView) Attribute(path []string) (model.Value, bool) {
	return lookupAttr(v.Span.Attributes, v.Span.InheritedAttributes, path)
}

// EventView adapts a stored Event to filterql.RecordView.
type EventView struct {
	Event *model.Event
	store *Store
}

func NewEventView(s *Store, e *model.Event) *EventView { return &EventView{Event: e, store: s} }

func (v *EventView) Level() model.Level { return v.Event.Level }
func (v *EventView) Target() string     { return v.Event.Target }
func (v *EventView) Name() string       { return v.Event.Name }
func (v *EventView) File() string       { return v.Event.File }
func (v *EventView) ConnectedAt() int64 {
	if r, ok := v.store.GetResource(v.Event.ID.ResourceID); ok {
		return r.ConnectedAt
	}
	return 0
}

func (v *EventView) ParentID() (model.SpanID, bool) {
	if v.Event.ParentID == nil {
		return model.SpanID{}, false
	}
	return *v.Event.ParentID, true
}

// Duration is undefined for events; they have no span of elapsed time.
func (v *EventView) Duration() (int64, bool) { return 0, false }

func (v *EventView) Stack() []string {
	return ancestorStack(v.store, v.Event.ParentID, v.Event.Name)
}

func (v *EventView) Attribute(path []string) (model.Value, bool) {
	return lookupAttr(v.Event.Attributes, v.Event.InheritedAttributes, path)
}

func ancestorStack(s *Store, parent *model.SpanID, leaf string) []string {
	var chain []string
	cur := parent
	for cur != nil {
		sp, ok := s.GetSpan(*cur)
		if !ok {
			break
		}
		chain = append(chain, sp.Name)
		cur = sp.ParentID
	}
	stack := make([]string, 0, len(chain)+1)
	for i := len(chain) - 1; i >= 0; i-- {
		stack = append(stack, chain[i])
	}
	stack = append(stack, leaf)
	return stack
}

var (
	_ filterql.RecordView = (*SpanView)(nil)
	_ filterql.RecordView = (*EventView)(nil)
)
