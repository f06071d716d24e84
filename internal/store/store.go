package store

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/segfaults/venator/internal/model"
	"github.com/segfaults/venator/internal/venatorerr"
)

const maxLevel = int(model.LevelError) + 1

func cmpSpanID(a, b model.SpanID) int {
	if a.ResourceID != b.ResourceID {
		if string(a.ResourceID[:]) < string(b.ResourceID[:]) {
			return -1
		}
		return 1
	}
	switch {
	case a.Local < b.Local:
		return -1
	case a.Local > b.Local:
		return 1
	default:
		return 0
	}
}

func cmpEventID(a, b model.EventID) int {
	if a.ResourceID != b.ResourceID {
		if string(a.ResourceID[:]) < string(b.ResourceID[:]) {
			return -1
		}
		return 1
	}
	switch {
	case a.Timestamp < b.Timestamp:
		return -1
	case a.Timestamp > b.Timestamp:
		return 1
	default:
		return 0
	}
}

// Store is the single owner of every Resource/Span/Event body in the
// engine. Only the writer (Ingestion, under mu) mutates it; readers fetch
// bodies by id and index snapshots lock-free.
type Store struct {
	mu sync.Mutex

	resources map[model.ResourceID]*model.Resource
	spans     map[model.SpanID]*model.Span
	events    map[model.EventID]*model.Event

	spanCreated   *sortedIndex[model.SpanID] // (created_at, id)
	spanClosed    *sortedIndex[model.SpanID] // (closed_at ?? +inf, id), closed spans only
	spanByLevel   [5]*sortedIndex[model.SpanID]
	spanByParent  map[model.SpanID]*sortedIndex[model.SpanID]
	spanAttrs     *attributeIndex[model.SpanID]
	openSpans     atomic.Pointer[map[model.SpanID]struct{}]

	eventByTS     *sortedIndex[model.EventID] // (timestamp, id)
	eventByLevel  [5]*sortedIndex[model.EventID]
	eventByParent map[model.SpanID]*sortedIndex[model.EventID]
	eventAttrs    *attributeIndex[model.EventID]

	AttrFreq *AttrFrequency
}

// New constructs an empty Store. indexedAttrs names the attributes eagerly
// given a standing attribute index (§9's "eager on configured list" design
// decision).
func New(indexedAttrs []string) *Store {
	s := &Store{
		resources:     make(map[model.ResourceID]*model.Resource),
		spans:         make(map[model.SpanID]*model.Span),
		events:        make(map[model.EventID]*model.Event),
		spanCreated:   newSortedIndex[model.SpanID](cmpSpanID),
		spanClosed:    newSortedIndex[model.SpanID](cmpSpanID),
		spanByParent:  make(map[model.SpanID]*sortedIndex[model.SpanID]),
		spanAttrs:     newAttributeIndex[model.SpanID](cmpSpanID, indexedAttrs),
		eventByTS:     newSortedIndex[model.EventID](cmpEventID),
		eventByParent: make(map[model.SpanID]*sortedIndex[model.EventID]),
		eventAttrs:    newAttributeIndex[model.EventID](cmpEventID, indexedAttrs),
		AttrFreq:      NewAttrFrequency(),
	}
	for l := 0; l < maxLevel; l++ {
		s.spanByLevel[l] = newSortedIndex[model.SpanID](cmpSpanID)
		s.eventByLevel[l] = newSortedIndex[model.EventID](cmpEventID)
	}
	empty := make(map[model.SpanID]struct{})
	s.openSpans.Store(&empty)
	return s
}

// Lock/Unlock expose the writer token to Ingestion, which must hold it
// across a full insert/close call so indices never observe a torn write.
func (s *Store) Lock()   { s.mu.Lock() }
func (s *Store) Unlock() { s.mu.Unlock() }

// InsertResource registers a newly connected resource. Writer-only.
func (s *Store) InsertResource(r *model.Resource) {
	s.resources[r.ID] = r
}

// GetResource fetches a resource body, or ok=false if unknown.
func (s *Store) GetResource(id model.ResourceID) (*model.Resource, bool) {
	r, ok := s.resources[id]
	return r, ok
}

// UpdateResourceAttributes applies attrs only if the resource has not yet
// been frozen by a span/event insertion. Writer-only.
func (s *Store) UpdateResourceAttributes(id model.ResourceID, attrs map[string]model.Value) error {
	r, ok := s.resources[id]
	if !ok {
		return venatorerr.ErrUnknownResource
	}
	if r.Frozen.Load() {
		return venatorerr.ErrResourceFrozen
	}
	if r.Attributes == nil {
		r.Attributes = make(map[string]model.Value, len(attrs))
	}
	for k, v := range attrs {
		r.Attributes[k] = v
	}
	return nil
}

// DisconnectResource marks a resource's connection closed.
func (s *Store) DisconnectResource(id model.ResourceID, at int64) error {
	r, ok := s.resources[id]
	if !ok {
		return venatorerr.ErrUnknownResource
	}
	r.DisconnectedAt.Store(at)
	return nil
}

// InsertSpanOpen appends an open span, indexing it by created_at and level,
// and registers it in the open-span table. Writer-only.
func (s *Store) InsertSpanOpen(sp *model.Span) {
	s.spans[sp.ID] = sp
	if r, ok := s.resources[sp.ID.ResourceID]; ok {
		r.Frozen.Store(true)
	}

	s.spanCreated.Insert(sp.CreatedAt, sp.ID)
	s.spanByLevel[int(sp.Level)].Insert(sp.CreatedAt, sp.ID)

	if sp.ParentID != nil {
		children, ok := s.spanByParent[*sp.ParentID]
		if !ok {
			children = newSortedIndex[model.SpanID](cmpSpanID)
			s.spanByParent[*sp.ParentID] = children
		}
		children.Insert(sp.CreatedAt, sp.ID)
	}

	for name, v := range sp.Attributes {
		s.spanAttrs.Insert([]string{name}, v, sp.CreatedAt, sp.ID)
	}
	// Inherited attributes are matchable too (lookupAttr falls back to
	// them), but a direct attribute of the same name shadows it, so only
	// index the inherited value when there's no direct override — else
	// the attribute driver would pick up a record under a value it no
	// longer actually carries.
	for name, v := range sp.InheritedAttributes {
		if _, shadowed := sp.Attributes[name]; shadowed {
			continue
		}
		s.spanAttrs.Insert([]string{name}, v, sp.CreatedAt, sp.ID)
	}

	cur := *s.openSpans.Load()
	next := make(map[model.SpanID]struct{}, len(cur)+1)
	for k := range cur {
		next[k] = struct{}{}
	}
	next[sp.ID] = struct{}{}
	s.openSpans.Store(&next)
}

// CloseSpan marks a span closed, moves it out of the open-span table, and
// indexes it by closed_at. Writer-only.
func (s *Store) CloseSpan(id model.SpanID, closedAt int64) error {
	sp, ok := s.spans[id]
	if !ok || !sp.IsOpen() {
		return venatorerr.ErrUnknownSpan
	}
	sp.ClosedAt.Store(closedAt)
	s.spanClosed.Insert(closedAt, id)

	cur := *s.openSpans.Load()
	next := make(map[model.SpanID]struct{}, len(cur))
	for k := range cur {
		if k != id {
			next[k] = struct{}{}
		}
	}
	s.openSpans.Store(&next)
	return nil
}

// GetSpan fetches a span body by id.
func (s *Store) GetSpan(id model.SpanID) (*model.Span, bool) {
	sp, ok := s.spans[id]
	return sp, ok
}

// InsertEvent appends an event, indexing it by timestamp, level, parent,
// and configured attributes. Writer-only.
func (s *Store) InsertEvent(e *model.Event) {
	s.events[e.ID] = e
	if r, ok := s.resources[e.ID.ResourceID]; ok {
		r.Frozen.Store(true)
	}

	s.eventByTS.Insert(e.Timestamp, e.ID)
	s.eventByLevel[int(e.Level)].Insert(e.Timestamp, e.ID)

	if e.ParentID != nil {
		children, ok := s.eventByParent[*e.ParentID]
		if !ok {
			children = newSortedIndex[model.EventID](cmpEventID)
			s.eventByParent[*e.ParentID] = children
		}
		children.Insert(e.Timestamp, e.ID)
	}

	for name, v := range e.Attributes {
		s.eventAttrs.Insert([]string{name}, v, e.Timestamp, e.ID)
	}
	for name, v := range e.InheritedAttributes {
		if _, shadowed := e.Attributes[name]; shadowed {
			continue
		}
		s.eventAttrs.Insert([]string{name}, v, e.Timestamp, e.ID)
	}
}

// GetEvent fetches an event body by id.
func (s *Store) GetEvent(id model.EventID) (*model.Event, bool) {
	e, ok := s.events[id]
	return e, ok
}

// OpenSpans returns a lock-free snapshot of currently open span ids.
func (s *Store) OpenSpans() map[model.SpanID]struct{} {
	return *s.openSpans.Load()
}

// Indices below expose read-only snapshots to the query engine; none take
// the writer lock, per the engine's wait-free-reader design.

func (s *Store) SpanCreatedIndex() []Entry[model.SpanID]             { return s.spanCreated.Snapshot() }
func (s *Store) SpanClosedIndex() []Entry[model.SpanID]              { return s.spanClosed.Snapshot() }
func (s *Store) SpanLevelIndex(l model.Level) []Entry[model.SpanID]  { return s.spanByLevel[int(l)].Snapshot() }
func (s *Store) EventTimestampIndex() []Entry[model.EventID]         { return s.eventByTS.Snapshot() }
func (s *Store) EventLevelIndex(l model.Level) []Entry[model.EventID] {
	return s.eventByLevel[int(l)].Snapshot()
}

func (s *Store) SpanChildren(parent model.SpanID) []Entry[model.SpanID] {
	children, ok := s.spanByParent[parent]
	if !ok {
		return nil
	}
	return children.Snapshot()
}

func (s *Store) EventChildren(parent model.SpanID) []Entry[model.EventID] {
	children, ok := s.eventByParent[parent]
	if !ok {
		return nil
	}
	return children.Snapshot()
}

func (s *Store) SpanAttributeLookup(path []string, v model.Value) []Entry[model.SpanID] {
	return s.spanAttrs.Lookup(path, v)
}

func (s *Store) EventAttributeLookup(path []string, v model.Value) []Entry[model.EventID] {
	return s.eventAttrs.Lookup(path, v)
}

func (s *Store) IsIndexedAttribute(name string) bool {
	return s.spanAttrs.Indexed(name) || s.eventAttrs.Indexed(name)
}

// Stats reports the counts consumed by Engine.Stats.
func (s *Store) Stats() (events, spans, openSpans, resources int) {
	return len(s.events), len(s.spans), len(s.OpenSpans()), len(s.resources)
}
