package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segfaults/venator/internal/model"
)

func newTestResource(st *Store) model.ResourceID {
	id := model.NewResourceID()
	st.InsertResource(&model.Resource{ID: id, ConnectedAt: 1, Attributes: map[string]model.Value{}})
	return id
}

func TestInsertSpanIndexedOnceAndRetrievableByID(t *testing.T) {
	st := New(nil)
	rid := newTestResource(st)
	sp := &model.Span{ID: model.SpanID{ResourceID: rid, Local: 1}, CreatedAt: 1000, Level: model.LevelInfo, Name: "a"}

	st.Lock()
	st.InsertSpanOpen(sp)
	st.Unlock()

	got, ok := st.GetSpan(sp.ID)
	require.True(t, ok)
	assert.Equal(t, sp, got)

	entries := st.SpanCreatedIndex()
	count := 0
	for _, e := range entries {
		if e.ID == sp.ID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCloseSpanRequiresCreatedAtLEClosedAt(t *testing.T) {
	st := New(nil)
	rid := newTestResource(st)
	sp := &model.Span{ID: model.SpanID{ResourceID: rid, Local: 1}, CreatedAt: 1000, Level: model.LevelInfo, Name: "a"}

	st.Lock()
	st.InsertSpanOpen(sp)
	st.Unlock()

	require.NoError(t, st.CloseSpan(sp.ID, 3000))
	assert.GreaterOrEqual(t, sp.ClosedAt.Load(), sp.CreatedAt)
	assert.False(t, sp.IsOpen())

	_, stillOpen := st.OpenSpans()[sp.ID]
	assert.False(t, stillOpen)
}

func TestCloseUnknownSpanErrors(t *testing.T) {
	st := New(nil)
	err := st.CloseSpan(model.SpanID{ResourceID: model.NewResourceID(), Local: 99}, 1)
	assert.Error(t, err)
}

func TestSpanChildrenIndexedByParent(t *testing.T) {
	st := New(nil)
	rid := newTestResource(st)
	parent := &model.Span{ID: model.SpanID{ResourceID: rid, Local: 1}, CreatedAt: 100, Level: model.LevelInfo}
	child := &model.Span{ID: model.SpanID{ResourceID: rid, Local: 2}, ParentID: &parent.ID, CreatedAt: 200, Level: model.LevelInfo}

	st.Lock()
	st.InsertSpanOpen(parent)
	st.InsertSpanOpen(child)
	st.Unlock()

	children := st.SpanChildren(parent.ID)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)
}

func TestEventTimestampIndexOrdersByKeyThenID(t *testing.T) {
	st := New(nil)
	rid := newTestResource(st)

	e1 := &model.Event{ID: model.EventID{ResourceID: rid, Timestamp: 5000}, Level: model.LevelInfo}
	e2 := &model.Event{ID: model.EventID{ResourceID: rid, Timestamp: 5001}, Level: model.LevelInfo}

	st.Lock()
	st.InsertEvent(e2)
	st.InsertEvent(e1)
	st.Unlock()

	entries := st.EventTimestampIndex()
	require.Len(t, entries, 2)
	assert.Equal(t, e1.ID, entries[0].ID)
	assert.Equal(t, e2.ID, entries[1].ID)

	// A second resource's event with the same timestamp as e1 ties on the
	// key and is ordered against e1 by id.
	other := newTestResource(st)
	e3 := &model.Event{ID: model.EventID{ResourceID: other, Timestamp: 5000}, Level: model.LevelInfo}
	st.Lock()
	st.InsertEvent(e3)
	st.Unlock()

	first, second := e1.ID, e3.ID
	if cmpEventID(second, first) < 0 {
		first, second = second, first
	}
	entries = st.EventTimestampIndex()
	require.Len(t, entries, 3)
	assert.Equal(t, first, entries[0].ID)
	assert.Equal(t, second, entries[1].ID)
	assert.Equal(t, e2.ID, entries[2].ID)
}

func TestAttributeIndexOnlyTracksConfiguredNames(t *testing.T) {
	st := New([]string{"http.status"})
	rid := newTestResource(st)

	sp := &model.Span{
		ID: model.SpanID{ResourceID: rid, Local: 1}, CreatedAt: 1, Level: model.LevelInfo,
		Attributes: map[string]model.Value{"http.status": model.Int64Value(500), "other": model.StringValue("x")},
	}
	st.Lock()
	st.InsertSpanOpen(sp)
	st.Unlock()

	found := st.SpanAttributeLookup([]string{"http.status"}, model.Int64Value(500))
	require.Len(t, found, 1)
	assert.Equal(t, sp.ID, found[0].ID)

	assert.True(t, st.IsIndexedAttribute("http.status"))
	assert.False(t, st.IsIndexedAttribute("other"))
	assert.Empty(t, st.SpanAttributeLookup([]string{"other"}, model.StringValue("x")))
}

func TestAttributeIndexMatchesInheritedValueUnlessShadowed(t *testing.T) {
	st := New([]string{"env"})
	rid := newTestResource(st)

	// inherited-only: matchable via the attribute index even though "env"
	// is never a direct attribute on this span.
	inheritedOnly := &model.Span{
		ID: model.SpanID{ResourceID: rid, Local: 1}, CreatedAt: 1, Level: model.LevelInfo,
		InheritedAttributes: map[string]model.Value{"env": model.StringValue("prod")},
	}
	// shadowed: a direct "env" attribute overrides the inherited one, so
	// the index must carry the direct value, not the inherited one.
	shadowed := &model.Span{
		ID: model.SpanID{ResourceID: rid, Local: 2}, CreatedAt: 2, Level: model.LevelInfo,
		Attributes:          map[string]model.Value{"env": model.StringValue("staging")},
		InheritedAttributes: map[string]model.Value{"env": model.StringValue("prod")},
	}

	st.Lock()
	st.InsertSpanOpen(inheritedOnly)
	st.InsertSpanOpen(shadowed)
	st.Unlock()

	prodMatches := st.SpanAttributeLookup([]string{"env"}, model.StringValue("prod"))
	require.Len(t, prodMatches, 1)
	assert.Equal(t, inheritedOnly.ID, prodMatches[0].ID)

	stagingMatches := st.SpanAttributeLookup([]string{"env"}, model.StringValue("staging"))
	require.Len(t, stagingMatches, 1)
	assert.Equal(t, shadowed.ID, stagingMatches[0].ID)
}

func TestUpdateResourceAttributesFailsOnceFrozen(t *testing.T) {
	st := New(nil)
	rid := newTestResource(st)

	require.NoError(t, st.UpdateResourceAttributes(rid, map[string]model.Value{"k": model.StringValue("v")}))

	sp := &model.Span{ID: model.SpanID{ResourceID: rid, Local: 1}, CreatedAt: 1, Level: model.LevelInfo}
	st.Lock()
	st.InsertSpanOpen(sp)
	st.Unlock()

	err := st.UpdateResourceAttributes(rid, map[string]model.Value{"k2": model.StringValue("v2")})
	assert.Error(t, err)
}

func TestAttrFrequencyCrossesThresholdOnce(t *testing.T) {
	f := NewAttrFrequency()
	var crossed int
	for i := 0; i < 10; i++ {
		if f.Record("http.status", 5) {
			crossed++
		}
	}
	assert.Equal(t, 1, crossed)
}

func TestAttrFrequencyBelowThresholdNeverCrosses(t *testing.T) {
	f := NewAttrFrequency()
	for i := 0; i < 3; i++ {
		assert.False(t, f.Record("http.status", 10))
	}
}
