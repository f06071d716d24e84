package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segfaults/venator/internal/filterql"
	"github.com/segfaults/venator/internal/model"
	"github.com/segfaults/venator/internal/store"
)

func matchAll() *filterql.Compiled {
	f, err := filterql.Parse(`#level >= TRACE`)
	if err != nil {
		panic(err)
	}
	compiled, err := filterql.Compile(f, nil)
	if err != nil {
		panic(err)
	}
	return compiled
}

func TestQuerySpansDurationFilter(t *testing.T) {
	st := store.New(nil)
	rid := model.NewResourceID()
	st.Lock()
	st.InsertResource(&model.Resource{ID: rid, ConnectedAt: 1, Attributes: map[string]model.Value{}})
	st.Unlock()

	// Scenario 2 of spec.md §8, scaled to real nanosecond units (the spec
	// states "#duration >= 1s" using "s = 1e9 ns"): span open [0, 2s],
	// queried over a window wide enough to contain it.
	a := &model.Span{ID: model.SpanID{ResourceID: rid, Local: 1}, CreatedAt: 0, Level: model.LevelInfo}
	st.Lock()
	st.InsertSpanOpen(a)
	st.Unlock()
	require.NoError(t, st.CloseSpan(a.ID, 2*int64(time.Second)))

	f, err := filterql.Parse(`#duration >= 1s`)
	require.NoError(t, err)
	compiled, err := filterql.Compile(f, nil)
	require.NoError(t, err)

	page, err := QuerySpans(context.Background(), st, compiled, Window{}, Ascending, 10, Cursor{})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, a.ID, page.Records[0].ID)
}

func TestQueryEventsLevelFilterOrderedByTimestamp(t *testing.T) {
	st := store.New(nil)
	rid := model.NewResourceID()
	st.Lock()
	st.InsertResource(&model.Resource{ID: rid, ConnectedAt: 1, Attributes: map[string]model.Value{}})
	st.Unlock()

	st.Lock()
	st.InsertEvent(&model.Event{ID: model.EventID{ResourceID: rid, Timestamp: 1500}, Level: model.LevelWarn})
	st.Unlock()

	f, err := filterql.Parse(`#level >= WARN`)
	require.NoError(t, err)
	compiled, err := filterql.Compile(f, nil)
	require.NoError(t, err)

	page, err := QueryEvents(context.Background(), st, compiled, Window{}, Ascending, 10, Cursor{})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, int64(1500), page.Records[0].Timestamp)

	st.Lock()
	st.InsertEvent(&model.Event{ID: model.EventID{ResourceID: rid, Timestamp: 1200}, Level: model.LevelError})
	st.InsertEvent(&model.Event{ID: model.EventID{ResourceID: rid, Timestamp: 1100}, Level: model.LevelInfo})
	st.Unlock()

	page, err = QueryEvents(context.Background(), st, compiled, Window{}, Ascending, 10, Cursor{})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	got := []int64{page.Records[0].Timestamp, page.Records[1].Timestamp}
	assert.Equal(t, []int64{1200, 1500}, got)
}

func TestQueryEventsPaginationNoDuplicatesNoOmissions(t *testing.T) {
	st := store.New(nil)
	rid := model.NewResourceID()
	st.Lock()
	st.InsertResource(&model.Resource{ID: rid, ConnectedAt: 1, Attributes: map[string]model.Value{}})
	st.Unlock()

	const n = 10
	st.Lock()
	for i := 0; i < n; i++ {
		st.InsertEvent(&model.Event{ID: model.EventID{ResourceID: rid, Timestamp: int64(i)}, Level: model.LevelInfo})
	}
	st.Unlock()

	compiled := matchAll()
	seen := make(map[int64]bool)
	cursor := Cursor{}
	for {
		page, err := QueryEvents(context.Background(), st, compiled, Window{}, Ascending, 1, cursor)
		require.NoError(t, err)
		if len(page.Records) == 0 {
			break
		}
		for _, ev := range page.Records {
			require.False(t, seen[ev.Timestamp], "duplicate timestamp %d", ev.Timestamp)
			seen[ev.Timestamp] = true
		}
		next, err := ParseCursor(page.NextCursor)
		require.NoError(t, err)
		cursor = next
	}
	assert.Len(t, seen, n)
}

func TestQueryEventsSameTimestampDistinctIDsCursorResume(t *testing.T) {
	st := store.New(nil)
	rid := model.NewResourceID()
	st.Lock()
	st.InsertResource(&model.Resource{ID: rid, ConnectedAt: 1, Attributes: map[string]model.Value{}})
	st.Unlock()

	id1 := model.EventID{ResourceID: rid, Timestamp: 5000}
	// Simulates ingest's uniquification having already separated the two
	// colliding inserts by one nanosecond, as Ingest.uniqueTimestamp does.
	id2 := model.EventID{ResourceID: rid, Timestamp: 5001}

	st.Lock()
	st.InsertEvent(&model.Event{ID: id1, Level: model.LevelInfo})
	st.InsertEvent(&model.Event{ID: id2, Level: model.LevelInfo})
	st.Unlock()

	compiled := matchAll()
	page1, err := QueryEvents(context.Background(), st, compiled, Window{}, Ascending, 1, Cursor{})
	require.NoError(t, err)
	require.Len(t, page1.Records, 1)
	assert.Equal(t, id1, page1.Records[0].ID)

	cursor, err := ParseCursor(page1.NextCursor)
	require.NoError(t, err)
	page2, err := QueryEvents(context.Background(), st, compiled, Window{}, Ascending, 1, cursor)
	require.NoError(t, err)
	require.Len(t, page2.Records, 1)
	assert.Equal(t, id2, page2.Records[0].ID)
	assert.NotEqual(t, page1.Records[0].ID, page2.Records[0].ID)
}

func TestQueryEventsDescendingOrderAppliesWindowBeforeReversing(t *testing.T) {
	st := store.New(nil)
	rid := model.NewResourceID()
	st.Lock()
	st.InsertResource(&model.Resource{ID: rid, ConnectedAt: 1, Attributes: map[string]model.Value{}})
	st.Unlock()

	st.Lock()
	st.InsertEvent(&model.Event{ID: model.EventID{ResourceID: rid, Timestamp: 10}, Level: model.LevelInfo})
	st.InsertEvent(&model.Event{ID: model.EventID{ResourceID: rid, Timestamp: 20}, Level: model.LevelInfo})
	st.InsertEvent(&model.Event{ID: model.EventID{ResourceID: rid, Timestamp: 30}, Level: model.LevelInfo})
	st.Unlock()

	compiled := matchAll()

	// Ascending order returns timestamps increasing.
	page, err := QueryEvents(context.Background(), st, compiled, Window{}, Ascending, 10, Cursor{})
	require.NoError(t, err)
	require.Len(t, page.Records, 3)
	assert.Equal(t, []int64{10, 20, 30}, []int64{page.Records[0].Timestamp, page.Records[1].Timestamp, page.Records[2].Timestamp})

	// Descending order over the same data returns timestamps decreasing,
	// not re-ascending (merge must emit ascending, reverse once at the
	// query layer).
	page, err = QueryEvents(context.Background(), st, compiled, Window{}, Descending, 10, Cursor{})
	require.NoError(t, err)
	require.Len(t, page.Records, 3)
	assert.Equal(t, []int64{30, 20, 10}, []int64{page.Records[0].Timestamp, page.Records[1].Timestamp, page.Records[2].Timestamp})

	// A window's End must clamp the same entries regardless of order: with
	// End=25, only timestamps 10 and 20 qualify, reported newest-first.
	end := int64(25)
	page, err = QueryEvents(context.Background(), st, compiled, Window{End: &end}, Descending, 10, Cursor{})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, []int64{20, 10}, []int64{page.Records[0].Timestamp, page.Records[1].Timestamp})
}

func TestSubtreeWalksDescendants(t *testing.T) {
	st := store.New(nil)
	rid := model.NewResourceID()
	st.Lock()
	st.InsertResource(&model.Resource{ID: rid, ConnectedAt: 1, Attributes: map[string]model.Value{}})
	st.Unlock()

	root := &model.Span{ID: model.SpanID{ResourceID: rid, Local: 1}, CreatedAt: 1, Level: model.LevelInfo}
	child := &model.Span{ID: model.SpanID{ResourceID: rid, Local: 2}, ParentID: &root.ID, CreatedAt: 2, Level: model.LevelInfo}
	grandchild := &model.Span{ID: model.SpanID{ResourceID: rid, Local: 3}, ParentID: &child.ID, CreatedAt: 3, Level: model.LevelInfo}
	leaf := &model.Event{ID: model.EventID{ResourceID: rid, Timestamp: 4}, ParentID: &grandchild.ID, Level: model.LevelInfo}

	st.Lock()
	st.InsertSpanOpen(root)
	st.InsertSpanOpen(child)
	st.InsertSpanOpen(grandchild)
	st.InsertEvent(leaf)
	st.Unlock()

	spans, events, err := Subtree(context.Background(), st, root.ID)
	require.NoError(t, err)
	assert.Len(t, spans, 2)
	assert.Len(t, events, 1)
}

func TestSubtreeUnknownRootErrors(t *testing.T) {
	st := store.New(nil)
	_, _, err := Subtree(context.Background(), st, model.SpanID{ResourceID: model.NewResourceID(), Local: 1})
	assert.Error(t, err)
}

func TestOpenAtOnlyReturnsSpansCreatedBeforeT(t *testing.T) {
	st := store.New(nil)
	rid := model.NewResourceID()
	st.Lock()
	st.InsertResource(&model.Resource{ID: rid, ConnectedAt: 1, Attributes: map[string]model.Value{}})
	st.Unlock()

	early := &model.Span{ID: model.SpanID{ResourceID: rid, Local: 1}, CreatedAt: 100, Level: model.LevelInfo}
	late := &model.Span{ID: model.SpanID{ResourceID: rid, Local: 2}, CreatedAt: 5000, Level: model.LevelInfo}
	st.Lock()
	st.InsertSpanOpen(early)
	st.InsertSpanOpen(late)
	st.Unlock()

	spans, err := OpenAt(context.Background(), st, matchAll(), 1000)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, early.ID, spans[0].ID)
}

func TestCountEventsBucketsByLevel(t *testing.T) {
	st := store.New(nil)
	rid := model.NewResourceID()
	st.Lock()
	st.InsertResource(&model.Resource{ID: rid, ConnectedAt: 1, Attributes: map[string]model.Value{}})
	st.Unlock()

	st.Lock()
	st.InsertEvent(&model.Event{ID: model.EventID{ResourceID: rid, Timestamp: 10}, Level: model.LevelInfo})
	st.InsertEvent(&model.Event{ID: model.EventID{ResourceID: rid, Timestamp: 90}, Level: model.LevelError})
	st.Unlock()

	start, end := int64(0), int64(100)
	hist, err := CountEvents(context.Background(), st, matchAll(), Window{Start: &start, End: &end}, 2)
	require.NoError(t, err)
	require.Len(t, hist.Counts, 2)
	assert.Equal(t, int64(1), hist.Counts[0][model.LevelInfo])
	assert.Equal(t, int64(1), hist.Counts[1][model.LevelError])
}
