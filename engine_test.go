package venator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segfaults/venator/internal/model"
	"github.com/segfaults/venator/internal/query"
)

func newMemEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

// Scenario 1 of spec.md §8: insert R1, span A (parent=null, level=INFO,
// created_at=1000), event E1 (parent=A, level=WARN, timestamp=1500). Query
// #level >= WARN over [0, 2000] returns [E1].
func TestScenarioLevelFilterReturnsOnlyMatchingEvent(t *testing.T) {
	e := newMemEngine(t)

	r1 := e.InsertResource(1, nil)
	a, err := e.InsertSpan(r1, 1, false, 0, 1000, model.LevelInfo, "t", "A", "", 0, nil)
	require.NoError(t, err)
	e1, err := e.InsertEvent(r1, true, a.Local, 1500, model.LevelWarn, "t", "E1", "", 0, nil)
	require.NoError(t, err)

	start, end := int64(0), int64(2000)
	page, err := e.QueryEvents(context.Background(), "#level >= WARN", query.Window{Start: &start, End: &end}, query.Ascending, 10, "")
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, e1, page.Records[0].ID)
}

// Scenario 3: two events sharing timestamp=5000 on the same resource get
// distinct ids and a limit=1 paginated scan then cursor-resume yields the
// second.
func TestScenarioCollidingTimestampsPaginate(t *testing.T) {
	e := newMemEngine(t)
	r1 := e.InsertResource(1, nil)

	id1, err := e.InsertEvent(r1, false, 0, 5000, model.LevelInfo, "t", "first", "", 0, nil)
	require.NoError(t, err)
	id2, err := e.InsertEvent(r1, false, 0, 5000, model.LevelInfo, "t", "second", "", 0, nil)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	page1, err := e.QueryEvents(context.Background(), "", query.Window{}, query.Ascending, 1, "")
	require.NoError(t, err)
	require.Len(t, page1.Records, 1)
	assert.Equal(t, id1, page1.Records[0].ID)

	page2, err := e.QueryEvents(context.Background(), "", query.Window{}, query.Ascending, 1, page1.NextCursor)
	require.NoError(t, err)
	require.Len(t, page2.Records, 1)
	assert.Equal(t, id2, page2.Records[0].ID)
}

// Scenario 4: a filter with a negated conjunct matches exactly the
// expected subset in ascending timestamp order.
func TestScenarioConjunctionWithNegationFiltersEventStream(t *testing.T) {
	e := newMemEngine(t)
	r1 := e.InsertResource(1, nil)

	wantMatch := map[int]bool{2: true, 5: true, 8: true}
	var matching []model.EventID
	for i := 0; i < 10; i++ {
		status := int64(200)
		method := "GET"
		if wantMatch[i] {
			status = 500
			method = "POST"
		}
		attrs := map[string]model.Value{
			"http.status": model.Int64Value(status),
			"http.method": model.StringValue(method),
		}
		id, err := e.InsertEvent(r1, false, 0, int64(1000+i), model.LevelInfo, "t", "e", "", 0, attrs)
		require.NoError(t, err)
		if wantMatch[i] {
			matching = append(matching, id)
		}
	}

	page, err := e.QueryEvents(context.Background(), `@http.status >= 500 !@http.method = "GET"`, query.Window{}, query.Ascending, 100, "")
	require.NoError(t, err)
	require.Len(t, page.Records, len(matching))
	for i, rec := range page.Records {
		assert.Equal(t, matching[i], rec.ID)
		if i > 0 {
			assert.Less(t, page.Records[i-1].Timestamp, rec.Timestamp)
		}
	}
}

// Scenario 5: parent arrives after child. An event references a
// not-yet-seen local_parent (the caller-assigned local id the parent span
// will be inserted under); once the span with that local id arrives, the
// event's parent is resolved and it shows up under the parent's children.
func TestScenarioParentArrivesAfterChildEndToEnd(t *testing.T) {
	e := newMemEngine(t)
	r1 := e.InsertResource(1, nil)

	childID, err := e.InsertEvent(r1, true, 42, 100, model.LevelInfo, "t", "child", "", 0, nil)
	require.NoError(t, err)

	parentID, err := e.InsertSpan(r1, 42, false, 0, 50, model.LevelInfo, "t", "parent", "", 0, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(42), parentID.Local)

	_, events, err := e.Subtree(context.Background(), parentID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, childID, events[0].ID)
}

// Scenario 6: persistence survives a restart. 1000 events are inserted,
// the engine is closed (draining the persist queue), and a fresh Engine
// opened against the same dataset reports the full count and can look up
// every event by id.
func TestScenarioPersistAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "venator-scenario6.db")

	e, err := New(Config{DatasetPath: path}, nil)
	require.NoError(t, err)

	r1 := e.InsertResource(1, nil)
	const n = 1000
	ids := make([]model.EventID, 0, n)
	for i := 0; i < n; i++ {
		id, err := e.InsertEvent(r1, false, 0, int64(i), model.LevelInfo, "t", "e", "", 0, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	e.Close() // drains the persist queue before returning.

	e2, err := New(Config{DatasetPath: path}, nil)
	require.NoError(t, err)
	defer e2.Close()

	stats := e2.Stats()
	assert.Equal(t, n, stats.EventCount)
	assert.False(t, stats.Degraded)

	for _, id := range ids {
		page, err := e2.QueryEvents(context.Background(), "", query.Window{Start: &id.Timestamp, End: &id.Timestamp}, query.Ascending, 10, "")
		require.NoError(t, err)
		require.NotEmpty(t, page.Records, "event at ts %d not found after restart", id.Timestamp)
	}
}

func TestUpdateResourceAttributesPreservesConnectionRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "venator-attr-update.db")
	e, err := New(Config{DatasetPath: path}, nil)
	require.NoError(t, err)

	r1 := e.InsertResource(1000, map[string]model.Value{"env": model.StringValue("prod")})
	require.NoError(t, e.UpdateResourceAttributes(r1, map[string]model.Value{"team": model.StringValue("payments")}))
	require.NoError(t, e.DisconnectResource(r1, 2000))
	e.Close()

	e2, err := New(Config{DatasetPath: path}, nil)
	require.NoError(t, err)
	defer e2.Close()

	stats := e2.Stats()
	assert.Equal(t, 1, stats.ResourceCount)

	r, ok := e2.store.GetResource(r1)
	require.True(t, ok)
	assert.Equal(t, int64(1000), r.ConnectedAt)
	assert.True(t, r.IsDisconnected())
	assert.Equal(t, "prod", r.Attributes["env"].Str)
	assert.Equal(t, "payments", r.Attributes["team"].Str)
}

func TestSubscribeLiveReceivesMatchingInserts(t *testing.T) {
	e := newMemEngine(t)
	r1 := e.InsertResource(1, nil)

	sub, err := e.SubscribeLive("#level >= WARN")
	require.NoError(t, err)
	defer sub.Close()

	_, err = e.InsertEvent(r1, false, 0, 1, model.LevelInfo, "t", "ignored", "", 0, nil)
	require.NoError(t, err)
	_, err = e.InsertEvent(r1, false, 0, 2, model.LevelWarn, "t", "seen", "", 0, nil)
	require.NoError(t, err)

	select {
	case rec := <-sub.C:
		require.Equal(t, RecordEvent, rec.Kind)
		assert.Equal(t, "seen", rec.Event.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live record")
	}
}
