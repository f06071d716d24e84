package persist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segfaults/venator/internal/model"
	"github.com/segfaults/venator/internal/store"
)

func TestOpenCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema-test.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	var seq int64
	require.NoError(t, db.QueryRow(`SELECT seq FROM commit_seq WHERE id = 0`).Scan(&seq))
	assert.Equal(t, int64(0), seq)
}

func TestPersistAndReplayRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay-test.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	p := New(Config{BatchMaxBytes: 1 << 20}, db, nil)

	rid := model.NewResourceID()
	p.ResourceConnected(rid, 100, map[string]model.Value{"service": model.StringValue("checkout")})

	spanID := model.SpanID{ResourceID: rid, Local: 1}
	sp := &model.Span{
		ID: spanID, CreatedAt: 1000, Level: model.LevelInfo, Target: "t", Name: "root",
		Attributes: map[string]model.Value{"http.status": model.Int64Value(200)},
	}
	p.SpanOpened(sp)
	sp.ClosedAt.Store(2000)
	p.SpanClosed(sp)

	const n = 25
	for i := 0; i < n; i++ {
		e := &model.Event{
			ID: model.EventID{ResourceID: rid, Timestamp: int64(3000 + i)}, ParentID: &spanID,
			Level: model.LevelInfo, Target: "t", Name: "evt",
			Attributes: map[string]model.Value{"i": model.Int64Value(int64(i))},
		}
		p.EventInserted(e)
	}

	p.Close() // drains the write-behind queue before returning.
	assert.False(t, p.Degraded())

	st := store.New(nil)
	result, err := Replay(db, st)
	require.NoError(t, err)

	events, spans, _, resources := st.Stats()
	assert.Equal(t, n, events)
	assert.Equal(t, 1, spans)
	assert.Equal(t, 1, resources)

	gotSpan, ok := st.GetSpan(spanID)
	require.True(t, ok)
	assert.False(t, gotSpan.IsOpen())
	assert.Equal(t, int64(200), gotSpan.Attributes["http.status"].Int64)

	r, ok := st.GetResource(rid)
	require.True(t, ok)
	assert.Equal(t, "checkout", r.Attributes["service"].Str)

	state := result.States[rid]
	require.NotNil(t, state)
	assert.Equal(t, uint64(1), state.MaxLocal)
	assert.Equal(t, int64(3000+n-1), state.LastTS)

	byLocal := result.LocalToSpan[rid]
	require.NotNil(t, byLocal)
	assert.Equal(t, spanID, byLocal[1])
}

func TestReplayEventsKeepParentLink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay-parent-test.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	p := New(Config{}, db, nil)
	rid := model.NewResourceID()
	p.ResourceConnected(rid, 1, nil)

	spanID := model.SpanID{ResourceID: rid, Local: 1}
	sp := &model.Span{ID: spanID, CreatedAt: 10, Level: model.LevelInfo}
	p.SpanOpened(sp)

	e := &model.Event{ID: model.EventID{ResourceID: rid, Timestamp: 20}, ParentID: &spanID, Level: model.LevelInfo}
	p.EventInserted(e)
	p.Close()

	st := store.New(nil)
	_, err = Replay(db, st)
	require.NoError(t, err)

	got, ok := st.GetEvent(e.ID)
	require.True(t, ok)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, spanID, *got.ParentID)

	children := st.EventChildren(spanID)
	require.Len(t, children, 1)
}
