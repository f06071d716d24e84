package query

import (
	"context"
	"time"

	"github.com/segfaults/venator/internal/filterql"
	"github.com/segfaults/venator/internal/metrics"
	"github.com/segfaults/venator/internal/model"
	"github.com/segfaults/venator/internal/store"
	"github.com/segfaults/venator/internal/venatorerr"
)

// Page is a single page of query results plus the cursor to resume from.
type Page[T any] struct {
	Records    []T
	NextCursor string
	Cancelled  bool
	Partial    bool
}

func cmpSpanIDStr(a, b model.SpanID) int {
	as, bs := a.String(), b.String()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func cmpEventIDStr(a, b model.EventID) int {
	as, bs := eventCursorID(a), eventCursorID(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// spanSources returns the driving index's candidate entry slices for a
// span query, per the compiler's driving-index selection.
func spanSources(st *store.Store, d filterql.Driver) [][]store.Entry[model.SpanID] {
	switch d.Kind {
	case filterql.DriverLevel:
		var out [][]store.Entry[model.SpanID]
		for l := int(d.MinLevel); l < 5; l++ {
			out = append(out, st.SpanLevelIndex(model.Level(l)))
		}
		return out
	case filterql.DriverParent:
		return [][]store.Entry[model.SpanID]{st.SpanChildren(d.ParentID)}
	case filterql.DriverAttribute:
		return [][]store.Entry[model.SpanID]{st.SpanAttributeLookup(d.AttrPath, d.AttrValue)}
	default:
		return [][]store.Entry[model.SpanID]{st.SpanCreatedIndex()}
	}
}

func eventSources(st *store.Store, d filterql.Driver) [][]store.Entry[model.EventID] {
	switch d.Kind {
	case filterql.DriverLevel:
		var out [][]store.Entry[model.EventID]
		for l := int(d.MinLevel); l < 5; l++ {
			out = append(out, st.EventLevelIndex(model.Level(l)))
		}
		return out
	case filterql.DriverParent:
		return [][]store.Entry[model.EventID]{st.EventChildren(d.ParentID)}
	case filterql.DriverAttribute:
		return [][]store.Entry[model.EventID]{st.EventAttributeLookup(d.AttrPath, d.AttrValue)}
	default:
		return [][]store.Entry[model.EventID]{st.EventTimestampIndex()}
	}
}

func driverLabel(d filterql.Driver) string {
	switch d.Kind {
	case filterql.DriverLevel:
		return "level"
	case filterql.DriverParent:
		return "parent"
	case filterql.DriverAttribute:
		return "attribute"
	default:
		return "timestamp"
	}
}

// QuerySpans implements spec.md §4.6's query() algorithm for spans.
func QuerySpans(ctx context.Context, st *store.Store, compiled *filterql.Compiled, window Window, order Order, limit int, cursor Cursor) (Page[*model.Span], error) {
	timer := prometheusTimer(driverLabel(compiled.Driver))
	defer timer()

	merged := mergeSources(spanSources(st, compiled.Driver), cmpSpanIDStr)
	w := window.intersect(compiled.Window.Start, compiled.Window.End)
	merged = clampWindow(merged, w)
	if order == Descending {
		merged = reversed(merged)
	}
	merged = afterCursor(merged, cursor, spanCursorID, order, cmpSpanIDStr)

	var page Page[*model.Span]
	scanned := 0
	for _, e := range merged {
		scanned++
		select {
		case <-ctx.Done():
			page.Cancelled = true
			metrics.QueryResultsScanned.WithLabelValues(driverLabel(compiled.Driver)).Observe(float64(scanned))
			return page, nil
		default:
		}

		sp, ok := st.GetSpan(e.ID)
		if !ok {
			continue
		}
		view := store.NewSpanView(st, sp)
		if compiled.Eval(view) {
			page.Records = append(page.Records, sp)
			page.NextCursor = Cursor{Key: e.Key, ID: spanCursorID(e.ID)}.String()
			if len(page.Records) >= limit {
				break
			}
		}
	}
	metrics.QueryResultsScanned.WithLabelValues(driverLabel(compiled.Driver)).Observe(float64(scanned))
	return page, nil
}

// QueryEvents implements spec.md §4.6's query() algorithm for events.
func QueryEvents(ctx context.Context, st *store.Store, compiled *filterql.Compiled, window Window, order Order, limit int, cursor Cursor) (Page[*model.Event], error) {
	timer := prometheusTimer(driverLabel(compiled.Driver))
	defer timer()

	merged := mergeSources(eventSources(st, compiled.Driver), cmpEventIDStr)
	w := window.intersect(compiled.Window.Start, compiled.Window.End)
	merged = clampWindow(merged, w)
	if order == Descending {
		merged = reversed(merged)
	}
	merged = afterCursor(merged, cursor, eventCursorID, order, cmpEventIDStr)

	var page Page[*model.Event]
	scanned := 0
	for _, e := range merged {
		scanned++
		select {
		case <-ctx.Done():
			page.Cancelled = true
			metrics.QueryResultsScanned.WithLabelValues(driverLabel(compiled.Driver)).Observe(float64(scanned))
			return page, nil
		default:
		}

		ev, ok := st.GetEvent(e.ID)
		if !ok {
			continue
		}
		view := store.NewEventView(st, ev)
		if compiled.Eval(view) {
			page.Records = append(page.Records, ev)
			page.NextCursor = Cursor{Key: e.Key, ID: eventCursorID(e.ID)}.String()
			if len(page.Records) >= limit {
				break
			}
		}
	}
	metrics.QueryResultsScanned.WithLabelValues(driverLabel(compiled.Driver)).Observe(float64(scanned))
	return page, nil
}

// Subtree drives by the parent index in preorder, bounded by the root
// span's own [created_at, closed_at ?? +inf] window, per spec.md §4.6.
func Subtree(ctx context.Context, st *store.Store, root model.SpanID) ([]*model.Span, []*model.Event, error) {
	rootSpan, ok := st.GetSpan(root)
	if !ok {
		return nil, nil, venatorerr.ErrUnknownSpan
	}
	lo, hi := rootSpan.CreatedAt, rootSpan.ClosedAtOrInf()

	var spans []*model.Span
	var events []*model.Event

	var walk func(model.SpanID) error
	walk = func(parent model.SpanID) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		for _, e := range st.SpanChildren(parent) {
			child, ok := st.GetSpan(e.ID)
			if !ok || child.CreatedAt < lo || child.CreatedAt > hi {
				continue
			}
			spans = append(spans, child)
			if err := walk(child.ID); err != nil {
				return err
			}
		}
		for _, e := range st.EventChildren(parent) {
			ev, ok := st.GetEvent(e.ID)
			if ok && ev.Timestamp >= lo && ev.Timestamp <= hi {
				events = append(events, ev)
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return spans, events, nil
	}
	return spans, events, nil
}

// OpenAt intersects the open-span table with spans created at or before t,
// applying the compiled residual, per spec.md §4.6.
func OpenAt(ctx context.Context, st *store.Store, compiled *filterql.Compiled, t int64) ([]*model.Span, error) {
	open := st.OpenSpans()
	var out []*model.Span
	for id := range open {
		select {
		case <-ctx.Done():
			return out, nil
		default:
		}
		sp, ok := st.GetSpan(id)
		if !ok || sp.CreatedAt > t {
			continue
		}
		view := store.NewSpanView(st, sp)
		if compiled.Eval(view) {
			out = append(out, sp)
		}
	}
	return out, nil
}

func prometheusTimer(driver string) func() {
	start := time.Now()
	return func() {
		metrics.QueryDuration.WithLabelValues("query", driver).Observe(time.Since(start).Seconds())
	}
}
