package query

import (
	"context"

	"github.com/segfaults/venator/internal/filterql"
	"github.com/segfaults/venator/internal/store"
)

// Histogram is a per-bucket, per-level event count, per spec.md §4.6's
// counting-query shape. Bucket boundaries are equal-width divisions of the
// query window.
type Histogram struct {
	BucketStart []int64
	BucketEnd   []int64
	Counts      [][5]int64 // Counts[bucket][level]
}

// CountEvents tallies the same candidate stream QueryEvents would produce,
// bucketing into buckets equal-width intervals per level, without
// returning record bodies. Counting queries run over events: the
// console's dominant "how many of these happened, and when" use case is
// log-event volume, not span volume, so query_counts is scoped to events.
func CountEvents(ctx context.Context, st *store.Store, compiled *filterql.Compiled, window Window, buckets int) (Histogram, error) {
	if buckets < 1 {
		buckets = 1
	}
	w := window.intersect(compiled.Window.Start, compiled.Window.End)

	var start, end int64
	if w.Start != nil {
		start = *w.Start
	}
	if w.End != nil {
		end = *w.End
	} else {
		end = start
	}
	if end <= start {
		end = start + 1
	}
	width := (end - start) / int64(buckets)
	if width < 1 {
		width = 1
	}

	hist := Histogram{
		BucketStart: make([]int64, buckets),
		BucketEnd:   make([]int64, buckets),
		Counts:      make([][5]int64, buckets),
	}
	for i := 0; i < buckets; i++ {
		hist.BucketStart[i] = start + int64(i)*width
		hist.BucketEnd[i] = start + int64(i+1)*width
	}

	merged := mergeSources(eventSources(st, compiled.Driver), cmpEventIDStr)
	merged = clampWindow(merged, w)

	for _, e := range merged {
		select {
		case <-ctx.Done():
			return hist, nil
		default:
		}
		ev, ok := st.GetEvent(e.ID)
		if !ok {
			continue
		}
		view := store.NewEventView(st, ev)
		if !compiled.Eval(view) {
			continue
		}
		b := int((ev.Timestamp - start) / width)
		if b < 0 {
			b = 0
		}
		if b >= buckets {
			b = buckets - 1
		}
		lvl := int(ev.Level)
		if lvl < 0 || lvl >= 5 {
			continue
		}
		hist.Counts[b][lvl]++
	}

	return hist, nil
}
