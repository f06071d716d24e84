package query

import (
	"sort"

	"github.com/segfaults/venator/internal/store"
)

// Window is the caller-supplied nanosecond bound; either side optional.
type Window struct {
	Start *int64
	End   *int64
}

// intersect narrows w by a filter-embedded clamp (e.g. "#connected >= T"),
// taking the tighter of the two bounds on each side.
func (w Window) intersect(start, end *int64) Window {
	out := w
	if start != nil && (out.Start == nil || *start > *out.Start) {
		out.Start = start
	}
	if end != nil && (out.End == nil || *end < *out.End) {
		out.End = end
	}
	return out
}

// mergeSources performs an ascending k-way merge of already-sorted entry
// slices, tie-breaking on id via cmpID, per spec.md §4.6's tournament-merge
// requirement for multi-source drivers (e.g. level >= L across several
// per-level indices). Always ascending: clampWindow's binary search
// assumes an ascending slice, so callers that need Descending order
// reverse the already-clamped result instead of merging backwards.
func mergeSources[ID any](sources [][]store.Entry[ID], cmpID func(a, b ID) int) []store.Entry[ID] {
	idx := make([]int, len(sources))
	total := 0
	for _, s := range sources {
		total += len(s)
	}
	out := make([]store.Entry[ID], 0, total)

	for {
		best := -1
		for i, s := range sources {
			if idx[i] >= len(s) {
				continue
			}
			if best == -1 {
				best = i
				continue
			}
			if compareEntry(s[idx[i]], sources[best][idx[best]], cmpID) < 0 {
				best = i
			}
		}
		if best == -1 {
			break
		}
		out = append(out, sources[best][idx[best]])
		idx[best]++
	}
	return out
}

func compareEntry[ID any](a, b store.Entry[ID], cmpID func(x, y ID) int) int {
	switch {
	case a.Key < b.Key:
		return -1
	case a.Key > b.Key:
		return 1
	default:
		return cmpID(a.ID, b.ID)
	}
}

// clampWindow trims entries to [start, end], both optional.
func clampWindow[ID any](entries []store.Entry[ID], w Window) []store.Entry[ID] {
	lo := 0
	hi := len(entries)
	if w.Start != nil {
		lo = sort.Search(len(entries), func(i int) bool { return entries[i].Key >= *w.Start })
	}
	if w.End != nil {
		hi = sort.Search(len(entries), func(i int) bool { return entries[i].Key > *w.End })
	}
	if lo > hi {
		lo = hi
	}
	return entries[lo:hi]
}

// afterCursor trims entries to those strictly after cursor in order: it
// resumes just past the entry whose key and id string match the cursor, or
// at the first entry whose key lies beyond the cursor key in that order.
func afterCursor[ID any](entries []store.Entry[ID], cursor Cursor, idString func(ID) string, order Order, cmpID func(a, b ID) int) []store.Entry[ID] {
	if cursor.ID == "" {
		return entries
	}
	for i, e := range entries {
		if e.Key == cursor.Key && idString(e.ID) == cursor.ID {
			return entries[i+1:]
		}
		if order == Ascending && e.Key > cursor.Key {
			return entries[i:]
		}
		if order == Descending && e.Key < cursor.Key {
			return entries[i:]
		}
	}
	return nil
}

// reversed returns entries in the opposite order, for Descending queries
// where the driving index is stored ascending.
func reversed[ID any](entries []store.Entry[ID]) []store.Entry[ID] {
	out := make([]store.Entry[ID], len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}
