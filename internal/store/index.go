// Package store holds the Resource/Span/Event bodies and the auxiliary
// indices kept consistent with them under the single writer lock, per the
// engine's append-only, wait-free-reader design.
package store

import (
	"sort"

	"go.uber.org/atomic"
)

// Entry is one (sortKey, id) pair held by a sortedIndex.
type Entry[ID any] struct {
	Key int64
	ID  ID
}

// sortedIndex is a copy-on-write, append-sorted slice addressed through an
// atomic pointer so readers snapshot a version of the index with a single
// lock-free load, per the engine's "version-stamped snapshot pointer" rule.
// All mutation happens under the store's writer lock; Insert itself takes
// no lock of its own, generalizing friggdb/record.go's sortRecords +
// binary-search findRecord from a one-shot bulk sort to incremental,
// tie-broken-by-id insertion.
type sortedIndex[ID any] struct {
	snap  atomic.Pointer[[]Entry[ID]]
	cmpID func(a, b ID) int
}

func newSortedIndex[ID any](cmpID func(a, b ID) int) *sortedIndex[ID] {
	idx := &sortedIndex[ID]{cmpID: cmpID}
	empty := make([]Entry[ID], 0)
	idx.snap.Store(&empty)
	return idx
}

// Snapshot returns the current entry slice. Safe to iterate without any
// lock; the underlying array is never mutated in place once published.
func (s *sortedIndex[ID]) Snapshot() []Entry[ID] {
	return *s.snap.Load()
}

// Insert adds (key, id) in sorted order, tie-broken ascending by id.
// Writer-only: callers must hold the store's mutation lock.
func (s *sortedIndex[ID]) Insert(key int64, id ID) {
	cur := *s.snap.Load()

	pos := sort.Search(len(cur), func(i int) bool {
		if cur[i].Key != key {
			return cur[i].Key > key
		}
		return s.cmpID(cur[i].ID, id) >= 0
	})

	next := make([]Entry[ID], len(cur)+1)
	copy(next[:pos], cur[:pos])
	next[pos] = Entry[ID]{Key: key, ID: id}
	copy(next[pos+1:], cur[pos:])
	s.snap.Store(&next)
}

// Len reports the current entry count. Writer-only convenience; readers
// should use len(Snapshot()) to avoid a second, possibly-stale load.
func (s *sortedIndex[ID]) Len() int {
	return len(*s.snap.Load())
}

// lowerBound returns the first index i in entries such that entries[i].Key
// >= key, for positioning a driving index at a window's leading edge.
func lowerBound[ID any](entries []Entry[ID], key int64) int {
	return sort.Search(len(entries), func(i int) bool { return entries[i].Key >= key })
}

// upperBound returns the first index i in entries such that entries[i].Key
// > key.
func upperBound[ID any](entries []Entry[ID], key int64) int {
	return sort.Search(len(entries), func(i int) bool { return entries[i].Key > key })
}
