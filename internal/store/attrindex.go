package store

import (
	"fmt"
	"strings"

	"go.uber.org/atomic"

	"github.com/segfaults/venator/internal/model"
)

// attributeIndex answers (attribute_name, value) -> ordered ids by
// timestamp, created lazily on first insert of a configured attribute name,
// per spec.md §4.4. Bucket creation is rare relative to bucket appends, so
// the bucket map itself is copy-on-write while each bucket is the same
// sortedIndex used by the other auxiliary indices.
type attributeIndex[ID any] struct {
	buckets    atomic.Pointer[map[string]*sortedIndex[ID]]
	cmpID      func(a, b ID) int
	configured map[string]bool
}

func newAttributeIndex[ID any](cmpID func(a, b ID) int, configured []string) *attributeIndex[ID] {
	a := &attributeIndex[ID]{cmpID: cmpID, configured: make(map[string]bool, len(configured))}
	for _, name := range configured {
		a.configured[name] = true
	}
	empty := make(map[string]*sortedIndex[ID])
	a.buckets.Store(&empty)
	return a
}

// attrKey composes a bucket key from a dotted attribute path and value,
// including the value's Kind tag so e.g. the int64 5 and the string "5"
// never collide.
func attrKey(path []string, v model.Value) (string, bool) {
	s, ok := model.StringForm(v)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%d\x00%s\x00%s", v.Kind, strings.Join(path, "."), s), true
}

// Insert records id under the (path, value) bucket, creating it if this is
// the first record carrying that exact attribute value. Writer-only.
func (a *attributeIndex[ID]) Insert(path []string, v model.Value, key int64, id ID) {
	if !a.configured[strings.Join(path, ".")] {
		return
	}
	bk, ok := attrKey(path, v)
	if !ok {
		return
	}
	cur := *a.buckets.Load()
	bucket, exists := cur[bk]
	if !exists {
		bucket = newSortedIndex[ID](a.cmpID)
		next := make(map[string]*sortedIndex[ID], len(cur)+1)
		for k, v := range cur {
			next[k] = v
		}
		next[bk] = bucket
		a.buckets.Store(&next)
	}
	bucket.Insert(key, id)
}

// Lookup returns the snapshot for (path, value), or nil if no such bucket
// exists (no record has ever carried that exact value).
func (a *attributeIndex[ID]) Lookup(path []string, v model.Value) []Entry[ID] {
	bk, ok := attrKey(path, v)
	if !ok {
		return nil
	}
	cur := *a.buckets.Load()
	bucket, exists := cur[bk]
	if !exists {
		return nil
	}
	return bucket.Snapshot()
}

// Indexed reports whether path names a configured, indexed attribute.
func (a *attributeIndex[ID]) Indexed(name string) bool { return a.configured[name] }
