package store

import (
	"sync"

	"go.uber.org/atomic"
)

// AttrFrequency counts how often each unindexed attribute is filtered on
// residual-only (no standing index to drive the query), resolving §9's
// "eager on configured list vs. adaptive on query frequency" open question
// as: eager creation stays the only way an index is actually built, but a
// crossed-threshold count is surfaced as a one-time recommendation so an
// operator can add the name to Config.IndexedAttributes.
type AttrFrequency struct {
	mu        sync.Mutex
	counts    map[string]*atomic.Int64
	recommend map[string]bool
}

func NewAttrFrequency() *AttrFrequency {
	return &AttrFrequency{
		counts:    make(map[string]*atomic.Int64),
		recommend: make(map[string]bool),
	}
}

// Record increments name's residual-query count and reports whether this
// call just crossed threshold for the first time.
func (f *AttrFrequency) Record(name string, threshold int64) (crossed bool) {
	f.mu.Lock()
	c, ok := f.counts[name]
	if !ok {
		c = atomic.NewInt64(0)
		f.counts[name] = c
	}
	f.mu.Unlock()

	n := c.Inc()
	if n < threshold {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recommend[name] {
		return false
	}
	f.recommend[name] = true
	return true
}
