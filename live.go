package venator

import (
	"sync"
	"sync/atomic"

	"github.com/segfaults/venator/internal/filterql"
	"github.com/segfaults/venator/internal/model"
	"github.com/segfaults/venator/internal/store"

	"github.com/segfaults/venator/internal/metrics"
)

// RecordKind distinguishes the two record shapes a live subscription can
// push.
type RecordKind int

const (
	RecordSpan RecordKind = iota
	RecordEvent
)

// LiveRecord is one push to a subscribe_live stream: exactly one of Span or
// Event is set, per RecordKind.
type LiveRecord struct {
	Kind  RecordKind
	Span  *model.Span
	Event *model.Event
}

// Subscription is a single subscribe_live stream. Records arrive on C,
// best-effort: under backpressure the oldest unread record is dropped to
// make room for the newest, rather than blocking ingestion.
type Subscription struct {
	C <-chan LiveRecord

	bus    *liveBus
	id     uint64
	ch     chan LiveRecord
	closed atomic.Bool
}

// Close unsubscribes; further pushes matching this subscription are
// silently skipped.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.bus.remove(s.id)
	close(s.ch)
}

type liveSubscriber struct {
	id       uint64
	compiled *filterql.Compiled
	ch       chan LiveRecord
}

// liveBus fans out newly inserted/closed records to subscribers, coalescing
// on a slow consumer instead of blocking the writer — the same
// drop-rather-than-stall policy Ingestion applies to its own pending buffer
// and Persister applies to its write-behind queue.
type liveBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*liveSubscriber
	store  *store.Store
}

func newLiveBus(st *store.Store) *liveBus {
	return &liveBus{subs: make(map[uint64]*liveSubscriber), store: st}
}

// Subscribe registers a filter and returns a Subscription whose channel is
// buffered to bufferSize records.
func (b *liveBus) Subscribe(compiled *filterql.Compiled, bufferSize int) *Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan LiveRecord, bufferSize)
	b.subs[id] = &liveSubscriber{id: id, compiled: compiled, ch: ch}
	b.mu.Unlock()

	metrics.LiveSubscribersGauge.Inc()
	return &Subscription{C: ch, bus: b, id: id, ch: ch}
}

func (b *liveBus) remove(id uint64) {
	b.mu.Lock()
	_, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		metrics.LiveSubscribersGauge.Dec()
	}
}

func (b *liveBus) publishSpan(sp *model.Span) {
	b.publish(LiveRecord{Kind: RecordSpan, Span: sp}, store.NewSpanView(b.store, sp))
}

func (b *liveBus) publishEvent(e *model.Event) {
	b.publish(LiveRecord{Kind: RecordEvent, Event: e}, store.NewEventView(b.store, e))
}

func (b *liveBus) publish(rec LiveRecord, view filterql.RecordView) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.compiled != nil && !sub.compiled.Eval(view) {
			continue
		}
		select {
		case sub.ch <- rec:
		default:
			// Slow consumer: drop the oldest queued record to make room,
			// never block the writer on a subscriber that isn't draining.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- rec:
			default:
			}
		}
	}
}
