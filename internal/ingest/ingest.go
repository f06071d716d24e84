// Package ingest is the engine's only writer: it assigns ids, resolves
// parent links (holding unresolved children in a bounded pending buffer),
// snapshots inherited attributes, and hands finished records to the store
// and persistence queue.
package ingest

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/segfaults/venator/internal/metrics"
	"github.com/segfaults/venator/internal/model"
	"github.com/segfaults/venator/internal/store"
	"github.com/segfaults/venator/internal/venatorerr"
)

// Sink receives finished records after the store has accepted them, for
// hand-off to persistence and live subscribers.
type Sink interface {
	SpanOpened(*model.Span)
	SpanClosed(*model.Span)
	EventInserted(*model.Event)
}

// pendingKind distinguishes a held span from a held event so flushPending can
// finish inserting whichever kind was waiting on the parent.
type pendingKind int

const (
	pendingSpan pendingKind = iota
	pendingEvent
)

type pendingRecord struct {
	kind        pendingKind
	arrivedAt   time.Time
	resourceID  model.ResourceID
	localParent uint64

	reservedSpan model.SpanID // valid when kind == pendingSpan

	span  *spanFields
	event *eventFields
}

// spanFields are the caller-supplied fields for InsertSpan, keyed to a
// resource-local parent id the caller assigned itself (not yet a SpanID).
type spanFields struct {
	LocalParent   *uint64
	HasParent     bool
	CreatedAt     int64
	Level         model.Level
	Target, Name  string
	File          string
	Line          int32
	Attributes    map[string]model.Value
}

type eventFields struct {
	LocalParent  *uint64
	HasParent    bool
	Timestamp    int64
	Level        model.Level
	Target, Name string
	File         string
	Line         int32
	Attributes   map[string]model.Value
}

// Config bounds the pending-parent buffer, per spec.md §6.4.
type Config struct {
	PendingParentCapacity int
	PendingParentTTL      time.Duration
}

// Ingest is the engine's single writer.
type Ingest struct {
	cfg   Config
	store *store.Store
	sink  Sink
	log   log.Logger

	mu          sync.Mutex
	lastTS      map[model.ResourceID]int64
	localToSpan map[model.ResourceID]map[uint64]model.SpanID

	pendingMu sync.Mutex
	pending   map[pendingParentKey][]*pendingRecord
	pendingN  int

	stopTicker chan struct{}
}

type pendingParentKey struct {
	Resource model.ResourceID
	Local    uint64
}

func New(cfg Config, st *store.Store, sink Sink, logger log.Logger) *Ingest {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	ig := &Ingest{
		cfg:         cfg,
		store:       st,
		sink:        sink,
		log:         logger,
		lastTS:      make(map[model.ResourceID]int64),
		localToSpan: make(map[model.ResourceID]map[uint64]model.SpanID),
		pending:     make(map[pendingParentKey][]*pendingRecord),
		stopTicker:  make(chan struct{}),
	}
	if ig.cfg.PendingParentTTL > 0 {
		go ig.runPendingSweepLoop()
	}
	return ig
}

// Close stops the pending-buffer age sweep.
func (ig *Ingest) Close() { close(ig.stopTicker) }

func (ig *Ingest) runPendingSweepLoop() {
	ticker := time.NewTicker(ig.cfg.PendingParentTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ig.sweepExpired()
		case <-ig.stopTicker:
			return
		}
	}
}

// InsertResource registers a newly connected resource.
func (ig *Ingest) InsertResource(connectedAt int64, attrs map[string]model.Value) model.ResourceID {
	id := model.NewResourceID()
	r := &model.Resource{
		ID:          id,
		ConnectedAt: connectedAt,
		Attributes:  attrs,
	}
	ig.store.Lock()
	ig.store.InsertResource(r)
	ig.store.Unlock()

	ig.mu.Lock()
	ig.localToSpan[id] = make(map[uint64]model.SpanID)
	ig.mu.Unlock()

	metrics.ResourcesConnectedTotal.Inc()
	return id
}

// UpdateResourceAttributes fails with resource-frozen once any span/event
// has been recorded against the resource.
func (ig *Ingest) UpdateResourceAttributes(id model.ResourceID, attrs map[string]model.Value) error {
	ig.store.Lock()
	defer ig.store.Unlock()
	return ig.store.UpdateResourceAttributes(id, attrs)
}

// DisconnectResource marks the resource's connection closed.
func (ig *Ingest) DisconnectResource(id model.ResourceID, at int64) error {
	ig.store.Lock()
	defer ig.store.Unlock()
	if err := ig.store.DisconnectResource(id, at); err != nil {
		return err
	}
	metrics.ResourcesDisconnectedTotal.Inc()
	return nil
}

// localTaken reports whether localID has already been assigned to a
// resolved span on resourceID.
func (ig *Ingest) localTaken(resourceID model.ResourceID, localID uint64) bool {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	m, ok := ig.localToSpan[resourceID]
	if !ok {
		return false
	}
	_, taken := m[localID]
	return taken
}

func (ig *Ingest) uniqueTimestamp(resourceID model.ResourceID, ts int64) int64 {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	if last, ok := ig.lastTS[resourceID]; ok && ts <= last {
		ts = last + 1
	}
	ig.lastTS[resourceID] = ts
	return ts
}

func (ig *Ingest) resolveParent(resourceID model.ResourceID, local uint64) (model.SpanID, bool) {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	m, ok := ig.localToSpan[resourceID]
	if !ok {
		return model.SpanID{}, false
	}
	id, ok := m[local]
	return id, ok
}

func (ig *Ingest) registerSpanID(resourceID model.ResourceID, local uint64, id model.SpanID) {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	m, ok := ig.localToSpan[resourceID]
	if !ok {
		m = make(map[uint64]model.SpanID)
		ig.localToSpan[resourceID] = m
	}
	m[local] = id
}

// Seed restores the id-assignment state a replay reconstructed, so newly
// ingested records never collide with or fail to resolve against replayed
// ones. Call once at startup after the store itself has been replayed and
// before accepting live writes.
func (ig *Ingest) Seed(lastTS map[model.ResourceID]int64, localToSpan map[model.ResourceID]map[uint64]model.SpanID) {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	for resourceID, ts := range lastTS {
		ig.lastTS[resourceID] = ts
	}
	for resourceID, m := range localToSpan {
		cp := make(map[uint64]model.SpanID, len(m))
		for k, v := range m {
			cp[k] = v
		}
		ig.localToSpan[resourceID] = cp
	}
}

// inheritedAttributes walks the ancestor chain of parent, nearer scopes
// winning, and folds in the resource's own attributes last.
func (ig *Ingest) inheritedAttributes(resourceID model.ResourceID, parent *model.SpanID) map[string]model.Value {
	out := make(map[string]model.Value)

	if r, ok := ig.store.GetResource(resourceID); ok {
		for k, v := range r.Attributes {
			out[k] = v
		}
	}

	var chain []*model.Span
	cur := parent
	for cur != nil {
		sp, ok := ig.store.GetSpan(*cur)
		if !ok {
			break
		}
		chain = append(chain, sp)
		cur = sp.ParentID
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].Attributes {
			out[k] = v
		}
	}
	return out
}

// InsertSpan opens a new span under localID, a resource-local id the caller
// assigns itself (matching spec.md §3's "SpanID = (resource_id, local_id)",
// where local_id is supplied by the instrumented process so it can be
// referenced as a future child's local_parent before the span insertion
// itself has even been observed by the engine). If localParent is set but
// not yet resolvable (child arrived before parent), the insertion is held
// in the pending buffer and does not become visible in the store until the
// parent arrives or the pending entry is force-inserted as an orphan;
// InsertSpan itself never blocks.
func (ig *Ingest) InsertSpan(resourceID model.ResourceID, localID uint64, hasParent bool, localParent uint64,
	createdAt int64, lvl model.Level, target, name, file string, line int32,
	attrs map[string]model.Value) (model.SpanID, error) {

	if _, ok := ig.store.GetResource(resourceID); !ok {
		return model.SpanID{}, venatorerr.ErrUnknownResource
	}
	if localID == 0 {
		return model.SpanID{}, venatorerr.New(venatorerr.KindDuplicateID, "local id 0 is reserved")
	}
	id := model.SpanID{ResourceID: resourceID, Local: localID}
	if ig.localTaken(resourceID, localID) {
		return model.SpanID{}, venatorerr.ErrDuplicateID
	}

	if hasParent {
		if pid, ok := ig.resolveParent(resourceID, localParent); ok {
			ig.finishSpanInsert(id, &pid, createdAt, lvl, target, name, file, line, attrs)
			return id, nil
		}
		// Parent not yet seen: hold the span itself (not yet visible in
		// the store or resolvable as a parent) until it arrives.
		ig.holdPending(resourceID, localParent, &pendingRecord{
			kind: pendingSpan, arrivedAt: time.Now(), resourceID: resourceID, localParent: localParent,
			reservedSpan: id,
			span:         &spanFields{HasParent: true, CreatedAt: createdAt, Level: lvl, Target: target, Name: name, File: file, Line: line, Attributes: attrs},
		})
		return id, nil
	}

	ig.finishSpanInsert(id, nil, createdAt, lvl, target, name, file, line, attrs)
	return id, nil
}

func (ig *Ingest) finishSpanInsert(id model.SpanID, parentID *model.SpanID, createdAt int64,
	lvl model.Level, target, name, file string, line int32, attrs map[string]model.Value) {

	ig.registerSpanID(id.ResourceID, id.Local, id)
	inherited := ig.inheritedAttributes(id.ResourceID, parentID)
	sp := &model.Span{
		ID: id, ParentID: parentID, CreatedAt: createdAt,
		Level: lvl, Target: target, Name: name, File: file, Line: line,
		Attributes: attrs, InheritedAttributes: inherited,
	}

	ig.store.Lock()
	ig.store.InsertSpanOpen(sp)
	ig.store.Unlock()

	metrics.SpansOpenTotal.Inc()
	if ig.sink != nil {
		ig.sink.SpanOpened(sp)
	}

	ig.flushPending(id)
}

// CloseSpan closes an open span by its full SpanID.
func (ig *Ingest) CloseSpan(id model.SpanID, closedAt int64) error {
	ig.store.Lock()
	err := ig.store.CloseSpan(id, closedAt)
	ig.store.Unlock()
	if err != nil {
		return err
	}
	metrics.SpansClosedTotal.Inc()
	if ig.sink != nil {
		if sp, ok := ig.store.GetSpan(id); ok {
			ig.sink.SpanClosed(sp)
		}
	}
	return nil
}

// InsertEvent inserts a discrete event, uniquifying its timestamp within
// the resource and holding it in the pending buffer if its parent hasn't
// arrived yet.
func (ig *Ingest) InsertEvent(resourceID model.ResourceID, hasParent bool, localParent uint64,
	timestamp int64, lvl model.Level, target, name, file string, line int32,
	attrs map[string]model.Value) (model.EventID, error) {

	if _, ok := ig.store.GetResource(resourceID); !ok {
		return model.EventID{}, venatorerr.ErrUnknownResource
	}

	ts := ig.uniqueTimestamp(resourceID, timestamp)
	id := model.EventID{ResourceID: resourceID, Timestamp: ts}

	if hasParent {
		if pid, ok := ig.resolveParent(resourceID, localParent); ok {
			ig.finishEventInsert(id, &pid, ts, lvl, target, name, file, line, attrs)
			return id, nil
		}
		// Parent not yet seen: hold the event until it arrives.
		ig.holdPending(resourceID, localParent, &pendingRecord{
			kind: pendingEvent, arrivedAt: time.Now(), resourceID: resourceID, localParent: localParent,
			event: &eventFields{HasParent: true, Timestamp: ts, Level: lvl, Target: target, Name: name, File: file, Line: line, Attributes: attrs},
		})
		return id, nil
	}

	ig.finishEventInsert(id, nil, ts, lvl, target, name, file, line, attrs)
	return id, nil
}

func (ig *Ingest) finishEventInsert(id model.EventID, parentID *model.SpanID, ts int64,
	lvl model.Level, target, name, file string, line int32, attrs map[string]model.Value) {

	inherited := ig.inheritedAttributes(id.ResourceID, parentID)
	e := &model.Event{
		ID: id, ParentID: parentID, Timestamp: ts,
		Level: lvl, Target: target, Name: name, File: file, Line: line,
		Attributes: attrs, InheritedAttributes: inherited,
	}

	ig.store.Lock()
	ig.store.InsertEvent(e)
	ig.store.Unlock()

	metrics.EventsInsertedTotal.Inc()
	if ig.sink != nil {
		ig.sink.EventInserted(e)
	}
}

// holdPending buffers a record awaiting its parent's arrival, force-
// inserting the oldest entry as a root if the buffer is at capacity.
func (ig *Ingest) holdPending(resourceID model.ResourceID, localParent uint64, rec *pendingRecord) {
	key := pendingParentKey{Resource: resourceID, Local: localParent}

	ig.pendingMu.Lock()
	if ig.cfg.PendingParentCapacity > 0 && ig.pendingN >= ig.cfg.PendingParentCapacity {
		ig.pendingMu.Unlock()
		ig.forceOldestOrphan()
		ig.pendingMu.Lock()
	}
	ig.pending[key] = append(ig.pending[key], rec)
	ig.pendingN++
	ig.pendingMu.Unlock()

	metrics.PendingOrphansGauge.Set(float64(ig.pendingN))
}

// flushPending finishes inserting every record waiting on parentSpan, in
// arrival order, now that the parent exists.
func (ig *Ingest) flushPending(parentSpan model.SpanID) {
	key := pendingParentKey{Resource: parentSpan.ResourceID, Local: parentSpan.Local}

	ig.pendingMu.Lock()
	recs, ok := ig.pending[key]
	if ok {
		delete(ig.pending, key)
		ig.pendingN -= len(recs)
	}
	ig.pendingMu.Unlock()
	if !ok {
		return
	}
	metrics.PendingOrphansGauge.Set(float64(ig.pendingN))

	parent := parentSpan
	for _, rec := range recs {
		switch rec.kind {
		case pendingSpan:
			ig.finishSpanInsert(rec.reservedSpan, &parent, rec.span.CreatedAt, rec.span.Level,
				rec.span.Target, rec.span.Name, rec.span.File, rec.span.Line, rec.span.Attributes)
		case pendingEvent:
			ig.finishEventInsert(model.EventID{ResourceID: rec.resourceID, Timestamp: rec.event.Timestamp},
				&parent, rec.event.Timestamp, rec.event.Level, rec.event.Target, rec.event.Name,
				rec.event.File, rec.event.Line, rec.event.Attributes)
		}
	}
}

// sweepExpired force-inserts pending records older than the TTL as roots.
func (ig *Ingest) sweepExpired() {
	cutoff := time.Now().Add(-ig.cfg.PendingParentTTL)

	ig.pendingMu.Lock()
	var expired []*pendingRecord
	for key, recs := range ig.pending {
		kept := recs[:0]
		for _, r := range recs {
			if r.arrivedAt.Before(cutoff) {
				expired = append(expired, r)
			} else {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(ig.pending, key)
		} else {
			ig.pending[key] = kept
		}
	}
	ig.pendingN -= len(expired)
	ig.pendingMu.Unlock()

	for _, rec := range expired {
		ig.forceInsertOrphan(rec)
	}
	if len(expired) > 0 {
		level.Warn(ig.log).Log("msg", "force-inserted orphaned pending records", "count", len(expired))
		metrics.PendingOrphansGauge.Set(float64(ig.pendingN))
	}
}

// forceOldestOrphan evicts and force-inserts the single oldest pending
// record across all parent keys, used when the buffer is at capacity.
func (ig *Ingest) forceOldestOrphan() {
	ig.pendingMu.Lock()
	var oldestKey pendingParentKey
	var oldest *pendingRecord
	for key, recs := range ig.pending {
		if len(recs) == 0 {
			continue
		}
		if oldest == nil || recs[0].arrivedAt.Before(oldest.arrivedAt) {
			oldest = recs[0]
			oldestKey = key
		}
	}
	if oldest == nil {
		ig.pendingMu.Unlock()
		return
	}
	recs := ig.pending[oldestKey]
	ig.pending[oldestKey] = recs[1:]
	if len(ig.pending[oldestKey]) == 0 {
		delete(ig.pending, oldestKey)
	}
	ig.pendingN--
	ig.pendingMu.Unlock()

	ig.forceInsertOrphan(oldest)
}

// orphanAttrName is the synthetic marker attached to force-inserted records
// whose real parent never arrived in time.
const orphanAttrName = "venator.orphan"

func (ig *Ingest) forceInsertOrphan(rec *pendingRecord) {
	metrics.OrphansForcedTotal.Inc()
	switch rec.kind {
	case pendingSpan:
		attrs := withOrphanMarker(rec.span.Attributes)
		ig.finishSpanInsert(rec.reservedSpan, nil, rec.span.CreatedAt, rec.span.Level,
			rec.span.Target, rec.span.Name, rec.span.File, rec.span.Line, attrs)
	case pendingEvent:
		attrs := withOrphanMarker(rec.event.Attributes)
		id := model.EventID{ResourceID: rec.resourceID, Timestamp: rec.event.Timestamp}
		ig.finishEventInsert(id, nil, rec.event.Timestamp, rec.event.Level,
			rec.event.Target, rec.event.Name, rec.event.File, rec.event.Line, attrs)
	}
}

func withOrphanMarker(attrs map[string]model.Value) map[string]model.Value {
	out := make(map[string]model.Value, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	out[orphanAttrName] = model.BoolValue(true)
	return out
}
