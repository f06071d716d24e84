// Package venator is an embedded ingestion-and-query engine for structured
// traces, spans and events: a single process holds the full working set in
// memory, indexes it for low-latency filtered queries, and optionally
// write-behinds it to a local SQLite file for crash recovery.
package venator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/segfaults/venator/internal/filterql"
	"github.com/segfaults/venator/internal/ingest"
	"github.com/segfaults/venator/internal/model"
	"github.com/segfaults/venator/internal/persist"
	"github.com/segfaults/venator/internal/query"
	"github.com/segfaults/venator/internal/store"
)

// Stats is the snapshot returned by Engine.Stats, per spec.md §6.1.
type Stats struct {
	EventCount    int
	SpanCount     int
	OpenSpanCount int
	ResourceCount int
	Degraded      bool
	BytesOnDisk   *int64
}

// Engine wires together the Store, Ingest writer, query engine and
// optional Persister behind the API spec.md §6.1 describes, the way
// cmd/frigg/app.App wires distributor/ingester/store behind App's methods.
type Engine struct {
	cfg Config
	log log.Logger

	store     *store.Store
	ingest    *ingest.Ingest
	persister *persist.Persister
	db        *sql.DB
	bus       *liveBus
}

// engineSink hands finished records from Ingest off to persistence and to
// live subscribers, implementing ingest.Sink.
type engineSink struct {
	persister *persist.Persister
	bus       *liveBus
}

func (s *engineSink) SpanOpened(sp *model.Span) {
	if s.persister != nil {
		s.persister.SpanOpened(sp)
	}
	s.bus.publishSpan(sp)
}

func (s *engineSink) SpanClosed(sp *model.Span) {
	if s.persister != nil {
		s.persister.SpanClosed(sp)
	}
	s.bus.publishSpan(sp)
}

func (s *engineSink) EventInserted(e *model.Event) {
	if s.persister != nil {
		s.persister.EventInserted(e)
	}
	s.bus.publishEvent(e)
}

// New builds an Engine from cfg. If cfg.DatasetPath is non-empty, the
// on-disk database is opened (created if absent), replayed into Store, and
// a write-behind Persister is started; otherwise the engine runs
// memory-only.
func New(cfg Config, logger log.Logger) (*Engine, error) {
	cfg.RegisterDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	st := store.New(cfg.IndexedAttributes)
	bus := newLiveBus(st)

	e := &Engine{cfg: cfg, log: logger, store: st, bus: bus}

	sink := &engineSink{bus: bus}
	ig := ingest.New(ingest.Config{
		PendingParentCapacity: cfg.PendingParentCapacity,
		PendingParentTTL:      cfg.PendingParentTTL,
	}, st, sink, logger)

	if cfg.DatasetPath != "" {
		db, err := persist.Open(cfg.DatasetPath)
		if err != nil {
			return nil, fmt.Errorf("venator: open dataset: %w", err)
		}
		e.db = db

		result, err := persist.Replay(db, st)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("venator: replay dataset: %w", err)
		}
		lastTS := make(map[model.ResourceID]int64, len(result.States))
		for id, s := range result.States {
			lastTS[id] = s.LastTS
		}
		ig.Seed(lastTS, result.LocalToSpan)

		e.persister = persist.New(persist.Config{
			BatchMaxBytes: cfg.PersistBatchBytes,
			BatchMaxAge:   cfg.PersistBatchMaxAge,
			QueueCapacity: cfg.PersistQueueDepth,
		}, db, logger)
		sink.persister = e.persister
	}

	e.ingest = ig

	level.Info(logger).Log("msg", "engine started", "dataset_path", cfg.DatasetPath)
	return e, nil
}

// Close stops the pending-parent sweeper and drains the persistence queue.
func (e *Engine) Close() {
	e.ingest.Close()
	if e.persister != nil {
		e.persister.Close()
	}
	if e.db != nil {
		e.db.Close()
	}
}

// InsertResource registers a newly connected resource, per spec.md §4.3.
func (e *Engine) InsertResource(connectedAt int64, attrs map[string]model.Value) model.ResourceID {
	id := e.ingest.InsertResource(connectedAt, attrs)
	if e.persister != nil {
		e.persister.ResourceConnected(id, connectedAt, attrs)
	}
	return id
}

// UpdateResourceAttributes merges attrs into a resource not yet frozen by
// a span/event insertion.
func (e *Engine) UpdateResourceAttributes(id model.ResourceID, attrs map[string]model.Value) error {
	if err := e.ingest.UpdateResourceAttributes(id, attrs); err != nil {
		return err
	}
	if e.persister != nil {
		e.persister.ResourceAttributesUpdated(id, attrs)
	}
	return nil
}

// DisconnectResource marks a resource's connection closed.
func (e *Engine) DisconnectResource(id model.ResourceID, at int64) error {
	if err := e.ingest.DisconnectResource(id, at); err != nil {
		return err
	}
	if e.persister != nil {
		e.persister.ResourceDisconnected(id, at)
	}
	return nil
}

// InsertSpan opens a span under localID, a resource-local id the caller
// assigns, per spec.md §4.7's ingestion algorithm.
func (e *Engine) InsertSpan(resourceID model.ResourceID, localID uint64, hasParent bool, localParent uint64,
	createdAt int64, lvl model.Level, target, name, file string, line int32,
	attrs map[string]model.Value) (model.SpanID, error) {
	return e.ingest.InsertSpan(resourceID, localID, hasParent, localParent, createdAt, lvl, target, name, file, line, attrs)
}

// CloseSpan closes a previously opened span.
func (e *Engine) CloseSpan(id model.SpanID, closedAt int64) error {
	return e.ingest.CloseSpan(id, closedAt)
}

// InsertEvent inserts a discrete event.
func (e *Engine) InsertEvent(resourceID model.ResourceID, hasParent bool, localParent uint64,
	timestamp int64, lvl model.Level, target, name, file string, line int32,
	attrs map[string]model.Value) (model.EventID, error) {
	return e.ingest.InsertEvent(resourceID, hasParent, localParent, timestamp, lvl, target, name, file, line, attrs)
}

// residualAttrThreshold is the residual-query count past which an
// unindexed attribute earns a one-time log recommendation to add it to
// Config.IndexedAttributes.
const residualAttrThreshold = 1000

func (e *Engine) compile(filterText string) (*filterql.Compiled, error) {
	f, err := filterql.Parse(filterText)
	if err != nil {
		return nil, err
	}
	indexed := make(map[string]bool)
	for _, name := range e.cfg.IndexedAttributes {
		indexed[name] = true
	}
	compiled, err := filterql.Compile(f, indexed)
	if err != nil {
		return nil, err
	}

	if compiled.Driver.Kind != filterql.DriverAttribute {
		for _, name := range filterql.AttributePaths(f) {
			if indexed[name] {
				continue
			}
			if e.store.AttrFreq.Record(name, residualAttrThreshold) {
				level.Info(e.log).Log("msg", "attribute filtered frequently without a standing index",
					"attribute", name, "recommendation", "add to indexed_attributes")
			}
		}
	}
	return compiled, nil
}

// QuerySpans evaluates filterText against spans, per spec.md §4.6.
func (e *Engine) QuerySpans(ctx context.Context, filterText string, window query.Window, order query.Order, limit int, cursorText string) (query.Page[*model.Span], error) {
	compiled, err := e.compile(filterText)
	if err != nil {
		return query.Page[*model.Span]{}, err
	}
	cursor, err := query.ParseCursor(cursorText)
	if err != nil {
		return query.Page[*model.Span]{}, err
	}
	return query.QuerySpans(ctx, e.store, compiled, window, order, limit, cursor)
}

// QueryEvents evaluates filterText against events, per spec.md §4.6.
func (e *Engine) QueryEvents(ctx context.Context, filterText string, window query.Window, order query.Order, limit int, cursorText string) (query.Page[*model.Event], error) {
	compiled, err := e.compile(filterText)
	if err != nil {
		return query.Page[*model.Event]{}, err
	}
	cursor, err := query.ParseCursor(cursorText)
	if err != nil {
		return query.Page[*model.Event]{}, err
	}
	return query.QueryEvents(ctx, e.store, compiled, window, order, limit, cursor)
}

// QueryCounts buckets matching events into a per-level histogram, per
// spec.md §4.6. Scoped to events: see DESIGN.md for the rationale.
func (e *Engine) QueryCounts(ctx context.Context, filterText string, window query.Window, buckets int) (query.Histogram, error) {
	compiled, err := e.compile(filterText)
	if err != nil {
		return query.Histogram{}, err
	}
	return query.CountEvents(ctx, e.store, compiled, window, buckets)
}

// Subtree returns every span and event reachable from root, per spec.md
// §4.6's subtree(root_span) operation.
func (e *Engine) Subtree(ctx context.Context, root model.SpanID) ([]*model.Span, []*model.Event, error) {
	return query.Subtree(ctx, e.store, root)
}

// OpenAt returns spans open at time t matching filterText, per spec.md
// §4.6's open_at(T) operation.
func (e *Engine) OpenAt(ctx context.Context, filterText string, t int64) ([]*model.Span, error) {
	compiled, err := e.compile(filterText)
	if err != nil {
		return nil, err
	}
	return query.OpenAt(ctx, e.store, compiled, t)
}

// SubscribeLive streams records matching filterText as they are inserted
// or closed, per spec.md §6.1. An empty filterText matches everything.
// The caller must Close the returned Subscription when done.
func (e *Engine) SubscribeLive(filterText string) (*Subscription, error) {
	var compiled *filterql.Compiled
	if filterText != "" {
		c, err := e.compile(filterText)
		if err != nil {
			return nil, err
		}
		compiled = c
	}
	return e.bus.Subscribe(compiled, e.cfg.LiveSubscriberBuffer), nil
}

// Stats reports the counts and degraded-mode flag from spec.md §6.1.
func (e *Engine) Stats() Stats {
	events, spans, openSpans, resources := e.store.Stats()
	st := Stats{EventCount: events, SpanCount: spans, OpenSpanCount: openSpans, ResourceCount: resources}
	if e.persister != nil {
		st.Degraded = e.persister.Degraded()
	}
	return st
}
