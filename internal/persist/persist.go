// Package persist is the engine's optional durability layer: a bounded
// write-behind queue draining into a single-file SQLite database, plus
// startup replay, per spec.md §4.8.
package persist

import (
	"database/sql"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/segfaults/venator/internal/metrics"
	"github.com/segfaults/venator/internal/model"
)

// opKind names the row being written; one write-behind queue serves all
// record kinds so ordering across resources is preserved as it was
// observed by Ingestion.
type opKind int

const (
	opResource opKind = iota
	opResourceAttr
	opSpan
	opSpanClose
	opSpanAttr
	opEvent
	opEventAttr
	opResourceDisconnect
)

type op struct {
	kind opKind

	resourceID model.ResourceID
	spanID     model.SpanID
	eventID    model.EventID

	connectedAt, at int64

	span  *model.Span
	event *model.Event

	attrName   string
	attrValue  model.Value
	attrDirect bool
}

// Config bounds the write-behind batcher, per spec.md §6.4.
type Config struct {
	BatchMaxBytes int
	BatchMaxAge   time.Duration
	QueueCapacity int
}

// Persister drains enqueued ops into SQLite in size/latency-bounded
// batches, generalizing friggdb's WAL-block-then-ship-to-backend pipeline
// from immutable trace blocks to relational batch rows.
type Persister struct {
	cfg Config
	db  *sql.DB
	log log.Logger

	queue chan op
	done  chan struct{}

	degradedMu sync.Mutex
	degraded   bool
}

func New(cfg Config, db *sql.DB, logger log.Logger) *Persister {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 4096
	}
	if cfg.BatchMaxAge <= 0 {
		cfg.BatchMaxAge = 100 * time.Millisecond
	}
	if cfg.BatchMaxBytes <= 0 {
		cfg.BatchMaxBytes = 8 << 20
	}
	p := &Persister{
		cfg:   cfg,
		db:    db,
		log:   logger,
		queue: make(chan op, cfg.QueueCapacity),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Degraded reports whether a prior commit failure has put the engine into
// memory-only mode, per spec.md §7's storage-error policy.
func (p *Persister) Degraded() bool {
	p.degradedMu.Lock()
	defer p.degradedMu.Unlock()
	return p.degraded
}

func (p *Persister) setDegraded() {
	p.degradedMu.Lock()
	p.degraded = true
	p.degradedMu.Unlock()
	metrics.PersistDegraded.Set(1)
}

// Close drains remaining ops and stops the writer goroutine.
func (p *Persister) Close() {
	close(p.queue)
	<-p.done
}

func (p *Persister) enqueue(o op) {
	if p.Degraded() {
		return
	}
	select {
	case p.queue <- o:
		metrics.PersistQueueDepth.Set(float64(len(p.queue)))
	default:
		// Queue full: drop to memory-only for this op rather than block
		// ingestion, which must never stall on a slow persistence task.
		level.Warn(p.log).Log("msg", "persist queue full, dropping write")
	}
}

func (p *Persister) ResourceConnected(id model.ResourceID, connectedAt int64, attrs map[string]model.Value) {
	p.enqueue(op{kind: opResource, resourceID: id, connectedAt: connectedAt})
	for k, v := range attrs {
		p.enqueue(op{kind: opResourceAttr, resourceID: id, attrName: k, attrValue: v})
	}
}

// ResourceAttributesUpdated persists an attribute merge against an
// already-connected resource without touching its connected_at/
// disconnected_at row.
func (p *Persister) ResourceAttributesUpdated(id model.ResourceID, attrs map[string]model.Value) {
	for k, v := range attrs {
		p.enqueue(op{kind: opResourceAttr, resourceID: id, attrName: k, attrValue: v})
	}
}

func (p *Persister) ResourceDisconnected(id model.ResourceID, at int64) {
	p.enqueue(op{kind: opResourceDisconnect, resourceID: id, at: at})
}

func (p *Persister) SpanOpened(sp *model.Span) {
	p.enqueue(op{kind: opSpan, spanID: sp.ID, span: sp})
	for k, v := range sp.Attributes {
		p.enqueue(op{kind: opSpanAttr, spanID: sp.ID, attrName: k, attrValue: v, attrDirect: true})
	}
	for k, v := range sp.InheritedAttributes {
		p.enqueue(op{kind: opSpanAttr, spanID: sp.ID, attrName: k, attrValue: v, attrDirect: false})
	}
}

func (p *Persister) SpanClosed(sp *model.Span) {
	p.enqueue(op{kind: opSpanClose, spanID: sp.ID, at: sp.ClosedAt.Load()})
}

func (p *Persister) EventInserted(e *model.Event) {
	p.enqueue(op{kind: opEvent, eventID: e.ID, event: e})
	for k, v := range e.Attributes {
		p.enqueue(op{kind: opEventAttr, eventID: e.ID, attrName: k, attrValue: v, attrDirect: true})
	}
	for k, v := range e.InheritedAttributes {
		p.enqueue(op{kind: opEventAttr, eventID: e.ID, attrName: k, attrValue: v, attrDirect: false})
	}
}

func (p *Persister) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.BatchMaxAge)
	defer ticker.Stop()

	var batch []op
	batchBytes := 0
	closed := false

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := p.commitBatch(batch); err != nil {
			level.Warn(p.log).Log("msg", "persist batch commit failed, entering degraded mode", "err", err)
			metrics.PersistErrorsTotal.Inc()
			p.setDegraded()
		}
		metrics.PersistBatchDuration.Observe(time.Since(start).Seconds())
		batch = batch[:0]
		batchBytes = 0
	}

	for !closed {
		select {
		case o, ok := <-p.queue:
			if !ok {
				closed = true
				break
			}
			batch = append(batch, o)
			batchBytes += estimateOpBytes(o)
			metrics.PersistQueueDepth.Set(float64(len(p.queue)))
			if batchBytes >= p.cfg.BatchMaxBytes {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
	flush()
}

func estimateOpBytes(o op) int {
	base := 64
	if o.span != nil {
		base += len(o.span.Target) + len(o.span.Name) + len(o.span.File)
	}
	if o.event != nil {
		base += len(o.event.Target) + len(o.event.Name) + len(o.event.File)
	}
	base += len(o.attrName) + len(EncodeValue(o.attrValue))
	return base
}
