// Package metrics holds the engine's Prometheus instrumentation, collected
// in one place and registered via promauto the way friggdb.go does it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SpansOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "venator",
		Name:      "spans_opened_total",
		Help:      "Total number of spans inserted, open or already closed.",
	})
	SpansClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "venator",
		Name:      "spans_closed_total",
		Help:      "Total number of spans closed.",
	})
	EventsInsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "venator",
		Name:      "events_inserted_total",
		Help:      "Total number of events inserted.",
	})
	ResourcesConnectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "venator",
		Name:      "resources_connected_total",
		Help:      "Total number of resources connected.",
	})
	ResourcesDisconnectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "venator",
		Name:      "resources_disconnected_total",
		Help:      "Total number of resources disconnected.",
	})
	PendingOrphansGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "venator",
		Name:      "pending_parent_buffer_size",
		Help:      "Current number of records awaiting an unseen parent span.",
	})
	OrphansForcedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "venator",
		Name:      "orphans_forced_total",
		Help:      "Total number of records force-inserted as roots after exceeding the pending-parent capacity or age bound.",
	})
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "venator",
		Name:      "query_duration_seconds",
		Help:      "Time to serve a query, by operation and driving index.",
		Buckets:   prometheus.ExponentialBuckets(.0005, 2, 12),
	}, []string{"op", "driver"})
	QueryResultsScanned = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "venator",
		Name:      "query_records_scanned",
		Help:      "Number of candidate records scanned per query, by driving index.",
		Buckets:   prometheus.ExponentialBuckets(8, 4, 10),
	}, []string{"driver"})
	PersistQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "venator",
		Name:      "persist_queue_depth",
		Help:      "Current number of buffered write-behind ops awaiting commit.",
	})
	PersistBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "venator",
		Name:      "persist_batch_duration_seconds",
		Help:      "Time to commit a write-behind batch to the persistence layer.",
		Buckets:   prometheus.ExponentialBuckets(.001, 2, 10),
	})
	PersistErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "venator",
		Name:      "persist_errors_total",
		Help:      "Total number of write-behind batch commit failures.",
	})
	PersistDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "venator",
		Name:      "persist_degraded",
		Help:      "1 when the engine has entered degraded (memory-only) mode after a persistence failure, else 0.",
	})
	LiveSubscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "venator",
		Name:      "live_subscribers",
		Help:      "Current number of active subscribe_live streams.",
	})
)
