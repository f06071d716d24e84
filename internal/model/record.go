package model

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Level is the severity of a Span or Event, ordered TRACE < DEBUG < INFO <
// WARN < ERROR as in spec.md's data model.
type Level uint8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LevelFromString parses a level name; ok is false for anything else.
func LevelFromString(s string) (Level, bool) {
	switch s {
	case "TRACE":
		return LevelTrace, true
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	default:
		return 0, false
	}
}

// ResourceID identifies an instrumented process instance. Backed by a UUID
// rather than a raw byte slice so it is comparable and usable as a map key,
// matching the spec's "128-bit, assigned" requirement.
type ResourceID uuid.UUID

func NewResourceID() ResourceID { return ResourceID(uuid.New()) }
func (r ResourceID) String() string { return uuid.UUID(r).String() }

// ParseResourceID parses the canonical UUID text form used in #parent
// equality comparisons and persisted row ids.
func ParseResourceID(s string) (ResourceID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ResourceID{}, false
	}
	return ResourceID(id), true
}

// SpanID is globally unique as (resource_id, local_id), per spec.md §3.
type SpanID struct {
	ResourceID ResourceID
	Local      uint64
}

// EventID is (resource_id, timestamp) after Ingestion's uniquification of
// colliding timestamps within a resource.
type EventID struct {
	ResourceID ResourceID
	Timestamp  int64
}

// String renders the canonical "<resource-uuid>:<local>" form used for
// #parent comparisons and UI round-trip.
func (s SpanID) String() string { return fmt.Sprintf("%s:%d", s.ResourceID, s.Local) }

// Resource is an instrumented process instance.
type Resource struct {
	ID            ResourceID
	ConnectedAt   int64 // monotonic UTC nanoseconds
	DisconnectedAt atomic.Int64 // 0 means still connected
	Attributes    map[string]Value

	// Frozen becomes true the first time a span or event is recorded
	// against this resource; UpdateResourceAttributes then fails.
	Frozen atomic.Bool
}

// IsDisconnected reports whether the resource's connection has closed,
// using a lock-free atomic load per the engine's wait-free-reader design.
func (r *Resource) IsDisconnected() bool { return r.DisconnectedAt.Load() != 0 }

// Span is a time-bounded operation.
type Span struct {
	ID        SpanID
	ParentID  *SpanID
	CreatedAt int64
	ClosedAt  atomic.Int64 // 0 while open

	Level  Level
	Target string
	Name   string
	File   string
	Line   int32

	Attributes          map[string]Value
	InheritedAttributes map[string]Value
}

// IsOpen reports whether the span is still open, via a lock-free atomic
// load of ClosedAt (0 == open).
func (s *Span) IsOpen() bool { return s.ClosedAt.Load() == 0 }

// ClosedAtOrInf returns ClosedAt if closed, or math.MaxInt64 if still open,
// for use as the upper bound of the secondary closed-span timestamp index.
func (s *Span) ClosedAtOrInf() int64 {
	if c := s.ClosedAt.Load(); c != 0 {
		return c
	}
	return int64(^uint64(0) >> 1)
}

// Event is a discrete, immutable-after-insertion log-like record.
type Event struct {
	ID        EventID
	ParentID  *SpanID
	Timestamp int64

	Level  Level
	Target string
	Name   string
	File   string
	Line   int32

	Attributes          map[string]Value
	InheritedAttributes map[string]Value
}
