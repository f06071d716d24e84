// Package venatorerr defines the error kinds surfaced by the engine, per the
// error handling design: parse errors, type mismatches, missing entities,
// frozen resources, storage degradation and cancellation/deadlines.
package venatorerr

import "fmt"

// Kind classifies an engine error so callers can branch with errors.Is
// without parsing strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindParse
	KindTypeMismatch
	KindUnknownSpan
	KindUnknownResource
	KindResourceFrozen
	KindStorage
	KindCapacity
	KindCancelled
	KindDeadlineExceeded
	KindDuplicateID
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse-error"
	case KindTypeMismatch:
		return "type-mismatch"
	case KindUnknownSpan:
		return "unknown-span"
	case KindUnknownResource:
		return "unknown-resource"
	case KindResourceFrozen:
		return "resource-frozen"
	case KindStorage:
		return "storage-error"
	case KindCapacity:
		return "capacity"
	case KindCancelled:
		return "cancelled"
	case KindDeadlineExceeded:
		return "deadline-exceeded"
	case KindDuplicateID:
		return "duplicate-id"
	default:
		return "unknown"
	}
}

// Error is a typed engine error. Errors of the same Kind compare equal
// under errors.Is regardless of message, matching the sentinel-per-kind
// idiom the teacher uses for its own backend.Err* values.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, venatorerr.New(KindUnknownSpan, "")) match any
// error of the same kind, independent of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Sentinels for errors.Is comparisons against a specific kind without
// caring about the message.
var (
	ErrUnknownSpan       = New(KindUnknownSpan, "")
	ErrUnknownResource   = New(KindUnknownResource, "")
	ErrResourceFrozen    = New(KindResourceFrozen, "")
	ErrCapacity          = New(KindCapacity, "")
	ErrCancelled         = New(KindCancelled, "")
	ErrDeadlineExceeded  = New(KindDeadlineExceeded, "")
	ErrTypeMismatch      = New(KindTypeMismatch, "")
	ErrDuplicateID       = New(KindDuplicateID, "")
)
