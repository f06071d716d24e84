package filterql

import "fmt"

// parseErr is a position-tagged filter parse error. Kind is one of
// unexpected-token, unknown-property, type-mismatch, bad-regex,
// bad-duration, per the engine's error-kind taxonomy.
type parseErr struct {
	pos    int
	kind   string
	reason string
}

func (e *parseErr) Error() string {
	return fmt.Sprintf("filter: %s at byte %d: %s", e.kind, e.pos, e.reason)
}

// Kind exposes the string kind for callers mapping into venatorerr.Kind.
func (e *parseErr) Kind() string { return e.kind }

// Pos exposes the byte offset of the failure.
func (e *parseErr) Pos() int { return e.pos }

func errAt(pos int, kind, reason string, args ...interface{}) error {
	return &parseErr{pos: pos, kind: kind, reason: fmt.Sprintf(reason, args...)}
}
