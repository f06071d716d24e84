package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/segfaults/venator/internal/model"
	"github.com/segfaults/venator/internal/venatorerr"
)

// Order is the direction a query walks its driving index.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Cursor is the opaque "(sort_key, id)" pagination token from spec.md §4.6,
// encoded as plain text so it round-trips through the host application
// without the engine needing a binary framing format.
type Cursor struct {
	Key int64
	ID  string
}

func (c Cursor) String() string {
	return fmt.Sprintf("%d:%s", c.Key, c.ID)
}

func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return Cursor{}, venatorerr.New(venatorerr.KindParse, "malformed cursor")
	}
	key, err := strconv.ParseInt(s[:idx], 10, 64)
	if err != nil {
		return Cursor{}, venatorerr.Wrap(venatorerr.KindParse, "malformed cursor key", err)
	}
	return Cursor{Key: key, ID: s[idx+1:]}, nil
}

func spanCursorID(id model.SpanID) string  { return id.String() }
func eventCursorID(id model.EventID) string {
	return fmt.Sprintf("%s:%d", id.ResourceID, id.Timestamp)
}
