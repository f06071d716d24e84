package persist

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/segfaults/venator/internal/model"
	"github.com/segfaults/venator/internal/store"
)

func eventRowID(id model.EventID) string {
	return fmt.Sprintf("%s:%d", id.ResourceID, id.Timestamp)
}

func parseEventRowID(s string) (model.EventID, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return model.EventID{}, fmt.Errorf("persist: malformed event id %q", s)
	}
	rid, ok := model.ParseResourceID(s[:idx])
	if !ok {
		return model.EventID{}, fmt.Errorf("persist: malformed event resource id %q", s)
	}
	ts, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return model.EventID{}, fmt.Errorf("persist: malformed event timestamp %q", s)
	}
	return model.EventID{ResourceID: rid, Timestamp: ts}, nil
}

func parseSpanRowID(s string) (model.SpanID, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return model.SpanID{}, fmt.Errorf("persist: malformed span id %q", s)
	}
	rid, ok := model.ParseResourceID(s[:idx])
	if !ok {
		return model.SpanID{}, fmt.Errorf("persist: malformed span resource id %q", s)
	}
	local, err := strconv.ParseUint(s[idx+1:], 10, 64)
	if err != nil {
		return model.SpanID{}, fmt.Errorf("persist: malformed span local id %q", s)
	}
	return model.SpanID{ResourceID: rid, Local: local}, nil
}

// ResourceState is the per-resource high-watermark found by a replay.
// LastTS is restored into Ingestion so uniquified timestamps never collide
// with replayed ones; MaxLocal records the highest replayed span local id
// and is not consumed by Ingestion, which takes local ids from the caller.
type ResourceState struct {
	MaxLocal uint64
	LastTS   int64
}

// Result is everything Ingestion needs to resume issuing ids after a
// replay: per-resource watermarks plus the local-id-to-SpanID table it
// would otherwise have built up live, since a replayed resource's future
// records may still reference a replayed span as their local parent.
type Result struct {
	States      map[model.ResourceID]*ResourceState
	LocalToSpan map[model.ResourceID]map[uint64]model.SpanID
}

// Replay reconstructs Store and Indices from the durable tables in
// insertion order (by row's own timestamp/created_at, which is how
// spec.md §4.8 defines "insertion order" for this append-only model), and
// returns the per-resource state Ingestion must resume from.
func Replay(db *sql.DB, st *store.Store) (*Result, error) {
	st.Lock()
	defer st.Unlock()

	res := &Result{
		States:      make(map[model.ResourceID]*ResourceState),
		LocalToSpan: make(map[model.ResourceID]map[uint64]model.SpanID),
	}
	states := res.States

	resRows, err := db.Query(`SELECT id, connected_at, disconnected_at FROM resources`)
	if err != nil {
		return nil, fmt.Errorf("persist: replay resources: %w", err)
	}
	for resRows.Next() {
		var idBytes []byte
		var connectedAt int64
		var disconnectedAt sql.NullInt64
		if err := resRows.Scan(&idBytes, &connectedAt, &disconnectedAt); err != nil {
			resRows.Close()
			return nil, err
		}
		var rid model.ResourceID
		copy(rid[:], idBytes)
		r := &model.Resource{ID: rid, ConnectedAt: connectedAt, Attributes: make(map[string]model.Value)}
		if disconnectedAt.Valid {
			r.DisconnectedAt.Store(disconnectedAt.Int64)
		}
		st.InsertResource(r)
		states[rid] = &ResourceState{}
	}
	resRows.Close()

	attrRows, err := db.Query(`SELECT resource_id, name, value FROM resource_attributes`)
	if err != nil {
		return nil, fmt.Errorf("persist: replay resource_attributes: %w", err)
	}
	for attrRows.Next() {
		var idBytes []byte
		var name string
		var valBytes []byte
		if err := attrRows.Scan(&idBytes, &name, &valBytes); err != nil {
			attrRows.Close()
			return nil, err
		}
		var rid model.ResourceID
		copy(rid[:], idBytes)
		v, err := DecodeValue(valBytes)
		if err != nil {
			attrRows.Close()
			return nil, err
		}
		if r, ok := st.GetResource(rid); ok {
			r.Attributes[name] = v
		}
	}
	attrRows.Close()

	spanRows, err := db.Query(`SELECT id, parent_id, created_at, closed_at, level, target, name, file, line FROM spans ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("persist: replay spans: %w", err)
	}
	for spanRows.Next() {
		var idStr string
		var parentIDBytes []byte
		var createdAt int64
		var closedAt sql.NullInt64
		var lvl int
		var target, name string
		var file sql.NullString
		var line sql.NullInt64
		if err := spanRows.Scan(&idStr, &parentIDBytes, &createdAt, &closedAt, &lvl, &target, &name, &file, &line); err != nil {
			spanRows.Close()
			return nil, err
		}
		id, err := parseSpanRowID(idStr)
		if err != nil {
			spanRows.Close()
			return nil, err
		}

		var parentID *model.SpanID
		if len(parentIDBytes) > 0 {
			pid, err := parseSpanRowID(string(parentIDBytes))
			if err == nil {
				parentID = &pid
			}
		}

		attrs, err := loadSpanAttrs(db, idStr, true)
		if err != nil {
			spanRows.Close()
			return nil, err
		}
		inherited, err := loadSpanAttrs(db, idStr, false)
		if err != nil {
			spanRows.Close()
			return nil, err
		}

		sp := &model.Span{
			ID: id, ParentID: parentID, CreatedAt: createdAt,
			Level: model.Level(lvl), Target: target, Name: name,
			File: file.String, Line: int32(line.Int64),
			Attributes: attrs, InheritedAttributes: inherited,
		}
		st.InsertSpanOpen(sp)
		if closedAt.Valid {
			_ = st.CloseSpan(id, closedAt.Int64)
		}

		s := states[id.ResourceID]
		if s == nil {
			s = &ResourceState{}
			states[id.ResourceID] = s
		}
		if id.Local > s.MaxLocal {
			s.MaxLocal = id.Local
		}

		byLocal, ok := res.LocalToSpan[id.ResourceID]
		if !ok {
			byLocal = make(map[uint64]model.SpanID)
			res.LocalToSpan[id.ResourceID] = byLocal
		}
		byLocal[id.Local] = id
	}
	spanRows.Close()

	eventRows, err := db.Query(`SELECT id, parent_id, timestamp, level, target, name, file, line FROM events ORDER BY timestamp`)
	if err != nil {
		return nil, fmt.Errorf("persist: replay events: %w", err)
	}
	for eventRows.Next() {
		var idStr string
		var parentIDBytes []byte
		var ts int64
		var lvl int
		var target, name string
		var file sql.NullString
		var line sql.NullInt64
		if err := eventRows.Scan(&idStr, &parentIDBytes, &ts, &lvl, &target, &name, &file, &line); err != nil {
			eventRows.Close()
			return nil, err
		}
		id, err := parseEventRowID(idStr)
		if err != nil {
			eventRows.Close()
			return nil, err
		}

		var parentID *model.SpanID
		if len(parentIDBytes) > 0 {
			pid, err := parseSpanRowID(string(parentIDBytes))
			if err == nil {
				parentID = &pid
			}
		}

		attrs, err := loadEventAttrs(db, idStr, true)
		if err != nil {
			eventRows.Close()
			return nil, err
		}
		inherited, err := loadEventAttrs(db, idStr, false)
		if err != nil {
			eventRows.Close()
			return nil, err
		}

		e := &model.Event{
			ID: id, ParentID: parentID, Timestamp: ts,
			Level: model.Level(lvl), Target: target, Name: name,
			File: file.String, Line: int32(line.Int64),
			Attributes: attrs, InheritedAttributes: inherited,
		}
		st.InsertEvent(e)

		s := states[id.ResourceID]
		if s == nil {
			s = &ResourceState{}
			states[id.ResourceID] = s
		}
		if ts > s.LastTS {
			s.LastTS = ts
		}
	}
	eventRows.Close()

	return res, nil
}

func loadSpanAttrs(db *sql.DB, ownerID string, direct bool) (map[string]model.Value, error) {
	rows, err := db.Query(`SELECT name, value FROM span_attributes WHERE owner_id = ? AND direct = ?`, ownerID, direct)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]model.Value)
	for rows.Next() {
		var name string
		var valBytes []byte
		if err := rows.Scan(&name, &valBytes); err != nil {
			return nil, err
		}
		v, err := DecodeValue(valBytes)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, rows.Err()
}

func loadEventAttrs(db *sql.DB, ownerID string, direct bool) (map[string]model.Value, error) {
	rows, err := db.Query(`SELECT name, value FROM event_attributes WHERE owner_id = ? AND direct = ?`, ownerID, direct)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]model.Value)
	for rows.Next() {
		var name string
		var valBytes []byte
		if err := rows.Scan(&name, &valBytes); err != nil {
			return nil, err
		}
		v, err := DecodeValue(valBytes)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, rows.Err()
}
