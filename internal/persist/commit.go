package persist

import (
	"database/sql"
	"fmt"
)

// commitBatch applies every op in one SQLite transaction and bumps
// commit_seq as its last statement, so a crash mid-batch leaves the
// database at the prior commit_seq with none of the batch's rows applied.
func (p *Persister) commitBatch(batch []op) error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("persist: begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, o := range batch {
		if err := applyOp(tx, o); err != nil {
			return fmt.Errorf("persist: apply op: %w", err)
		}
	}

	if _, err := tx.Exec(`UPDATE commit_seq SET seq = seq + 1 WHERE id = 0`); err != nil {
		return fmt.Errorf("persist: bump commit_seq: %w", err)
	}

	return tx.Commit()
}

func applyOp(tx *sql.Tx, o op) error {
	switch o.kind {
	case opResource:
		_, err := tx.Exec(`INSERT OR REPLACE INTO resources (id, connected_at, disconnected_at) VALUES (?, ?, NULL)`,
			o.resourceID[:], o.connectedAt)
		return err
	case opResourceDisconnect:
		_, err := tx.Exec(`UPDATE resources SET disconnected_at = ? WHERE id = ?`, o.at, o.resourceID[:])
		return err
	case opResourceAttr:
		_, err := tx.Exec(`INSERT OR REPLACE INTO resource_attributes (resource_id, name, value) VALUES (?, ?, ?)`,
			o.resourceID[:], o.attrName, EncodeValue(o.attrValue))
		return err
	case opSpan:
		sp := o.span
		var parentID []byte
		if sp.ParentID != nil {
			pid := sp.ParentID.String()
			parentID = []byte(pid)
		}
		var file sql.NullString
		if sp.File != "" {
			file = sql.NullString{String: sp.File, Valid: true}
		}
		_, err := tx.Exec(`INSERT OR REPLACE INTO spans (id, resource_id, parent_id, created_at, closed_at, level, target, name, file, line)
			VALUES (?, ?, ?, ?, NULL, ?, ?, ?, ?, ?)`,
			sp.ID.String(), sp.ID.ResourceID[:], parentID, sp.CreatedAt, int(sp.Level), sp.Target, sp.Name, file, sp.Line)
		return err
	case opSpanClose:
		_, err := tx.Exec(`UPDATE spans SET closed_at = ? WHERE id = ?`, o.at, o.spanID.String())
		return err
	case opSpanAttr:
		_, err := tx.Exec(`INSERT OR REPLACE INTO span_attributes (owner_id, name, value, direct) VALUES (?, ?, ?, ?)`,
			o.spanID.String(), o.attrName, EncodeValue(o.attrValue), o.attrDirect)
		return err
	case opEvent:
		e := o.event
		var parentID []byte
		if e.ParentID != nil {
			parentID = []byte(e.ParentID.String())
		}
		var file sql.NullString
		if e.File != "" {
			file = sql.NullString{String: e.File, Valid: true}
		}
		_, err := tx.Exec(`INSERT OR REPLACE INTO events (id, resource_id, parent_id, timestamp, level, target, name, file, line)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			eventRowID(o.eventID), o.eventID.ResourceID[:], parentID, o.eventID.Timestamp, int(e.Level), e.Target, e.Name, file, e.Line)
		return err
	case opEventAttr:
		_, err := tx.Exec(`INSERT OR REPLACE INTO event_attributes (owner_id, name, value, direct) VALUES (?, ?, ?, ?)`,
			eventRowID(o.eventID), o.attrName, EncodeValue(o.attrValue), o.attrDirect)
		return err
	default:
		return nil
	}
}
