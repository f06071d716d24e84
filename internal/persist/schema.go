package persist

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// schema creates exactly the tables named in spec.md §6.3, plus a
// commit_seq row used as the batch-level commit marker: each write-behind
// batch is applied and commit_seq bumped inside one SQLite transaction, so
// a crash mid-batch leaves the prior commit_seq value and none of the
// batch's rows — the transaction boundary IS the checksum/commit-row
// mechanism, since SQLite never persists a partially-committed transaction.
const schema = `
CREATE TABLE IF NOT EXISTS resources (
	id BLOB PRIMARY KEY,
	connected_at INTEGER NOT NULL,
	disconnected_at INTEGER
);

CREATE TABLE IF NOT EXISTS resource_attributes (
	resource_id BLOB NOT NULL,
	name TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (resource_id, name)
);

CREATE TABLE IF NOT EXISTS spans (
	id BLOB PRIMARY KEY,
	resource_id BLOB NOT NULL,
	parent_id BLOB,
	created_at INTEGER NOT NULL,
	closed_at INTEGER,
	level INTEGER NOT NULL,
	target TEXT NOT NULL,
	name TEXT NOT NULL,
	file TEXT,
	line INTEGER
);
CREATE INDEX IF NOT EXISTS idx_spans_created_at ON spans(created_at);
CREATE INDEX IF NOT EXISTS idx_spans_parent_id ON spans(parent_id);

CREATE TABLE IF NOT EXISTS events (
	id BLOB PRIMARY KEY,
	resource_id BLOB NOT NULL,
	parent_id BLOB,
	timestamp INTEGER NOT NULL,
	level INTEGER NOT NULL,
	target TEXT NOT NULL,
	name TEXT NOT NULL,
	file TEXT,
	line INTEGER
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);

CREATE TABLE IF NOT EXISTS span_attributes (
	owner_id BLOB NOT NULL,
	name TEXT NOT NULL,
	value BLOB NOT NULL,
	direct INTEGER NOT NULL,
	PRIMARY KEY (owner_id, name, direct)
);

CREATE TABLE IF NOT EXISTS event_attributes (
	owner_id BLOB NOT NULL,
	name TEXT NOT NULL,
	value BLOB NOT NULL,
	direct INTEGER NOT NULL,
	PRIMARY KEY (owner_id, name, direct)
);

CREATE TABLE IF NOT EXISTS commit_seq (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	seq INTEGER NOT NULL
);
INSERT OR IGNORE INTO commit_seq (id, seq) VALUES (0, 0);
`

// Open opens (creating if absent) the single-file SQLite database at path,
// in WAL journal mode, matching the retrieved sqlite.go reference's DSN
// idiom.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: create schema: %w", err)
	}
	return db, nil
}
