// Package sqlite implements the store contracts on an embedded SQLite file.
// It backs the client's Local Mirror and small single-node servers.
// Timestamps are stored as INTEGER Unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// driverName is go-sqlite3 with unicode_lower registered on every
// connection. SQLite's own lower() and LIKE fold ASCII only.
const driverName = "sqlite3_zedi"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("unicode_lower", strings.ToLower, true)
		},
	})
}

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS owners (
	id         TEXT PRIMARY KEY,
	subject    TEXT NOT NULL UNIQUE,
	email      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pages (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	source_page_id  TEXT,
	title           TEXT NOT NULL DEFAULT '',
	title_key       TEXT NOT NULL DEFAULT '',
	content_preview TEXT NOT NULL DEFAULT '',
	thumbnail_url   TEXT,
	source_url      TEXT,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	is_deleted      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_pages_owner_updated ON pages(owner_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_pages_owner_title ON pages(owner_id, title_key);

CREATE TABLE IF NOT EXISTS links (
	source_id  TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (source_id, target_id)
);

CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_id);

CREATE TABLE IF NOT EXISTS ghost_links (
	link_text               TEXT NOT NULL,
	source_page_id          TEXT NOT NULL,
	created_at              INTEGER NOT NULL,
	original_target_page_id TEXT,
	original_note_id        TEXT,
	PRIMARY KEY (link_text, source_page_id)
);

CREATE TABLE IF NOT EXISTS page_contents (
	page_id      TEXT PRIMARY KEY REFERENCES pages(id),
	ydoc_state   BLOB NOT NULL,
	version      INTEGER NOT NULL,
	text_extract TEXT NOT NULL DEFAULT '',
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS local_changes (
	page_id   TEXT PRIMARY KEY,
	queued_at INTEGER NOT NULL
);
`

// DB wraps a sql.DB and implements store.Store.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
// Write transactions take the lock up front so concurrent writers queue on
// the busy timeout instead of failing on lock upgrade.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open(driverName, dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
