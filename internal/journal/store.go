// Package journal records link events in a SQLite database (WAL mode) so a
// session can be inspected after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Kind classifies a journal entry.
type Kind string

const (
	KindStatus Kind = "status"
	KindFrame  Kind = "frame"
	KindName   Kind = "device_name"
	KindWrite  Kind = "write"
	KindNotice Kind = "notice"
)

// Entry is one recorded link event.
type Entry struct {
	ID      int64     `json:"id"`
	Kind    Kind      `json:"kind"`
	Peer    string    `json:"peer"`
	Text    string    `json:"text"`
	Payload []byte    `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// DB wraps *sql.DB with journal helpers.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the SQLite file at path with WAL journal mode.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	raw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := raw.Ping(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	// Limit writer concurrency to 1; SQLite WAL allows concurrent readers.
	raw.SetMaxOpenConns(1)
	return &DB{raw}, nil
}

// Migrate applies the schema. It is idempotent.
func Migrate(db *DB) error {
	if _, err := db.Exec(ddlEvents); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

const ddlEvents = `
CREATE TABLE IF NOT EXISTS link_events (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    kind    TEXT    NOT NULL,
    peer    TEXT    NOT NULL DEFAULT '',
    text    TEXT    NOT NULL DEFAULT '',
    payload BLOB,
    at      INTEGER NOT NULL -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_link_events_at ON link_events (at DESC);
`

// Record inserts e and returns its row id. A zero At is set to now.
func (db *DB) Record(ctx context.Context, e Entry) (int64, error) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO link_events (kind, peer, text, payload, at) VALUES (?, ?, ?, ?, ?)`,
		string(e.Kind), e.Peer, e.Text, e.Payload, e.At.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("journal: record: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, kind, peer, text, payload, at FROM link_events ORDER BY at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			kind string
			ms   int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.Peer, &e.Text, &e.Payload, &ms); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Kind = Kind(kind)
		e.At = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than before and reports how many were removed.
func (db *DB) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM link_events WHERE at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}
