// Package storage is the durable cache behind the reconciler: events,
// decrypted-message shadow rows, contacts, relays and per-relay acks in one
// sqlite database. It holds no business logic; write serialization is the
// caller's concern (the reconciler is the single writer).
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

var (
	ErrNotFound = errors.New("storage: row not found")
	// ErrStatusRegression marks an attempt to move a message status
	// backward. It is a logic error in the caller, not a storage failure.
	ErrStatusRegression = errors.New("storage: message status cannot move backward")
	ErrNoRowID          = errors.New("storage: row has no id assigned")
)

const schema = `
CREATE TABLE IF NOT EXISTS event (
    event_id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_hash TEXT NOT NULL UNIQUE,
    pubkey TEXT NOT NULL,
    kind INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    tags TEXT NOT NULL,
    content TEXT NOT NULL,
    sig TEXT NOT NULL,
    confirmed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS relay_ack (
    ack_id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id INTEGER NOT NULL,
    relay_url TEXT NOT NULL,
    accepted INTEGER NOT NULL,
    error_message TEXT,
    UNIQUE (event_id, relay_url),
    FOREIGN KEY (event_id) REFERENCES event (event_id)
);

CREATE TABLE IF NOT EXISTS message (
    msg_id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id INTEGER UNIQUE,
    content TEXT NOT NULL,
    from_pubkey TEXT NOT NULL,
    to_pubkey TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    status INTEGER NOT NULL DEFAULT 0,
    undecryptable INTEGER NOT NULL DEFAULT 0,
    relay_url TEXT,
    FOREIGN KEY (event_id) REFERENCES event (event_id)
);
CREATE INDEX IF NOT EXISTS idx_message_pair ON message (from_pubkey, to_pubkey);

CREATE TABLE IF NOT EXISTS contact (
    pubkey TEXT PRIMARY KEY,
    petname TEXT,
    recommended_relay TEXT,
    name TEXT,
    display_name TEXT,
    picture_url TEXT,
    about TEXT,
    metadata_at INTEGER NOT NULL DEFAULT 0,
    unseen_count INTEGER NOT NULL DEFAULT 0,
    last_msg_id INTEGER
);

CREATE TABLE IF NOT EXISTS relay (
    url TEXT PRIMARY KEY,
    read INTEGER NOT NULL DEFAULT 1,
    write INTEGER NOT NULL DEFAULT 1,
    last_status TEXT NOT NULL DEFAULT 'disconnected'
);

CREATE TABLE IF NOT EXISTS channel_cache (
    channel_id TEXT PRIMARY KEY,
    creator_pubkey TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_event_hash TEXT,
    updated_at INTEGER NOT NULL DEFAULT 0,
    metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS channel_member_map (
    channel_id TEXT NOT NULL,
    public_key TEXT NOT NULL,
    UNIQUE (channel_id, public_key)
);

CREATE TABLE IF NOT EXISTS local_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:" for
// throwaway stores in tests.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
