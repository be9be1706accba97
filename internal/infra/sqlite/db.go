// Package sqlite provides the durable ledger store.
// All balance mutations flow through single transactions here; the rest of
// the engine never touches SQL directly.
package sqlite

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite handle and the per-user write locks.
type DB struct {
	db *sql.DB

	mu    sync.Mutex
	users map[int64]*sync.Mutex
}

// Open opens (or creates) the database at path and applies migrations.
// Use "file::memory:?cache=shared" for tests.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection keeps writes serialized at the driver level and
	// makes shared-cache in-memory databases behave like a file.
	handle.SetMaxOpenConns(1)

	db := &DB{db: handle, users: make(map[int64]*sync.Mutex)}
	if err := db.migrate(); err != nil {
		handle.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying handle.
func (db *DB) Close() error { return db.db.Close() }

// migrate applies the schema migration statements.
func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Users: cached balance plus identity. Soft-disabled, never deleted.
		`CREATE TABLE IF NOT EXISTS users (
			user_id     INTEGER PRIMARY KEY,
			balance     INTEGER NOT NULL DEFAULT 0 CHECK(balance >= 0),
			wallet      TEXT NOT NULL DEFAULT '',
			referrer_id INTEGER NOT NULL DEFAULT 0,
			disabled    INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// Append-only entry history. The unique idempotency key is what
		// makes ApplyEntry exactly-once under at-least-once callers.
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id         INTEGER NOT NULL,
			amount          INTEGER NOT NULL,
			reason          TEXT NOT NULL,
			idempotency_key TEXT NOT NULL UNIQUE,
			balance_after   INTEGER NOT NULL,
			created_at      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_user ON ledger_entries(user_id, id DESC)`,

		// Reward deduplication records.
		`CREATE TABLE IF NOT EXISTS reward_grants (
			user_id     INTEGER NOT NULL,
			source_type TEXT NOT NULL,
			source_id   TEXT NOT NULL,
			entry_id    INTEGER NOT NULL,
			created_at  TEXT NOT NULL,
			PRIMARY KEY (user_id, source_type, source_id)
		)`,

		// Payment intents (inbound ad purchases, outbound withdrawals).
		`CREATE TABLE IF NOT EXISTS payment_intents (
			id          TEXT PRIMARY KEY,
			user_id     INTEGER NOT NULL,
			direction   TEXT NOT NULL,
			amount_nano INTEGER NOT NULL,
			address     TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'PENDING',
			tx_hash     TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			expires_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_status ON payment_intents(status)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_address ON payment_intents(address)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_txhash ON payment_intents(tx_hash) WHERE tx_hash != ''`,

		// Referral cascade edges, one row per (referred, level).
		`CREATE TABLE IF NOT EXISTS referral_edges (
			referrer_id INTEGER NOT NULL,
			referred_id INTEGER NOT NULL,
			level       INTEGER NOT NULL,
			created_at  TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (referred_id, level)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_referrer ON referral_edges(referrer_id)`,

		// Video catalog.
		`CREATE TABLE IF NOT EXISTS videos (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			title             TEXT NOT NULL DEFAULT '',
			points            INTEGER NOT NULL DEFAULT 10,
			min_watch_seconds INTEGER NOT NULL DEFAULT 30,
			active            INTEGER NOT NULL DEFAULT 1
		)`,
	}
}

// userLock returns the mutex serializing writes for one user.
// Different users get different mutexes and proceed independently.
func (db *DB) userLock(userID int64) *sync.Mutex {
	db.mu.Lock()
	defer db.mu.Unlock()
	l, ok := db.users[userID]
	if !ok {
		l = &sync.Mutex{}
		db.users[userID] = l
	}
	return l
}

// timeFormat is the canonical timestamp encoding for stored rows.
const timeFormat = time.RFC3339Nano

func encodeTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func decodeTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		// Rows written by sqlite defaults use datetime('now').
		t, _ = time.Parse("2006-01-02 15:04:05", s)
	}
	return t
}
