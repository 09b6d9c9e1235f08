package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores entries in a single cache_entries table.
type SQLiteBackend struct {
	db *sql.DB
	mu sync.Mutex // serializes writers
}

// OpenSQLite opens (or creates) the database file and runs migrations.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// WAL lets readers proceed while a batch worker writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	b, err := NewSQLiteBackend(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// NewSQLiteBackend wraps an open database and ensures the schema exists.
func NewSQLiteBackend(db *sql.DB) (*SQLiteBackend, error) {
	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	_, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS cache_entries (
		symbol     TEXT    NOT NULL,
		interval   TEXT    NOT NULL,
		fetched_at INTEGER NOT NULL,
		payload    TEXT    NOT NULL,
		PRIMARY KEY (symbol, interval)
	)`)
	return err
}

func (b *SQLiteBackend) Load(ctx context.Context, key Key) (*Entry, error) {
	var payload string
	err := b.db.QueryRowContext(ctx,
		`SELECT payload FROM cache_entries WHERE symbol = ? AND interval = ?`,
		key.Symbol, string(key.Interval),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return decode(key, []byte(payload))
}

func (b *SQLiteBackend) Save(ctx context.Context, e *Entry, _ time.Duration) error {
	payload, err := encode(e)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO cache_entries (symbol, interval, fetched_at, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(symbol, interval) DO UPDATE SET fetched_at = excluded.fetched_at, payload = excluded.payload`,
		e.Symbol, string(e.Interval), e.FetchedAt.UnixNano(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", e.Key(), err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }
