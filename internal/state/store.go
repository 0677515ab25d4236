// Package state persists runtime firewall state across restarts.
//
// The store is a small bucketed key/value table in SQLite (modernc.org/sqlite,
// pure Go, no CGO). Blocklist entries and the geo policy live in their own
// buckets; values are JSON documents.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/warden/internal/clock"
)

// Common errors
var (
	ErrNotFound    = errors.New("key not found")
	ErrStoreClosed = errors.New("store is closed")
)

const schemaVersion = "1"

// Store is the state storage interface.
type Store interface {
	Get(bucket, key string) ([]byte, error)
	Set(bucket, key string, value []byte) error
	SetWithTTL(bucket, key string, value []byte, ttl time.Duration) error
	Delete(bucket, key string) error
	List(bucket string) (map[string][]byte, error)

	GetJSON(bucket, key string, v any) error
	SetJSON(bucket, key string, v any) error

	// ReplaceBucket atomically replaces the whole content of a bucket.
	ReplaceBucket(bucket string, values map[string][]byte) error

	Close() error
}

// Options configures the SQLite store.
type Options struct {
	Path    string // ":memory:" for an in-memory database
	WALMode bool
	Clock   clock.Clock
}

// DefaultOptions returns sensible defaults.
func DefaultOptions(path string) Options {
	return Options{Path: path, WALMode: true}
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	clock  clock.Clock
}

// NewSQLiteStore opens (or creates) the database at opts.Path.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	dsn := opts.Path
	memory := opts.Path == ":memory:"
	if opts.WALMode && !memory {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, clock: clock.Or(opts.Clock)}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entries (
			bucket     TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      BLOB,
			updated_at INTEGER NOT NULL,
			expires_at INTEGER,
			PRIMARY KEY (bucket, key)
		);
		CREATE INDEX IF NOT EXISTS idx_entries_expires ON entries(expires_at) WHERE expires_at IS NOT NULL;

		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO metadata (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, schemaVersion)
	return err
}

// Get returns the value stored under bucket/key. Expired values are not found.
func (s *SQLiteStore) Get(bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var value []byte
	err := s.db.QueryRow(
		`SELECT value FROM entries WHERE bucket = ? AND key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		bucket, key, s.clock.Now().UnixNano(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

// Set stores value under bucket/key without expiry.
func (s *SQLiteStore) Set(bucket, key string, value []byte) error {
	return s.SetWithTTL(bucket, key, value, 0)
}

// SetWithTTL stores value under bucket/key. A positive ttl makes the value
// disappear after that long.
func (s *SQLiteStore) SetWithTTL(bucket, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return upsert(s.db, bucket, key, value, s.clock.Now(), ttl)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsert(db execer, bucket, key string, value []byte, now time.Time, ttl time.Duration) error {
	var expires sql.NullInt64
	if ttl > 0 {
		expires = sql.NullInt64{Int64: now.Add(ttl).UnixNano(), Valid: true}
	}
	_, err := db.Exec(`INSERT INTO entries (bucket, key, value, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			value = excluded.value, updated_at = excluded.updated_at, expires_at = excluded.expires_at`,
		bucket, key, value, now.UnixNano(), expires)
	return err
}

// Delete removes bucket/key. It returns ErrNotFound if nothing was stored.
func (s *SQLiteStore) Delete(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec(`DELETE FROM entries WHERE bucket = ? AND key = ?`, bucket, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all unexpired values of a bucket.
func (s *SQLiteStore) List(bucket string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(
		`SELECT key, value FROM entries WHERE bucket = ? AND (expires_at IS NULL OR expires_at > ?) ORDER BY key`,
		bucket, s.clock.Now().UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

// ReplaceBucket deletes every key of bucket and writes values in one transaction.
func (s *SQLiteStore) ReplaceBucket(bucket string, values map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM entries WHERE bucket = ?`, bucket); err != nil {
		return err
	}
	now := s.clock.Now()
	for k, v := range values {
		if err := upsert(tx, bucket, k, v, now, 0); err != nil {
			return fmt.Errorf("write %s/%s: %w", bucket, k, err)
		}
	}
	return tx.Commit()
}

// GetJSON decodes the value under bucket/key into v.
func (s *SQLiteStore) GetJSON(bucket, key string, v any) error {
	data, err := s.Get(bucket, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SetJSON encodes v and stores it under bucket/key.
func (s *SQLiteStore) SetJSON(bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return s.Set(bucket, key, data)
}

// Vacuum drops expired rows and compacts the database file.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.clock.Now().UnixNano()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `VACUUM`)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
