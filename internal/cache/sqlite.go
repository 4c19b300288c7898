package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS cache_entries (
	namespace TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     BLOB NOT NULL,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
)`

// OpenSQLite opens (or creates) the cache database at path and ensures the
// schema exists. Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return db, nil
}

// SQLiteStore implements Store on a SQLite table so last-known-good data
// survives restarts. Several stores share one table, separated by namespace.
type SQLiteStore[T any] struct {
	db        *sql.DB
	namespace string
	ttl       time.Duration
	now       Clock
}

func NewSQLiteStore[T any](db *sql.DB, namespace string, ttl time.Duration, now Clock) *SQLiteStore[T] {
	return &SQLiteStore[T]{
		db:        db,
		namespace: namespace,
		ttl:       ttlOrDefault(ttl),
		now:       clockOrDefault(now),
	}
}

func (s *SQLiteStore[T]) Get(ctx context.Context, key string) (Entry[T], bool, error) {
	var raw []byte
	var storedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, stored_at FROM cache_entries WHERE namespace = ? AND key = ?`,
		s.namespace, key,
	).Scan(&raw, &storedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry[T]{}, false, nil
		}
		return Entry[T]{}, false, err
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return Entry[T]{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return Entry[T]{Value: value, Timestamp: time.Unix(0, storedAt)}, true, nil
}

func (s *SQLiteStore[T]) IsValid(entry Entry[T]) bool {
	return isFresh(entry.Timestamp, s.ttl, s.now())
}

func (s *SQLiteStore[T]) Put(ctx context.Context, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (namespace, key, value, stored_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at`,
		s.namespace, key, raw, s.now().UnixNano(),
	)
	return err
}

func (s *SQLiteStore[T]) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ? AND key = ?`, s.namespace, key)
	return err
}

func (s *SQLiteStore[T]) Flush(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ?`, s.namespace)
	return err
}
