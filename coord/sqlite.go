// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package coord

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/switchboard-io/switchboard/lib/sqlitepool"
)

// kvSchema is the single table backing the durable store. WITHOUT
// ROWID keeps the primary key as the clustering key, which makes the
// prefix scans in List sequential reads.
const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID;
`

// SQLiteConfig holds the parameters for opening a durable store.
type SQLiteConfig struct {
	// Path is the database file path. Required.
	Path string

	// PoolSize is the connection pool size. Zero means the
	// sqlitepool default.
	PoolSize int

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// SQLite is a coordination store whose key/value state persists across
// process restarts. Pub/sub remains in-process: a restarted process
// starts with zero subscribers, and reconnecting observers take a
// fresh snapshot anyway.
type SQLite struct {
	pool   *sqlitepool.Pool
	broker *broker
	logger *slog.Logger
	closed atomic.Bool
}

// OpenSQLite opens (creating if necessary) the database at cfg.Path.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, kvSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("coord: opening sqlite store: %w", err)
	}

	return &SQLite{
		pool:   pool,
		broker: newBroker(),
		logger: logger,
	}, nil
}

// Get returns the value stored at key, or ErrNotFound.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("coord: get %q: %w", key, ErrUnavailable)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("coord: get %q: %w: %w", key, ErrUnavailable, err)
	}
	defer s.pool.Put(conn)

	var value []byte
	found := false
	err = sqlitex.Execute(conn, "SELECT value FROM kv WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			value = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, value)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("coord: get %q: %w: %w", key, ErrUnavailable, err)
	}
	if !found {
		return nil, fmt.Errorf("coord: get %q: %w", key, ErrNotFound)
	}
	return value, nil
}

// List returns all keys with the given prefix in ascending key order.
func (s *SQLite) List(ctx context.Context, prefix string) ([]KeyValue, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("coord: list %q: %w", prefix, ErrUnavailable)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("coord: list %q: %w: %w", prefix, ErrUnavailable, err)
	}
	defer s.pool.Put(conn)

	query := "SELECT key, value FROM kv WHERE key >= ? ORDER BY key"
	args := []any{prefix}
	if upper, bounded := prefixUpperBound(prefix); bounded {
		query = "SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key"
		args = append(args, upper)
	}

	var results []KeyValue
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value := make([]byte, stmt.ColumnLen(1))
			stmt.ColumnBytes(1, value)
			results = append(results, KeyValue{Key: stmt.ColumnText(0), Value: value})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("coord: list %q: %w: %w", prefix, ErrUnavailable, err)
	}
	return results, nil
}

// Set stores value at key, replacing any existing value.
func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("coord: set %q: %w", key, ErrUnavailable)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("coord: set %q: %w: %w", key, ErrUnavailable, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		&sqlitex.ExecOptions{Args: []any{key, value}},
	)
	if err != nil {
		return fmt.Errorf("coord: set %q: %w: %w", key, ErrUnavailable, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return fmt.Errorf("coord: delete %q: %w", key, ErrUnavailable)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("coord: delete %q: %w: %w", key, ErrUnavailable, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM kv WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
	})
	if err != nil {
		return fmt.Errorf("coord: delete %q: %w: %w", key, ErrUnavailable, err)
	}
	return nil
}

// Publish delivers payload to every current subscriber of channel.
func (s *SQLite) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.broker.publish(channel, payload); err != nil {
		return fmt.Errorf("coord: publish %q: %w", channel, err)
	}
	return nil
}

// Subscribe registers for messages on channel.
func (s *SQLite) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subscription, err := s.broker.subscribe(channel)
	if err != nil {
		return nil, fmt.Errorf("coord: subscribe %q: %w", channel, err)
	}
	return subscription, nil
}

// Close closes the pool and ends all subscriptions with
// ErrUnavailable. Idempotent.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.broker.close()
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("coord: closing sqlite store: %w", err)
	}
	return nil
}

// prefixUpperBound returns the smallest string greater than every
// string with the given prefix, for use as an exclusive range bound.
// Returns ok=false when no such bound exists (empty prefix or all
// 0xff bytes), in which case the scan is unbounded above.
func prefixUpperBound(prefix string) (string, bool) {
	bytes := []byte(prefix)
	for i := len(bytes) - 1; i >= 0; i-- {
		if bytes[i] < 0xff {
			bytes[i]++
			return string(bytes[:i+1]), true
		}
	}
	return "", false
}
