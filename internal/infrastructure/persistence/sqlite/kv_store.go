// Package sqlite implements a device-local guest snapshot store on SQLite.
// It backs single-user deployments and the guestctl tool.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/domain/shared"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    updated_at INTEGER NOT NULL
)`

// KVStore implements guest.KVStore on a single SQLite table.
type KVStore struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time check.
var _ guest.KVStore = (*KVStore)(nil)

// Open opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for a throwaway store.
func Open(path string) (*KVStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serialises writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and ensures the schema.
func New(db *sql.DB) (*KVStore, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("migrate sqlite kv: %w", err)
	}
	return &KVStore{db: db, now: time.Now}, nil
}

// Get implements guest.KVStore.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, shared.WrapError("sqlite", "Get", shared.ErrExternalService, "read snapshot", err)
	}
	return value, nil
}

// Set implements guest.KVStore.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().Unix())
	if err != nil {
		return shared.WrapError("sqlite", "Set", shared.ErrExternalService, "write snapshot", err)
	}
	return nil
}

// Delete implements guest.KVStore.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return shared.WrapError("sqlite", "Delete", shared.ErrExternalService, "delete snapshot", err)
	}
	return nil
}

// Keys lists stored keys that start with prefix, oldest write first.
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE substr(key, 1, length(?)) = ? ORDER BY updated_at, key`, prefix, prefix)
	if err != nil {
		return nil, shared.WrapError("sqlite", "Keys", shared.ErrExternalService, "list snapshots", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Ping checks the database is reachable.
func (s *KVStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *KVStore) Close() error {
	return s.db.Close()
}
