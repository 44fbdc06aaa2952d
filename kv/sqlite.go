package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/GoCodeAlone/pciledger/apperr"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// SQLiteStore persists items in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dsn and ensures
// the kv table exists. Use ":memory:" for a throwaway database. The caller
// is responsible for calling Close.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("kv.get", "key", key)
	}
	if err != nil {
		return nil, apperr.Storage("kv.get", err)
	}
	return v, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	return apperr.Storage("kv.set", err)
}

func (s *SQLiteStore) Insert(ctx context.Context, key string, value []byte) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return apperr.Storage("kv.insert", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage("kv.insert", err)
	}
	if rows == 0 {
		return apperr.Conflict("kv.insert", "key %q already exists", key)
	}
	return nil
}

func (s *SQLiteStore) ListByPrefix(ctx context.Context, prefix string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`,
		utf8.RuneCountInString(prefix), prefix,
	)
	if err != nil {
		return nil, apperr.Storage("kv.list", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Key, &it.Value); err != nil {
			return nil, apperr.Storage("kv.list", err)
		}
		items = append(items, it)
	}
	return items, apperr.Storage("kv.list", rows.Err())
}
