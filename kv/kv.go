// Package kv defines the key-value storage contract the ledger persists
// through, plus in-memory, SQLite and Postgres implementations.
package kv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Item is a stored key/value pair.
type Item struct {
	Key   string
	Value []byte
}

// Store is the storage contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value for key, or an apperr NotFound error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Insert writes value under key only if key is absent; otherwise it
	// returns an apperr Conflict error and leaves the stored value untouched.
	Insert(ctx context.Context, key string, value []byte) error

	// ListByPrefix returns all items whose key starts with prefix, sorted by key.
	ListByPrefix(ctx context.Context, prefix string) ([]Item, error)

	// Close releases backend resources.
	Close() error
}

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and tunes a backend.
type Config struct {
	Driver   string
	DSN      string
	MaxConns int32
}

// Open returns the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		return NewMemoryStore(), nil
	case DriverSQLite:
		logger.Info("opening sqlite store", "dsn", cfg.DSN)
		return NewSQLiteStore(cfg.DSN)
	case DriverPostgres:
		return NewPostgresStore(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// Key joins parts with ':' to build a namespaced key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
