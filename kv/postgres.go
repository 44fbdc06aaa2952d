package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GoCodeAlone/pciledger/apperr"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore persists items in Postgres through a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to cfg.DSN, pings, and ensures the kv table exists.
func NewPostgresStore(ctx context.Context, cfg Config, logger *slog.Logger) (*PostgresStore, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MaxConnIdleTime = 5 * time.Minute
	pc.ConnConfig.RuntimeParams["application_name"] = "pciledger"

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(dialCtx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Info("connected to postgres", "max_conns", pc.MaxConns)
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("kv.get", "key", key)
	}
	if err != nil {
		return nil, apperr.Storage("kv.get", err)
	}
	return v, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	return apperr.Storage("kv.set", err)
}

func (s *PostgresStore) Insert(ctx context.Context, key string, value []byte) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, now()) ON CONFLICT (key) DO NOTHING`,
		key, value,
	)
	if err != nil {
		return apperr.Storage("kv.insert", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("kv.insert", "key %q already exists", key)
	}
	return nil
}

func (s *PostgresStore) ListByPrefix(ctx context.Context, prefix string) ([]Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM kv WHERE starts_with(key, $1) ORDER BY key COLLATE "C"`, prefix)
	if err != nil {
		return nil, apperr.Storage("kv.list", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var it Item
		err := row.Scan(&it.Key, &it.Value)
		return it, err
	})
	if err != nil {
		return nil, apperr.Storage("kv.list", err)
	}
	return items, nil
}
