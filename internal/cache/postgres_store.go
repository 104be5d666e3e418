package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	kind      TEXT        NOT NULL,
	key       TEXT        NOT NULL,
	value     BYTEA       NOT NULL,
	stored_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (kind, key)
)`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Get(ctx context.Context, kind, key string) (Entry, bool, error) {
	var e Entry
	err := s.pool.QueryRow(ctx,
		`SELECT value, stored_at FROM cache_entries WHERE kind = $1 AND key = $2`, kind, key,
	).Scan(&e.Value, &e.StoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, kind, key string, e Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cache_entries (kind, key, value, stored_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, key) DO UPDATE SET value = EXCLUDED.value, stored_at = EXCLUDED.stored_at`,
		kind, key, e.Value, e.StoredAt)
	return err
}

func (s *PostgresStore) Invalidate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE cache_entries SET stored_at = $1`, time.Unix(0, 0).UTC())
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
