package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	kind      TEXT    NOT NULL,
	key       TEXT    NOT NULL,
	value     BLOB    NOT NULL,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (kind, key)
)`

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, kind, key string) (Entry, bool, error) {
	var value []byte
	var storedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, stored_at FROM cache_entries WHERE kind = ? AND key = ?`, kind, key,
	).Scan(&value, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Value: value, StoredAt: time.Unix(0, storedAt)}, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, kind, key string, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (kind, key, value, stored_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at`,
		kind, key, e.Value, e.StoredAt.UnixNano())
	return err
}

func (s *SQLiteStore) Invalidate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cache_entries SET stored_at = 0`)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
