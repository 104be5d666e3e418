package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// exerciseStore checks the behaviour every durable tier must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "filings", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	stored := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, "filings", "0000320193-24-000001", Entry{Value: []byte(`{"a":1}`), StoredAt: stored}))
	require.NoError(t, s.Put(ctx, "quotes", "0000320193-24-000001", Entry{Value: []byte(`2`), StoredAt: stored}))

	e, ok, err := s.Get(ctx, "filings", "0000320193-24-000001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(e.Value))
	assert.True(t, e.StoredAt.Equal(stored))

	require.NoError(t, s.Put(ctx, "filings", "0000320193-24-000001", Entry{Value: []byte(`{"a":2}`), StoredAt: stored.Add(time.Hour)}))
	e, _, err = s.Get(ctx, "filings", "0000320193-24-000001")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(e.Value))

	require.NoError(t, s.Invalidate(ctx))
	e, ok, err = s.Get(ctx, "quotes", "0000320193-24-000001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, e.Fresh(time.Now(), 24*time.Hour))
	assert.Equal(t, "2", string(e.Value))
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestBadgerStore(t *testing.T) {
	s, err := NewBadgerStore("")
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpenStore(t *testing.T) {
	s, err := OpenStore(context.Background(), "memory", t.TempDir(), "")
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = OpenStore(context.Background(), "sqlite", t.TempDir(), "")
	require.NoError(t, err)
	require.NotNil(t, s)
	s.Close()

	_, err = OpenStore(context.Background(), "redis", t.TempDir(), "")
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	if os.Getenv("OWNERSHIP_INTEGRATION") == "" {
		t.Skip("set OWNERSHIP_INTEGRATION=1 to run container-backed tests")
	}
	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}
