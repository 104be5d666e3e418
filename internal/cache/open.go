package cache

import (
	"context"
	"fmt"
	"path/filepath"
)

// OpenStore opens the durable tier named by backend. "memory" returns a nil Store.
func OpenStore(ctx context.Context, backend, dataDir, databaseURL string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch backend {
	case "", "memory":
		return nil, nil
	case "file":
		s, err = NewFileStore(filepath.Join(dataDir, "cache"))
	case "sqlite":
		s, err = NewSQLiteStore(filepath.Join(dataDir, "cache.db"))
	case "badger":
		s, err = NewBadgerStore(filepath.Join(dataDir, "badger"))
	case "postgres":
		s, err = NewPostgresStore(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", backend, err)
	}
	return s, nil
}
