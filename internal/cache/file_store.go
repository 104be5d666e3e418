package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileStore keeps one JSON document per entry under dir/<kind>/.
type FileStore struct {
	dir string
}

type fileEntry struct {
	Key      string          `json:"key"`
	CachedAt string          `json:"_cached_at"`
	Value    json.RawMessage `json:"value"`
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(kind, key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, kind, hex.EncodeToString(sum[:16])+".json")
}

func (s *FileStore) Get(_ context.Context, kind, key string) (Entry, bool, error) {
	data, err := os.ReadFile(s.path(kind, key))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var fe fileEntry
	if err := json.Unmarshal(data, &fe); err != nil {
		return Entry{}, false, err
	}
	if fe.Key != key || fe.CachedAt == "" {
		return Entry{}, false, nil
	}
	cachedAt, err := time.Parse(time.RFC3339Nano, fe.CachedAt)
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Value: []byte(fe.Value), StoredAt: cachedAt}, true, nil
}

func (s *FileStore) Put(_ context.Context, kind, key string, e Entry) error {
	p := s.path(kind, key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	body, err := json.Marshal(fileEntry{
		Key:      key,
		CachedAt: e.StoredAt.UTC().Format(time.RFC3339Nano),
		Value:    json.RawMessage(e.Value),
	})
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, body, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *FileStore) Invalidate(_ context.Context) error {
	epoch := time.Unix(0, 0).UTC().Format(time.RFC3339Nano)
	return filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ".json" {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		var fe fileEntry
		if json.Unmarshal(data, &fe) != nil {
			return os.Remove(p)
		}
		fe.CachedAt = epoch
		body, err := json.Marshal(fe)
		if err != nil {
			return err
		}
		return os.WriteFile(p, body, 0600)
	})
}

func (s *FileStore) Close() error { return nil }
