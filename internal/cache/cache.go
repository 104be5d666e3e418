// Package cache is a two-tier read-through cache: an in-process memory tier in
// front of an optional durable Store. Values cross both tiers as JSON, so every
// reader decodes its own copy.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/singleflight"
)

// Kind names a class of cached value and its staleness rule.
type Kind struct {
	Name string
	TTL  time.Duration
	// ServeStale allows an expired value to be returned when recomputing fails.
	ServeStale bool
}

var (
	KindIdentifiers = Kind{Name: "identifiers", TTL: 24 * time.Hour, ServeStale: true}
	KindSubmissions = Kind{Name: "submissions", TTL: 15 * time.Minute, ServeStale: true}
	KindFilings     = Kind{Name: "filings", TTL: 30 * 24 * time.Hour}
	KindInsiders    = Kind{Name: "insiders", TTL: 24 * time.Hour}
	KindOwnership   = Kind{Name: "ownership", TTL: 24 * time.Hour}
	KindQuotes      = Kind{Name: "quotes", TTL: time.Hour, ServeStale: true}
	KindHistory     = Kind{Name: "history", TTL: 12 * time.Hour, ServeStale: true}
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Entry is a serialized value and the moment it was stored.
type Entry struct {
	Value    []byte    `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// Fresh reports whether the entry is still valid at now.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.StoredAt) < ttl
}

// Store is a durable tier. Invalidate marks every entry stale without deleting it.
type Store interface {
	Get(ctx context.Context, kind, key string) (Entry, bool, error)
	Put(ctx context.Context, kind, key string, e Entry) error
	Invalidate(ctx context.Context) error
	Close() error
}

type Cache struct {
	clock Clock
	store Store

	mu  sync.RWMutex
	mem map[string]Entry

	group singleflight.Group
}

type Option func(*Cache)

func WithClock(c Clock) Option {
	return func(ca *Cache) { ca.clock = c }
}

// New returns a cache backed by store. A nil store keeps values in memory only.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{clock: SystemClock{}, store: store, mem: make(map[string]Entry)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func memKey(kind, key string) string { return kind + "|" + key }

func (c *Cache) now() time.Time { return c.clock.Now() }

// lookup returns the freshest entry known for kind/key and whether it is still valid.
func (c *Cache) lookup(ctx context.Context, kind Kind, key string) (Entry, bool, bool) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.mem[memKey(kind.Name, key)]
	c.mu.RUnlock()
	if ok && e.Fresh(now, kind.TTL) {
		return e, true, true
	}
	if c.store == nil {
		return e, ok, false
	}
	se, sok, err := c.store.Get(ctx, kind.Name, key)
	if err != nil {
		log.Warn().Err(err).Str("kind", kind.Name).Str("key", key).Msg("durable cache read failed")
		return e, ok, false
	}
	if !sok {
		return e, ok, false
	}
	if se.Fresh(now, kind.TTL) {
		c.mu.Lock()
		c.mem[memKey(kind.Name, key)] = se
		c.mu.Unlock()
		return se, true, true
	}
	if !ok || se.StoredAt.After(e.StoredAt) {
		return se, true, false
	}
	return e, ok, false
}

func (c *Cache) put(ctx context.Context, kind Kind, key string, value []byte) {
	e := Entry{Value: value, StoredAt: c.now()}
	c.mu.Lock()
	c.mem[memKey(kind.Name, key)] = e
	c.mu.Unlock()
	if c.store == nil {
		return
	}
	if err := c.store.Put(ctx, kind.Name, key, e); err != nil {
		log.Warn().Err(err).Str("kind", kind.Name).Str("key", key).Msg("durable cache write failed")
	}
}

// GetOrCompute returns the cached value for kind/key, computing and storing it
// when absent or expired. Concurrent misses for one key share a single compute,
// which runs to completion even if every caller gives up.
func GetOrCompute[T any](ctx context.Context, c *Cache, kind Kind, key string, compute func(ctx context.Context) (T, error)) (T, error) {
	return GetOrComputeIf(ctx, c, kind, key, compute, nil)
}

// GetOrComputeIf behaves like GetOrCompute but stores a computed value only
// when keep reports true. A nil keep stores every value.
func GetOrComputeIf[T any](ctx context.Context, c *Cache, kind Kind, key string, compute func(ctx context.Context) (T, error), keep func(T) bool) (T, error) {
	var zero T
	e, found, fresh := c.lookup(ctx, kind, key)
	if fresh {
		var v T
		if err := json.Unmarshal(e.Value, &v); err == nil {
			return v, nil
		}
		log.Warn().Str("kind", kind.Name).Str("key", key).Msg("discarding undecodable cache entry")
		found = false
	}

	ch := c.group.DoChan(memKey(kind.Name, key), func() (interface{}, error) {
		bg := context.WithoutCancel(ctx)
		if e, _, fresh := c.lookup(bg, kind, key); fresh {
			return e.Value, nil
		}
		v, err := compute(bg)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", kind.Name, key, err)
		}
		if keep == nil || keep(v) {
			c.put(bg, kind, key, raw)
		}
		return raw, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		if kind.ServeStale && found {
			var v T
			if err := json.Unmarshal(e.Value, &v); err == nil {
				log.Warn().Err(res.Err).Str("kind", kind.Name).Str("key", key).Time("stored_at", e.StoredAt).Msg("serving stale cache entry")
				return v, nil
			}
		}
		return zero, res.Err
	}
	var v T
	if err := json.Unmarshal(res.Val.([]byte), &v); err != nil {
		return zero, fmt.Errorf("decode %s %s: %w", kind.Name, key, err)
	}
	return v, nil
}

// Peek returns a fresh cached value without computing.
func Peek[T any](ctx context.Context, c *Cache, kind Kind, key string) (T, bool) {
	var v T
	e, _, fresh := c.lookup(ctx, kind, key)
	if !fresh {
		return v, false
	}
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return v, false
	}
	return v, true
}

// Set stores a value directly, replacing whatever was cached.
func Set[T any](ctx context.Context, c *Cache, kind Kind, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind.Name, key, err)
	}
	c.put(ctx, kind, key, raw)
	return nil
}

// ClearAll empties the memory tier and marks every durable entry stale.
func (c *Cache) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	c.mem = make(map[string]Entry)
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	if err := c.store.Invalidate(ctx); err != nil {
		return fmt.Errorf("invalidate durable cache: %w", err)
	}
	return nil
}

// MemoryEntries reports how many values the memory tier holds.
func (c *Cache) MemoryEntries() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mem)
}

func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}
