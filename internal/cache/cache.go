// Package cache is a get-or-compute cache keyed by request fingerprints,
// backed by a swappable store (in-process map or Redis).
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the pluggable backend. Get returns (nil, nil) on a miss or an
// expired entry; errors are reserved for backend failures.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Clear(ctx context.Context) error
	Close() error
}

// Fingerprint builds the deterministic cache key for one logical request.
// Provider and symbol are taken verbatim; case matters.
func Fingerprint(op, provider, symbol string) string {
	return fmt.Sprintf("%s:%s:%s", op, provider, symbol)
}

// Cache layers JSON serialization and get-or-compute semantics over a Store.
type Cache struct {
	store Store
}

func New(store Store) *Cache {
	return &Cache{store: store}
}

// GetOrCompute returns the cached value for key when present and fresh,
// otherwise runs compute, stores its result with the given ttl, and returns
// it. The result is decoded into out (a pointer).
//
// There is no single-flight de-duplication: concurrent misses for the same
// key may both compute and both write. Writes carry equivalent freshness, so
// last-writer-wins is acceptable at these TTLs.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, out any, compute func(ctx context.Context) (any, error)) error {
	if b, err := c.store.Get(ctx, key); err == nil && b != nil {
		return json.Unmarshal(b, out)
	}
	v, err := compute(ctx)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	// A failed write is not fatal; the value is still fresh.
	_ = c.store.Set(ctx, key, b, ttl)
	return json.Unmarshal(b, out)
}

// Clear drops all entries. Called once at process startup so a persistent
// backend never serves entries from a previous run.
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Close releases backend resources.
func (c *Cache) Close() error {
	return c.store.Close()
}
