// Package cache provides the advisory result cache: typed keys, memory,
// Badger and Redis backends, and a single-flight memoizer that fills the
// cache only after a successful computation.
package cache

import (
	"context"
	"fmt"
	"time"

	"stocklens/internal/config"
)

// DefaultTTL applies to every artifact class.
const DefaultTTL = time.Hour

// Cache is a TTL key-value store of serialized artifacts. Implementations
// are safe for concurrent use; the last write for a key wins.
type Cache interface {
	// Get returns the value for key. ok is false on a miss or expiry.
	Get(ctx context.Context, key Key) (value []byte, ok bool, err error)
	// Put stores value under key for ttl.
	Put(ctx context.Context, key Key, value []byte, ttl time.Duration) error
	// Delete removes key if present.
	Delete(ctx context.Context, key Key) error
	// Close releases backend resources.
	Close() error
}

// Open builds the backend selected by cfg.
func Open(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "badger":
		b, err := OpenBadger(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "redis":
		r, err := OpenRedis(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
