package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"stocklens/internal/observability"
)

// DefaultComputeTimeout bounds one shared computation.
const DefaultComputeTimeout = 2 * time.Minute

// Memo serves artifacts from a Cache and computes them on a miss. Backend
// errors degrade to a miss. Concurrent misses for one key share a single
// computation, which runs detached from any one caller's cancellation. The
// cache is written only after the computation succeeds.
type Memo struct {
	cache   Cache
	ttl     time.Duration
	timeout time.Duration
	group   singleflight.Group
	log     *slog.Logger
}

// NewMemo wraps c with a fixed ttl. A non-positive ttl uses DefaultTTL.
func NewMemo(c Cache, ttl time.Duration) *Memo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memo{
		cache:   c,
		ttl:     ttl,
		timeout: DefaultComputeTimeout,
		log:     slog.Default().With("component", "cache"),
	}
}

// SetComputeTimeout changes the bound on a shared computation. Non-positive
// values are ignored.
func (m *Memo) SetComputeTimeout(d time.Duration) {
	if d > 0 {
		m.timeout = d
	}
}

// TTL returns the expiry applied to every entry.
func (m *Memo) TTL() time.Duration { return m.ttl }

// Lookup returns the cached value for key, treating backend errors as a
// miss.
func (m *Memo) Lookup(ctx context.Context, key Key) ([]byte, bool) {
	v, ok, err := m.cache.Get(ctx, key)
	ns := string(key.Namespace)
	switch {
	case err != nil:
		m.log.Warn("cache get failed", "key", key.String(), "error", err)
		observability.CacheLookups.WithLabelValues(ns, "error").Inc()
		return nil, false
	case ok:
		observability.CacheLookups.WithLabelValues(ns, "hit").Inc()
	default:
		observability.CacheLookups.WithLabelValues(ns, "miss").Inc()
	}
	return v, ok
}

// Store writes value under key, logging and ignoring backend errors.
func (m *Memo) Store(ctx context.Context, key Key, value []byte) {
	if err := m.cache.Put(ctx, key, value, m.ttl); err != nil {
		m.log.Warn("cache put failed", "key", key.String(), "error", err)
	}
}

// Invalidate drops key, logging and ignoring backend errors.
func (m *Memo) Invalidate(ctx context.Context, key Key) {
	if err := m.cache.Delete(ctx, key); err != nil {
		m.log.Warn("cache delete failed", "key", key.String(), "error", err)
	}
}

// GetOrCompute returns the cached value for key, or runs fn, caches its
// result and returns it. hit reports whether the value came from the cache.
func (m *Memo) GetOrCompute(ctx context.Context, key Key, fn func(context.Context) ([]byte, error)) (value []byte, hit bool, err error) {
	if v, ok := m.Lookup(ctx, key); ok {
		return v, true, nil
	}

	ch := m.group.DoChan(key.String(), func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		v, err := fn(runCtx)
		if err != nil {
			return nil, err
		}
		m.Store(runCtx, key, v)
		return v, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, false, r.Err
		}
		return r.Val.([]byte), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// GetOrComputeJSON is GetOrCompute for values serialised as JSON.
func GetOrComputeJSON[T any](ctx context.Context, m *Memo, key Key, fn func(context.Context) (T, error)) (T, bool, error) {
	var out T
	raw, hit, err := m.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		// A corrupt entry is dropped and recomputed once.
		m.log.Warn("discarding undecodable cache entry", "key", key.String(), "error", err)
		if derr := m.cache.Delete(ctx, key); derr != nil {
			m.log.Warn("cache delete failed", "key", key.String(), "error", derr)
		}
		v, err := fn(ctx)
		if err != nil {
			return out, false, err
		}
		if b, err := json.Marshal(v); err == nil {
			m.Store(ctx, key, b)
		}
		return v, false, nil
	}
	return out, hit, nil
}
