package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Cache = (*Redis)(nil)

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key. Defaults to "stocklens:".
	Prefix string
}

// Redis is a Cache on a Redis server using SET with expiry.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewRedis(client, opts.Prefix), nil
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "stocklens:"
	}
	return &Redis{client: client, prefix: prefix}
}

// Get returns the value for key.
func (r *Redis) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, true, nil
}

// Put stores value with an expiry of ttl.
func (r *Redis) Put(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key.String(), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key Key) error {
	return r.client.Del(ctx, r.prefix+key.String()).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
