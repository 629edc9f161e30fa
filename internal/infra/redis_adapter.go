// Package infra provides concrete infrastructure adapters for Redis.
//
// The adapter wraps go-redis v9 and backs the shared rate-limit counter. If
// Redis is not reachable, cmd/api falls back to the in-process limiter.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// GoRedisAdapter wraps go-redis v9 to implement middleware.Counter.
type GoRedisAdapter struct {
	rdb    redis.Cmdable
	closer func() error
}

// NewGoRedisAdapter connects to Redis and verifies the connection. The
// caller decides whether to fall back to in-memory limiting on error.
func NewGoRedisAdapter(addr, password string, db int) (*GoRedisAdapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis connected", "addr", addr, "db", db)
	return &GoRedisAdapter{rdb: rdb, closer: rdb.Close}, nil
}

// NewGoRedisAdapterFromClient wraps an existing client, e.g. a cluster or
// failover client built by the caller.
func NewGoRedisAdapterFromClient(rdb redis.UniversalClient) *GoRedisAdapter {
	return &GoRedisAdapter{rdb: rdb, closer: rdb.Close}
}

// Close shuts down the underlying redis client.
func (a *GoRedisAdapter) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer()
}

// Ping reports whether Redis answers.
func (a *GoRedisAdapter) Ping(ctx context.Context) error {
	return a.rdb.Ping(ctx).Err()
}

// =============================================================================
// middleware.Counter implementation
// =============================================================================

// Increment adds one to key and returns the new count. The first increment
// of a window sets its expiry, so the key disappears when the window ends.
func (a *GoRedisAdapter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}
