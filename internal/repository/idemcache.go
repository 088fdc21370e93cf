package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// idemTTL bounds the cache; the Postgres unique constraint stays
// authoritative well past it.
const idemTTL = 48 * time.Hour

// IdemCache is a read-through Redis cache of idempotency-key bindings. It is
// only ever written after the binding committed to Postgres, so a cache hit
// always points at a real transaction and a miss just falls through to the
// database path.
type IdemCache struct {
	rdb *redis.Client
}

func NewIdemCache(rdb *redis.Client) *IdemCache {
	return &IdemCache{rdb: rdb}
}

func idemKey(clientID, key string) string {
	return fmt.Sprintf("idem:%s:%s", clientID, key)
}

// Lookup returns the bound transaction id, or "" on a miss. Redis errors are
// treated as misses; the database decides.
func (c *IdemCache) Lookup(ctx context.Context, clientID, key string) string {
	val, err := c.rdb.Get(ctx, idemKey(clientID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return ""
	}
	if err != nil {
		slog.Warn("idempotency cache lookup failed", "error", err)
		return ""
	}
	return val
}

// Bind caches a committed key binding. Best effort.
func (c *IdemCache) Bind(ctx context.Context, clientID, key, transactionID string) {
	if err := c.rdb.Set(ctx, idemKey(clientID, key), transactionID, idemTTL).Err(); err != nil {
		slog.Warn("idempotency cache bind failed", "error", err)
	}
}
