// Package idempotency guards the window between a client submitting a
// request and the ledger recording it, so retried submissions with the same
// request id are not processed twice in parallel.
package idempotency

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
)

const keyPrefix = "wallet:submit:"

type Guard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGuard returns a guard backed by client. A nil client yields a guard
// that always grants; the ledger's unique request index still applies.
func NewGuard(client *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Guard{client: client, ttl: ttl}
}

// Key derives the cache key for a user's request id.
func Key(userID, requestID string) string {
	sum := blake2b.Sum256([]byte(userID + "\x00" + requestID))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Acquire claims the request id. It reports false when another submission
// with the same id holds the claim.
func (g *Guard) Acquire(ctx context.Context, userID, requestID string) (bool, error) {
	if g == nil || g.client == nil {
		return true, nil
	}
	ok, err := g.client.SetNX(ctx, Key(userID, requestID), 1, g.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Release drops the claim so a failed submission can be retried.
func (g *Guard) Release(ctx context.Context, userID, requestID string) error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Del(ctx, Key(userID, requestID)).Err()
}

// Connect opens a Redis client and pings it. An empty addr disables Redis.
func Connect(ctx context.Context, addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("addr", addr).Msg("redis unavailable, continuing without submission guard")
		_ = client.Close()
		return nil
	}
	return client
}
