// Package redisstore keeps limiter counters and refresh-token revocations in Redis so
// every API instance shares them.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"agenthub.io/internal/auth"
	"agenthub.io/internal/ratelimit"
)

// Open connects to addr and verifies the connection.
func Open(ctx context.Context, addr, password string, db int) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Limiter is a fixed-window ratelimit.Limiter over INCR + PEXPIRE.
type Limiter struct {
	client redis.UniversalClient
	limit  int
	period time.Duration
}

var _ ratelimit.Limiter = (*Limiter)(nil)

// NewLimiter allows limit attempts per key in each period.
func NewLimiter(client redis.UniversalClient, limit int, period time.Duration) *Limiter {
	return &Limiter{client: client, limit: limit, period: period}
}

func (l *Limiter) IncrementAndCheck(ctx context.Context, key string) (ratelimit.Decision, error) {
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		ttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("increment %s: %w", key, err)
	}
	count := int(incr.Val())
	remaining := ttl.Val()
	// First hit in the window, or a key that lost its expiry: start the window now.
	if count == 1 || remaining < 0 {
		if err := l.client.PExpire(ctx, key, l.period).Err(); err != nil {
			return ratelimit.Decision{}, fmt.Errorf("expire %s: %w", key, err)
		}
		remaining = l.period
	}
	d := ratelimit.Decision{Allowed: count <= l.limit, Count: count, Limit: l.limit}
	if !d.Allowed {
		d.RetryAfter = remaining
	}
	return d, nil
}

// Revocations is an auth.RevocationList stored under "blacklist:{jti}".
type Revocations struct {
	client redis.UniversalClient
	now    func() time.Time
}

var _ auth.RevocationList = (*Revocations)(nil)

// NewRevocations wraps client.
func NewRevocations(client redis.UniversalClient) *Revocations {
	return &Revocations{client: client, now: time.Now}
}

// BlacklistKey is the Redis key for a revoked token id.
func BlacklistKey(tokenID string) string {
	return "blacklist:" + tokenID
}

func (r *Revocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, BlacklistKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *Revocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := r.client.Get(ctx, BlacklistKey(tokenID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return true, nil
}

// Claim uses SET NX so only one of several racing callers can consume a token id.
func (r *Revocations) Claim(ctx context.Context, tokenID string, until time.Time) (bool, error) {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return false, nil
	}
	ok, err := r.client.SetNX(ctx, BlacklistKey(tokenID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim token: %w", err)
	}
	return ok, nil
}
