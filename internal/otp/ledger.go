package otp

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger records spent challenge ids so a copied artifact cannot be replayed
// after its first successful verification.
type Ledger interface {
	// Claim marks id as spent until expiresAt. It reports false when the id
	// was already spent.
	Claim(ctx context.Context, id string, expiresAt time.Time) (bool, error)
}

// NopLedger accepts every claim. Single use then relies on the client
// discarding the artifact.
type NopLedger struct{}

// Claim implements Ledger.
func (NopLedger) Claim(context.Context, string, time.Time) (bool, error) { return true, nil }

// RedisLedger stores spent ids in Redis with an expiry matching the challenge.
type RedisLedger struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisLedger constructs a RedisLedger.
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client, prefix: "otp:spent:", now: time.Now}
}

// Claim implements Ledger using SET NX.
func (l *RedisLedger) Claim(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(l.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	return l.client.SetNX(ctx, l.prefix+id, 1, ttl).Result()
}

var _ Ledger = (*RedisLedger)(nil)
