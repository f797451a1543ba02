package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const checkoutKeyPrefix = "checkout:idem:"

// CheckoutGuard deduplicates checkout submissions by Idempotency-Key. A
// reserved key holds "" until the order id is recorded.
type CheckoutGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCheckoutGuard creates a guard whose keys live for ttl.
func NewCheckoutGuard(client *redis.Client, ttl time.Duration) *CheckoutGuard {
	return &CheckoutGuard{client: client, ttl: ttl}
}

// Reserve claims key. When it was already claimed it returns the recorded
// order id and false.
func (g *CheckoutGuard) Reserve(ctx context.Context, key string) (string, bool, error) {
	ok, err := g.client.SetNX(ctx, checkoutKeyPrefix+key, "", g.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis reserve idempotency key: %w", err)
	}
	if ok {
		return "", true, nil
	}

	orderID, err := g.client.Get(ctx, checkoutKeyPrefix+key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", false, fmt.Errorf("redis get idempotency key: %w", err)
	}
	return orderID, false, nil
}

// Complete records orderID against key.
func (g *CheckoutGuard) Complete(ctx context.Context, key, orderID string) error {
	if err := g.client.Set(ctx, checkoutKeyPrefix+key, orderID, g.ttl).Err(); err != nil {
		return fmt.Errorf("redis complete idempotency key: %w", err)
	}
	return nil
}

// Release frees key so a failed checkout can be retried.
func (g *CheckoutGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, checkoutKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis release idempotency key: %w", err)
	}
	return nil
}
