package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/chataccess/pkg/redis"
)

// Claims records which outbox events a consumer has already taken on.
// A claim is a SETNX marker holding the claim time, kept for ttl.
type Claims struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

// NewClaims builds a claim tracker. A zero ttl keeps markers forever.
func NewClaims(store redis.IdempotencyStore, ttl time.Duration) (*Claims, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, fmt.Errorf("claim ttl must be non-negative, got %s", ttl)
	}
	return &Claims{store: store, ttl: ttl, now: time.Now}, nil
}

// Claim marks eventID as taken by consumer. It returns false when another
// delivery of the same event already holds the claim.
func (c *Claims) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := c.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	claimed, err := c.store.SetNX(ctx, key, c.now().UTC().Format(time.RFC3339Nano), c.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return claimed, nil
}

// ClaimedAt reports when the current claim on eventID was taken.
func (c *Claims) ClaimedAt(ctx context.Context, consumer string, eventID uuid.UUID) (time.Time, bool, error) {
	key, err := c.key(consumer, eventID)
	if err != nil {
		return time.Time{}, false, err
	}
	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("claim %s holds %q: %w", key, raw, err)
	}
	return at, true, nil
}

// Release drops the claim so a redelivery can try again.
func (c *Claims) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := c.key(consumer, eventID)
	if err != nil {
		return err
	}
	return c.store.Del(ctx, key)
}

func (c *Claims) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return c.store.IdempotencyKey(consumer, eventID.String()), nil
}
