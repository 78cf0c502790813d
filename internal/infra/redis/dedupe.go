package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	dedupePrefix     = "podledger:dispatched:"
	defaultDedupeTTL = 30 * 24 * time.Hour
)

// Deduper remembers which notifications were already published.
type Deduper struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewDeduper(client *goredis.Client, ttl time.Duration) (*Deduper, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &Deduper{client: client, ttl: ttl}, nil
}

// Claim reports true the first time id is seen within the ttl.
func (d *Deduper) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupePrefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", id, err)
	}
	return ok, nil
}

// Release forgets id so a failed publish can be retried.
func (d *Deduper) Release(ctx context.Context, id string) error {
	if err := d.client.Del(ctx, dedupePrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", id, err)
	}
	return nil
}
