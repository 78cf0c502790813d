package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/podledger/internal/cache"
	goredis "github.com/redis/go-redis/v9"
)

var _ cache.KV = (*KV)(nil)

// KV stores cache snapshots as plain string values.
type KV struct {
	client *goredis.Client
}

func NewKV(client *goredis.Client) (*KV, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &KV{client: client}, nil
}

func (k *KV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := k.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return v, true, nil
}

func (k *KV) Set(ctx context.Context, key, value string) error {
	if err := k.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (k *KV) Delete(ctx context.Context, key string) error {
	if err := k.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
