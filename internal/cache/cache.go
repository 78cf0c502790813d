// Package cache keeps the per-address confirmed and pending throw snapshots in
// a durable key-value store. It is a cache, never a source of truth: every
// failure is logged and treated as an empty snapshot.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/podledger/internal/domain"
	"go.uber.org/zap"
)

const (
	confirmedPrefix = "podledger:confirmed:"
	pendingPrefix   = "podledger:pending:"

	DefaultPendingTimeout = 3 * time.Minute
)

// KV is the storage contract. Set must replace the whole value in one write.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type Cache struct {
	kv             KV
	logger         *zap.Logger
	pendingTimeout time.Duration
	now            func() time.Time
}

func New(kv KV, pendingTimeout time.Duration, logger *zap.Logger) (*Cache, error) {
	return newCache(kv, pendingTimeout, logger, time.Now)
}

func newCache(kv KV, pendingTimeout time.Duration, logger *zap.Logger, nowFn func() time.Time) (*Cache, error) {
	if kv == nil {
		return nil, fmt.Errorf("kv store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pendingTimeout <= 0 {
		pendingTimeout = DefaultPendingTimeout
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &Cache{
		kv:             kv,
		logger:         logger,
		pendingTimeout: pendingTimeout,
		now:            nowFn,
	}, nil
}

func ConfirmedKey(address string) string { return confirmedPrefix + address }

func PendingKey(address string) string { return pendingPrefix + address }

// LoadConfirmed returns the confirmed snapshot. Entries without an asset id
// and repeats of an asset id already seen are dropped.
func (c *Cache) LoadConfirmed(ctx context.Context, address string) []domain.Throw {
	return confirmedOnly(c.load(ctx, ConfirmedKey(address)))
}

// SaveConfirmed replaces the confirmed snapshot. Throws without an asset id
// are dropped.
func (c *Cache) SaveConfirmed(ctx context.Context, address string, throws []domain.Throw) {
	c.store(ctx, ConfirmedKey(address), confirmedOnly(throws))
}

func confirmedOnly(throws []domain.Throw) []domain.Throw {
	out := make([]domain.Throw, 0, len(throws))
	seen := make(map[uint64]struct{}, len(throws))
	for _, t := range throws {
		if !t.HasAssetID() {
			continue
		}
		if _, dup := seen[t.AssetID]; dup {
			continue
		}
		seen[t.AssetID] = struct{}{}
		t.IsPending = false
		t.CreatedAt = 0
		out = append(out, t)
	}
	return out
}

// LoadPending returns the pending throws still inside the pending timeout.
func (c *Cache) LoadPending(ctx context.Context, address string) []domain.Throw {
	throws := c.load(ctx, PendingKey(address))
	cutoff := c.now().Add(-c.pendingTimeout).UnixMilli()

	out := throws[:0]
	for _, t := range throws {
		if t.CreatedAt < cutoff {
			continue
		}
		t.IsPending = true
		out = append(out, t)
	}
	return out
}

// SavePending overwrites the pending list; an empty list deletes the key.
func (c *Cache) SavePending(ctx context.Context, address string, throws []domain.Throw) {
	key := PendingKey(address)
	if len(throws) == 0 {
		if err := c.kv.Delete(ctx, key); err != nil {
			c.logger.Warn("failed to delete cache key", zap.String("key", key), zap.Error(err))
		}
		return
	}
	c.store(ctx, key, throws)
}

func (c *Cache) load(ctx context.Context, key string) []domain.Throw {
	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		c.logger.Warn("failed to read cache key", zap.String("key", key), zap.Error(err))
		return []domain.Throw{}
	}
	if !ok || raw == "" {
		return []domain.Throw{}
	}

	var throws []domain.Throw
	if err := json.Unmarshal([]byte(raw), &throws); err != nil {
		c.logger.Warn("discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		return []domain.Throw{}
	}
	if throws == nil {
		return []domain.Throw{}
	}
	return throws
}

func (c *Cache) store(ctx context.Context, key string, throws []domain.Throw) {
	if throws == nil {
		throws = []domain.Throw{}
	}
	data, err := json.Marshal(throws)
	if err != nil {
		c.logger.Warn("failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.kv.Set(ctx, key, string(data)); err != nil {
		c.logger.Warn("failed to write cache key", zap.String("key", key), zap.Error(err))
	}
}
