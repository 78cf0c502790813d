package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/podledger/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultRequestsPerSec int64 = 10
	waitStep                    = 25 * time.Millisecond
	waitMax                     = 200 * time.Millisecond
	windowSeconds               = 1
)

// slotScript counts requests in the current one second window and reports 1
// while the count is within the limit.
var slotScript = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RateLimiter)(nil)

// RateLimiter shares one indexer request budget across every process that
// talks to the same redis.
type RateLimiter struct {
	client         *goredis.Client
	requestsPerSec int64
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(client *goredis.Client, requestsPerSec int) (*RateLimiter, error) {
	return newRateLimiter(client, int64(requestsPerSec), time.Now, sleepCtx)
}

func newRateLimiter(
	client *goredis.Client,
	requestsPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if requestsPerSec <= 0 {
		requestsPerSec = defaultRequestsPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepCtx
	}

	return &RateLimiter{
		client:         client,
		requestsPerSec: requestsPerSec,
		now:            nowFn,
		sleep:          sleepFn,
	}, nil
}

func (r *RateLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	bucket = strings.ToLower(strings.TrimSpace(bucket))
	if bucket == "" {
		return false, fmt.Errorf("bucket is required")
	}

	key := fmt.Sprintf("podledger:ratelimit:%s:%d", bucket, r.now().UTC().Unix())
	ok, err := slotScript.Run(ctx, r.client, []string{key}, r.requestsPerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	return ok == 1, nil
}

// Wait blocks until a slot is granted or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, bucket string) error {
	delay := waitStep
	for {
		ok, err := r.Allow(ctx, bucket)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > waitMax {
			delay = waitMax
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
