// Package ratelimit defines the request budget the indexer client honours.
package ratelimit

import "context"

// RateLimiter hands out per-second request slots for a named bucket.
type RateLimiter interface {
	Allow(ctx context.Context, bucket string) (bool, error)
	Wait(ctx context.Context, bucket string) error
}
