// Package ratelimit implements the per-user daily download quota
// (component D): a common interface with an in-process implementation for
// single-instance deployments and a Redis-backed implementation for
// horizontally-scaled ones.
package ratelimit

import "context"

// Limiter is the contract spec.md §4.D grants the rate limiter: test
// without consuming, hit to consume one unit of quota.
type Limiter interface {
	// Test reports whether user_id currently has remaining quota.
	Test(ctx context.Context, userID string) (bool, error)
	// Hit consumes one unit of quota and reports whether it succeeded.
	Hit(ctx context.Context, userID string) (bool, error)
}
