// Package cache stores credentials keyed by scope, either in process memory
// or in Redis so that replicas share them.
package cache

import (
	"context"
	"time"
)

// TokenCache is a keyed store of tokens. A Get that finds nothing returns
// found=false and no error; errors are reserved for store failures.
type TokenCache[T any] interface {
	Get(ctx context.Context, key string) (T, bool, error)

	// Set replaces any existing entry for key.
	Set(ctx context.Context, key string, token T) error

	Invalidate(ctx context.Context, key string) error

	Close() error
}

// Expiring is implemented by tokens that know when they stop being valid.
// Caches never hold such a token past its expiry, even when their TTL is
// longer.
type Expiring interface {
	Expiry() time.Time
}

// lifetime is how long token may be cached: ttl, shortened to the token's own
// expiry when it has one. A non-positive result means the token must not be
// stored.
func lifetime[T any](token T, ttl time.Duration, now time.Time) time.Duration {
	exp, ok := any(token).(Expiring)
	if !ok {
		return ttl
	}

	expiresAt := exp.Expiry()
	if expiresAt.IsZero() {
		return ttl
	}

	return min(ttl, expiresAt.Sub(now))
}
