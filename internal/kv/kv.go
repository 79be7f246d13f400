// Package kv provides the small set-if-absent key/value store shared by the
// idempotency gate and the delivery lease. Entries expire passively.
package kv

import (
	"context"
	"time"
)

// Store is implemented by MemoryStore and RedisStore.
type Store interface {
	// SetIfAbsent stores value under key for ttl unless a live entry exists.
	// It reports whether the value was stored and the value now held by key.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (stored bool, current string, err error)

	// Get returns the live value for key, or ok=false.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// DeleteIfEquals removes key only while it still holds value.
	DeleteIfEquals(ctx context.Context, key, value string) error

	Ping(ctx context.Context) error
}
