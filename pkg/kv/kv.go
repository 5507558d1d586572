// Package kv is a small key-value abstraction over Valkey/Redis used for
// request rate limiting. The in-memory store backs tests and dev mode.
package kv

import (
	"context"
	"time"
)

// Store is the counter store behind the rate limiter.
type Store interface {
	// Incr increments a counter and returns the new value. The TTL is set
	// when the counter is created, which makes it a fixed window.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close closes the connection to the store.
	Close() error
}
