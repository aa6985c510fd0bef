// Package kvs provides the shared key-value store behind the rate limiter
// and the replay guard. The store is treated as an external system with
// eventual-consistency tolerance, except SetNX which must be a conditional
// insert: replay protection depends on exactly one winner per key.
package kvs

import (
	"context"
	"time"
)

// Store is the capability surface the gateway needs from a key-value store.
type Store interface {
	// Incr atomically increments the counter at key by one, establishing
	// ttl when the key is first created, and returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// SetNX inserts key=value with ttl if and only if the key is absent.
	// Returns true when this call created the key.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
