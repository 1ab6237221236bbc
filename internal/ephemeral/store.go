// Package ephemeral provides the short-lived key-value storage backing
// trade proposals and conversation sessions. Values expire on a TTL and
// a consumed key can never be read twice.
package ephemeral

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is missing or has expired.
var ErrNotFound = errors.New("ephemeral: key not found")

// Store is the injected key-value abstraction. The in-process
// implementation serves tests and single-node deployments; the Redis
// implementation serves shared production deployments. Call sites do
// not distinguish between them.
type Store interface {
	// Set writes value under key, replacing any previous value.
	// A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetDelete atomically reads and removes key. At most one caller
	// ever receives the value; all others get ErrNotFound.
	GetDelete(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// TTL reports the remaining lifetime of key, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)
}
