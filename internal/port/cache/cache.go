// Package cache defines the port interface for the answer cache.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. The research service
// keys it by normalized query so a repeat query can be answered from the
// archive without opening a new backend stream.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
