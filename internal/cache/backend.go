// Package cache provides a cache-aside room lookup in front of the database.
package cache

import (
	"context"
	"time"
)

// Backend stores opaque values by key. Get reports a miss with found=false
// and a nil error.
type Backend interface {
	Get(ctx context.Context, key string) (data []byte, found bool, err error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
