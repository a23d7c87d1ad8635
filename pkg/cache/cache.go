// Package cache holds short-lived coordination state shared by alert
// workers: cooldown leases and rolling counters.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrLeaseLost = errors.New("cache: lease expired or owned by another holder")

// Service is implemented by RedisCache and MemoryCache.
type Service interface {
	// Claim takes key for ttl if nobody holds it. ok is false when it is held.
	Claim(ctx context.Context, key string, ttl time.Duration) (lease Lease, ok bool, err error)
	// Release gives a lease back early. It fails with ErrLeaseLost when the
	// lease already expired and someone else claimed the key.
	Release(ctx context.Context, lease Lease) error
	// Count increments key and returns the new value. The window starts
	// with the first increment; the counter resets when it ends.
	Count(ctx context.Context, key string, window time.Duration) (int64, error)
	Close() error
}

// Lease is proof of a successful Claim.
type Lease struct {
	Key   string
	Token string
}

func newLease(key string) Lease {
	return Lease{Key: key, Token: uuid.NewString()}
}

// Key joins parts with ':' skipping empty ones.
func Key(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ":")
}
