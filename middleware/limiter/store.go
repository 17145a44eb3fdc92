package limiter

import (
	"context"
	"time"
)

// Store keeps fixed window counters per key. Implementations must update a
// key atomically.
type Store interface {
	// Increment adds one hit to key, opening a new window of the given
	// length when none is active, and returns the count and window end.
	Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error)
	// Decrement removes one hit from key if its window is still active.
	Decrement(ctx context.Context, key string) error
	// Reset clears the counter for key.
	Reset(ctx context.Context, key string) error
}
