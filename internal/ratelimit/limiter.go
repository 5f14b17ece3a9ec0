// Package ratelimit enforces the per-user hourly send quota.
//
// The quota is a strict fixed-window counter keyed by (user, hour bucket).
// Bursts straddling a window boundary are an accepted characteristic of the
// fixed window, not a bug.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BucketSeconds is the width of one quota window.
const BucketSeconds = 3600

// CounterStore is the atomic counter backend. Increment must be atomic;
// correctness depends on there being no read-then-write race between
// workers admitting sends for the same user.
type CounterStore interface {
	Increment(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Limiter admits sends against a per-user hourly quota.
type Limiter struct {
	store CounterStore
	clock func() time.Time
}

// New creates a Limiter backed by the given counter store.
func New(store CounterStore) *Limiter {
	return &Limiter{store: store, clock: time.Now}
}

// WithClock overrides the time source. Only for tests.
func (l *Limiter) WithClock(clock func() time.Time) *Limiter {
	l.clock = clock
	return l
}

// Admit atomically counts one send for the user's current hour bucket and
// reports whether it fits the quota. The count equal to the limit is still
// admitted; limit+1 is the first rejection. The first increment of each
// bucket sets a one-hour expiry so abandoned buckets clean themselves up.
func (l *Limiter) Admit(ctx context.Context, userID uuid.UUID, hourlyLimit int) (bool, error) {
	key := bucketKey(userID, l.clock())

	count, err := l.store.Increment(ctx, key)
	if err != nil {
		return false, fmt.Errorf("increment %s: %w", key, err)
	}

	if count == 1 {
		if err := l.store.Expire(ctx, key, BucketSeconds*time.Second); err != nil {
			// The count is already taken; a missing TTL only delays
			// cleanup of this bucket.
			return count <= int64(hourlyLimit), fmt.Errorf("expire %s: %w", key, err)
		}
	}

	return count <= int64(hourlyLimit), nil
}

// NextWindow returns the start of the hour bucket after the given time,
// used as the persisted scheduledAt hint for deferred recipients.
func NextWindow(t time.Time) time.Time {
	bucket := t.Unix() / BucketSeconds
	return time.Unix((bucket+1)*BucketSeconds, 0).UTC()
}

func bucketKey(userID uuid.UUID, t time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", userID, t.Unix()/BucketSeconds)
}
