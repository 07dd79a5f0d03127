// Package retry implements the exponential-backoff-with-jitter wait used by
// the indexer client when a transient error escapes. The warehouse client
// does not retry through it.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	baseDelay = 100 * time.Millisecond
	maxDelay  = 30 * time.Second
)

// Wait sleeps for an exponentially increasing duration with jitter, keyed by
// attempt (0-indexed). It returns false if ctx is cancelled during the wait.
func Wait(ctx context.Context, attempt int) bool {
	delay := baseDelay * time.Duration(1<<uint(attempt))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	jitter := time.Duration(rand.Int64N(int64(delay)))
	delay += jitter

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}
