// Package warehouse implements the idempotent destination client:
// truncation, interval delete, newline-delimited-JSON load, and row counts.
package warehouse

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnavailable is returned for transport-level failures talking to the
// warehouse.
var ErrUnavailable = errors.New("warehouse unavailable")

// ErrSchemaMismatch is returned when a load payload violates the table's
// external schema. It is fatal for the task that produced it; retrying
// without a schema fix will not help.
var ErrSchemaMismatch = errors.New("warehouse load schema mismatch")

// Client is the idempotent destination contract. LoadData is always an
// append: callers are responsible for any preceding TruncateTables or
// DeleteOnOrAfter.
type Client interface {
	TruncateTables(ctx context.Context, dataset string, tables []string) error
	DeleteOnOrAfter(ctx context.Context, dataset, table string, timestamp int64) error
	LoadData(ctx context.Context, dataset, table, schemaPath, dataPath string) error
	GetNumRecords(ctx context.Context, dataset, table string) (int64, error)
	GetNumRecordsInInterval(ctx context.Context, dataset, table string, start, end int64) (int64, error)
}

// LoadThrottle enforces the process-wide minimum spacing between the start
// of concurrent loads with a single mutex and timestamp. It is shared by
// reference across every Client a worker constructs for a single process.
type LoadThrottle struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastStart   time.Time
	now         func() time.Time
}

// NewLoadThrottle returns a LoadThrottle that admits at most one load start
// per minInterval.
func NewLoadThrottle(minInterval time.Duration) *LoadThrottle {
	return &LoadThrottle{minInterval: minInterval, now: time.Now}
}

// Wait blocks the calling goroutine, if necessary, so that loads across the
// whole process are spaced at least minInterval apart. It returns early if
// ctx is cancelled while waiting.
func (t *LoadThrottle) Wait(ctx context.Context) error {
	t.mu.Lock()
	now := t.now()
	wait := t.minInterval - now.Sub(t.lastStart)
	if wait < 0 {
		wait = 0
	}
	t.lastStart = now.Add(wait)
	t.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
