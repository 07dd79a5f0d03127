// Package indexer implements the read-only source-of-truth client:
// counting and scrolling records out of the external document store.
package indexer

import (
	"context"
	"errors"

	json "github.com/goccy/go-json"
)

// ErrUnavailable is returned for transport-level failures talking to the
// indexer (connection refused, timeout, 5xx).
var ErrUnavailable = errors.New("indexer unavailable")

// ErrBadResponse is returned when the indexer's response cannot be parsed
// into the expected shape.
var ErrBadResponse = errors.New("indexer returned an unparseable response")

// Record is one document read from the indexer: its source body with the
// indexer-assigned ID available separately, so callers can merge it in
// without mutating the raw bytes twice.
type Record struct {
	ID     string
	Source json.RawMessage
}

// Client is the read-only indexer contract. Start/end are nil for indices
// with no timestamp field, in which case the call covers every record in
// the index.
type Client interface {
	// CountRecords returns the number of records in index with
	// timestamp in [start, end), or the total count when start and end
	// are both nil.
	CountRecords(ctx context.Context, index string, start, end *int64) (int64, error)

	// GetRecords scans index, invoking fn once per record in an
	// unspecified order. The scan is restartable from the top and
	// consumed exactly once: if fn returns an error, or the context is
	// cancelled, the scan stops and that error is returned. A partial
	// scan is never silently reported as complete.
	GetRecords(ctx context.Context, index string, start, end *int64, fn func(Record) error) error
}
