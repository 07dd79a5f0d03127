// Package indexertest provides an in-memory indexer.Client for unit-testing
// the components downstream of the indexer.
package indexertest

import (
	"context"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/multiversx/mx-chain-etl-go/internal/indexer"
)

// Fake is an in-memory indexer.Client. Records are held per-index and
// filtered by an optional "timestamp" field on Source.
type Fake struct {
	mu      sync.Mutex
	records map[string][]indexer.Record
	// FailOn, if set, causes CountRecords/GetRecords for that index to
	// return the given error.
	FailOn map[string]error
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{records: make(map[string][]indexer.Record)}
}

// Seed appends records to index, for use by test setup.
func (f *Fake) Seed(index string, records ...indexer.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[index] = append(f.records[index], records...)
}

// CountRecords implements indexer.Client.
func (f *Fake) CountRecords(ctx context.Context, index string, start, end *int64) (int64, error) {
	if err := f.FailOn[index]; err != nil {
		return 0, err
	}

	var count int64
	err := f.GetRecords(ctx, index, start, end, func(indexer.Record) error {
		count++
		return nil
	})
	return count, err
}

// GetRecords implements indexer.Client.
func (f *Fake) GetRecords(ctx context.Context, index string, start, end *int64, fn func(indexer.Record) error) error {
	if err := f.FailOn[index]; err != nil {
		return err
	}

	f.mu.Lock()
	records := append([]indexer.Record(nil), f.records[index]...)
	f.mu.Unlock()

	for _, r := range records {
		if !withinWindow(r, start, end) {
			continue
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func withinWindow(r indexer.Record, start, end *int64) bool {
	if start == nil && end == nil {
		return true
	}

	var doc struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(r.Source, &doc); err != nil {
		return false
	}
	if start != nil && doc.Timestamp < *start {
		return false
	}
	if end != nil && doc.Timestamp >= *end {
		return false
	}
	return true
}
