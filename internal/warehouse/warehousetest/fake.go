// Package warehousetest provides an in-memory warehouse.Client for
// unit-testing the components downstream of the warehouse.
package warehousetest

import (
	"bufio"
	"context"
	"os"
	"sync"

	json "github.com/goccy/go-json"
)

// Fake is an in-memory warehouse.Client. Rows are tracked per
// "dataset.table" as decoded JSON records with an int64 "timestamp" field.
type Fake struct {
	mu      sync.Mutex
	rows    map[string][]map[string]any
	LoadErr map[string]error
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{rows: make(map[string][]map[string]any)}
}

func key(dataset, table string) string { return dataset + "." + table }

// TruncateTables implements warehouse.Client.
func (f *Fake) TruncateTables(ctx context.Context, dataset string, tables []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, table := range tables {
		delete(f.rows, key(dataset, table))
	}
	return nil
}

// DeleteOnOrAfter implements warehouse.Client.
func (f *Fake) DeleteOnOrAfter(ctx context.Context, dataset, table string, timestamp int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key(dataset, table)
	var kept []map[string]any
	for _, row := range f.rows[k] {
		ts, _ := row["timestamp"].(float64)
		if int64(ts) < timestamp {
			kept = append(kept, row)
		}
	}
	f.rows[k] = kept
	return nil
}

// LoadData implements warehouse.Client by reading newline-delimited JSON
// from dataPath and appending it to the table, ignoring schemaPath (the
// fake does not enforce a schema).
func (f *Fake) LoadData(ctx context.Context, dataset, table, schemaPath, dataPath string) error {
	if err := f.LoadErr[key(dataset, table)]; err != nil {
		return err
	}

	file, err := os.Open(dataPath)
	if err != nil {
		return err
	}
	defer file.Close()

	var rows []map[string]any
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[key(dataset, table)] = append(f.rows[key(dataset, table)], rows...)
	return nil
}

// GetNumRecords implements warehouse.Client.
func (f *Fake) GetNumRecords(ctx context.Context, dataset, table string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.rows[key(dataset, table)])), nil
}

// GetNumRecordsInInterval implements warehouse.Client.
func (f *Fake) GetNumRecordsInInterval(ctx context.Context, dataset, table string, start, end int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, row := range f.rows[key(dataset, table)] {
		ts, _ := row["timestamp"].(float64)
		if int64(ts) >= start && int64(ts) < end {
			n++
		}
	}
	return n, nil
}
