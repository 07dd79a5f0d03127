// Package reconcile implements the per-index source-vs-warehouse count
// check that gates checkpoint advancement.
package reconcile

import (
	"context"
	"fmt"

	"github.com/multiversx/mx-chain-etl-go/internal/indexer"
	"github.com/multiversx/mx-chain-etl-go/internal/warehouse"
)

// CountsMismatchError reports the first table whose indexer and warehouse
// counts disagreed by more than its configured erratum. It is a typed
// error so callers can errors.As it to inspect the offending table and its
// Result instead of string-matching.
type CountsMismatchError struct {
	Table  string
	Result Result
}

func (e *CountsMismatchError) Error() string {
	return fmt.Sprintf("counts mismatch: table %s: %s (indexer=%d, warehouse=%d, delta=%d)",
		e.Table, describeVerdict(e.Result.Verdict), e.Result.IndexerCount, e.Result.WarehouseCount, e.Result.Delta)
}

// Verdict classifies one table's reconciliation outcome.
type Verdict int

const (
	// OK means the delta was zero, or within the table's configured
	// erratum tolerance.
	OK Verdict = iota
	// Deficit means the warehouse is missing rows (indexer count is
	// higher): delta > 0.
	Deficit
	// Surplus means the warehouse has extra rows, most likely
	// duplicates from a retried load: delta < 0.
	Surplus
)

func (v Verdict) String() string {
	switch v {
	case OK:
		return "ok"
	case Deficit:
		return "deficit"
	case Surplus:
		return "surplus"
	default:
		return "unknown"
	}
}

// Result is the outcome of reconciling one table.
type Result struct {
	Table         string
	IndexerCount  int64
	WarehouseCount int64
	Delta         int64
	Verdict       Verdict
}

// Reconciler compares per-index indexer and warehouse counts over a window.
type Reconciler struct {
	indexer   indexer.Client
	warehouse warehouse.Client
}

// New constructs a Reconciler.
func New(idx indexer.Client, wh warehouse.Client) *Reconciler {
	return &Reconciler{indexer: idx, warehouse: wh}
}

// Options configures one Check call.
type Options struct {
	Dataset      string
	Start, End   int64
	// GlobalCounts, when true, compares against the warehouse's total row
	// count instead of its interval count — used for no-interval indices.
	GlobalCounts bool
	SkipIndices  map[string]bool
	// Erratum returns the accepted absolute-delta tolerance for table, or
	// 0 if none is configured.
	Erratum func(table string) int64
	// FailOnMismatch, when true, causes Check to return a *CountsMismatchError
	// for the first out-of-tolerance table; otherwise mismatches are
	// returned in the result slice for the caller to log.
	FailOnMismatch bool
}

// Check reconciles every table in tables not present in opts.SkipIndices.
// When opts.FailOnMismatch is set, it returns a *CountsMismatchError for
// the first mismatching table; otherwise all results (including
// mismatches) are returned for the caller to log.
func (r *Reconciler) Check(ctx context.Context, tables []string, opts Options) ([]Result, error) {
	var results []Result

	for _, table := range tables {
		if opts.SkipIndices[table] {
			continue
		}

		result, err := r.checkTable(ctx, table, opts)
		if err != nil {
			return results, err
		}
		results = append(results, result)

		if result.Verdict != OK && opts.FailOnMismatch {
			return results, &CountsMismatchError{Table: table, Result: result}
		}
	}

	return results, nil
}

func (r *Reconciler) checkTable(ctx context.Context, table string, opts Options) (Result, error) {
	var start, end *int64
	if !opts.GlobalCounts {
		start, end = &opts.Start, &opts.End
	}

	indexerCount, err := r.indexer.CountRecords(ctx, table, start, end)
	if err != nil {
		return Result{}, fmt.Errorf("failed to count indexer records for %s: %w", table, err)
	}

	var warehouseCount int64
	if opts.GlobalCounts {
		warehouseCount, err = r.warehouse.GetNumRecords(ctx, opts.Dataset, table)
	} else {
		warehouseCount, err = r.warehouse.GetNumRecordsInInterval(ctx, opts.Dataset, table, opts.Start, opts.End)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to count warehouse records for %s: %w", table, err)
	}

	delta := indexerCount - warehouseCount

	verdict := OK
	tolerance := int64(0)
	if opts.Erratum != nil {
		tolerance = opts.Erratum(table)
	}
	if abs64(delta) > tolerance {
		if delta > 0 {
			verdict = Deficit
		} else {
			verdict = Surplus
		}
	}

	return Result{
		Table:          table,
		IndexerCount:   indexerCount,
		WarehouseCount: warehouseCount,
		Delta:          delta,
		Verdict:        verdict,
	}, nil
}

func describeVerdict(v Verdict) string {
	switch v {
	case Deficit:
		return "data missing"
	case Surplus:
		return "possible duplicates"
	default:
		return "ok"
	}
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
