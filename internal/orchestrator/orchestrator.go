// Package orchestrator implements the application controller: one worker
// iteration over append-only indices, the periodic mutable-index reload,
// and the rewind-to-checkpoint recovery path.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/multiversx/mx-chain-etl-go/internal/config"
	"github.com/multiversx/mx-chain-etl-go/internal/dashboard"
	"github.com/multiversx/mx-chain-etl-go/internal/indexer"
	"github.com/multiversx/mx-chain-etl-go/internal/metrics"
	"github.com/multiversx/mx-chain-etl-go/internal/reconcile"
	"github.com/multiversx/mx-chain-etl-go/internal/runner"
	"github.com/multiversx/mx-chain-etl-go/internal/task"
	"github.com/multiversx/mx-chain-etl-go/internal/warehouse"
	"github.com/multiversx/mx-chain-etl-go/internal/workerstate"
)

// endTimeLag is the small lag applied to "now" when computing the upper
// bound for append-only bulk planning, so the worker never treats a record
// still eligible for append as already final.
const endTimeLag = 60 * time.Second

// SomeTasksFailedError is raised when any task in a bulk ended FAILED. The
// iteration aborts without advancing the checkpoint. It is a typed error
// carrying the first failure for diagnostics.
type SomeTasksFailedError struct {
	FailedCount int
	First       task.Task
}

func (e *SomeTasksFailedError) Error() string {
	return fmt.Sprintf("%d task(s) failed, first: %s: %v", e.FailedCount, e.First.String(), e.First.Err)
}

// Controller orchestrates one worker's iterations.
type Controller struct {
	dashboard  *dashboard.Dashboard
	runner     *runner.Runner
	reconciler *reconcile.Reconciler
	indexer    indexer.Client
	warehouse  warehouse.Client
	state      workerstate.Store
	metrics    *metrics.Metrics

	now func() time.Time
}

// New constructs a Controller from its collaborators. m may be nil, in
// which case no post-drain report is printed.
func New(
	d *dashboard.Dashboard,
	r *runner.Runner,
	rec *reconcile.Reconciler,
	idx indexer.Client,
	wh warehouse.Client,
	state workerstate.Store,
	m *metrics.Metrics,
) *Controller {
	return &Controller{
		dashboard:  d,
		runner:     r,
		reconciler: rec,
		indexer:    idx,
		warehouse:  wh,
		state:      state,
		metrics:    m,
		now:        time.Now,
	}
}

// ProcessAppendOnlyIndices runs bulks from the persisted checkpoint (or
// config.TimePartitionStart, whichever is later) up through "now minus
// endTimeLag" (clamped to config.TimePartitionEnd when set), advancing and
// persisting the checkpoint after each successfully reconciled bulk. It
// returns once plan_bulk reports no further intervals to plan.
func (c *Controller) ProcessAppendOnlyIndices(ctx context.Context, cfg *config.WorkerConfig) error {
	indicesCfg := cfg.AppendOnlyIndices

	initialEnd := c.now().Add(-endTimeLag).Unix()
	if indicesCfg.HasUpperBound() && indicesCfg.TimePartitionEnd < initialEnd {
		initialEnd = indicesCfg.TimePartitionEnd
	}

	for bulkIndex := 0; ; bulkIndex++ {
		st, err := c.state.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load worker state: %w", err)
		}

		start := st.LatestCheckpointTimestamp
		if start < indicesCfg.TimePartitionStart {
			start = indicesCfg.TimePartitionStart
		}

		checkpoint, err := c.planAndConsumeBulk(ctx, indicesCfg, start, initialEnd)
		if err != nil {
			return fmt.Errorf("bulk #%d failed: %w", bulkIndex, err)
		}
		if checkpoint == nil {
			return nil
		}

		if err := c.state.Save(ctx, workerstate.State{LatestCheckpointTimestamp: *checkpoint}); err != nil {
			return fmt.Errorf("failed to persist checkpoint after bulk #%d: %w", bulkIndex, err)
		}
	}
}

// ProcessMutableIndices truncates every mutable-index table (and every
// indices-without-timestamp table), then reloads the whole
// [genesis_timestamp, now) window in one bulk.
func (c *Controller) ProcessMutableIndices(ctx context.Context, cfg *config.WorkerConfig) error {
	indicesCfg := cfg.MutableIndices

	tables := append(append([]string{}, indicesCfg.Indices...), indicesCfg.IndicesWithoutTimestamp...)
	if err := c.warehouse.TruncateTables(ctx, indicesCfg.BQDataset, tables); err != nil {
		return fmt.Errorf("failed to truncate mutable tables: %w", err)
	}

	now := c.now().Unix()
	// Size the bulk so its intervals span all of [genesis, now).
	if span := now - cfg.GenesisTimestamp; span > 0 && indicesCfg.IntervalSizeInSeconds > 0 {
		indicesCfg.NumIntervalsInBulk = int((span + indicesCfg.IntervalSizeInSeconds - 1) / indicesCfg.IntervalSizeInSeconds)
	}
	_, err := c.planAndConsumeBulk(ctx, indicesCfg, cfg.GenesisTimestamp, now)
	if err != nil {
		return fmt.Errorf("mutable reload failed: %w", err)
	}
	return nil
}

// RewindToCheckpoint deletes, for every append-only table, rows with
// timestamp >= the persisted checkpoint, then reconciles
// [time_partition_start, checkpoint) with a hard failure on mismatch. It
// restores the warehouse to a state consistent with the checkpoint after a
// crashed or partial prior run.
func (c *Controller) RewindToCheckpoint(ctx context.Context, cfg *config.WorkerConfig) error {
	st, err := c.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load worker state: %w", err)
	}
	return c.RewindToCheckpointAt(ctx, cfg, st.LatestCheckpointTimestamp)
}

// RewindToCheckpointAt performs the same delete-then-reconcile protocol as
// RewindToCheckpoint, but against an explicit checkpoint value rather than
// the persisted one. find-latest-good-checkpoint uses this to probe
// candidate checkpoints without mutating worker_state.json until a good one
// is found.
func (c *Controller) RewindToCheckpointAt(ctx context.Context, cfg *config.WorkerConfig, checkpoint int64) error {
	indicesCfg := cfg.AppendOnlyIndices

	for _, table := range indicesCfg.Indices {
		if err := c.warehouse.DeleteOnOrAfter(ctx, indicesCfg.BQDataset, table, checkpoint); err != nil {
			return fmt.Errorf("failed to rewind table %s: %w", table, err)
		}
	}

	_, err := c.reconciler.Check(ctx, indicesCfg.Indices, reconcile.Options{
		Dataset:        indicesCfg.BQDataset,
		Start:          indicesCfg.TimePartitionStart,
		End:            checkpoint,
		FailOnMismatch: true,
		Erratum:        indicesCfg.Erratum,
	})
	if err != nil {
		return fmt.Errorf("rewind reconciliation failed: %w", err)
	}

	return nil
}

// planAndConsumeBulk plans one bulk, runs the worker pool, and reconciles
// on success. It returns nil (no error, no checkpoint) when plan_bulk had
// nothing to plan.
func (c *Controller) planAndConsumeBulk(ctx context.Context, indicesCfg config.IndicesConfig, start, end int64) (*int64, error) {
	checkpoint, ok := c.dashboard.PlanBulk(
		indicesCfg.BQDataset,
		indicesCfg.Indices,
		indicesCfg.IndicesWithoutTimestamp,
		start, end,
		indicesCfg.NumIntervalsInBulk,
		indicesCfg.IntervalSizeInSeconds,
	)
	if !ok {
		return nil, nil
	}

	c.consumeTasksInParallel(ctx, indicesCfg.NumThreads)

	if c.metrics != nil {
		fmt.Println(c.metrics.GenerateReport().String())
	}

	failed := c.dashboard.GetFailedTasks()
	if len(failed) > 0 {
		return nil, &SomeTasksFailedError{FailedCount: len(failed), First: failed[0]}
	}

	c.dashboard.AssertAllExistingTasksAreFinished()

	skip := make(map[string]bool, len(indicesCfg.SkipCountsCheckForIndices))
	for _, idx := range indicesCfg.SkipCountsCheckForIndices {
		skip[idx] = true
	}

	_, err := c.reconciler.Check(ctx, indicesCfg.Indices, reconcile.Options{
		Dataset:        indicesCfg.BQDataset,
		Start:          indicesCfg.TimePartitionStart,
		End:            checkpoint,
		SkipIndices:    skip,
		FailOnMismatch: indicesCfg.ShouldFailOnCountsMismatch,
		Erratum:        indicesCfg.Erratum,
	})
	if err != nil {
		return nil, err
	}

	return &checkpoint, nil
}

// consumeTasksInParallel spawns numThreads workers that repeatedly pick and
// run a task until the dashboard is drained or a shared error flag has been
// set, cooperatively cancelling outstanding workers.
func (c *Controller) consumeTasksInParallel(ctx context.Context, numThreads int) {
	var hasErrorHappened atomic.Bool
	var wg sync.WaitGroup

	for i := 0; i < numThreads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.consumeTasksWorker(ctx, &hasErrorHappened)
		}()
	}

	wg.Wait()
}

func (c *Controller) consumeTasksWorker(ctx context.Context, hasErrorHappened *atomic.Bool) {
	defer func() {
		if r := recover(); r != nil {
			hasErrorHappened.Store(true)
		}
	}()

	for {
		if hasErrorHappened.Load() {
			return
		}

		t, ok := c.dashboard.PickAndStartTask()
		if !ok {
			return
		}

		if err := c.runner.Run(ctx, t); err != nil {
			hasErrorHappened.Store(true)
			_ = c.dashboard.OnTaskFailed(t, err, err.Error())
			if c.metrics != nil {
				c.metrics.RecordTaskFailed()
			}
			return
		}

		if err := c.dashboard.OnTaskFinished(t); err != nil {
			hasErrorHappened.Store(true)
			return
		}
		if c.metrics != nil {
			c.metrics.RecordTaskFinished()
			c.metrics.RecordProcessingTime(t.Duration())
		}
	}
}
