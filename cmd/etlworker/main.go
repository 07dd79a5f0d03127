// Package main implements the worker's command-line surface: the four
// sub-commands. process-append-only-indices and process-mutable-indices loop
// with a configurable sleep until interrupted; rewind and
// find-latest-good-checkpoint run once and exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/multiversx/mx-chain-etl-go/internal/config"
	"github.com/multiversx/mx-chain-etl-go/internal/dashboard"
	"github.com/multiversx/mx-chain-etl-go/internal/filestorage"
	"github.com/multiversx/mx-chain-etl-go/internal/indexer"
	"github.com/multiversx/mx-chain-etl-go/internal/metrics"
	"github.com/multiversx/mx-chain-etl-go/internal/orchestrator"
	"github.com/multiversx/mx-chain-etl-go/internal/reconcile"
	"github.com/multiversx/mx-chain-etl-go/internal/runner"
	"github.com/multiversx/mx-chain-etl-go/internal/transform"
	"github.com/multiversx/mx-chain-etl-go/internal/warehouse"
	"github.com/multiversx/mx-chain-etl-go/internal/workerstate"
)

// UsageError reports a malformed CLI invocation.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Error: expected a sub-command: process-append-only-indices, process-mutable-indices, rewind, find-latest-good-checkpoint")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "process-append-only-indices":
		err = runLoop(os.Args[2:], processAppendOnlyIndices, rewindBeforeLoop)
	case "process-mutable-indices":
		err = runLoop(os.Args[2:], processMutableIndices, nil)
	case "rewind":
		err = runRewind(os.Args[2:])
	case "find-latest-good-checkpoint":
		err = runFindLatestGoodCheckpoint(os.Args[2:])
	default:
		err = fmt.Errorf("unknown sub-command %q", os.Args[1])
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// worker bundles the collaborators every sub-command needs. Its indexer,
// warehouse, and orchestrator are constructed once per process; cfg is
// reloaded from worker_config.json at the top of every iteration.
type worker struct {
	cfg       *config.WorkerConfig
	state     *workerstate.FileStore
	control   *orchestrator.Controller
	workspace string
}

func newWorker(workspace string) (*worker, error) {
	cfgPath := filepath.Join(workspace, "worker_config.json")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	statePath := filepath.Join(workspace, "worker_state.json")
	state, err := workerstate.NewFileStore(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open worker state: %w", err)
	}

	idx, err := indexer.NewElasticsearchClient(cfg.IndexerURL, cfg.IndexerUsername, cfg.IndexerPassword)
	if err != nil {
		return nil, err
	}

	throttle := warehouse.NewLoadThrottle(3 * time.Second)
	wh, err := warehouse.NewBigQueryClient(context.Background(), cfg.GCPProjectID, throttle)
	if err != nil {
		return nil, err
	}

	files, err := filestorage.New(workspace)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	d := dashboard.New()
	r := runner.New(idx, wh, files, transform.NewRegistry(), cfg.SchemaFolder, m)
	rec := reconcile.New(idx, wh)
	control := orchestrator.New(d, r, rec, idx, wh, state, m)

	return &worker{cfg: cfg, state: state, control: control, workspace: workspace}, nil
}

// reloadConfig re-reads worker_config.json.
func (w *worker) reloadConfig() error {
	cfg, err := config.Load(filepath.Join(w.workspace, "worker_config.json"))
	if err != nil {
		return err
	}
	w.cfg = cfg
	return nil
}

// runLoop drives one sub-command's loop. If before is non-nil, it runs once
// immediately after the worker is constructed, ahead of the first iteration
// (process-append-only-indices uses this to rewind to the persisted
// checkpoint at process start, undoing any partial bulk left by a crashed
// prior run before resuming).
func runLoop(args []string, iterate func(ctx context.Context, w *worker) error, before func(ctx context.Context, w *worker) error) error {
	fs := flag.NewFlagSet("loop", flag.ExitOnError)
	workspace := fs.String("workspace", "", "worker workspace directory")
	sleep := fs.Duration("sleep", time.Minute, "sleep between iterations")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workspace == "" {
		return &UsageError{Message: "-workspace is required"}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w, err := newWorker(*workspace)
	if err != nil {
		return err
	}

	if before != nil {
		if err := before(ctx, w); err != nil {
			return fmt.Errorf("rewind at startup failed: %w", err)
		}
	}

	for {
		if err := w.reloadConfig(); err != nil {
			return err
		}

		if err := iterate(ctx, w); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(*sleep):
		}
	}
}

func processAppendOnlyIndices(ctx context.Context, w *worker) error {
	return w.control.ProcessAppendOnlyIndices(ctx, w.cfg)
}

// rewindBeforeLoop restores the warehouse to a state consistent with the
// persisted checkpoint before the first bulk of a process run, so a crash
// mid-bulk in a previous run never leaves partial, unreconciled rows behind.
func rewindBeforeLoop(ctx context.Context, w *worker) error {
	return w.control.RewindToCheckpoint(ctx, w.cfg)
}

func processMutableIndices(ctx context.Context, w *worker) error {
	return w.control.ProcessMutableIndices(ctx, w.cfg)
}

func runRewind(args []string) error {
	fs := flag.NewFlagSet("rewind", flag.ExitOnError)
	workspace := fs.String("workspace", "", "worker workspace directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workspace == "" {
		return &UsageError{Message: "-workspace is required"}
	}

	w, err := newWorker(*workspace)
	if err != nil {
		return err
	}

	return w.control.RewindToCheckpoint(context.Background(), w.cfg)
}

func runFindLatestGoodCheckpoint(args []string) error {
	fs := flag.NewFlagSet("find-latest-good-checkpoint", flag.ExitOnError)
	workspace := fs.String("workspace", "", "worker workspace directory")
	searchStep := fs.Int64("search-step", 3600, "seconds to step backwards per probe")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workspace == "" {
		return &UsageError{Message: "-workspace is required"}
	}

	w, err := newWorker(*workspace)
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := w.state.Load(ctx)
	if err != nil {
		return err
	}

	indicesCfg := w.cfg.AppendOnlyIndices
	candidate := st.LatestCheckpointTimestamp
	if candidate <= indicesCfg.TimePartitionStart {
		candidate = indicesCfg.TimePartitionStart
	}

	good, err := findGoodCheckpoint(ctx, w, candidate, *searchStep)
	if err != nil {
		return err
	}

	fmt.Printf("Latest good checkpoint: %d\n", good)
	return w.state.Save(ctx, workerstate.State{LatestCheckpointTimestamp: good})
}

// findGoodCheckpoint walks candidate backwards by searchStep until the
// append-only reconciliation over [time_partition_start, candidate) passes,
// so an operator can recover from a corrupted checkpoint without a full
// rewind to genesis.
func findGoodCheckpoint(ctx context.Context, w *worker, candidate, searchStep int64) (int64, error) {
	indicesCfg := w.cfg.AppendOnlyIndices

	for candidate > indicesCfg.TimePartitionStart {
		var mismatch *reconcile.CountsMismatchError
		err := w.control.RewindToCheckpointAt(ctx, w.cfg, candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.As(err, &mismatch) {
			return 0, err
		}
		candidate -= searchStep
	}

	return indicesCfg.TimePartitionStart, nil
}
