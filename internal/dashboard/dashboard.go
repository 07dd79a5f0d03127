// Package dashboard implements the in-process work queue for one worker
// iteration: bulk planning, concurrent pick/finish, and status bookkeeping.
package dashboard

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/multiversx/mx-chain-etl-go/internal/task"
)

// Dashboard is a mutex-guarded set of Tasks for one bulk, safe for
// concurrent PickAndStartTask/OnTaskFinished/OnTaskFailed calls from worker
// goroutines. PlanBulk and AssertAllExistingTasksAreFinished are
// orchestrator-only and must not be called concurrently with anything
// else.
type Dashboard struct {
	mu    sync.Mutex
	tasks []task.Task
	now   func() time.Time
}

// New returns an empty Dashboard.
func New() *Dashboard {
	return &Dashboard{now: time.Now}
}

// PlanBulk replaces the dashboard's tasks with a freshly planned bulk. It
// must only be called when the dashboard holds no non-finished tasks
// (AssertAllExistingTasksAreFinished enforces this).
//
// For i in [0, numIntervals), it emits the half-open interval
// [start+i*Δ, min(start+(i+1)*Δ, end)), stopping once an interval would
// start at or beyond end. One task is emitted per interval per index in
// indices that is not also in indicesWithoutTimestamp; additionally, one
// no-interval task is emitted per index in indicesWithoutTimestamp. The
// resulting tasks are shuffled so concurrent workers do not collide on a
// single index.
//
// When no interval is emitted at all (the caller has caught up to end),
// the no-interval tasks are withheld too and PlanBulk returns (0, false):
// the whole bulk is being discarded, and leaving them enqueued as PENDING
// would make the next PlanBulk call panic in assertAllFinishedLocked since
// nothing ever runs them. They are re-emitted on the next bulk that does
// have an interval to plan.
//
// It returns the end of the last emitted interval, or (0, false) if no
// interval was emitted.
func (d *Dashboard) PlanBulk(
	dataset string,
	indices []string,
	indicesWithoutTimestamp []string,
	start, end int64,
	numIntervals int,
	intervalSize int64,
) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.assertAllFinishedLocked(); err != nil {
		panic(err)
	}
	d.tasks = nil

	excluded := make(map[string]bool, len(indicesWithoutTimestamp))
	for _, idx := range indicesWithoutTimestamp {
		excluded[idx] = true
	}

	var lastEnd int64
	var haveInterval bool

	for i := 0; i < numIntervals; i++ {
		intervalStart := start + int64(i)*intervalSize
		if intervalStart >= end {
			break
		}
		intervalEnd := intervalStart + intervalSize
		if intervalEnd > end {
			intervalEnd = end
		}

		lastEnd = intervalEnd
		haveInterval = true

		for _, index := range indices {
			if excluded[index] {
				continue
			}
			d.tasks = append(d.tasks, task.NewInterval(dataset, index, intervalStart, intervalEnd))
		}
	}

	if !haveInterval {
		d.tasks = nil
		return 0, false
	}

	for _, index := range indicesWithoutTimestamp {
		d.tasks = append(d.tasks, task.New(dataset, index))
	}

	rand.Shuffle(len(d.tasks), func(i, j int) {
		d.tasks[i], d.tasks[j] = d.tasks[j], d.tasks[i]
	})

	return lastEnd, true
}

// PickAndStartTask atomically scans for the first PENDING task, transitions
// it to STARTED, and returns a pointer into the dashboard's backing slice.
// It returns (nil, false) once no PENDING task remains.
func (d *Dashboard) PickAndStartTask() (*task.Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.tasks {
		t := &d.tasks[i]
		if t.IsPending() {
			if err := t.MarkStarted(d.now()); err != nil {
				panic(err)
			}
			return t, true
		}
	}
	return nil, false
}

// OnTaskFinished transitions t from STARTED to FINISHED.
func (d *Dashboard) OnTaskFinished(t *task.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return t.MarkFinished(d.now())
}

// OnTaskFailed transitions t from STARTED to FAILED, recording err and
// trace. Every Task status transition — this one included — must happen
// under mu: t lives in the dashboard's backing slice, and concurrent
// workers read t.Status via PickAndStartTask/GetFailedTasks while holding
// the same lock.
func (d *Dashboard) OnTaskFailed(t *task.Task, err error, trace string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return t.MarkFailed(err, trace)
}

// GetFailedTasks returns every task in the FAILED state. Orchestrator-only;
// must not be called concurrently with PlanBulk.
func (d *Dashboard) GetFailedTasks() []task.Task {
	d.mu.Lock()
	defer d.mu.Unlock()

	var failed []task.Task
	for _, t := range d.tasks {
		if t.IsFailed() {
			failed = append(failed, t)
		}
	}
	return failed
}

// AssertAllExistingTasksAreFinished panics if any held task is not
// FINISHED (a FAILED task trips it too) — a violation is a scheduling bug,
// not a recoverable condition. Orchestrator-only.
func (d *Dashboard) AssertAllExistingTasksAreFinished() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.assertAllFinishedLocked(); err != nil {
		panic(err)
	}
}

func (d *Dashboard) assertAllFinishedLocked() error {
	for _, t := range d.tasks {
		if !t.IsFinished() {
			return fmt.Errorf("task %s is not finished: status %s", t.String(), t.Status)
		}
	}
	return nil
}
