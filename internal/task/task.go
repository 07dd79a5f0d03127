// Package task implements the Task value type and its
// PENDING -> STARTED -> {FINISHED, FAILED} lifecycle.
package task

import (
	"errors"
	"fmt"
	"time"
)

// Status is a Task's position in the PENDING -> STARTED -> {FINISHED,
// FAILED} lifecycle.
type Status int

const (
	Pending Status = iota
	Started
	Finished
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Started:
		return "started"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned when a caller attempts a lifecycle
// transition out of order (e.g. finishing a task that was never started).
// Such a transition is a bug in the caller, not a transient condition; an
// orchestrator worker that hits one sets the shared error flag and stops.
var ErrInvalidTransition = errors.New("invalid task status transition")

// Task is one unit of work, identified by (Index, Start, End). A zero
// Start/End pair (IsTimeBound() == false) identifies a no-interval task for
// an index without a timestamp field.
type Task struct {
	Dataset    string
	Index      string
	Start      int64
	End        int64
	bound      bool
	Status     Status
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
	ErrTrace   string
}

// New creates a no-interval task for index, as emitted for entries in
// indices_without_timestamp during bulk planning.
func New(dataset, index string) Task {
	return Task{Dataset: dataset, Index: index, Status: Pending}
}

// NewInterval creates an interval task covering the half-open window
// [start, end). It panics if start >= end — planning code is expected to
// never construct one that violates it.
func NewInterval(dataset, index string, start, end int64) Task {
	if start >= end {
		panic(fmt.Sprintf("task: interval [%d, %d) for index %q does not satisfy start < end", start, end, index))
	}
	return Task{Dataset: dataset, Index: index, Start: start, End: end, bound: true, Status: Pending}
}

// IsTimeBound reports whether this task carries a [Start, End) window.
func (t *Task) IsTimeBound() bool {
	return t.bound
}

// Identity returns the (index, start, end) triple that identifies
// equivalent work.
func (t *Task) Identity() (index string, start, end int64) {
	return t.Index, t.Start, t.End
}

// Description returns a deterministic, filename-friendly string derived
// from the task's identity, used to derive staging file paths and log
// lines.
func (t *Task) Description() string {
	if !t.bound {
		return t.Index
	}
	return fmt.Sprintf("%s_%d_%d", t.Index, t.Start, t.End)
}

func (t *Task) String() string {
	if !t.bound {
		return fmt.Sprintf("(%s)", t.Index)
	}
	start := time.Unix(t.Start, 0).UTC()
	end := time.Unix(t.End, 0).UTC()
	return fmt.Sprintf("(%s, %s <> %s)", t.Index, start.Format(time.RFC3339), end.Format(time.RFC3339))
}

func (t *Task) IsPending() bool  { return t.Status == Pending }
func (t *Task) IsStarted() bool  { return t.Status == Started }
func (t *Task) IsFinished() bool { return t.Status == Finished }
func (t *Task) IsFailed() bool   { return t.Status == Failed }

// MarkStarted transitions PENDING -> STARTED.
func (t *Task) MarkStarted(now time.Time) error {
	if !t.IsPending() {
		return fmt.Errorf("%w: cannot start task %s from status %s", ErrInvalidTransition, t, t.Status)
	}
	t.Status = Started
	t.StartedAt = now
	return nil
}

// MarkFinished transitions STARTED -> FINISHED.
func (t *Task) MarkFinished(now time.Time) error {
	if !t.IsStarted() {
		return fmt.Errorf("%w: cannot finish task %s from status %s", ErrInvalidTransition, t, t.Status)
	}
	t.Status = Finished
	t.FinishedAt = now
	return nil
}

// MarkFailed transitions STARTED -> FAILED, recording the error and a
// formatted trace.
func (t *Task) MarkFailed(err error, trace string) error {
	if !t.IsStarted() {
		return fmt.Errorf("%w: cannot fail task %s from status %s", ErrInvalidTransition, t, t.Status)
	}
	t.Status = Failed
	t.Err = err
	t.ErrTrace = trace
	return nil
}

// Duration returns the time between StartedAt and FinishedAt, or zero if
// the task has not finished.
func (t *Task) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}
