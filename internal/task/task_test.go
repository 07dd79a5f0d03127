package task

import (
	"errors"
	"testing"
	"time"
)

func TestLifecycle_HappyPath(t *testing.T) {
	tsk := NewInterval("dataset", "blocks", 0, 60)
	if !tsk.IsPending() {
		t.Fatal("expected new task to be pending")
	}

	now := time.Now()
	if err := tsk.MarkStarted(now); err != nil {
		t.Fatalf("unexpected error starting task: %v", err)
	}
	if !tsk.IsStarted() {
		t.Fatal("expected task to be started")
	}

	later := now.Add(time.Second)
	if err := tsk.MarkFinished(later); err != nil {
		t.Fatalf("unexpected error finishing task: %v", err)
	}
	if !tsk.IsFinished() {
		t.Fatal("expected task to be finished")
	}
	if tsk.Duration() != time.Second {
		t.Errorf("expected duration of 1s, got %v", tsk.Duration())
	}
}

func TestLifecycle_FailAfterStart(t *testing.T) {
	tsk := New("dataset", "accounts")
	if err := tsk.MarkStarted(time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	boom := errors.New("boom")
	if err := tsk.MarkFailed(boom, "trace"); err != nil {
		t.Fatalf("unexpected error failing task: %v", err)
	}
	if !tsk.IsFailed() {
		t.Fatal("expected task to be failed")
	}
	if tsk.Err != boom {
		t.Errorf("expected recorded error to be boom, got %v", tsk.Err)
	}
}

func TestLifecycle_NoBackEdges(t *testing.T) {
	tsk := New("dataset", "accounts")

	if err := tsk.MarkFinished(time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition finishing a pending task, got %v", err)
	}
	if err := tsk.MarkFailed(errors.New("x"), ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition failing a pending task, got %v", err)
	}

	if err := tsk.MarkStarted(time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tsk.MarkStarted(time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition re-starting a started task, got %v", err)
	}

	if err := tsk.MarkFinished(time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tsk.MarkFailed(errors.New("x"), ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition failing a finished task, got %v", err)
	}
}

func TestNewInterval_PanicsOnEmptyWindow(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for start >= end")
		}
	}()
	NewInterval("dataset", "blocks", 60, 60)
}

func TestIsTimeBound(t *testing.T) {
	bound := NewInterval("dataset", "blocks", 0, 60)
	if !bound.IsTimeBound() {
		t.Error("expected interval task to be time-bound")
	}

	unbound := New("dataset", "accounts")
	if unbound.IsTimeBound() {
		t.Error("expected no-interval task to not be time-bound")
	}
}

func TestDescription(t *testing.T) {
	bound := NewInterval("dataset", "blocks", 0, 60)
	if got, want := bound.Description(), "blocks_0_60"; got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	unbound := New("dataset", "accounts")
	if got, want := unbound.Description(), "accounts"; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestIdentity(t *testing.T) {
	a := NewInterval("dataset", "blocks", 0, 60)
	b := NewInterval("dataset", "blocks", 0, 60)
	ai, as, ae := a.Identity()
	bi, bs, be := b.Identity()
	if ai != bi || as != bs || ae != be {
		t.Error("expected equal identities for equivalent interval tasks")
	}
}
