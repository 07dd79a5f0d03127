package workerstate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryStore_SaveLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := State{LatestCheckpointTimestamp: 1700000000}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	if loaded.LatestCheckpointTimestamp != state.LatestCheckpointTimestamp {
		t.Errorf("got %d, want %d", loaded.LatestCheckpointTimestamp, state.LatestCheckpointTimestamp)
	}
}

func TestMemoryStore_EmptyState(t *testing.T) {
	store := NewMemoryStore()
	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.LatestCheckpointTimestamp != 0 {
		t.Errorf("expected zero-value checkpoint, got %d", state.LatestCheckpointTimestamp)
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker_state.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}

	ctx := context.Background()
	state := State{LatestCheckpointTimestamp: 42}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	if loaded.LatestCheckpointTimestamp != 42 {
		t.Errorf("got %d, want 42", loaded.LatestCheckpointTimestamp)
	}
}

func TestFileStore_MissingFileReturnsZeroState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonexistent.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}

	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error loading missing state: %v", err)
	}
	if state.LatestCheckpointTimestamp != 0 {
		t.Errorf("expected zero-value state, got %+v", state)
	}
}

func TestFileStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested", "dir")
	path := filepath.Join(nested, "worker_state.json")

	if _, err := NewFileStore(path); err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Error("expected nested directory to be created")
	}
}

func TestFileStore_SaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker_state.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}

	if err := store.Save(context.Background(), State{LatestCheckpointTimestamp: 1}); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "worker_state.json" {
			t.Errorf("expected no leftover temp files, found %s", e.Name())
		}
	}
}

func TestFileStore_Overwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker_state.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}

	ctx := context.Background()
	if err := store.Save(ctx, State{LatestCheckpointTimestamp: 10}); err != nil {
		t.Fatalf("failed to save first state: %v", err)
	}
	if err := store.Save(ctx, State{LatestCheckpointTimestamp: 20}); err != nil {
		t.Fatalf("failed to save second state: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if loaded.LatestCheckpointTimestamp != 20 {
		t.Errorf("expected checkpoint 20 after overwrite, got %d", loaded.LatestCheckpointTimestamp)
	}
}
