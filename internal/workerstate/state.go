// Package workerstate implements the persisted checkpoint. It is the only
// durable commit the worker makes: everything before it is safely undone by
// a rewind on the next start.
package workerstate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// State is the single persisted record: the highest end-of-interval whose
// data has been fully loaded and reconciled.
type State struct {
	LatestCheckpointTimestamp int64 `json:"latest_checkpoint_timestamp"`
}

// CheckpointTime returns the checkpoint as a UTC time, for logging.
func (s State) CheckpointTime() time.Time {
	return time.Unix(s.LatestCheckpointTimestamp, 0).UTC()
}

// Store is the contract for loading and persisting worker state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

// FileStore implements Store on the local filesystem using the
// write-to-temp-then-rename pattern, so a crash never leaves
// worker_state.json truncated or partially written.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore persisting to path. The parent directory
// is created if missing.
func NewFileStore(path string) (*FileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for worker state: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Load implements Store. A missing file is interpreted as "start from
// time_partition_start": it returns a zero-value State, not an error.
func (f *FileStore) Load(ctx context.Context) (State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to read worker state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("failed to decode worker state: %w", err)
	}

	return s, nil
}

// Save implements Store. It writes to a temporary file in the same
// directory and renames it into place, so a crash mid-write never leaves a
// truncated or partially written worker_state.json behind.
func (f *FileStore) Save(ctx context.Context, s State) error {
	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode worker state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".worker_state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary worker state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary worker state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary worker state file: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename worker state into place: %w", err)
	}

	return nil
}

// MemoryStore implements Store in memory, for tests and dry runs.
type MemoryStore struct {
	mu    sync.RWMutex
	state State
}

// NewMemoryStore creates a new, empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	return nil
}
