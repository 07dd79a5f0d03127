// Package filestorage derives the staging file paths a TasksRunner reads
// and writes while extracting, transforming, and loading a single task.
package filestorage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/multiversx/mx-chain-etl-go/internal/task"
)

// FileStorage derives and cleans up the staging files for a workspace
// directory. It does not buffer data itself; extracted/transformed records
// are streamed to and from the paths it returns.
type FileStorage struct {
	workspace string
}

// New returns a FileStorage rooted at workspace, creating the extracted/ and
// transformed/ subdirectories if they do not already exist.
func New(workspace string) (*FileStorage, error) {
	for _, sub := range []string{"extracted", "transformed"} {
		if err := os.MkdirAll(filepath.Join(workspace, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}
	return &FileStorage{workspace: workspace}, nil
}

// ExtractedPath returns the path a TasksRunner writes raw indexer records to
// before transforming them.
func (f *FileStorage) ExtractedPath(t *task.Task) string {
	return filepath.Join(f.workspace, "extracted", t.Description()+"_extracted.json")
}

// TransformedPath returns the path a TasksRunner writes transformed,
// BigQuery-ready NDJSON records to.
func (f *FileStorage) TransformedPath(t *task.Task) string {
	return filepath.Join(f.workspace, "transformed", t.Description()+"_transformed.json")
}

// GetLoadPath returns the file a warehouse load should read: the transformed
// file if one was produced, otherwise the extracted file, so a task whose
// staging produced no transformed file can still be loaded.
func (f *FileStorage) GetLoadPath(t *task.Task) (string, error) {
	transformed := f.TransformedPath(t)
	if _, err := os.Stat(transformed); err == nil {
		return transformed, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat transformed file for %s: %w", t.Description(), err)
	}

	extracted := f.ExtractedPath(t)
	if _, err := os.Stat(extracted); err != nil {
		return "", fmt.Errorf("no staged data found for %s: %w", t.Description(), err)
	}
	return extracted, nil
}

// RemoveExtracted deletes the extracted staging file for t, if any. A
// missing file is not an error.
func (f *FileStorage) RemoveExtracted(t *task.Task) error {
	return removeIfExists(f.ExtractedPath(t))
}

// RemoveTransformed deletes the transformed staging file for t, if any. A
// missing file is not an error.
func (f *FileStorage) RemoveTransformed(t *task.Task) error {
	return removeIfExists(f.TransformedPath(t))
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
