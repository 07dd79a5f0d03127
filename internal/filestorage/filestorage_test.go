package filestorage

import (
	"os"
	"testing"

	"github.com/multiversx/mx-chain-etl-go/internal/task"
)

func TestNew_CreatesSubdirectories(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, sub := range []string{"extracted", "transformed"} {
		if info, err := os.Stat(dir + "/" + sub); err != nil || !info.IsDir() {
			t.Errorf("expected %s directory to exist", sub)
		}
	}
}

func TestPaths_AreDeterministic(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tsk := task.NewInterval("dataset", "blocks", 0, 60)
	if fs.ExtractedPath(&tsk) != fs.ExtractedPath(&tsk) {
		t.Error("expected deterministic extracted path")
	}
	if fs.ExtractedPath(&tsk) == fs.TransformedPath(&tsk) {
		t.Error("expected extracted and transformed paths to differ")
	}
}

func TestGetLoadPath_PrefersTransformed(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tsk := task.NewInterval("dataset", "blocks", 0, 60)

	if err := os.WriteFile(fs.ExtractedPath(&tsk), []byte("{}"), 0644); err != nil {
		t.Fatalf("failed to write extracted fixture: %v", err)
	}
	got, err := fs.GetLoadPath(&tsk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != fs.ExtractedPath(&tsk) {
		t.Errorf("expected extracted path when no transformed file exists, got %s", got)
	}

	if err := os.WriteFile(fs.TransformedPath(&tsk), []byte("{}"), 0644); err != nil {
		t.Fatalf("failed to write transformed fixture: %v", err)
	}
	got, err = fs.GetLoadPath(&tsk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != fs.TransformedPath(&tsk) {
		t.Errorf("expected transformed path once it exists, got %s", got)
	}
}

func TestGetLoadPath_NoStagedData(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tsk := task.NewInterval("dataset", "blocks", 0, 60)

	if _, err := fs.GetLoadPath(&tsk); err == nil {
		t.Fatal("expected error when no staged data exists")
	}
}

func TestRemoveExtractedAndTransformed_MissingIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tsk := task.NewInterval("dataset", "blocks", 0, 60)

	if err := fs.RemoveExtracted(&tsk); err != nil {
		t.Errorf("unexpected error removing missing extracted file: %v", err)
	}
	if err := fs.RemoveTransformed(&tsk); err != nil {
		t.Errorf("unexpected error removing missing transformed file: %v", err)
	}
}

func TestRemoveExtracted_DeletesFile(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tsk := task.NewInterval("dataset", "blocks", 0, 60)

	if err := os.WriteFile(fs.ExtractedPath(&tsk), []byte("{}"), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	if err := fs.RemoveExtracted(&tsk); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(fs.ExtractedPath(&tsk)); !os.IsNotExist(err) {
		t.Error("expected extracted file to be removed")
	}
}
