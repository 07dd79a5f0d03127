package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validIndicesConfig() IndicesConfig {
	return IndicesConfig{
		BQDataset:             "dataset",
		Indices:               []string{"blocks"},
		TimePartitionStart:    0,
		IntervalSizeInSeconds: 60,
		NumIntervalsInBulk:    10,
		NumThreads:            4,
	}
}

func validConfig() *WorkerConfig {
	return &WorkerConfig{
		GCPProjectID:      "project",
		SchemaFolder:      "/schemas",
		IndexerURL:        "https://indexer.example.com",
		AppendOnlyIndices: validIndicesConfig(),
		MutableIndices:    validIndicesConfig(),
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_MissingProjectID(t *testing.T) {
	cfg := validConfig()
	cfg.GCPProjectID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing gcp_project_id")
	}
}

func TestValidate_MissingDataset(t *testing.T) {
	cfg := validConfig()
	cfg.AppendOnlyIndices.BQDataset = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing bq_dataset")
	}
}

func TestValidate_NoIndices(t *testing.T) {
	cfg := validConfig()
	cfg.AppendOnlyIndices.Indices = nil
	cfg.AppendOnlyIndices.IndicesWithoutTimestamp = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when no indices are declared")
	}
}

func TestValidate_NonPositiveInterval(t *testing.T) {
	cfg := validConfig()
	cfg.AppendOnlyIndices.IntervalSizeInSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive interval_size_in_seconds")
	}
}

func TestValidate_EndBeforeStart(t *testing.T) {
	cfg := validConfig()
	cfg.AppendOnlyIndices.TimePartitionStart = 100
	cfg.AppendOnlyIndices.TimePartitionEnd = 50
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when time_partition_end <= time_partition_start")
	}
}

func TestHasUpperBound(t *testing.T) {
	c := IndicesConfig{TimePartitionEnd: 0}
	if c.HasUpperBound() {
		t.Error("expected no upper bound for <=0 time_partition_end")
	}
	c.TimePartitionEnd = -5
	if c.HasUpperBound() {
		t.Error("expected no upper bound for negative time_partition_end")
	}
	c.TimePartitionEnd = 100
	if !c.HasUpperBound() {
		t.Error("expected upper bound for positive time_partition_end")
	}
}

func TestErratum(t *testing.T) {
	c := IndicesConfig{CountChecksErrata: map[string]int64{"blocks": 3}}
	if c.Erratum("blocks") != 3 {
		t.Errorf("expected erratum of 3 for blocks, got %d", c.Erratum("blocks"))
	}
	if c.Erratum("tokens") != 0 {
		t.Errorf("expected erratum of 0 for unconfigured table, got %d", c.Erratum("tokens"))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	var usageErr *UsageError
	if !isUsageError(err, &usageErr) {
		t.Errorf("expected UsageError, got %T", err)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker_config.json")
	contents := `{
		"gcp_project_id": "project",
		"schema_folder": "/schemas",
		"indexer_url": "https://indexer.example.com",
		"genesis_timestamp": 0,
		"append_only_indices": {
			"bq_dataset": "dataset",
			"indices": ["blocks"],
			"time_partition_start": 0,
			"time_partition_end": 0,
			"interval_size_in_seconds": 60,
			"num_intervals_in_bulk": 10,
			"num_threads": 4,
			"should_fail_on_counts_mismatch": true
		},
		"mutable_indices": {
			"bq_dataset": "dataset",
			"indices": ["accounts"],
			"time_partition_start": 0,
			"time_partition_end": 0,
			"interval_size_in_seconds": 60,
			"num_intervals_in_bulk": 1,
			"num_threads": 1,
			"should_fail_on_counts_mismatch": false
		}
	}`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}
	if cfg.AppendOnlyIndices.BQDataset != "dataset" {
		t.Errorf("unexpected dataset: %s", cfg.AppendOnlyIndices.BQDataset)
	}
	if !cfg.AppendOnlyIndices.ShouldFailOnCountsMismatch {
		t.Error("expected should_fail_on_counts_mismatch to be true")
	}
}

func TestSchemaPath(t *testing.T) {
	got := SchemaPath("/schemas", "blocks")
	want := filepath.Join("/schemas", "blocks.json")
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func isUsageError(err error, target **UsageError) bool {
	if ue, ok := err.(*UsageError); ok {
		*target = ue
		return true
	}
	return false
}
