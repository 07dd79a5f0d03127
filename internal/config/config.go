// Package config implements worker configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// UsageError signals a malformed or missing configuration/state file.
// It is fatal and not meant to be retried by a worker thread.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

func usageErrorf(format string, args ...any) *UsageError {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// WorkerConfig is the immutable, per-iteration configuration reloaded every
// iteration from worker_config.json.
type WorkerConfig struct {
	GCPProjectID      string        `json:"gcp_project_id"`
	SchemaFolder      string        `json:"schema_folder"`
	IndexerURL        string        `json:"indexer_url"`
	IndexerUsername   string        `json:"indexer_username,omitempty"`
	IndexerPassword   string        `json:"indexer_password,omitempty"`
	GenesisTimestamp  int64         `json:"genesis_timestamp"`
	AppendOnlyIndices IndicesConfig `json:"append_only_indices"`
	MutableIndices    IndicesConfig `json:"mutable_indices"`
}

// IndicesConfig groups the indices and tuning parameters that the
// orchestrator applies uniformly to one class of indices (either
// append-only or mutable).
type IndicesConfig struct {
	BQDataset                  string           `json:"bq_dataset"`
	BQDataTransferName         string           `json:"bq_data_transfer_name,omitempty"`
	Indices                    []string         `json:"indices"`
	IndicesWithoutTimestamp    []string         `json:"indices_without_timestamp,omitempty"`
	TimePartitionStart         int64            `json:"time_partition_start"`
	TimePartitionEnd           int64            `json:"time_partition_end"`
	IntervalSizeInSeconds      int64            `json:"interval_size_in_seconds"`
	NumIntervalsInBulk         int              `json:"num_intervals_in_bulk"`
	NumThreads                 int              `json:"num_threads"`
	ShouldFailOnCountsMismatch bool             `json:"should_fail_on_counts_mismatch"`
	SkipCountsCheckForIndices  []string         `json:"skip_counts_check_for_indices,omitempty"`
	CountChecksErrata          map[string]int64 `json:"count_checks_errata,omitempty"`
}

// HasUpperBound reports whether TimePartitionEnd bounds the append-only
// window ("<=0 means no upper bound").
func (c IndicesConfig) HasUpperBound() bool {
	return c.TimePartitionEnd > 0
}

// Erratum returns the accepted counts-mismatch tolerance configured for
// table, or 0 if none was configured.
func (c IndicesConfig) Erratum(table string) int64 {
	return c.CountChecksErrata[table]
}

// Load reads and validates worker_config.json from path.
func Load(path string) (*WorkerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, usageErrorf("failed to read worker config %s: %v", path, err)
	}

	var cfg WorkerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, usageErrorf("failed to decode worker config %s: %v", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate ensures all required fields are present and internally
// consistent.
func (c *WorkerConfig) Validate() error {
	if c.GCPProjectID == "" {
		return usageErrorf("gcp_project_id is required")
	}
	if c.SchemaFolder == "" {
		return usageErrorf("schema_folder is required")
	}
	if c.IndexerURL == "" {
		return usageErrorf("indexer_url is required")
	}

	if err := c.AppendOnlyIndices.validate("append_only_indices"); err != nil {
		return err
	}
	if err := c.MutableIndices.validate("mutable_indices"); err != nil {
		return err
	}

	return nil
}

func (c IndicesConfig) validate(label string) error {
	if c.BQDataset == "" {
		return usageErrorf("%s.bq_dataset is required", label)
	}
	if len(c.Indices) == 0 && len(c.IndicesWithoutTimestamp) == 0 {
		return usageErrorf("%s must declare at least one index", label)
	}
	if c.IntervalSizeInSeconds <= 0 {
		return usageErrorf("%s.interval_size_in_seconds must be positive", label)
	}
	if c.NumIntervalsInBulk <= 0 {
		return usageErrorf("%s.num_intervals_in_bulk must be positive", label)
	}
	if c.NumThreads <= 0 {
		return usageErrorf("%s.num_threads must be positive", label)
	}
	if c.TimePartitionEnd > 0 && c.TimePartitionEnd <= c.TimePartitionStart {
		return usageErrorf("%s.time_partition_end must be greater than time_partition_start when set", label)
	}
	return nil
}

// SchemaPath returns the external schema artifact path for index.
func SchemaPath(schemaFolder, index string) string {
	return filepath.Join(schemaFolder, index+".json")
}
