// Package runner implements the per-task extract -> transform -> load
// pipeline.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	"github.com/multiversx/mx-chain-etl-go/internal/config"
	"github.com/multiversx/mx-chain-etl-go/internal/filestorage"
	"github.com/multiversx/mx-chain-etl-go/internal/indexer"
	"github.com/multiversx/mx-chain-etl-go/internal/metrics"
	"github.com/multiversx/mx-chain-etl-go/internal/task"
	"github.com/multiversx/mx-chain-etl-go/internal/transform"
	"github.com/multiversx/mx-chain-etl-go/internal/warehouse"
)

// Runner drives one Task through extract, transform, and load, cleaning up
// its staging files on every exit path.
type Runner struct {
	indexer      indexer.Client
	warehouse    warehouse.Client
	files        *filestorage.FileStorage
	transformers *transform.Registry
	schemaFolder string
	metrics      *metrics.Metrics
}

// New constructs a Runner. schemaFolder is the directory holding one
// external {index}.json schema artifact per index. m may be nil, in which
// case no counters are recorded.
func New(idx indexer.Client, wh warehouse.Client, files *filestorage.FileStorage, transformers *transform.Registry, schemaFolder string, m *metrics.Metrics) *Runner {
	return &Runner{indexer: idx, warehouse: wh, files: files, transformers: transformers, schemaFolder: schemaFolder, metrics: m}
}

// Run executes t's full pipeline, regardless of outcome removing both
// staging files before returning.
func (r *Runner) Run(ctx context.Context, t *task.Task) error {
	defer r.cleanup(t)

	if err := r.extract(ctx, t); err != nil {
		return fmt.Errorf("extract failed for %s: %w", t.Description(), err)
	}
	if err := r.transform(t); err != nil {
		return fmt.Errorf("transform failed for %s: %w", t.Description(), err)
	}
	if err := r.load(ctx, t); err != nil {
		return fmt.Errorf("load failed for %s: %w", t.Description(), err)
	}
	if r.metrics != nil {
		r.metrics.RecordBatchLoaded()
	}
	return nil
}

func (r *Runner) cleanup(t *task.Task) {
	_ = r.files.RemoveExtracted(t)
	_ = r.files.RemoveTransformed(t)
}

// extract opens the indexer scan for t and writes one JSON line per record
// to the extracted staging file, merging _id into the record body.
func (r *Runner) extract(ctx context.Context, t *task.Task) error {
	path := r.files.ExtractedPath(t)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create extracted file %s: %w", path, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	var start, end *int64
	if t.IsTimeBound() {
		_, s, e := t.Identity()
		start, end = &s, &e
	}

	var count int64
	err = r.indexer.GetRecords(ctx, t.Index, start, end, func(rec indexer.Record) error {
		line, err := jsonifyExtractedRecord(rec)
		if err != nil {
			return err
		}
		if _, err := writer.Write(line); err != nil {
			return err
		}
		count++
		return writer.WriteByte('\n')
	})
	if err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.RecordExtracted(count)
	}

	return writer.Flush()
}

// jsonifyExtractedRecord merges rec.ID into rec.Source as a top-level "_id"
// field, matching the newline-delimited-JSON staging-file format.
func jsonifyExtractedRecord(rec indexer.Record) ([]byte, error) {
	var data map[string]any
	if err := json.Unmarshal(rec.Source, &data); err != nil {
		return nil, fmt.Errorf("failed to decode source for record %s: %w", rec.ID, err)
	}
	data["_id"] = rec.ID
	return json.Marshal(data)
}

// transform reads the extracted file line by line, applies the registered
// transformer for t.Index (identity if none is registered), and writes the
// result to the transformed file.
func (r *Runner) transform(t *task.Task) error {
	in, err := os.Open(r.files.ExtractedPath(t))
	if err != nil {
		return fmt.Errorf("failed to open extracted file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(r.files.TransformedPath(t))
	if err != nil {
		return fmt.Errorf("failed to create transformed file: %w", err)
	}
	defer out.Close()

	writer := bufio.NewWriter(out)
	defer writer.Flush()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		transformed, err := r.transformers.TransformJSON(t.Index, line)
		if err != nil {
			return fmt.Errorf("failed to transform record: %w", err)
		}
		if _, err := writer.Write(transformed); err != nil {
			return err
		}
		if err := writer.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read extracted file: %w", err)
	}

	return writer.Flush()
}

// load asks FileStorage for the load path and invokes WarehouseClient.LoadData,
// which always appends: any necessary truncation or delete must have
// already happened before the bulk containing t was planned.
func (r *Runner) load(ctx context.Context, t *task.Task) error {
	loadPath, err := r.files.GetLoadPath(t)
	if err != nil {
		return err
	}
	schemaPath := config.SchemaPath(r.schemaFolder, t.Index)
	return r.warehouse.LoadData(ctx, t.Dataset, t.Index, schemaPath, loadPath)
}
