package warehouse

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

// BigQueryClient implements Client against Google BigQuery.
type BigQueryClient struct {
	bq       *bigquery.Client
	throttle *LoadThrottle
}

// NewBigQueryClient constructs a BigQueryClient for projectID. throttle is
// shared across every warehouse client constructed by the process.
func NewBigQueryClient(ctx context.Context, projectID string, throttle *LoadThrottle) (*BigQueryClient, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to construct bigquery client: %v", ErrUnavailable, err)
	}
	return &BigQueryClient{bq: client, throttle: throttle}, nil
}

// TruncateTables implements Client. A table that does not exist is skipped
// silently.
func (c *BigQueryClient) TruncateTables(ctx context.Context, dataset string, tables []string) error {
	for _, table := range tables {
		err := c.bq.Dataset(dataset).Table(table).Delete(ctx)
		if err == nil {
			continue
		}
		if isNotFound(err) {
			continue
		}
		return fmt.Errorf("%w: failed to truncate %s.%s: %v", ErrUnavailable, dataset, table, err)
	}
	return nil
}

// DeleteOnOrAfter implements Client, deleting rows whose timestamp column
// is >= timestamp. A missing table is a no-op.
func (c *BigQueryClient) DeleteOnOrAfter(ctx context.Context, dataset, table string, timestamp int64) error {
	query := c.bq.Query(fmt.Sprintf("DELETE FROM `%s.%s` WHERE timestamp >= @timestamp", dataset, table))
	query.Parameters = []bigquery.QueryParameter{
		{Name: "timestamp", Value: timestamp},
	}

	job, err := query.Run(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: failed to delete rows on or after %d from %s.%s: %v", ErrUnavailable, timestamp, dataset, table, err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%w: waiting for delete job on %s.%s: %v", ErrUnavailable, dataset, table, err)
	}
	if err := status.Err(); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: delete job on %s.%s failed: %v", ErrUnavailable, dataset, table, err)
	}
	return nil
}

// LoadData implements Client. It always appends: the caller is responsible
// for any precedent truncation or delete. It blocks until the load job
// completes and rows are committed.
func (c *BigQueryClient) LoadData(ctx context.Context, dataset, table, schemaPath, dataPath string) error {
	if err := c.throttle.Wait(ctx); err != nil {
		return err
	}

	schema, err := loadSchema(schemaPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	dataFile, err := os.Open(dataPath)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %v", ErrUnavailable, dataPath, err)
	}
	defer dataFile.Close()

	source := bigquery.NewReaderSource(dataFile)
	source.SourceFormat = bigquery.JSON
	source.Schema = schema

	loader := c.bq.Dataset(dataset).Table(table).LoaderFrom(source)
	loader.WriteDisposition = bigquery.WriteAppend

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to start load job for %s.%s: %v", ErrUnavailable, dataset, table, err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%w: waiting for load job for %s.%s: %v", ErrUnavailable, dataset, table, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("%w: load job for %s.%s failed: %v", ErrSchemaMismatch, dataset, table, err)
	}

	return nil
}

// GetNumRecords implements Client.
func (c *BigQueryClient) GetNumRecords(ctx context.Context, dataset, table string) (int64, error) {
	return c.count(ctx, fmt.Sprintf("SELECT COUNT(*) AS n FROM `%s.%s`", dataset, table), nil)
}

// GetNumRecordsInInterval implements Client. A missing table returns 0.
func (c *BigQueryClient) GetNumRecordsInInterval(ctx context.Context, dataset, table string, start, end int64) (int64, error) {
	query := fmt.Sprintf(
		"SELECT COUNT(*) AS n FROM `%s.%s` WHERE timestamp >= @start AND timestamp < @end",
		dataset, table,
	)
	params := []bigquery.QueryParameter{
		{Name: "start", Value: start},
		{Name: "end", Value: end},
	}
	n, err := c.count(ctx, query, params)
	if err != nil && isNotFound(err) {
		return 0, nil
	}
	return n, err
}

func (c *BigQueryClient) count(ctx context.Context, sql string, params []bigquery.QueryParameter) (int64, error) {
	query := c.bq.Query(sql)
	query.Parameters = params

	it, err := query.Read(ctx)
	if err != nil {
		if isNotFound(err) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: failed to run count query: %v", ErrUnavailable, err)
	}

	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return 0, fmt.Errorf("%w: failed to read count result: %v", ErrUnavailable, err)
	}

	return row.N, nil
}

func loadSchema(path string) (bigquery.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	schema, err := bigquery.SchemaFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema %s: %w", path, err)
	}
	return schema, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 404
	}
	return false
}
