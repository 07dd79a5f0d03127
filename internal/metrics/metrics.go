// Package metrics collects per-iteration counters and renders the
// post-drain report printed after each bulk drains.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Metrics collects counters for one worker iteration. All counter fields
// are updated with atomic operations so concurrent task goroutines can
// report without a lock; processingTime alone is guarded by mu.
type Metrics struct {
	mu sync.RWMutex

	recordsExtracted int64
	batchesLoaded    int64
	tasksFinished    int64
	tasksFailed      int64

	processingTime time.Duration
	startTime      time.Time
}

// New creates a Metrics instance with its clock started.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordExtracted adds n to the extracted-record counter.
func (m *Metrics) RecordExtracted(n int64) {
	atomic.AddInt64(&m.recordsExtracted, n)
}

// RecordBatchLoaded increments the loaded-batch counter, one per task that
// reached WarehouseClient.LoadData successfully.
func (m *Metrics) RecordBatchLoaded() {
	atomic.AddInt64(&m.batchesLoaded, 1)
}

// RecordTaskFinished increments the finished-task counter.
func (m *Metrics) RecordTaskFinished() {
	atomic.AddInt64(&m.tasksFinished, 1)
}

// RecordTaskFailed increments the failed-task counter.
func (m *Metrics) RecordTaskFailed() {
	atomic.AddInt64(&m.tasksFailed, 1)
}

// RecordProcessingTime accumulates d into the total processing time.
func (m *Metrics) RecordProcessingTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processingTime += d
}

// Report is a snapshot suitable for console narration or JSON logging.
type Report struct {
	StartTime        time.Time     `json:"startTime"`
	EndTime          time.Time     `json:"endTime"`
	TasksFinished    int64         `json:"tasksFinished"`
	TasksFailed      int64         `json:"tasksFailed"`
	RecordsExtracted int64         `json:"recordsExtracted"`
	BatchesLoaded    int64         `json:"batchesLoaded"`
	Duration         time.Duration `json:"duration"`
	ProcessingTime   time.Duration `json:"processingTime"`
	Concurrency      float64       `json:"concurrency"`
	Throughput       float64       `json:"throughput"`
}

// GenerateReport snapshots the counters collected so far.
func (m *Metrics) GenerateReport() Report {
	endTime := time.Now()
	duration := endTime.Sub(m.startTime)

	m.mu.RLock()
	processingTime := m.processingTime
	m.mu.RUnlock()

	var throughput float64
	if duration > 0 {
		throughput = float64(atomic.LoadInt64(&m.recordsExtracted)) / duration.Seconds()
	}

	var concurrency float64
	if duration > 0 {
		concurrency = processingTime.Seconds() / duration.Seconds()
	}

	return Report{
		StartTime:        m.startTime,
		EndTime:          endTime,
		TasksFinished:    atomic.LoadInt64(&m.tasksFinished),
		TasksFailed:      atomic.LoadInt64(&m.tasksFailed),
		RecordsExtracted: atomic.LoadInt64(&m.recordsExtracted),
		BatchesLoaded:    atomic.LoadInt64(&m.batchesLoaded),
		Duration:         duration,
		ProcessingTime:   processingTime,
		Concurrency:      concurrency,
		Throughput:       throughput,
	}
}

// MarshalJSON renders Duration and ProcessingTime as human-readable strings
// rather than raw integer nanosecond counts.
func (r Report) MarshalJSON() ([]byte, error) {
	type Alias Report
	return json.Marshal(&struct {
		Alias
		Duration       string `json:"duration"`
		ProcessingTime string `json:"processingTime"`
	}{
		Alias:          Alias(r),
		Duration:       r.Duration.String(),
		ProcessingTime: r.ProcessingTime.String(),
	})
}

// String renders the report for console narration.
func (r Report) String() string {
	return fmt.Sprintf(
		"bulk completed in %s (%s of task processing time, %.1fx concurrency)\n"+
			"tasks finished: %d, failed: %d\n"+
			"records extracted: %d, batches loaded: %d\n"+
			"throughput: %.2f records/sec",
		r.Duration, r.ProcessingTime, r.Concurrency,
		r.TasksFinished, r.TasksFailed, r.RecordsExtracted, r.BatchesLoaded, r.Throughput,
	)
}
