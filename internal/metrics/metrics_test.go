package metrics

import (
	"testing"
	"time"
)

func TestReport_HappyPath(t *testing.T) {
	m := New()

	m.RecordExtracted(10)
	m.RecordBatchLoaded()
	m.RecordTaskFinished()
	m.RecordTaskFinished()
	m.RecordTaskFailed()

	time.Sleep(10 * time.Millisecond)

	report := m.GenerateReport()

	if report.RecordsExtracted != 10 {
		t.Errorf("expected 10 records extracted, got %d", report.RecordsExtracted)
	}
	if report.BatchesLoaded != 1 {
		t.Errorf("expected 1 batch loaded, got %d", report.BatchesLoaded)
	}
	if report.TasksFinished != 2 {
		t.Errorf("expected 2 tasks finished, got %d", report.TasksFinished)
	}
	if report.TasksFailed != 1 {
		t.Errorf("expected 1 task failed, got %d", report.TasksFailed)
	}
	if report.Duration < 10*time.Millisecond {
		t.Errorf("expected duration >= 10ms, got %v", report.Duration)
	}
	if report.Throughput <= 0 {
		t.Errorf("expected positive throughput, got %f", report.Throughput)
	}
	if report.String() == "" {
		t.Error("expected non-empty string representation")
	}
}

func TestRecordProcessingTime_AccumulatesAndDrivesConcurrency(t *testing.T) {
	m := New()

	m.RecordProcessingTime(30 * time.Millisecond)
	m.RecordProcessingTime(20 * time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	report := m.GenerateReport()

	if report.ProcessingTime != 50*time.Millisecond {
		t.Errorf("expected accumulated processing time of 50ms, got %v", report.ProcessingTime)
	}
	// Two tasks' combined processing time (50ms) comfortably exceeds the
	// wall-clock duration (>=10ms), so concurrency must be > 1.
	if report.Concurrency <= 1 {
		t.Errorf("expected concurrency > 1, got %f", report.Concurrency)
	}
}

func TestReport_MarshalJSON_RendersDurationAsString(t *testing.T) {
	m := New()
	m.RecordExtracted(1)

	data, err := m.GenerateReport().MarshalJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty JSON output")
	}
}
