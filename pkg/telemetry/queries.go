package telemetry

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/soundprediction/retrievo/pkg/types"
)

// QueryEvent is one executed retrieval query in parquet form.
type QueryEvent struct {
	ID          string    `parquet:"id"`
	Timestamp   time.Time `parquet:"timestamp"`
	Fingerprint string    `parquet:"fingerprint"`
	Strategy    string    `parquet:"strategy"`
	LatencyMs   int64     `parquet:"latency_ms"`
	ResultCount int       `parquet:"result_count"`
	CacheHit    bool      `parquet:"cache_hit"`
	Failed      bool      `parquet:"failed"`
}

// QueryRecorder buffers query events and writes them out in parquet
// batches. Recording never fails the query path; flush errors surface only
// through Flush and Close.
type QueryRecorder struct {
	outputDir string
	batchSize int

	mu     sync.Mutex
	buffer []QueryEvent
}

func NewQueryRecorder(outputDir string) *QueryRecorder {
	return &QueryRecorder{
		outputDir: outputDir,
		batchSize: 500,
		buffer:    make([]QueryEvent, 0, 500),
	}
}

// Record captures one completed query. resp may be nil on failure.
func (q *QueryRecorder) Record(fingerprint string, resp *types.QueryResponse, err error) {
	ev := QueryEvent{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		Fingerprint: fingerprint,
		Failed:      err != nil,
	}
	if resp != nil {
		ev.Strategy = string(resp.StrategyUsed)
		ev.LatencyMs = resp.LatencyMs
		ev.ResultCount = len(resp.Results)
		ev.CacheHit = resp.CacheHit
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.buffer = append(q.buffer, ev)
	if len(q.buffer) >= q.batchSize {
		_ = q.flushLocked()
	}
}

// Flush writes buffered events immediately.
func (q *QueryRecorder) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushLocked()
}

// Close flushes anything still buffered.
func (q *QueryRecorder) Close() error {
	return q.Flush()
}

func (q *QueryRecorder) flushLocked() error {
	if len(q.buffer) == 0 {
		return nil
	}
	name := fmt.Sprintf("queries_%s_%d.parquet", time.Now().Format("20060102_150405"), time.Now().UnixNano())
	if err := parquet.WriteFile(filepath.Join(q.outputDir, name), q.buffer); err != nil {
		return fmt.Errorf("write query telemetry parquet: %w", err)
	}
	q.buffer = q.buffer[:0]
	return nil
}
