// Package syncer propagates chunk and embedding mutations from the
// relational store to the keyword and vector engines. Jobs flow through a
// bounded FIFO queue into a fixed worker pool; every engine call goes
// through the resilience layer.
package syncer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/retrievo/pkg/types"
)

// Operation is the kind of mutation a job propagates.
type Operation string

const (
	OpUpsert     Operation = "UPSERT"
	OpDelete     Operation = "DELETE"
	OpBulkUpdate Operation = "BULK_UPDATE"
)

// ConflictResolution decides what happens when source and target disagree.
type ConflictResolution string

const (
	SourceWins ConflictResolution = "SOURCE_WINS"
	TargetWins ConflictResolution = "TARGET_WINS"
	LatestWins ConflictResolution = "LATEST_WINS"
	Merge      ConflictResolution = "MERGE"
	Manual     ConflictResolution = "MANUAL"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// JobConfig describes one sync request.
type JobConfig struct {
	SourceEngine  types.EngineRole   `json:"source_engine"`
	TargetEngines []types.EngineRole `json:"target_engines"`
	Operation     Operation          `json:"operation"`
	DataType      string             `json:"data_type"`
	BatchSize     int                `json:"batch_size"`
	Conflict      ConflictResolution `json:"conflict_resolution"`

	// Items carries the records for UPSERT/BULK_UPDATE; DeleteIDs the ids
	// for DELETE.
	Items     []types.Record `json:"items,omitempty"`
	DeleteIDs []string       `json:"delete_ids,omitempty"`

	// Since is the incremental-sync watermark; items mutated at or after
	// it are selected from the source.
	Since time.Time `json:"since,omitempty"`
}

// JobRecord is the externally visible, persistable view of a job. Success
// and failure counts are monotonic until the job reaches a terminal status;
// their sum never exceeds the attempted item count.
type JobRecord struct {
	ID            string             `json:"id"`
	SourceEngine  types.EngineRole   `json:"source_engine"`
	TargetEngines []types.EngineRole `json:"target_engines"`
	Operation     Operation          `json:"operation"`
	DataType      string             `json:"data_type"`
	Conflict      ConflictResolution `json:"conflict_resolution"`
	Status        Status             `json:"status"`

	TotalItems   int `json:"total_items"`
	SuccessItems int `json:"success_items"`
	FailedItems  int `json:"failed_items"`
	// ManualItems are parked for manual resolution and count as neither
	// success nor failure.
	ManualItems int      `json:"manual_items"`
	ManualIDs   []string `json:"manual_ids,omitempty"`

	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// job is the internal mutable state, owned by the service until terminal.
type job struct {
	mu     sync.Mutex
	rec    JobRecord
	config JobConfig
	cancel chan struct{}
}

func newJob(cfg JobConfig) *job {
	total := len(cfg.Items)
	if cfg.Operation == OpDelete {
		total = len(cfg.DeleteIDs)
	}
	// One attempted item per (record, target) pair.
	if n := len(cfg.TargetEngines); n > 1 {
		total *= n
	}
	return &job{
		rec: JobRecord{
			ID:            uuid.New().String(),
			SourceEngine:  cfg.SourceEngine,
			TargetEngines: cfg.TargetEngines,
			Operation:     cfg.Operation,
			DataType:      cfg.DataType,
			Conflict:      cfg.Conflict,
			Status:        StatusPending,
			TotalItems:    total,
			CreatedAt:     time.Now(),
		},
		config: cfg,
		cancel: make(chan struct{}),
	}
}

func (j *job) snapshot() JobRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec := j.rec
	rec.ManualIDs = append([]string(nil), j.rec.ManualIDs...)
	return rec
}

func (j *job) start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rec.Status = StatusRunning
	j.rec.StartedAt = time.Now()
}

func (j *job) addSuccess(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rec.SuccessItems += n
}

func (j *job) addFailed(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rec.FailedItems += n
}

func (j *job) park(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rec.ManualItems++
	j.rec.ManualIDs = append(j.rec.ManualIDs, id)
}

func (j *job) finish(status Status, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rec.Status = status
	j.rec.Error = errMsg
	j.rec.CompletedAt = time.Now()
}

func (j *job) cancelled() bool {
	select {
	case <-j.cancel:
		return true
	default:
		return false
	}
}
