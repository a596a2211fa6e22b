package retrievo

import (
	"context"
	"time"

	"github.com/soundprediction/retrievo/pkg/optimizer"
	"github.com/soundprediction/retrievo/pkg/strategy"
	"github.com/soundprediction/retrievo/pkg/syncer"
	"github.com/soundprediction/retrievo/pkg/types"
)

// This file defines focused interfaces composed into the main Retrievo
// interface. Consumers should depend on the smallest interface that meets
// their needs.

// QueryExecutor runs retrieval queries through the optimized path.
type QueryExecutor interface {
	// Query executes one retrieval request: cache and dedup first, then
	// strategy selection, protected engine calls and fusion.
	Query(ctx context.Context, req types.QueryRequest) (*types.QueryResponse, error)

	// QueryWithOptions is Query with explicit optimizer toggles.
	QueryWithOptions(ctx context.Context, req types.QueryRequest, opts optimizer.Options) (*types.QueryResponse, error)

	// Recommend returns retrieval strategies ranked by current engine
	// health, without executing anything.
	Recommend(query string) []strategy.Candidate
}

// SyncScheduler submits and tracks data synchronization jobs.
type SyncScheduler interface {
	// SubmitJob enqueues an explicit sync job.
	SubmitJob(cfg syncer.JobConfig) (string, error)

	// SyncChunks propagates a document's chunks from the relational store
	// to the keyword and vector engines.
	SyncChunks(kbID, docID string, chunks []types.Record) (string, error)

	// SyncEmbeddings re-propagates embeddings for the given chunk ids to
	// the vector engine.
	SyncEmbeddings(kbID string, chunkIDs []string) (string, error)

	// IncrementalSync propagates source records mutated at or after since.
	IncrementalSync(dataType string, since time.Time) (string, error)

	// JobStatus returns the current record for a job.
	JobStatus(jobID string) (syncer.JobRecord, error)

	// CancelJob requests cooperative cancellation, honored between batches.
	CancelJob(jobID string) error
}

// HealthReporter exposes operational state for dashboards.
type HealthReporter interface {
	// HealthCheck reports per-breaker state, per-engine health scores,
	// cache hit rate and job counts.
	HealthCheck() HealthReport
}

// Admin exposes runtime maintenance operations.
type Admin interface {
	// UpdateConfig applies a partial configuration update, returning the
	// new version. Invalid updates are rejected whole.
	UpdateConfig(partial map[string]interface{}) (int64, error)

	// ReloadConfig re-reads the configuration file.
	ReloadConfig() (int64, error)

	// ResetBreaker forces a breaker back to CLOSED with cleared counts.
	ResetBreaker(name string)

	// Close stops background workers and releases resources.
	Close() error
}

// Retrievo is the full client surface.
type Retrievo interface {
	QueryExecutor
	SyncScheduler
	HealthReporter
	Admin
}
