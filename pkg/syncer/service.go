package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/soundprediction/retrievo/pkg/config"
	"github.com/soundprediction/retrievo/pkg/engine"
	"github.com/soundprediction/retrievo/pkg/resilience"
	"github.com/soundprediction/retrievo/pkg/types"
)

// SourceReader is the view of the relational store the syncer reads from.
// The relational engine is the source of truth for chunk content.
type SourceReader interface {
	Get(id string) (types.Record, bool)
	UpdatedSince(since time.Time) []types.Record
}

// TargetReader lets conflict resolution inspect the target's current
// version of a record. Targets that cannot be read are treated as having no
// version, so the source always wins there.
type TargetReader interface {
	Get(id string) (types.Record, bool)
}

// JobStore persists job records so status survives restarts. Persist
// failures are logged, never fatal to the job.
type JobStore interface {
	SaveJob(rec JobRecord) error
	LoadJob(id string) (JobRecord, error)
}

// Service is the data synchronization service.
type Service struct {
	engines *engine.Set
	source  SourceReader
	exec    *resilience.Executor
	cfg     func() *config.Snapshot
	store   JobStore
	logger  *slog.Logger
	limiter *rate.Limiter

	queue chan *job
	jobs  sync.Map // job id -> *job

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	activeJobs sync.Map // job id -> struct{}, jobs currently RUNNING
}

// NewService creates a sync service. store may be nil (no persistence);
// source may be nil when the relational engine implements SourceReader.
func NewService(engines *engine.Set, source SourceReader, exec *resilience.Executor, cfg func() *config.Snapshot, store JobStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if source == nil {
		if sr, ok := engines.Relational.(SourceReader); ok {
			source = sr
		}
	}

	snap := cfg()
	s := &Service{
		engines: engines,
		source:  source,
		exec:    exec,
		cfg:     cfg,
		store:   store,
		logger:  logger,
		queue:   make(chan *job, snap.Sync.QueueSize),
	}
	if qps := snap.Sync.RateLimitPerSec; qps > 0 {
		burst := int(qps)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
	return s
}

// Start launches the worker pool. Safe to call once.
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		workers := s.cfg().Sync.WorkerCount
		for i := 0; i < workers; i++ {
			s.wg.Add(1)
			go s.worker(ctx, i)
		}
		s.logger.Info("sync worker pool started", "workers", workers)
	})
}

// Stop drains the pool: running jobs observe cancellation between batches.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// SubmitJob validates and enqueues a sync job, returning its id. A full
// queue rejects with CapacityExceededError rather than blocking the caller.
func (s *Service) SubmitJob(cfg JobConfig) (string, error) {
	if err := s.validate(&cfg); err != nil {
		return "", err
	}

	j := newJob(cfg)
	s.jobs.Store(j.rec.ID, j)

	select {
	case s.queue <- j:
		// Persist only once the job is actually queued; a rejected job
		// must leave no durable record behind.
		s.persist(j)
		return j.rec.ID, nil
	default:
		s.jobs.Delete(j.rec.ID)
		return "", &types.CapacityExceededError{Limit: cap(s.queue)}
	}
}

func (s *Service) validate(cfg *JobConfig) error {
	snap := s.cfg()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = snap.Sync.BatchSize
	}
	if cfg.Conflict == "" {
		cfg.Conflict = SourceWins
	}
	if cfg.Operation == "" {
		cfg.Operation = OpUpsert
	}
	if len(cfg.TargetEngines) == 0 {
		return fmt.Errorf("sync job needs at least one target engine")
	}
	for _, role := range cfg.TargetEngines {
		if s.engines.ByRole(role) == nil {
			return fmt.Errorf("no %s engine configured", role)
		}
	}
	return nil
}

// SyncChunks propagates a document's chunks to the keyword and vector
// engines. The ingestion pipeline supplies the chunk records after chunking
// and embedding.
func (s *Service) SyncChunks(kbID, docID string, chunks []types.Record) (string, error) {
	for i := range chunks {
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = make(map[string]interface{})
		}
		chunks[i].Metadata["kb_id"] = kbID
		chunks[i].Metadata["doc_id"] = docID
		if chunks[i].UpdatedAt.IsZero() {
			chunks[i].UpdatedAt = time.Now()
		}
	}
	return s.SubmitJob(JobConfig{
		SourceEngine:  types.EngineRelational,
		TargetEngines: []types.EngineRole{types.EngineKeyword, types.EngineVector},
		Operation:     OpUpsert,
		DataType:      "chunks",
		Conflict:      SourceWins,
		Items:         chunks,
	})
}

// SyncEmbeddings re-propagates the given chunks' embeddings to the vector
// engine, reading current content from the relational source.
func (s *Service) SyncEmbeddings(kbID string, chunkIDs []string) (string, error) {
	if s.source == nil {
		return "", fmt.Errorf("no sync source configured")
	}
	items := make([]types.Record, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		rec, ok := s.source.Get(id)
		if !ok {
			continue
		}
		items = append(items, rec)
	}
	return s.SubmitJob(JobConfig{
		SourceEngine:  types.EngineRelational,
		TargetEngines: []types.EngineRole{types.EngineVector},
		Operation:     OpUpsert,
		DataType:      "embeddings",
		Conflict:      LatestWins,
		Items:         items,
	})
}

// IncrementalSync diffs the source against a watermark and propagates
// everything mutated at or after it.
func (s *Service) IncrementalSync(dataType string, since time.Time) (string, error) {
	if s.source == nil {
		return "", fmt.Errorf("no sync source configured")
	}
	items := s.source.UpdatedSince(since)
	return s.SubmitJob(JobConfig{
		SourceEngine:  types.EngineRelational,
		TargetEngines: []types.EngineRole{types.EngineKeyword, types.EngineVector},
		Operation:     OpBulkUpdate,
		DataType:      dataType,
		Conflict:      LatestWins,
		Items:         items,
		Since:         since,
	})
}

// JobStatus returns the current record of a job, falling back to the
// durable store for jobs evicted from memory.
func (s *Service) JobStatus(jobID string) (JobRecord, error) {
	if v, ok := s.jobs.Load(jobID); ok {
		return v.(*job).snapshot(), nil
	}
	if s.store != nil {
		rec, err := s.store.LoadJob(jobID)
		if err == nil {
			return rec, nil
		}
	}
	return JobRecord{}, types.ErrJobNotFound
}

// CancelJob requests cooperative cancellation; the job stops at the next
// batch boundary.
func (s *Service) CancelJob(jobID string) error {
	v, ok := s.jobs.Load(jobID)
	if !ok {
		return types.ErrJobNotFound
	}
	j := v.(*job)
	select {
	case <-j.cancel:
	default:
		close(j.cancel)
	}
	return nil
}

// ActiveJobs reports the number of jobs currently running.
func (s *Service) ActiveJobs() int {
	n := 0
	s.activeJobs.Range(func(_, _ interface{}) bool { n++; return true })
	return n
}

// QueuedJobs reports the number of jobs waiting in the queue.
func (s *Service) QueuedJobs() int {
	return len(s.queue)
}

func (s *Service) persist(j *job) {
	if s.store == nil {
		return
	}
	rec := j.snapshot()
	if err := s.store.SaveJob(rec); err != nil {
		s.logger.Error("persist sync job failed", "job", rec.ID, "error", err)
	}
}
