// Package optimizer wraps the query path with response caching, query
// rewriting, in-flight deduplication and a bounded concurrency gate. It is
// the outermost layer: everything below it (strategy selection, protected
// engine calls, fusion) runs inside the supplied query function.
package optimizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/soundprediction/retrievo/pkg/config"
	"github.com/soundprediction/retrievo/pkg/types"
)

// QueryFn executes one retrieval request end to end. The optimizer calls it
// at most once per distinct in-flight fingerprint.
type QueryFn func(ctx context.Context, req types.QueryRequest) (*types.QueryResponse, error)

// BatchFn processes one batch of records, returning per-item results.
type BatchFn func(ctx context.Context, batch []types.Record) ([]types.UpsertResult, error)

// Options toggle the optimizer's two optional stages per call.
type Options struct {
	UseCache   bool
	UseRewrite bool
}

// Optimizer coordinates caching, deduplication and admission for the query
// path. One instance serves all callers.
type Optimizer struct {
	cfg    func() *config.Snapshot
	cache  *Cache
	group  singleflight.Group
	gate   *semaphore.Weighted
	logger *slog.Logger

	gateSize int64
	waiting  atomic.Int64
	inFlight atomic.Int64

	queries      atomic.Int64
	deduplicated atomic.Int64
	rejected     atomic.Int64
}

// NewOptimizer builds an optimizer sized from the current snapshot. The
// concurrency gate is fixed at construction; cache policy, size and TTL
// follow the live config on every call via Reconfigure.
func NewOptimizer(cfg func() *config.Snapshot, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	snap := cfg()
	return &Optimizer{
		cfg:      cfg,
		cache:    NewCache(snap.Cache.Strategy, snap.Cache.MaxSize, snap.Cache.TTL()),
		gate:     semaphore.NewWeighted(int64(snap.Performance.MaxConcurrentRequests)),
		gateSize: int64(snap.Performance.MaxConcurrentRequests),
		logger:   logger,
	}
}

// Reconfigure applies a new snapshot's cache settings. Intended as a config
// manager OnUpdate listener; the concurrency gate keeps its boot-time size.
func (o *Optimizer) Reconfigure(snap *config.Snapshot) {
	o.cache.Configure(snap.Cache.Strategy, snap.Cache.MaxSize, snap.Cache.TTL())
}

// OptimizeAndExecute runs req through the cache, deduplication and the
// concurrency gate. A live cached entry short-circuits fn entirely.
// Identical requests issued while one is in flight share its single
// execution. Cache failures degrade to a miss, never to a query error.
func (o *Optimizer) OptimizeAndExecute(ctx context.Context, fn QueryFn, req types.QueryRequest, opts Options) (*types.QueryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	o.queries.Add(1)
	key := Fingerprint(req)

	if opts.UseCache {
		if cached, ok := o.cache.Get(key); ok {
			resp := cloneResponse(cached)
			resp.CacheHit = true
			return resp, nil
		}
	}

	ran := false
	v, err, shared := o.group.Do(key, func() (interface{}, error) {
		ran = true
		return o.execute(ctx, fn, req, key, opts)
	})
	// shared is true for the executing caller too; only waiters rode along.
	if shared && !ran {
		o.deduplicated.Add(1)
	}
	if err != nil {
		return nil, err
	}

	// Hand out a copy so callers can mutate results without corrupting the
	// cached or shared value.
	return cloneResponse(v.(*types.QueryResponse)), nil
}

// cloneResponse copies a response including the results slice, which the
// cache and singleflight otherwise share across callers.
func cloneResponse(src *types.QueryResponse) *types.QueryResponse {
	out := *src
	if src.Results != nil {
		out.Results = append([]types.ScoredRecord(nil), src.Results...)
	}
	return &out
}

func (o *Optimizer) execute(ctx context.Context, fn QueryFn, req types.QueryRequest, key string, opts Options) (*types.QueryResponse, error) {
	if opts.UseRewrite {
		req.QueryText = Rewrite(req.QueryText)
	}

	if err := o.admit(ctx); err != nil {
		return nil, err
	}
	defer o.gate.Release(1)

	o.inFlight.Add(1)
	start := time.Now()
	resp, err := fn(ctx, req)
	o.inFlight.Add(-1)
	if err != nil {
		return nil, err
	}

	resp.LatencyMs = time.Since(start).Milliseconds()
	resp.CacheHit = false
	if opts.UseCache {
		o.cache.Put(key, resp)
	}
	return resp, nil
}

// admit acquires a gate slot, waiting at most queue_wait_ms while fewer
// than queue_limit callers are already parked. Exhausted capacity surfaces
// as CapacityExceededError rather than an unbounded stall.
func (o *Optimizer) admit(ctx context.Context) error {
	if o.gate.TryAcquire(1) {
		return nil
	}

	snap := o.cfg()
	if o.waiting.Load() >= int64(snap.Performance.QueueLimit) {
		o.rejected.Add(1)
		return &types.CapacityExceededError{Limit: snap.Performance.QueueLimit}
	}

	o.waiting.Add(1)
	defer o.waiting.Add(-1)

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(snap.Performance.QueueWaitMs)*time.Millisecond)
	defer cancel()

	if err := o.gate.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.rejected.Add(1)
		return &types.CapacityExceededError{Limit: int(o.gateSize)}
	}
	return nil
}

// BatchProcess splits items into batches of batchSize and runs fn over them
// with at most maxConcurrentBatches in flight. Results keep batch order.
// The first batch error cancels the remaining batches.
func (o *Optimizer) BatchProcess(ctx context.Context, fn BatchFn, items []types.Record, batchSize, maxConcurrentBatches int) ([]types.UpsertResult, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if maxConcurrentBatches <= 0 {
		maxConcurrentBatches = 1
	}
	if len(items) == 0 {
		return nil, nil
	}

	numBatches := (len(items) + batchSize - 1) / batchSize
	results := make([][]types.UpsertResult, numBatches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBatches)
	for i := 0; i < numBatches; i++ {
		i := i
		lo, hi := i*batchSize, (i+1)*batchSize
		if hi > len(items) {
			hi = len(items)
		}
		g.Go(func() error {
			out, err := fn(gctx, items[lo:hi])
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	flat := make([]types.UpsertResult, 0, len(items))
	for _, r := range results {
		flat = append(flat, r...)
	}
	return flat, nil
}

// Stats is the optimizer's point-in-time view for health reporting.
type Stats struct {
	Cache        CacheStats `json:"cache"`
	TotalQueries int64      `json:"total_queries"`
	Deduplicated int64      `json:"deduplicated"`
	Rejected     int64      `json:"rejected"`
	InFlight     int64      `json:"in_flight"`
	Waiting      int64      `json:"waiting"`
}

func (o *Optimizer) Stats() Stats {
	return Stats{
		Cache:        o.cache.Stats(),
		TotalQueries: o.queries.Load(),
		Deduplicated: o.deduplicated.Load(),
		Rejected:     o.rejected.Load(),
		InFlight:     o.inFlight.Load(),
		Waiting:      o.waiting.Load(),
	}
}

// CacheHitRate exposes the cache hit ratio for the health endpoint.
func (o *Optimizer) CacheHitRate() float64 {
	return o.cache.Stats().HitRate
}

// InvalidateCache drops any cached response for req, for callers that know
// the underlying corpus changed.
func (o *Optimizer) InvalidateCache(req types.QueryRequest) {
	o.cache.Invalidate(Fingerprint(req))
}

// Fingerprint derives the deterministic cache and dedup key for a request:
// a sha256 over the normalized query text and sorted parameters, so
// semantically identical requests collide regardless of field order.
func Fingerprint(req types.QueryRequest) string {
	h := sha256.New()

	q := strings.Join(strings.Fields(strings.ToLower(req.QueryText)), " ")
	fmt.Fprintf(h, "q=%s;k=%d;", q, req.TopK)

	kbs := append([]string(nil), req.KnowledgeBaseIDs...)
	sort.Strings(kbs)
	fmt.Fprintf(h, "kb=%s;", strings.Join(kbs, ","))

	if len(req.Filters) > 0 {
		keys := make([]string, 0, len(req.Filters))
		for k := range req.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "f:%s=%v;", k, req.Filters[k])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
