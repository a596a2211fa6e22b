// Package search executes a selected retrieval strategy against the engine
// clients through the resilience layer and fuses the results.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soundprediction/retrievo/pkg/engine"
	"github.com/soundprediction/retrievo/pkg/health"
	"github.com/soundprediction/retrievo/pkg/resilience"
	"github.com/soundprediction/retrievo/pkg/strategy"
	"github.com/soundprediction/retrievo/pkg/types"
)

// BreakerName returns the resilience dependency name for an engine role.
func BreakerName(role types.EngineRole) string {
	return string(role) + "-engine"
}

// Embedder turns query text into a query vector. Embedding generation is an
// external collaborator; a nil Embedder limits vector search to requests
// that already carry a vector.
type Embedder func(ctx context.Context, text string) ([]float32, error)

// Searcher runs strategies against the engine set.
type Searcher struct {
	engines *engine.Set
	exec    *resilience.Executor
	tracker *health.Tracker
	embed   Embedder
	logger  *slog.Logger
}

// NewSearcher creates a searcher. embed may be nil.
func NewSearcher(engines *engine.Set, exec *resilience.Executor, tracker *health.Tracker, embed Embedder, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		engines: engines,
		exec:    exec,
		tracker: tracker,
		embed:   embed,
		logger:  logger,
	}
}

// Execute runs the decided strategy and returns fused, scored hits.
func (s *Searcher) Execute(ctx context.Context, d strategy.Decision, params types.SearchParams) ([]types.ScoredRecord, error) {
	params = s.applyDecision(d, params)

	switch d.Strategy {
	case types.StrategyHybrid:
		return s.hybrid(ctx, d, params)
	case types.StrategyVectorOnly:
		return s.single(ctx, types.EngineVector, params)
	case types.StrategyKeywordOnly:
		return s.single(ctx, types.EngineKeyword, params)
	default:
		return s.single(ctx, types.EngineRelational, params)
	}
}

func (s *Searcher) applyDecision(d strategy.Decision, params types.SearchParams) types.SearchParams {
	if params.TopK <= 0 {
		params.TopK = d.Params.TopK
	}
	if params.SimilarityThreshold == 0 {
		params.SimilarityThreshold = d.Params.SimilarityThreshold
	}
	params.Fuzzy = params.Fuzzy || d.Params.Fuzzy
	return params
}

// hybrid queries vector and keyword engines concurrently and fuses with
// weighted RRF. If one side fails even after resilience handling, the other
// side's results still serve the query.
func (s *Searcher) hybrid(ctx context.Context, d strategy.Decision, params types.SearchParams) ([]types.ScoredRecord, error) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	lists := make(map[types.EngineRole][]types.ScoredRecord)
	errs := make(map[types.EngineRole]error)

	for _, role := range []types.EngineRole{types.EngineVector, types.EngineKeyword} {
		wg.Add(1)
		go func(role types.EngineRole) {
			defer wg.Done()
			hits, err := s.single(ctx, role, params)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[role] = err
				return
			}
			lists[role] = hits
		}(role)
	}
	wg.Wait()

	if len(lists) == 0 {
		// Both sides down despite selection saying otherwise; surface the
		// vector error as primary.
		if err := errs[types.EngineVector]; err != nil {
			return nil, err
		}
		return nil, errs[types.EngineKeyword]
	}
	for role, err := range errs {
		s.logger.Warn("hybrid side failed, fusing remaining results",
			"engine", string(role), "error", err)
	}

	weights := map[types.EngineRole]float64{
		types.EngineVector:  d.Params.VectorWeight,
		types.EngineKeyword: d.Params.KeywordWeight,
	}
	return WeightedRRF(lists, weights, d.Params.RankConstant, params.TopK), nil
}

// single queries one engine through the resilience layer, recording the
// outcome on its health record.
func (s *Searcher) single(ctx context.Context, role types.EngineRole, params types.SearchParams) ([]types.ScoredRecord, error) {
	client := s.engines.ByRole(role)
	if client == nil {
		return nil, fmt.Errorf("no %s engine configured", role)
	}

	if role == types.EngineVector && len(params.QueryVector) == 0 && s.embed != nil {
		vec, err := s.embed(ctx, params.Query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		params.QueryVector = vec
	}

	start := time.Now()
	res, err := s.exec.ExecuteProtected(ctx, BreakerName(role), func(callCtx context.Context) (interface{}, error) {
		hits, err := client.Search(callCtx, params)
		if err != nil {
			return nil, &types.EngineCallError{Engine: string(role), Op: "search", Err: err}
		}
		return hits, nil
	})
	s.tracker.Observe(role, time.Since(start), err)

	if err != nil {
		return nil, err
	}
	hits, ok := res.([]types.ScoredRecord)
	if !ok {
		// A fallback returned a foreign type; treat as empty degraded set.
		return nil, nil
	}
	return hits, nil
}
