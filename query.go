package retrievo

import (
	"context"

	"github.com/soundprediction/retrievo/pkg/optimizer"
	"github.com/soundprediction/retrievo/pkg/strategy"
	"github.com/soundprediction/retrievo/pkg/types"
)

// Query implements QueryExecutor. It runs the full optimized path: cache
// and in-flight dedup first, then strategy selection against live engine
// health, protected engine calls and fusion. Both the cache and query
// rewriting are enabled; use QueryWithOptions to disable either.
func (c *Client) Query(ctx context.Context, req types.QueryRequest) (*types.QueryResponse, error) {
	return c.QueryWithOptions(ctx, req, optimizer.Options{UseCache: true, UseRewrite: true})
}

// QueryWithOptions is Query with explicit per-call optimizer toggles.
func (c *Client) QueryWithOptions(ctx context.Context, req types.QueryRequest, opts optimizer.Options) (*types.QueryResponse, error) {
	resp, err := c.optimizer.OptimizeAndExecute(ctx, c.runQuery, req, opts)
	if c.recorder != nil {
		c.recorder.Record(optimizer.Fingerprint(req), resp, err)
	}
	return resp, err
}

// runQuery is the uncached query path handed to the optimizer.
func (c *Client) runQuery(ctx context.Context, req types.QueryRequest) (*types.QueryResponse, error) {
	kbID := ""
	if len(req.KnowledgeBaseIDs) > 0 {
		kbID = req.KnowledgeBaseIDs[0]
	}
	decision := c.selector.SelectStrategy(req.QueryText, kbID, &strategy.Hints{TopK: req.TopK})

	params := types.SearchParams{
		Query:            req.QueryText,
		KnowledgeBaseIDs: req.KnowledgeBaseIDs,
		TopK:             req.TopK,
		Filters:          req.Filters,
	}
	results, err := c.searcher.Execute(ctx, decision, params)
	if err != nil {
		return nil, err
	}

	return &types.QueryResponse{
		Results:      results,
		TotalCount:   len(results),
		StrategyUsed: decision.Strategy,
	}, nil
}
