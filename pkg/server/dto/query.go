package dto

import (
	"errors"
	"strings"

	"github.com/soundprediction/retrievo/pkg/types"
)

// MaxQueryLength caps query text to keep fingerprints and engine calls
// bounded.
const MaxQueryLength = 8192

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	Query            string                 `json:"query" binding:"required"`
	KnowledgeBaseIDs []string               `json:"knowledge_base_ids,omitempty"`
	TopK             int                    `json:"top_k,omitempty"`
	Filters          map[string]interface{} `json:"filters,omitempty"`
	NoCache          bool                   `json:"no_cache,omitempty"`
	NoRewrite        bool                   `json:"no_rewrite,omitempty"`
}

// Validate performs validation beyond binding tags.
func (r *QueryRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return errors.New("query cannot be empty")
	}
	if len(r.Query) > MaxQueryLength {
		return errors.New("query too long")
	}
	if r.TopK < 0 {
		return errors.New("top_k cannot be negative")
	}
	return nil
}

// ToRequest converts the body into the orchestrator's request type.
func (r *QueryRequest) ToRequest() types.QueryRequest {
	return types.QueryRequest{
		QueryText:        r.Query,
		KnowledgeBaseIDs: r.KnowledgeBaseIDs,
		TopK:             r.TopK,
		Filters:          r.Filters,
	}
}

// QueryResult is one scored record in a query response.
type QueryResult struct {
	ID           string  `json:"id"`
	Score        float64 `json:"score"`
	SourceEngine string  `json:"source_engine"`
	Snippet      string  `json:"snippet,omitempty"`
}

// QueryResponse is the body of a successful query reply.
type QueryResponse struct {
	Results      []QueryResult `json:"results"`
	TotalCount   int           `json:"total_count"`
	StrategyUsed string        `json:"strategy_used"`
	LatencyMs    int64         `json:"latency_ms"`
	CacheHit     bool          `json:"cache_hit"`
}

// FromResponse converts the orchestrator's response for the wire.
func FromResponse(resp *types.QueryResponse) QueryResponse {
	out := QueryResponse{
		Results:      make([]QueryResult, 0, len(resp.Results)),
		TotalCount:   resp.TotalCount,
		StrategyUsed: string(resp.StrategyUsed),
		LatencyMs:    resp.LatencyMs,
		CacheHit:     resp.CacheHit,
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, QueryResult{
			ID:           r.ID,
			Score:        r.Score,
			SourceEngine: string(r.SourceEngine),
			Snippet:      r.Snippet,
		})
	}
	return out
}
