package types

import (
	"errors"
	"time"
)

// EngineRole identifies one of the three backing stores.
type EngineRole string

const (
	EngineRelational EngineRole = "relational"
	EngineKeyword    EngineRole = "keyword"
	EngineVector     EngineRole = "vector"
)

// Strategy is the retrieval path chosen for a query.
type Strategy string

const (
	StrategyHybrid      Strategy = "HYBRID"
	StrategyVectorOnly  Strategy = "VECTOR_ONLY"
	StrategyKeywordOnly Strategy = "KEYWORD_ONLY"
	StrategyFallback    Strategy = "FALLBACK"
)

var strategyRank = map[Strategy]int{
	StrategyHybrid:      3,
	StrategyVectorOnly:  2,
	StrategyKeywordOnly: 1,
	StrategyFallback:    0,
}

// Rank returns the tie-break rank of the strategy. Higher wins.
func (s Strategy) Rank() int {
	return strategyRank[s]
}

// Record is a unit of synchronized content: one chunk with its embedding
// and metadata, keyed by ID.
type Record struct {
	ID        string                 `json:"id"`
	Text      string                 `json:"text,omitempty"`
	Embedding []float32              `json:"embedding,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// ScoredRecord is a search hit returned by an engine.
type ScoredRecord struct {
	ID           string     `json:"id"`
	Score        float64    `json:"score"`
	SourceEngine EngineRole `json:"source_engine"`
	Snippet      string     `json:"snippet,omitempty"`
}

// SearchParams are the normalized parameters handed to an engine search.
type SearchParams struct {
	Query               string                 `json:"query"`
	QueryVector         []float32              `json:"query_vector,omitempty"`
	KnowledgeBaseIDs    []string               `json:"knowledge_base_ids,omitempty"`
	TopK                int                    `json:"top_k"`
	SimilarityThreshold float64                `json:"similarity_threshold,omitempty"`
	Fuzzy               bool                   `json:"fuzzy,omitempty"`
	Filters             map[string]interface{} `json:"filters,omitempty"`
}

// QueryRequest is what the query API layer hands to the orchestrator.
type QueryRequest struct {
	QueryText        string                 `json:"query_text"`
	KnowledgeBaseIDs []string               `json:"knowledge_base_ids,omitempty"`
	TopK             int                    `json:"top_k,omitempty"`
	Filters          map[string]interface{} `json:"filters,omitempty"`
}

// Validate checks a QueryRequest for structural problems.
func (r *QueryRequest) Validate() error {
	if r.QueryText == "" {
		return ErrEmptyQuery
	}
	if r.TopK < 0 {
		return ErrNegativeTopK
	}
	return nil
}

// QueryResponse is the result returned to the query API layer.
type QueryResponse struct {
	Results      []ScoredRecord `json:"results"`
	TotalCount   int            `json:"total_count"`
	StrategyUsed Strategy       `json:"strategy_used"`
	LatencyMs    int64          `json:"latency_ms"`
	CacheHit     bool           `json:"cache_hit"`
}

// UpsertResult reports the outcome of an engine upsert.
type UpsertResult struct {
	Upserted  int      `json:"upserted"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// DeleteResult reports the outcome of an engine delete.
type DeleteResult struct {
	Deleted int `json:"deleted"`
}

// PingResult is what an engine health ping returns.
type PingResult struct {
	LatencyMs int64 `json:"latency_ms"`
	OK        bool  `json:"ok"`
}

var (
	// ErrEmptyQuery is returned when a query request has no query text.
	ErrEmptyQuery = errors.New("query text is empty")
	// ErrNegativeTopK is returned when a query request has a negative top_k.
	ErrNegativeTopK = errors.New("top_k must not be negative")
	// ErrJobNotFound is returned when a sync job id is unknown.
	ErrJobNotFound = errors.New("sync job not found")
	// ErrClosed is returned when an operation is attempted on a closed component.
	ErrClosed = errors.New("component is closed")
)
