package config

import (
	"fmt"

	"github.com/soundprediction/retrievo/pkg/types"
)

var validCacheStrategies = map[string]bool{
	"lru":    true,
	"lfu":    true,
	"ttl":    true,
	"hybrid": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validate checks a candidate snapshot and reports every violation found.
func validate(s *Snapshot) error {
	var violations []string

	add := func(format string, args ...interface{}) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	if s.VectorSearch.TopK <= 0 {
		add("vector_search.top_k must be positive, got %d", s.VectorSearch.TopK)
	}
	if s.VectorSearch.SimilarityThreshold < 0 || s.VectorSearch.SimilarityThreshold > 1 {
		add("vector_search.similarity_threshold must be in [0,1], got %g", s.VectorSearch.SimilarityThreshold)
	}
	if s.KeywordSearch.TopK <= 0 {
		add("keyword_search.top_k must be positive, got %d", s.KeywordSearch.TopK)
	}

	if s.HybridSearch.VectorWeight < 0 || s.HybridSearch.VectorWeight > 1 {
		add("hybrid_search.vector_weight must be in [0,1], got %g", s.HybridSearch.VectorWeight)
	}
	if s.HybridSearch.KeywordWeight < 0 || s.HybridSearch.KeywordWeight > 1 {
		add("hybrid_search.keyword_weight must be in [0,1], got %g", s.HybridSearch.KeywordWeight)
	}
	if s.HybridSearch.VectorWeight+s.HybridSearch.KeywordWeight == 0 {
		add("hybrid_search weights must not both be zero")
	}
	if s.HybridSearch.RankConstant <= 0 {
		add("hybrid_search.rank_constant must be positive, got %d", s.HybridSearch.RankConstant)
	}

	if s.Strategy.MinHealthScore < 0 || s.Strategy.MinHealthScore > 1 {
		add("strategy.min_health_score must be in [0,1], got %g", s.Strategy.MinHealthScore)
	}

	if !validCacheStrategies[s.Cache.Strategy] {
		add("cache.strategy must be one of lru, lfu, ttl, hybrid, got %q", s.Cache.Strategy)
	}
	if s.Cache.MaxSize <= 0 {
		add("cache.max_size must be positive, got %d", s.Cache.MaxSize)
	}
	if s.Cache.TTLSeconds < 0 {
		add("cache.ttl_seconds must not be negative, got %d", s.Cache.TTLSeconds)
	}

	if s.Performance.MaxConcurrentRequests <= 0 {
		add("performance.max_concurrent_requests must be positive, got %d", s.Performance.MaxConcurrentRequests)
	}
	if s.Performance.QueueLimit < 0 {
		add("performance.queue_limit must not be negative, got %d", s.Performance.QueueLimit)
	}

	if s.Resilience.FailureThreshold == 0 {
		add("resilience.failure_threshold must be positive")
	}
	if s.Resilience.RecoveryTimeoutMs <= 0 {
		add("resilience.recovery_timeout_ms must be positive, got %d", s.Resilience.RecoveryTimeoutMs)
	}
	if s.Resilience.MaxRetries < 0 {
		add("resilience.max_retries must not be negative, got %d", s.Resilience.MaxRetries)
	}
	if s.Resilience.CallTimeoutMs <= 0 {
		add("resilience.call_timeout_ms must be positive, got %d", s.Resilience.CallTimeoutMs)
	}

	if s.Sync.WorkerCount <= 0 {
		add("sync.worker_count must be positive, got %d", s.Sync.WorkerCount)
	}
	if s.Sync.QueueSize <= 0 {
		add("sync.queue_size must be positive, got %d", s.Sync.QueueSize)
	}
	if s.Sync.BatchSize <= 0 {
		add("sync.batch_size must be positive, got %d", s.Sync.BatchSize)
	}
	if s.Sync.MaxRetries < 0 {
		add("sync.max_retries must not be negative, got %d", s.Sync.MaxRetries)
	}
	if s.Sync.RateLimitPerSec < 0 {
		add("sync.rate_limit_per_sec must not be negative, got %g", s.Sync.RateLimitPerSec)
	}

	if s.Store.RetentionDays <= 0 {
		add("store.retention_days must be positive, got %d", s.Store.RetentionDays)
	}

	if !validLogLevels[s.Log.Level] {
		add("log.level must be one of debug, info, warn, error, got %q", s.Log.Level)
	}

	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		add("server.port must be in (0,65535], got %d", s.Server.Port)
	}

	if len(violations) > 0 {
		return &types.ConfigValidationError{Violations: violations}
	}
	return nil
}
