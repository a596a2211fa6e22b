// Package config loads and serves the orchestrator configuration as
// versioned immutable snapshots. Sources layer file < environment < runtime
// updates; a snapshot only goes live after full validation, and readers
// never observe a partial update.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Snapshot is one immutable configuration version. Readers obtain it from
// Manager.Current and must not mutate it.
type Snapshot struct {
	Version int64 `mapstructure:"-"`

	VectorSearch  VectorSearchConfig  `mapstructure:"vector_search"`
	KeywordSearch KeywordSearchConfig `mapstructure:"keyword_search"`
	HybridSearch  HybridSearchConfig  `mapstructure:"hybrid_search"`
	Strategy      StrategyConfig      `mapstructure:"strategy"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Performance   PerformanceConfig   `mapstructure:"performance"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Store         StoreConfig         `mapstructure:"store"`
	Log           LogConfig           `mapstructure:"log"`
	Server        ServerConfig        `mapstructure:"server"`
	Alert         AlertConfig         `mapstructure:"alert"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`

	// raw holds the flattened settings backing Get/GetSection.
	raw map[string]interface{}
}

// VectorSearchConfig holds vector engine search parameters.
type VectorSearchConfig struct {
	TopK                int     `mapstructure:"top_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// KeywordSearchConfig holds full-text engine search parameters.
type KeywordSearchConfig struct {
	TopK         int  `mapstructure:"top_k"`
	FuzzyEnabled bool `mapstructure:"fuzzy_enabled"`
}

// HybridSearchConfig holds fusion parameters for the hybrid path.
type HybridSearchConfig struct {
	VectorWeight  float64 `mapstructure:"vector_weight"`
	KeywordWeight float64 `mapstructure:"keyword_weight"`
	RankConstant  int     `mapstructure:"rank_constant"`
}

// StrategyConfig holds strategy selection thresholds.
type StrategyConfig struct {
	MinHealthScore float64 `mapstructure:"min_health_score"`
}

// CacheConfig holds the optimizer cache policy.
type CacheConfig struct {
	Strategy   string `mapstructure:"strategy"` // lru, lfu, ttl, hybrid
	MaxSize    int64  `mapstructure:"max_size"` // bytes
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// TTL returns the configured entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// PerformanceConfig holds the optimizer concurrency limits.
type PerformanceConfig struct {
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests"`
	QueueLimit            int `mapstructure:"queue_limit"`
	QueueWaitMs           int `mapstructure:"queue_wait_ms"`
}

// ResilienceConfig holds circuit breaker and retry parameters.
type ResilienceConfig struct {
	FailureThreshold  uint32 `mapstructure:"failure_threshold"`
	FailureRateWindow int    `mapstructure:"failure_rate_window_s"`
	RecoveryTimeoutMs int    `mapstructure:"recovery_timeout_ms"`
	MaxRetries        int    `mapstructure:"max_retries"`
	RetryBaseMs       int    `mapstructure:"retry_base_ms"`
	CallTimeoutMs     int    `mapstructure:"call_timeout_ms"`
}

// RecoveryTimeout returns the OPEN->HALF_OPEN delay.
func (c ResilienceConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutMs) * time.Millisecond
}

// CallTimeout returns the per-dependency call timeout.
func (c ResilienceConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}

// SyncConfig holds synchronization service parameters.
type SyncConfig struct {
	WorkerCount     int     `mapstructure:"worker_count"`
	QueueSize       int     `mapstructure:"queue_size"`
	BatchSize       int     `mapstructure:"batch_size"`
	MaxRetries      int     `mapstructure:"max_retries"`
	RateLimitPerSec float64 `mapstructure:"rate_limit_per_sec"`
	// MergePreferSource decides field-level precedence for MERGE conflicts
	// per data type. Missing data types default to true (source wins the
	// field, set-valued metadata is unioned).
	MergePreferSource map[string]bool `mapstructure:"merge_prefer_source"`
}

// StoreConfig holds the durable state store location and retention.
type StoreConfig struct {
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
	InMemory      bool   `mapstructure:"in_memory"`
}

// Retention returns the configured history retention.
func (c StoreConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds the ops server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// AlertConfig holds configuration for alerting.
type AlertConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// TelemetryConfig holds telemetry configuration.
type TelemetryConfig struct {
	ParquetPath string `mapstructure:"parquet_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("vector_search.top_k", 10)
	v.SetDefault("vector_search.similarity_threshold", 0.0)

	v.SetDefault("keyword_search.top_k", 10)
	v.SetDefault("keyword_search.fuzzy_enabled", false)

	v.SetDefault("hybrid_search.vector_weight", 0.7)
	v.SetDefault("hybrid_search.keyword_weight", 0.3)
	v.SetDefault("hybrid_search.rank_constant", 60)

	v.SetDefault("strategy.min_health_score", 0.5)

	v.SetDefault("cache.strategy", "lru")
	v.SetDefault("cache.max_size", 64*1024*1024)
	v.SetDefault("cache.ttl_seconds", 300)

	v.SetDefault("performance.max_concurrent_requests", 32)
	v.SetDefault("performance.queue_limit", 128)
	v.SetDefault("performance.queue_wait_ms", 2000)

	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.failure_rate_window_s", 60)
	v.SetDefault("resilience.recovery_timeout_ms", 30000)
	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.retry_base_ms", 1000)
	v.SetDefault("resilience.call_timeout_ms", 5000)

	v.SetDefault("sync.worker_count", 5)
	v.SetDefault("sync.queue_size", 256)
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.rate_limit_per_sec", 0)

	v.SetDefault("store.path", "./retrievo_state")
	v.SetDefault("store.retention_days", 30)
	v.SetDefault("store.in_memory", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("alert.enabled", false)

	v.SetDefault("telemetry.parquet_path", "")
}
