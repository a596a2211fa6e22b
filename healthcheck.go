package retrievo

import (
	"time"

	"github.com/soundprediction/retrievo/pkg/health"
	"github.com/soundprediction/retrievo/pkg/optimizer"
	"github.com/soundprediction/retrievo/pkg/resilience"
	"github.com/soundprediction/retrievo/pkg/types"
)

// HealthReport is the operator-facing view of the orchestrator's state.
type HealthReport struct {
	Status        string                                  `json:"status"` // healthy or degraded
	Timestamp     time.Time                               `json:"timestamp"`
	ConfigVersion int64                                   `json:"config_version"`
	Breakers      map[string]resilience.BreakerSnapshot   `json:"breakers"`
	Engines       map[types.EngineRole]health.Record      `json:"engines"`
	EngineScores  map[types.EngineRole]float64            `json:"engine_scores"`
	CacheHitRate  float64                                 `json:"cache_hit_rate"`
	Optimizer     optimizer.Stats                         `json:"optimizer"`
	Requests      resilience.MetricsSnapshot              `json:"requests"`
	ActiveJobs    int                                     `json:"active_jobs"`
	QueuedJobs    int                                     `json:"queued_jobs"`
}

// HealthCheck implements HealthReporter. The report is assembled from each
// component's own snapshot; nothing here blocks on engine I/O.
func (c *Client) HealthCheck() HealthReport {
	snap := c.cfg.Current()

	report := HealthReport{
		Status:        "healthy",
		Timestamp:     time.Now().UTC(),
		ConfigVersion: snap.Version,
		Breakers:      c.exec.Snapshots(),
		Engines:       c.tracker.Snapshots(),
		EngineScores:  make(map[types.EngineRole]float64, 3),
		CacheHitRate:  c.optimizer.CacheHitRate(),
		Optimizer:     c.optimizer.Stats(),
		Requests:      c.exec.MetricsSnapshot(),
		ActiveJobs:    c.syncer.ActiveJobs(),
		QueuedJobs:    c.syncer.QueuedJobs(),
	}

	for _, role := range []types.EngineRole{types.EngineRelational, types.EngineKeyword, types.EngineVector} {
		report.EngineScores[role] = c.tracker.Score(role)
	}

	for _, b := range report.Breakers {
		if b.State != "closed" {
			report.Status = "degraded"
		}
	}
	if report.EngineScores[types.EngineVector] < snap.Strategy.MinHealthScore &&
		report.EngineScores[types.EngineKeyword] < snap.Strategy.MinHealthScore {
		report.Status = "degraded"
	}
	return report
}
