package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/retrievo"
)

// Build information, set at build time using ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// HealthHandler serves the health endpoints.
type HealthHandler struct {
	client retrievo.Retrievo
}

func NewHealthHandler(client retrievo.Retrievo) *HealthHandler {
	return &HealthHandler{client: client}
}

// HealthCheck handles GET /health, a basic liveness check.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "retrievo",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

// LivenessCheck handles GET /live for kubernetes probes.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// ReadinessCheck handles GET /ready. Ready means the orchestrator is up;
// degraded engines still serve via fallback so they do not fail readiness.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	report := h.client.HealthCheck()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ready",
		"orchestrator":   report.Status,
		"config_version": report.ConfigVersion,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// DetailedHealthCheck handles GET /health/detailed: per-breaker state,
// per-engine scores, cache hit rate and job counts.
func (h *HealthHandler) DetailedHealthCheck(c *gin.Context) {
	report := h.client.HealthCheck()
	status := http.StatusOK
	if report.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
