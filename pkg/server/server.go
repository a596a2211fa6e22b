// Package server exposes the orchestrator over HTTP for query API layers
// and operator dashboards.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/retrievo"
	"github.com/soundprediction/retrievo/pkg/config"
	"github.com/soundprediction/retrievo/pkg/server/handlers"
)

// Server is the HTTP ops server.
type Server struct {
	config *config.Snapshot
	router *gin.Engine
	client retrievo.Retrievo
	server *http.Server
}

// New creates a server around an already wired client.
func New(cfg *config.Snapshot, client retrievo.Retrievo) *Server {
	return &Server{
		config: cfg,
		client: client,
	}
}

// Setup builds the router and the underlying http.Server.
func (s *Server) Setup() {
	gin.SetMode(s.config.Server.Mode)

	s.router = gin.New()
	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.client)
	queryHandler := handlers.NewQueryHandler(s.client)
	syncHandler := handlers.NewSyncHandler(s.client)
	adminHandler := handlers.NewAdminHandler(s.client)

	// Health endpoints
	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/ready", healthHandler.ReadinessCheck)
	s.router.GET("/live", healthHandler.LivenessCheck)
	s.router.GET("/health/detailed", healthHandler.DetailedHealthCheck)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/query", queryHandler.Query)
		v1.GET("/query/recommend", queryHandler.Recommend)

		sync := v1.Group("/sync")
		{
			sync.POST("/chunks", syncHandler.SyncChunks)
			sync.POST("/embeddings", syncHandler.SyncEmbeddings)
			sync.POST("/incremental", syncHandler.IncrementalSync)
			sync.POST("/jobs", syncHandler.SubmitJob)
			sync.GET("/jobs/:id", syncHandler.JobStatus)
			sync.DELETE("/jobs/:id", syncHandler.CancelJob)
		}

		admin := v1.Group("/admin")
		{
			admin.PATCH("/config", adminHandler.UpdateConfig)
			admin.POST("/config/reload", adminHandler.ReloadConfig)
			admin.POST("/breakers/:name/reset", adminHandler.ResetBreaker)
		}
	}
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for browser dashboards.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
