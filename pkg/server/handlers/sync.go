package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/retrievo"
	"github.com/soundprediction/retrievo/pkg/server/dto"
	"github.com/soundprediction/retrievo/pkg/syncer"
	"github.com/soundprediction/retrievo/pkg/types"
)

// SyncHandler serves the synchronization endpoints.
type SyncHandler struct {
	client retrievo.Retrievo
}

func NewSyncHandler(client retrievo.Retrievo) *SyncHandler {
	return &SyncHandler{client: client}
}

// SyncChunks handles POST /api/v1/sync/chunks.
func (h *SyncHandler) SyncChunks(c *gin.Context) {
	var req dto.SyncChunksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	jobID, err := h.client.SyncChunks(req.KnowledgeBaseID, req.DocumentID, req.ToRecords())
	if err != nil {
		h.submitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.JobSubmitted{JobID: jobID})
}

// SyncEmbeddings handles POST /api/v1/sync/embeddings.
func (h *SyncHandler) SyncEmbeddings(c *gin.Context) {
	var req dto.SyncEmbeddingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if len(req.ChunkIDs) == 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "chunk_ids cannot be empty"})
		return
	}

	jobID, err := h.client.SyncEmbeddings(req.KnowledgeBaseID, req.ChunkIDs)
	if err != nil {
		h.submitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.JobSubmitted{JobID: jobID})
}

// IncrementalSync handles POST /api/v1/sync/incremental.
func (h *SyncHandler) IncrementalSync(c *gin.Context) {
	var req dto.IncrementalSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	jobID, err := h.client.IncrementalSync(req.DataType, req.Since)
	if err != nil {
		h.submitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.JobSubmitted{JobID: jobID})
}

// SubmitJob handles POST /api/v1/sync/jobs for explicit job configs.
func (h *SyncHandler) SubmitJob(c *gin.Context) {
	var cfg syncer.JobConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	jobID, err := h.client.SubmitJob(cfg)
	if err != nil {
		h.submitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.JobSubmitted{JobID: jobID})
}

// JobStatus handles GET /api/v1/sync/jobs/:id.
func (h *SyncHandler) JobStatus(c *gin.Context) {
	rec, err := h.client.JobStatus(c.Param("id"))
	if err != nil {
		if errors.Is(err, types.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "status_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.JobStatusResponse{Job: rec})
}

// CancelJob handles DELETE /api/v1/sync/jobs/:id.
func (h *SyncHandler) CancelJob(c *gin.Context) {
	if err := h.client.CancelJob(c.Param("id")); err != nil {
		if errors.Is(err, types.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "cancel_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.Result{Success: true})
}

func (h *SyncHandler) submitError(c *gin.Context, err error) {
	var capacity *types.CapacityExceededError
	if errors.As(err, &capacity) {
		c.JSON(http.StatusTooManyRequests, dto.ErrorResponse{Error: "capacity_exceeded", Message: err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
}
