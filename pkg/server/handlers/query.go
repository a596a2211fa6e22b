package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/retrievo"
	"github.com/soundprediction/retrievo/pkg/optimizer"
	"github.com/soundprediction/retrievo/pkg/server/dto"
	"github.com/soundprediction/retrievo/pkg/types"
)

// QueryHandler serves the retrieval endpoints.
type QueryHandler struct {
	client retrievo.Retrievo
}

func NewQueryHandler(client retrievo.Retrievo) *QueryHandler {
	return &QueryHandler{client: client}
}

// Query handles POST /api/v1/query.
func (h *QueryHandler) Query(c *gin.Context) {
	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	opts := optimizer.Options{UseCache: !req.NoCache, UseRewrite: !req.NoRewrite}
	resp, err := h.client.QueryWithOptions(c.Request.Context(), req.ToRequest(), opts)
	if err != nil {
		status, code := queryErrorStatus(err)
		c.JSON(status, dto.ErrorResponse{Error: code, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.FromResponse(resp))
}

// Recommend handles GET /api/v1/query/recommend.
func (h *QueryHandler) Recommend(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "q parameter is required"})
		return
	}
	c.JSON(http.StatusOK, dto.Result{Success: true, Data: h.client.Recommend(query)})
}

// queryErrorStatus maps the error taxonomy onto HTTP statuses.
func queryErrorStatus(err error) (int, string) {
	var capacity *types.CapacityExceededError
	var open *types.CircuitOpenError

	switch {
	case errors.Is(err, types.ErrEmptyQuery), errors.Is(err, types.ErrNegativeTopK):
		return http.StatusBadRequest, "invalid_request"
	case errors.As(err, &capacity):
		return http.StatusTooManyRequests, "capacity_exceeded"
	case errors.As(err, &open):
		return http.StatusServiceUnavailable, "circuit_open"
	default:
		return http.StatusInternalServerError, "query_failed"
	}
}
