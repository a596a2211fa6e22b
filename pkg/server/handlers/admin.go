package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/retrievo"
	"github.com/soundprediction/retrievo/pkg/server/dto"
	"github.com/soundprediction/retrievo/pkg/types"
)

// AdminHandler serves runtime maintenance endpoints.
type AdminHandler struct {
	client retrievo.Retrievo
}

func NewAdminHandler(client retrievo.Retrievo) *AdminHandler {
	return &AdminHandler{client: client}
}

// UpdateConfig handles PATCH /api/v1/admin/config. The body is a partial
// configuration as dotted keys or nested maps; invalid updates are rejected
// whole with every violation listed.
func (h *AdminHandler) UpdateConfig(c *gin.Context) {
	var partial map[string]interface{}
	if err := c.ShouldBindJSON(&partial); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	version, err := h.client.UpdateConfig(partial)
	if err != nil {
		var vErr *types.ConfigValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusUnprocessableEntity, dto.Result{Success: false, Error: vErr.Error(), Data: vErr.Violations})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "update_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.Result{Success: true, Data: gin.H{"version": version}})
}

// ReloadConfig handles POST /api/v1/admin/config/reload.
func (h *AdminHandler) ReloadConfig(c *gin.Context) {
	version, err := h.client.ReloadConfig()
	if err != nil {
		var vErr *types.ConfigValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusUnprocessableEntity, dto.Result{Success: false, Error: vErr.Error(), Data: vErr.Violations})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "reload_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.Result{Success: true, Data: gin.H{"version": version}})
}

// ResetBreaker handles POST /api/v1/admin/breakers/:name/reset.
func (h *AdminHandler) ResetBreaker(c *gin.Context) {
	h.client.ResetBreaker(c.Param("name"))
	c.JSON(http.StatusOK, dto.Result{Success: true})
}
