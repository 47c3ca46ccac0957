package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jengzang/inkmap-backend-go/internal/middleware"
	"github.com/jengzang/inkmap-backend-go/internal/models"
	"github.com/jengzang/inkmap-backend-go/internal/service"
	"github.com/jengzang/inkmap-backend-go/pkg/response"
)

// StrokeHandler handles HTTP requests for strokes
type StrokeHandler struct {
	strokeService *service.StrokeService
}

// NewStrokeHandler creates a new stroke handler
func NewStrokeHandler(strokeService *service.StrokeService) *StrokeHandler {
	return &StrokeHandler{
		strokeService: strokeService,
	}
}

// GetViewport handles GET /api/v1/strokes
// 视口范围查询：边界框 + 可选 keyset 游标
func (h *StrokeHandler) GetViewport(c *gin.Context) {
	var filter models.ViewportFilter

	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}

	page, err := h.strokeService.GetViewport(filter)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, page)
}

// SubmitBatchRequest is the payload of POST /api/v1/strokes
type SubmitBatchRequest struct {
	Strokes []models.Stroke `json:"strokes" binding:"required"`
}

// SubmitBatch handles POST /api/v1/strokes
func (h *StrokeHandler) SubmitBatch(c *gin.Context) {
	userID, username := middleware.Identity(c)

	var req SubmitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	count, err := h.strokeService.SubmitBatch(userID, username, req.Strokes)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, gin.H{"persisted": count})
}

// Delete handles DELETE /api/v1/strokes/:id
// Missing strokes and non-author attempts are deliberately
// indistinguishable.
func (h *StrokeHandler) Delete(c *gin.Context) {
	userID, _ := middleware.Identity(c)
	id := c.Param("id")

	ok, err := h.strokeService.Delete(id, userID)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	if !ok {
		response.NotFound(c, "Stroke not found or not authorized")
		return
	}

	response.Success(c, gin.H{"deleted": 1})
}

// GetMyStats handles GET /api/v1/stats/me
func (h *StrokeHandler) GetMyStats(c *gin.Context) {
	userID, username := middleware.Identity(c)

	count, err := h.strokeService.CountByUser(userID)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"userId":      userID,
		"username":    username,
		"strokeCount": count,
	})
}
