package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jengzang/inkmap-backend-go/internal/middleware"
	"github.com/jengzang/inkmap-backend-go/internal/models"
	"github.com/jengzang/inkmap-backend-go/internal/service"
	"github.com/jengzang/inkmap-backend-go/pkg/response"
)

// PinHandler handles HTTP requests for annotation pins
type PinHandler struct {
	pinService *service.PinService
}

// NewPinHandler creates a new pin handler
func NewPinHandler(pinService *service.PinService) *PinHandler {
	return &PinHandler{
		pinService: pinService,
	}
}

// SubmitPinRequest is the payload of POST /api/v1/pins
type SubmitPinRequest struct {
	Lat     float64 `json:"lat" binding:"required"`
	Lng     float64 `json:"lng" binding:"required"`
	Message string  `json:"message" binding:"required"`
	Color   string  `json:"color"`
}

// Submit handles POST /api/v1/pins
func (h *PinHandler) Submit(c *gin.Context) {
	userID, username := middleware.Identity(c)

	var req SubmitPinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	pin, err := h.pinService.Submit(userID, username, req.Lat, req.Lng, req.Message, req.Color)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, pin)
}

// GetViewport handles GET /api/v1/pins
func (h *PinHandler) GetViewport(c *gin.Context) {
	var filter models.PinFilter

	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}

	pins, err := h.pinService.GetViewport(filter)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"data":  pins,
		"count": len(pins),
	})
}
