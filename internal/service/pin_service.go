package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jengzang/inkmap-backend-go/internal/models"
	"github.com/jengzang/inkmap-backend-go/internal/repository"
)

// PinService handles business logic for annotation pins
type PinService struct {
	pinRepo *repository.PinRepository
}

// NewPinService creates a new pin service
func NewPinService(pinRepo *repository.PinRepository) *PinService {
	return &PinService{pinRepo: pinRepo}
}

// Submit validates and persists one pin. Abuse is bounded by the ink
// economy client-side and per-user rate limiting server-side, not here.
func (s *PinService) Submit(userID, username string, lat, lng float64, message, color string) (*models.Pin, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, fmt.Errorf("pin position out of coordinate range")
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("empty pin message")
	}
	if len(message) > models.MaxPinMessageLen {
		return nil, fmt.Errorf("pin message too long (max %d)", models.MaxPinMessageLen)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate pin id: %w", err)
	}

	pin := &models.Pin{
		ID:        id.String(),
		UserID:    userID,
		Username:  username,
		Lat:       lat,
		Lng:       lng,
		Message:   message,
		Color:     color,
		CreatedAt: time.Now().UnixMilli(),
	}

	if err := s.pinRepo.Insert(pin); err != nil {
		return nil, fmt.Errorf("failed to submit pin: %w", err)
	}
	return pin, nil
}

// GetViewport retrieves pins inside the viewport
func (s *PinService) GetViewport(filter models.PinFilter) ([]models.Pin, error) {
	if filter.MinLat >= filter.MaxLat || filter.MinLng >= filter.MaxLng {
		return nil, fmt.Errorf("invalid viewport bounds")
	}
	if filter.Limit < 1 {
		filter.Limit = DefaultPageSize
	}
	if filter.Limit > MaxPageSize {
		filter.Limit = MaxPageSize
	}

	pins, err := s.pinRepo.QueryViewport(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to get viewport pins: %w", err)
	}
	return pins, nil
}
