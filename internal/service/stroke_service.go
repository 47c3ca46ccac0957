package service

import (
	"fmt"

	"github.com/jengzang/inkmap-backend-go/internal/models"
	"github.com/jengzang/inkmap-backend-go/internal/repository"
	"github.com/jengzang/inkmap-backend-go/internal/spatial"
)

// Validation bounds 服务端校验参数
const (
	DefaultPageSize = 200
	MaxPageSize     = 500

	MaxPointsPerStroke = 4096

	// MaxStrokeLengthMeters rejects absurd paths no human drew in one
	// gesture (anti-vandalism backstop behind the ink economy)
	MaxStrokeLengthMeters = 100_000.0
)

// StrokeService handles business logic for strokes
type StrokeService struct {
	strokeRepo *repository.StrokeRepository
}

// NewStrokeService creates a new stroke service
func NewStrokeService(strokeRepo *repository.StrokeRepository) *StrokeService {
	return &StrokeService{strokeRepo: strokeRepo}
}

// GetViewport retrieves a keyset-paginated page of strokes visible in the
// viewport
func (s *StrokeService) GetViewport(filter models.ViewportFilter) (*models.StrokesPage, error) {
	box := spatial.BBox{MinLat: filter.MinLat, MaxLat: filter.MaxLat, MinLng: filter.MinLng, MaxLng: filter.MaxLng}
	if !box.Valid() {
		return nil, fmt.Errorf("invalid viewport bounds")
	}

	if filter.PageSize < 1 {
		filter.PageSize = DefaultPageSize
	}
	if filter.PageSize > MaxPageSize {
		filter.PageSize = MaxPageSize
	}

	page, err := s.strokeRepo.QueryViewport(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to get viewport strokes: %w", err)
	}
	return page, nil
}

// SubmitBatch validates and persists client-authored strokes. The identity
// comes from the authenticated request, never from the payload, and bounds
// are recomputed server-side so the bbox invariant cannot be violated by a
// client.
func (s *StrokeService) SubmitBatch(userID, username string, strokes []models.Stroke) (int64, error) {
	if len(strokes) == 0 {
		return 0, nil
	}

	valid := make([]models.Stroke, 0, len(strokes))
	for i := range strokes {
		st := strokes[i]
		if err := validateStroke(&st); err != nil {
			return 0, fmt.Errorf("stroke %d: %w", i, err)
		}

		st.UserID = userID
		st.Username = username
		st.ComputeBounds()
		valid = append(valid, st)
	}

	count, err := s.strokeRepo.BatchInsert(valid)
	if err != nil {
		return 0, fmt.Errorf("failed to persist strokes: %w", err)
	}
	return count, nil
}

// Delete removes a stroke when the caller is its author. Returns false
// both for a missing stroke and a non-author attempt; callers must not be
// able to tell the two apart.
func (s *StrokeService) Delete(id, userID string) (bool, error) {
	affected, err := s.strokeRepo.DeleteByAuthor(id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete stroke: %w", err)
	}
	return affected > 0, nil
}

// CountByUser returns the caller's committed stroke count
func (s *StrokeService) CountByUser(userID string) (int64, error) {
	return s.strokeRepo.CountByUser(userID)
}

func validateStroke(st *models.Stroke) error {
	if st.ID == "" {
		return fmt.Errorf("missing id")
	}
	if len(st.Points) == 0 {
		return fmt.Errorf("empty point sequence")
	}
	if len(st.Points) > MaxPointsPerStroke {
		return fmt.Errorf("too many points (%d)", len(st.Points))
	}
	if st.Opacity < 0 || st.Opacity > 1 {
		return fmt.Errorf("opacity out of range")
	}
	if st.Size <= 0 {
		return fmt.Errorf("non-positive brush size")
	}

	lats := make([]float64, len(st.Points))
	lngs := make([]float64, len(st.Points))
	for i, p := range st.Points {
		if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			return fmt.Errorf("point %d out of coordinate range", i)
		}
		if p.Pressure < 0 || p.Pressure > 1 {
			return fmt.Errorf("point %d pressure out of range", i)
		}
		lats[i], lngs[i] = p.Lat, p.Lng
	}

	if length := spatial.PathLength(lats, lngs); length > MaxStrokeLengthMeters {
		return fmt.Errorf("stroke path too long (%.0fm)", length)
	}
	return nil
}
