package repository

import (
	"database/sql"
	"fmt"

	"github.com/jengzang/inkmap-backend-go/internal/models"
)

// PinRepository handles database operations for annotation pins
type PinRepository struct {
	db *sql.DB
}

// NewPinRepository creates a new pin repository
func NewPinRepository(db *sql.DB) *PinRepository {
	return &PinRepository{db: db}
}

// Insert persists a single pin
func (r *PinRepository) Insert(pin *models.Pin) error {
	_, err := r.db.Exec(
		`INSERT INTO pins (id, user_id, username, lat, lng, message, color, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pin.ID, pin.UserID, pin.Username, pin.Lat, pin.Lng, pin.Message, pin.Color,
		pin.CreatedAt/1000, // Milliseconds to stored seconds
	)
	if err != nil {
		return fmt.Errorf("failed to insert pin: %w", err)
	}
	return nil
}

// QueryViewport returns pins inside the viewport, newest first
func (r *PinRepository) QueryViewport(filter models.PinFilter) ([]models.Pin, error) {
	rows, err := r.db.Query(
		`SELECT id, user_id, username, lat, lng, message, color, created_at
		FROM pins
		WHERE lat >= ? AND lat <= ? AND lng >= ? AND lng <= ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		filter.MinLat, filter.MaxLat, filter.MinLng, filter.MaxLng, filter.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pins: %w", err)
	}
	defer rows.Close()

	pins := []models.Pin{}
	for rows.Next() {
		var p models.Pin
		var createdSec int64
		if err := rows.Scan(&p.ID, &p.UserID, &p.Username, &p.Lat, &p.Lng, &p.Message, &p.Color, &createdSec); err != nil {
			return nil, fmt.Errorf("failed to scan pin: %w", err)
		}
		p.CreatedAt = createdSec * 1000
		pins = append(pins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pins: %w", err)
	}

	return pins, nil
}
