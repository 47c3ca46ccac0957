package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/jengzang/inkmap-backend-go/internal/models"
)

// StrokeRepository handles database operations for strokes
type StrokeRepository struct {
	db *sql.DB
}

// NewStrokeRepository creates a new stroke repository
func NewStrokeRepository(db *sql.DB) *StrokeRepository {
	return &StrokeRepository{db: db}
}

const strokeColumns = `id, user_id, username, brush_id, color, opacity, size, points,
	min_lat, max_lat, min_lng, max_lng, center_lat, center_lng, zoom, metadata,
	created_at, updated_at`

// BatchInsert persists a coordinator flush batch with a single multi-row
// INSERT. Duplicate ids (offline replay) are silently skipped, so the
// returned count is the number of rows actually written.
func (r *StrokeRepository) BatchInsert(strokes []models.Stroke) (int64, error) {
	if len(strokes) == 0 {
		return 0, nil
	}

	placeholders := make([]string, 0, len(strokes))
	args := make([]interface{}, 0, len(strokes)*18)

	for i := range strokes {
		s := &strokes[i]

		pointsJSON, err := json.Marshal(s.Points)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal points for stroke %s: %w", s.ID, err)
		}

		var metadataJSON interface{}
		if len(s.Metadata) > 0 {
			b, err := json.Marshal(s.Metadata)
			if err != nil {
				return 0, fmt.Errorf("failed to marshal metadata for stroke %s: %w", s.ID, err)
			}
			metadataJSON = string(b)
		}

		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			s.ID, s.UserID, s.Username, s.BrushID, s.Color, s.Opacity, s.Size, string(pointsJSON),
			s.MinLat, s.MaxLat, s.MinLng, s.MaxLng, s.CenterLat, s.CenterLng, s.Zoom, metadataJSON,
			s.CreatedAt/1000, s.UpdatedAt/1000, // Milliseconds to stored seconds
		)
	}

	query := fmt.Sprintf(`INSERT INTO strokes (%s) VALUES %s ON CONFLICT(id) DO NOTHING`,
		strokeColumns, strings.Join(placeholders, ", "))

	result, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to batch insert strokes: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return inserted, nil
}

// QueryViewport returns strokes whose bounding box intersects the query
// bbox (half-open overlap on all four edges), newest first, with keyset
// pagination on (created_at, id).
func (r *StrokeRepository) QueryViewport(filter models.ViewportFilter) (*models.StrokesPage, error) {
	query := fmt.Sprintf(`SELECT %s FROM strokes`, strokeColumns)

	conditions := []string{
		"max_lat > ?", "min_lat < ?",
		"max_lng > ?", "min_lng < ?",
	}
	args := []interface{}{filter.MinLat, filter.MaxLat, filter.MinLng, filter.MaxLng}

	// Keyset cursor: strictly before the last seen (created_at, id)
	if filter.CursorID != "" {
		conditions = append(conditions, "(created_at < ? OR (created_at = ? AND id < ?))")
		cursorSec := filter.CursorTime / 1000
		args = append(args, cursorSec, cursorSec, filter.CursorID)
	}

	query += " WHERE " + strings.Join(conditions, " AND ")
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"

	// Probe one row past the page to decide whether a next cursor exists
	args = append(args, filter.PageSize+1)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query viewport strokes: %w", err)
	}
	defer rows.Close()

	var strokes []models.Stroke
	for rows.Next() {
		s, err := scanStroke(rows)
		if err != nil {
			return nil, err
		}
		strokes = append(strokes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate viewport strokes: %w", err)
	}

	page := &models.StrokesPage{Data: strokes}
	if len(strokes) > filter.PageSize {
		page.Data = strokes[:filter.PageSize]
		last := page.Data[len(page.Data)-1]
		page.NextCursor = &models.Cursor{Time: last.CreatedAt, ID: last.ID}
	}
	if page.Data == nil {
		page.Data = []models.Stroke{}
	}

	return page, nil
}

// GetByID retrieves a single stroke
func (r *StrokeRepository) GetByID(id string) (*models.Stroke, error) {
	query := fmt.Sprintf(`SELECT %s FROM strokes WHERE id = ?`, strokeColumns)

	row := r.db.QueryRow(query, id)
	s, err := scanStroke(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteByAuthor deletes a stroke only when owned by userID. A non-author
// attempt affects zero rows; that is not an error.
func (r *StrokeRepository) DeleteByAuthor(id, userID string) (int64, error) {
	result, err := r.db.Exec("DELETE FROM strokes WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stroke: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected, nil
}

// UpdatePatch applies a partial update to an author-owned stroke
func (r *StrokeRepository) UpdatePatch(id, userID string, patch *models.StrokePatch) (int64, error) {
	var sets []string
	var args []interface{}

	if patch.Color != nil {
		sets = append(sets, "color = ?")
		args = append(args, *patch.Color)
	}
	if patch.Opacity != nil {
		sets = append(sets, "opacity = ?")
		args = append(args, *patch.Opacity)
	}
	if patch.Metadata != nil {
		b, err := json.Marshal(*patch.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal metadata patch: %w", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, string(b))
	}
	if len(sets) == 0 {
		return 0, nil
	}

	sets = append(sets, "updated_at = strftime('%s','now')")
	query := "UPDATE strokes SET " + strings.Join(sets, ", ") + " WHERE id = ? AND user_id = ?"
	args = append(args, id, userID)

	result, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update stroke: %w", err)
	}
	return result.RowsAffected()
}

// CountByUser returns the number of committed strokes by one author
func (r *StrokeRepository) CountByUser(userID string) (int64, error) {
	var count int64
	err := r.db.QueryRow("SELECT COUNT(*) FROM strokes WHERE user_id = ?", userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count strokes: %w", err)
	}
	return count, nil
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStroke(row scanner) (models.Stroke, error) {
	var s models.Stroke
	var pointsJSON string
	var metadataJSON sql.NullString
	var createdSec, updatedSec int64

	err := row.Scan(
		&s.ID, &s.UserID, &s.Username, &s.BrushID, &s.Color, &s.Opacity, &s.Size, &pointsJSON,
		&s.MinLat, &s.MaxLat, &s.MinLng, &s.MaxLng, &s.CenterLat, &s.CenterLng, &s.Zoom, &metadataJSON,
		&createdSec, &updatedSec,
	)
	if err == sql.ErrNoRows {
		return s, err
	}
	if err != nil {
		return s, fmt.Errorf("failed to scan stroke: %w", err)
	}

	if err := json.Unmarshal([]byte(pointsJSON), &s.Points); err != nil {
		return s, fmt.Errorf("failed to unmarshal points for stroke %s: %w", s.ID, err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &s.Metadata); err != nil {
			return s, fmt.Errorf("failed to unmarshal metadata for stroke %s: %w", s.ID, err)
		}
	}

	// Stored seconds surface as milliseconds
	s.CreatedAt = createdSec * 1000
	s.UpdatedAt = updatedSec * 1000
	return s, nil
}
