package models

// StrokePoint represents one sampled point of a stroke in geographic coordinates
type StrokePoint struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Pressure float64 `json:"pressure"`           // 0-1, hardware or simulated
	TiltX    float64 `json:"tiltX,omitempty"`    // Pen tilt, degrees
	TiltY    float64 `json:"tiltY,omitempty"`
	TOffset  int64   `json:"tOffset"`            // Milliseconds since stroke start
}

// Stroke represents one continuous drawn path, immutable once committed
type Stroke struct {
	ID       string        `json:"id" db:"id"`             // UUIDv7, time-sortable
	UserID   string        `json:"userId" db:"user_id"`
	Username string        `json:"username" db:"username"`
	BrushID  string        `json:"brushId" db:"brush_id"`
	Color    string        `json:"color" db:"color"`       // #rrggbb
	Opacity  float64       `json:"opacity" db:"opacity"`   // 0-1
	Size     float64       `json:"size" db:"size"`         // Base brush size in pixels
	Points   []StrokePoint `json:"points" db:"points"`

	// Bounding box 边界框（必须包含所有采样点）
	MinLat float64 `json:"minLat" db:"min_lat"`
	MaxLat float64 `json:"maxLat" db:"max_lat"`
	MinLng float64 `json:"minLng" db:"min_lng"`
	MaxLng float64 `json:"maxLng" db:"max_lng"`

	// Center point 中心点（边界框中点，边界变化时重新计算）
	CenterLat float64 `json:"centerLat" db:"center_lat"`
	CenterLng float64 `json:"centerLng" db:"center_lng"`

	Zoom     int               `json:"zoom" db:"zoom"` // Zoom level at creation
	Metadata map[string]string `json:"metadata,omitempty" db:"metadata"`

	// Unix timestamps in milliseconds (stored as seconds in sqlite)
	CreatedAt int64 `json:"createdAt" db:"created_at"`
	UpdatedAt int64 `json:"updatedAt" db:"updated_at"`
}

// ComputeBounds recalculates the bounding box and center from the point
// sequence. Must be called whenever the points change.
func (s *Stroke) ComputeBounds() {
	if len(s.Points) == 0 {
		return
	}

	s.MinLat, s.MaxLat = s.Points[0].Lat, s.Points[0].Lat
	s.MinLng, s.MaxLng = s.Points[0].Lng, s.Points[0].Lng

	for _, p := range s.Points[1:] {
		if p.Lat < s.MinLat {
			s.MinLat = p.Lat
		}
		if p.Lat > s.MaxLat {
			s.MaxLat = p.Lat
		}
		if p.Lng < s.MinLng {
			s.MinLng = p.Lng
		}
		if p.Lng > s.MaxLng {
			s.MaxLng = p.Lng
		}
	}

	s.CenterLat = (s.MinLat + s.MaxLat) / 2
	s.CenterLng = (s.MinLng + s.MaxLng) / 2
}

// StrokePatch captures a partial update to a committed stroke
// (before/after state for undoable update commands)
type StrokePatch struct {
	Color    *string            `json:"color,omitempty"`
	Opacity  *float64           `json:"opacity,omitempty"`
	Metadata *map[string]string `json:"metadata,omitempty"`
}

// StrokesPage represents a keyset-paginated page of strokes
type StrokesPage struct {
	Data       []Stroke `json:"data"`
	NextCursor *Cursor  `json:"nextCursor"` // nil when exhausted
}

// Cursor is an opaque keyset pagination token: the (createdAt, id) pair of
// the last row of the previous page. Strictly decreasing across pages.
type Cursor struct {
	Time int64  `json:"time"` // Milliseconds
	ID   string `json:"id"`
}
