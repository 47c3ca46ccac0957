package models

// ViewportFilter represents filter parameters for viewport range queries
type ViewportFilter struct {
	MinLat   float64 `form:"minLat"`
	MaxLat   float64 `form:"maxLat"`
	MinLng   float64 `form:"minLng"`
	MaxLng   float64 `form:"maxLng"`
	Zoom     int     `form:"zoom"`     // Optional
	PageSize int     `form:"pageSize"` // Default 200, max 500

	// Keyset cursor from the previous page (both or neither)
	CursorTime int64  `form:"cursorTime"` // Milliseconds
	CursorID   string `form:"cursorId"`
}

// PinFilter represents filter parameters for querying pins in a viewport
type PinFilter struct {
	MinLat float64 `form:"minLat"`
	MaxLat float64 `form:"maxLat"`
	MinLng float64 `form:"minLng"`
	MaxLng float64 `form:"maxLng"`
	Limit  int     `form:"limit"` // Default 200, max 500
}
