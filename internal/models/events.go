package models

// Event types for the tile-scoped live session protocol
const (
	EventStrokeAdd    = "stroke-add"
	EventStrokeDelete = "stroke-delete"
	EventStrokeUpdate = "stroke-update"
	EventCursorMove   = "cursor-move" // Best-effort, never persisted
)

// CursorPos is a transient cursor position within a tile
type CursorPos struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CanvasEvent is the unit of the live session protocol. Clients send events
// without Seq; the tile coordinator assigns Seq before broadcasting, so
// subscribers observe a total order within one tile.
type CanvasEvent struct {
	Type     string `json:"type"`
	Seq      uint64 `json:"seq,omitempty"` // Assigned by the coordinator
	TileKey  string `json:"tileKey,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`

	Stroke   *Stroke      `json:"stroke,omitempty"`   // stroke-add
	StrokeID string       `json:"strokeId,omitempty"` // stroke-delete / stroke-update
	Patch    *StrokePatch `json:"patch,omitempty"`    // stroke-update
	Cursor   *CursorPos   `json:"cursor,omitempty"`   // cursor-move

	SentAt int64 `json:"sentAt,omitempty"` // Milliseconds
}

// Valid reports whether the event carries the payload its type requires.
// Malformed events are dropped by the coordinator, never broadcast.
func (e *CanvasEvent) Valid() bool {
	switch e.Type {
	case EventStrokeAdd:
		return e.Stroke != nil && e.Stroke.ID != "" && len(e.Stroke.Points) > 0
	case EventStrokeDelete:
		return e.StrokeID != ""
	case EventStrokeUpdate:
		return e.StrokeID != "" && e.Patch != nil
	case EventCursorMove:
		return e.Cursor != nil
	default:
		return false
	}
}

// Persistable reports whether the event must reach durable storage.
// Cursor movement is exempt from durability.
func (e *CanvasEvent) Persistable() bool {
	return e.Type == EventStrokeAdd || e.Type == EventStrokeDelete || e.Type == EventStrokeUpdate
}
