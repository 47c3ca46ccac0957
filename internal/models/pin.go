package models

// MaxPinMessageLen caps the free-form pin message length
const MaxPinMessageLen = 200

// Pin represents an annotation pin placed at a single point
type Pin struct {
	ID        string  `json:"id" db:"id"`
	UserID    string  `json:"userId" db:"user_id"`
	Username  string  `json:"username" db:"username"`
	Lat       float64 `json:"lat" db:"lat"`
	Lng       float64 `json:"lng" db:"lng"`
	Message   string  `json:"message" db:"message"` // 留言内容，最长 200 字符
	Color     string  `json:"color" db:"color"`
	CreatedAt int64   `json:"createdAt" db:"created_at"` // Milliseconds
}
