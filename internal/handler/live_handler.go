package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jengzang/inkmap-backend-go/internal/hub"
	"github.com/jengzang/inkmap-backend-go/internal/middleware"
	"github.com/jengzang/inkmap-backend-go/internal/spatial"
	"github.com/jengzang/inkmap-backend-go/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The browser client is served from another origin; identity is
	// carried by the token, not the origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LiveHandler upgrades connections into tile subscriptions
type LiveHandler struct {
	registry *hub.Registry
}

// NewLiveHandler creates a new live session handler
func NewLiveHandler(registry *hub.Registry) *LiveHandler {
	return &LiveHandler{registry: registry}
}

// Join handles GET /ws/tiles/:key
// 加入瓦片直播会话：升级为 WebSocket 后订阅该瓦片的事件流
func (h *LiveHandler) Join(c *gin.Context) {
	key := c.Param("key")
	if _, err := spatial.ParseTileKey(key); err != nil {
		response.BadRequest(c, "Invalid tile key")
		return
	}

	userID, username := middleware.Identity(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[live] upgrade failed: %v", err)
		return
	}

	sub := hub.NewSubscriber(conn, userID, username)
	if _, err := h.registry.Join(key, sub); err != nil {
		// Soft rejection: tell the client to retry later, then close
		if errors.Is(err, hub.ErrTileFull) {
			_ = conn.WriteJSON(hub.Frame{Type: hub.FrameError, Code: "tile_full", Message: err.Error()})
		}
		_ = conn.Close()
		return
	}

	// Blocks until the connection drops or the subscriber is evicted
	sub.Run()
}
