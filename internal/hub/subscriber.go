package hub

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/jengzang/inkmap-backend-go/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024 // 256 KB
)

// Frame types on the wire
const (
	FrameWelcome = "welcome"
	FrameEvent   = "event"
	FrameError   = "error"
)

// Frame is the envelope of the tile-scoped live session protocol
type Frame struct {
	Type    string              `json:"type"`
	TileKey string              `json:"tileKey,omitempty"` // welcome
	Seq     uint64              `json:"seq,omitempty"`     // welcome: last assigned seq
	Event   *models.CanvasEvent `json:"event,omitempty"`
	Code    string              `json:"code,omitempty"`    // error
	Message string              `json:"message,omitempty"` // error
}

// subscriberID generates unique ids for log correlation
var subscriberID atomic.Uint64

// Subscriber is the middleman between one websocket connection and a tile
// coordinator.
type Subscriber struct {
	id       uint64
	userID   string
	username string

	coord *Coordinator
	conn  *websocket.Conn

	// send is guarded by sendMu: the coordinator closes it on removal
	// while the read pump may still be reporting rejections.
	sendMu sync.Mutex
	send   chan Frame
	closed bool

	lastActive atomic.Int64 // Unix milliseconds; read by the eviction pass
}

// NewSubscriber wraps an upgraded connection for the given identity. The
// coordinator is attached by Registry.Join.
func NewSubscriber(conn *websocket.Conn, userID, username string) *Subscriber {
	return &Subscriber{
		id:       subscriberID.Add(1),
		userID:   userID,
		username: username,
		conn:     conn,
		send:     make(chan Frame, 256),
	}
}

// Run starts both pumps and blocks until the connection drops
func (s *Subscriber) Run() {
	go s.writePump()
	s.readPump()
}

func (s *Subscriber) touch() {
	s.lastActive.Store(time.Now().UnixMilli())
}

// enqueue offers a frame without blocking; false means the buffer is full
// (the coordinator should drop this subscriber) or the subscriber is
// already closed.
func (s *Subscriber) enqueue(f Frame) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- f:
		return true
	default:
		return false
	}
}

// closeSend is called by the coordinator on removal; idempotent, and safe
// to race with enqueue from the read pump.
func (s *Subscriber) closeSend() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// readPump pumps events from the connection into the coordinator
func (s *Subscriber) readPump() {
	defer func() {
		s.coord.Leave(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("[hub] subscriber %d: set read deadline: %v", s.id, err)
		return
	}
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[hub] subscriber %d: unexpected close: %v", s.id, err)
			}
			return
		}

		s.touch()

		var ev models.CanvasEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("[hub] subscriber %d: dropped undecodable event: %v", s.id, err)
			continue
		}

		if err := s.coord.Submit(s, ev); err != nil {
			s.reportRejection(err)
			if errors.Is(err, ErrStopped) {
				return
			}
		}
	}
}

// reportRejection surfaces an admission verdict as a soft error frame; the
// session keeps running.
func (s *Subscriber) reportRejection(err error) {
	code := "rejected"
	switch {
	case errors.Is(err, ErrRateLimited):
		code = "rate_limited"
	case errors.Is(err, ErrTileFull):
		code = "tile_full"
	case errors.Is(err, ErrStopped):
		code = "tile_stopped"
	}
	s.enqueue(Frame{Type: FrameError, Code: code, Message: err.Error()})
}

// writePump pumps frames from the coordinator to the connection
func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// Coordinator closed the channel
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(frame)
			if err != nil {
				log.Printf("[hub] subscriber %d: marshal frame: %v", s.id, err)
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
