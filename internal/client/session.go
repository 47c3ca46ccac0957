// Package client composes the client-side drawing engines — input
// normalizer, ink ledger, stroke/history engine and offline queue — into
// one session with an explicit lifecycle: created on sign-in, closed on
// sign-out, no process-wide singletons.
package client

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/jengzang/inkmap-backend-go/internal/canvas"
	"github.com/jengzang/inkmap-backend-go/internal/hub"
	"github.com/jengzang/inkmap-backend-go/internal/ink"
	"github.com/jengzang/inkmap-backend-go/internal/input"
	"github.com/jengzang/inkmap-backend-go/internal/models"
	"github.com/jengzang/inkmap-backend-go/internal/offline"
	"github.com/jengzang/inkmap-backend-go/internal/spatial"
)

// Projector maps screen pixels to geographic coordinates. The map widget
// owns the projection math; the session only needs the mapping.
type Projector func(x, y float64) (lat, lng float64)

// Brush is the currently selected drawing tool state
type Brush struct {
	ID      string
	Color   string
	Opacity float64
	Size    float64
}

// Session drives one user's drawing session, online or offline. Methods
// are safe to call from the single UI/event goroutine; the websocket read
// loop is the only concurrent participant and touches the session through
// the mutex.
type Session struct {
	userID   string
	username string

	ledger *ink.Ledger
	norm   *input.Normalizer
	engine *canvas.Engine
	queue  *offline.Queue

	project Projector
	brush   Brush
	zoom    int

	// Last draw sample in screen space, for segment pixel distance
	lastX, lastY float64
	hasLast      bool
	strokeStart  int64

	mu      sync.Mutex
	conn    *websocket.Conn
	onFrame func(hub.Frame)
}

// NewSession creates an offline-capable session. queuePath is the durable
// offline buffer location.
func NewSession(ctx context.Context, userID, username, queuePath string, project Projector) (*Session, error) {
	queue, err := offline.Open(queuePath)
	if err != nil {
		return nil, fmt.Errorf("open session queue: %w", err)
	}

	s := &Session{
		userID:   userID,
		username: username,
		ledger:   ink.NewLedger(),
		norm:     input.NewNormalizer(),
		queue:    queue,
		project:  project,
		brush:    Brush{ID: "pen", Color: "#1a1a1a", Opacity: 1, Size: 3},
		zoom:     spatial.MaxTileLevel,
	}
	s.engine = canvas.NewEngine(userID, username, s.ledger, s.emit)
	s.ledger.StartRegen(ctx)
	return s, nil
}

// Ledger exposes the ink meter for UI binding
func (s *Session) Ledger() *ink.Ledger { return s.ledger }

// Engine exposes undo/redo availability for UI binding
func (s *Session) Engine() *canvas.Engine { return s.engine }

// SetBrush selects the active drawing tool
func (s *Session) SetBrush(b Brush) { s.brush = b }

// SetZoom records the current map zoom, which scales ink cost
func (s *Session) SetZoom(zoom int) { s.zoom = zoom }

// SetFrameHandler registers the callback for broadcast frames
func (s *Session) SetFrameHandler(fn func(hub.Frame)) {
	s.mu.Lock()
	s.onFrame = fn
	s.mu.Unlock()
}

// PointerDown feeds a raw contact-begin sample through the gesture state
// machine and into the stroke engine.
func (s *Session) PointerDown(sample input.Sample) error {
	tr := s.norm.Begin(sample)

	// A second contact retroactively cancels the draw; the engine
	// refunds the ink already spent on its segments.
	if tr.CancelDraw {
		s.engine.CancelStroke()
		s.hasLast = false
	}

	switch tr.Gesture {
	case input.GestureDraw:
		if err := s.engine.BeginStroke(s.brush.ID, s.brush.Color, s.brush.Opacity, s.brush.Size, s.zoom); err != nil {
			return err
		}
		s.strokeStart = sample.TimeMs
		s.addSample(sample, 0)
	case input.GestureUndo:
		if err := s.engine.Undo(); err != nil && err != canvas.ErrNothingToUndo {
			return err
		}
	}
	return nil
}

// PointerMove feeds a movement sample; non-draw gestures are ignored here
// (pan/pinch are the map widget's concern).
func (s *Session) PointerMove(sample input.Sample) error {
	p, ok := s.norm.Move(sample)
	if !ok {
		return nil
	}

	dist := 0.0
	if s.hasLast {
		dx := p.X - s.lastX
		dy := p.Y - s.lastY
		dist = math.Sqrt(dx*dx + dy*dy)
	}

	sample.Pressure = p.Pressure
	s.addSample(sample, dist)
	return nil
}

// PointerUp ends a contact; when the last contact lifts an active stroke
// is committed.
func (s *Session) PointerUp(sample input.Sample) error {
	tr := s.norm.End(sample)
	if s.norm.Gesture() == input.GestureNone && tr.Gesture == input.GestureDraw {
		s.hasLast = false
		if _, err := s.engine.EndStroke(); err != nil && err != canvas.ErrNoActiveStroke {
			return err
		}
	}
	return nil
}

func (s *Session) addSample(sample input.Sample, pixelDist float64) {
	lat, lng := s.project(sample.X, sample.Y)
	pt := models.StrokePoint{
		Lat:      lat,
		Lng:      lng,
		Pressure: sample.Pressure,
		TOffset:  sample.TimeMs - s.strokeStart,
	}

	ended, err := s.engine.AddPoint(pt, pixelDist)
	if err != nil {
		log.Printf("[session] add point: %v", err)
		return
	}
	if ended {
		// Ink ran out; the partial stroke was committed early
		s.hasLast = false
		return
	}
	s.lastX, s.lastY = sample.X, sample.Y
	s.hasLast = true
}

// PlacePin charges the fixed ink cost and returns the pin for submission
func (s *Session) PlacePin(lat, lng float64, message, color string) (*models.Pin, error) {
	return s.engine.PlacePin(lat, lng, message, color)
}

// emit is the engine's event sink: live connection when available,
// otherwise the durable offline queue.
func (s *Session) emit(ev models.CanvasEvent) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		if err := s.writeEvent(conn, ev); err == nil {
			return
		}
		// Network failure mid-send: fall through to the offline path
		s.markDisconnected(conn)
	}

	if err := s.queue.Enqueue(ev); err != nil {
		log.Printf("[session] enqueue offline event: %v", err)
	}
}

// Connect dials the tile's live session and replays any offline backlog
// in original order before live traffic resumes. The coordinator treats
// replayed duplicates as no-ops.
func (s *Session) Connect(wsURL string) error {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial live session: %w", err)
	}

	backlog, err := s.queue.Drain()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("drain offline queue: %w", err)
	}
	for i, ev := range backlog {
		if err := s.writeEvent(conn, ev); err != nil {
			_ = conn.Close()
			// Undelivered remainder goes back to disk
			for _, rest := range backlog[i:] {
				_ = s.queue.Enqueue(rest)
			}
			return fmt.Errorf("replay offline backlog: %w", err)
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn)
	return nil
}

// Connected reports the sync status for UI binding
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// QueuedEvents reports the offline backlog size without draining it
func (s *Session) QueuedEvents() int { return s.queue.Len() }

func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.markDisconnected(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame hub.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("[session] undecodable frame: %v", err)
			continue
		}

		s.mu.Lock()
		handler := s.onFrame
		s.mu.Unlock()
		if handler != nil {
			handler(frame)
		}
	}
}

func (s *Session) writeEvent(conn *websocket.Conn, ev models.CanvasEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) markDisconnected(conn *websocket.Conn) {
	_ = conn.Close()
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

// Close shuts the session down; queued events stay on disk for the next
// session.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	return s.queue.Close()
}
