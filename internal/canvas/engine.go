package canvas

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jengzang/inkmap-backend-go/internal/ink"
	"github.com/jengzang/inkmap-backend-go/internal/models"
)

// PinCost is the fixed ink cost of placing an annotation pin
const PinCost = 50.0

var (
	ErrNoActiveStroke = errors.New("canvas: no active stroke")
	ErrStrokeActive   = errors.New("canvas: a stroke is already in progress")
	ErrNothingToUndo  = errors.New("canvas: nothing to undo")
	ErrNothingToRedo  = errors.New("canvas: nothing to redo")

	// ErrNotFound covers both a missing stroke and one owned by another
	// user; the two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("canvas: stroke not found or not authorized")
)

// EventSink receives the events the engine emits for every committed
// mutation. The client session points this at the network or, while
// disconnected, at the offline queue.
type EventSink func(models.CanvasEvent)

// activeStroke is the pending, uncommitted stroke plus its ink accounting
type activeStroke struct {
	stroke   *models.Stroke
	inkSpent float64 // Force-consumed so far; refunded on cancel
	startMs  int64
}

// Engine turns normalized input into economically gated, undoable stroke
// commands. Runs in a single-threaded, event-driven context; it is not
// safe for concurrent use.
type Engine struct {
	userID   string
	username string
	ledger   *ink.Ledger
	sink     EventSink

	strokes map[string]*models.Stroke
	active  *activeStroke
	undo    []*Command
	redo    []*Command
}

// NewEngine creates an engine for one user session
func NewEngine(userID, username string, ledger *ink.Ledger, sink EventSink) *Engine {
	if sink == nil {
		sink = func(models.CanvasEvent) {}
	}
	return &Engine{
		userID:   userID,
		username: username,
		ledger:   ledger,
		sink:     sink,
		strokes:  make(map[string]*models.Stroke),
	}
}

// BeginStroke opens a new pending stroke. Fails when a stroke is already
// in progress or the ink balance is exhausted.
func (e *Engine) BeginStroke(brushID, color string, opacity, size float64, zoom int) error {
	if e.active != nil {
		return ErrStrokeActive
	}
	if !e.ledger.CanDraw() {
		return ink.ErrInsufficient
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate stroke id: %w", err)
	}

	now := time.Now().UnixMilli()
	e.active = &activeStroke{
		stroke: &models.Stroke{
			ID:       id.String(),
			UserID:   e.userID,
			Username: e.username,
			BrushID:  brushID,
			Color:    color,
			Opacity:  opacity,
			Size:     size,
			Zoom:     zoom,
		},
		startMs: now,
	}
	return nil
}

// AddPoint appends a sampled point to the active stroke, force-consuming
// the segment cost. A continuous stroke always partially applies; when the
// balance hits zero the stroke is committed early and ended=true is
// returned.
func (e *Engine) AddPoint(pt models.StrokePoint, pixelDistance float64) (ended bool, err error) {
	if e.active == nil {
		return false, ErrNoActiveStroke
	}

	// The first point of a stroke has no segment behind it
	if len(e.active.stroke.Points) > 0 && pixelDistance > 0 {
		cost := ink.Cost(e.active.stroke.Size, pixelDistance, e.active.stroke.Zoom)
		e.active.inkSpent += e.ledger.ForceConsume(cost)
	}

	e.active.stroke.Points = append(e.active.stroke.Points, pt)

	if !e.ledger.CanDraw() {
		// 墨水耗尽：提前结束笔画（已采样的部分仍然提交）
		if _, err := e.EndStroke(); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, nil
}

// EndStroke commits the active stroke: bounds are computed, an add command
// is pushed (invalidating the redo stack), and a stroke-add event is
// emitted.
func (e *Engine) EndStroke() (*models.Stroke, error) {
	if e.active == nil {
		return nil, ErrNoActiveStroke
	}

	s := e.active.stroke
	e.active = nil

	if len(s.Points) == 0 {
		// Nothing was drawn; not a command
		return nil, nil
	}

	s.ComputeBounds()
	now := time.Now().UnixMilli()
	s.CreatedAt = now
	s.UpdatedAt = now

	cmd := &Command{Type: CommandAdd, Stroke: s}
	e.pushCommand(cmd)
	e.apply(cmd, false)
	return s, nil
}

// CancelStroke rolls back the active stroke and refunds the ink already
// force-consumed for its segments. Called when a competing gesture
// retroactively cancels a draw.
func (e *Engine) CancelStroke() {
	if e.active == nil {
		return
	}
	e.ledger.Refund(e.active.inkSpent)
	e.active = nil
}

// DeleteStroke removes a committed stroke. Only the author may delete;
// anything else reports ErrNotFound.
func (e *Engine) DeleteStroke(id string) error {
	s, ok := e.strokes[id]
	if !ok || s.UserID != e.userID {
		return ErrNotFound
	}

	cmd := &Command{Type: CommandDelete, Stroke: s}
	e.pushCommand(cmd)
	e.apply(cmd, false)
	return nil
}

// UpdateStroke applies a partial update to a committed stroke, capturing
// before/after state for undo. Author-only.
func (e *Engine) UpdateStroke(id string, patch *models.StrokePatch) error {
	s, ok := e.strokes[id]
	if !ok || s.UserID != e.userID {
		return ErrNotFound
	}

	cmd := &Command{
		Type:     CommandUpdate,
		StrokeID: id,
		Before:   snapshotPatch(s, patch),
		After:    patch,
	}
	e.pushCommand(cmd)
	e.apply(cmd, false)
	return nil
}

// PlacePin charges the fixed pin cost all-or-nothing and returns the pin.
// Fails without mutating anything when the ledger cannot cover it. Pins
// are not part of undo history.
func (e *Engine) PlacePin(lat, lng float64, message, color string) (*models.Pin, error) {
	if len(message) > models.MaxPinMessageLen {
		message = message[:models.MaxPinMessageLen]
	}
	if !e.ledger.Consume(PinCost) {
		return nil, ink.ErrInsufficient
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate pin id: %w", err)
	}
	return &models.Pin{
		ID:        id.String(),
		UserID:    e.userID,
		Username:  e.username,
		Lat:       lat,
		Lng:       lng,
		Message:   message,
		Color:     color,
		CreatedAt: time.Now().UnixMilli(),
	}, nil
}

// Undo reverses the most recent command, moving it to the redo stack
func (e *Engine) Undo() error {
	if len(e.undo) == 0 {
		return ErrNothingToUndo
	}
	cmd := e.undo[len(e.undo)-1]
	e.undo = e.undo[:len(e.undo)-1]
	e.redo = push(e.redo, cmd)
	e.revert(cmd)
	return nil
}

// Redo re-applies the most recently undone command
func (e *Engine) Redo() error {
	if len(e.redo) == 0 {
		return ErrNothingToRedo
	}
	cmd := e.redo[len(e.redo)-1]
	e.redo = e.redo[:len(e.redo)-1]
	e.undo = push(e.undo, cmd)
	e.apply(cmd, false)
	return nil
}

// CanUndo/CanRedo expose history availability for UI state
func (e *Engine) CanUndo() bool { return len(e.undo) > 0 }
func (e *Engine) CanRedo() bool { return len(e.redo) > 0 }

// Strokes returns the committed stroke set ordered by id (time-sortable)
func (e *Engine) Strokes() []*models.Stroke {
	out := make([]*models.Stroke, 0, len(e.strokes))
	for _, s := range e.strokes {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Replay rebuilds the stroke set from an ordered command log, charging no
// ink and emitting no events. Replaying the same log from empty state
// always produces the same final set; offline reconciliation depends on
// this.
func (e *Engine) Replay(log []*Command) {
	e.strokes = make(map[string]*models.Stroke)
	e.undo = nil
	e.redo = nil
	e.active = nil
	for _, cmd := range log {
		e.apply(cmd, true)
	}
}

// pushCommand records a new user-initiated command. Any redo history is
// discarded forever: linear history, not a tree.
func (e *Engine) pushCommand(cmd *Command) {
	e.undo = push(e.undo, cmd)
	e.redo = nil
}

// apply performs a command forward. silent suppresses event emission
// (replay).
func (e *Engine) apply(cmd *Command, silent bool) {
	switch cmd.Type {
	case CommandAdd:
		e.strokes[cmd.Stroke.ID] = cmd.Stroke
		if !silent {
			e.emit(models.CanvasEvent{Type: models.EventStrokeAdd, Stroke: cmd.Stroke})
		}
	case CommandDelete:
		delete(e.strokes, cmd.Stroke.ID)
		if !silent {
			e.emit(models.CanvasEvent{Type: models.EventStrokeDelete, StrokeID: cmd.Stroke.ID})
		}
	case CommandUpdate:
		if s, ok := e.strokes[cmd.StrokeID]; ok {
			applyPatch(s, cmd.After)
			s.UpdatedAt = time.Now().UnixMilli()
			if !silent {
				e.emit(models.CanvasEvent{Type: models.EventStrokeUpdate, StrokeID: cmd.StrokeID, Patch: cmd.After})
			}
		}
	}
}

// revert performs a command backward (undo)
func (e *Engine) revert(cmd *Command) {
	switch cmd.Type {
	case CommandAdd:
		delete(e.strokes, cmd.Stroke.ID)
		e.emit(models.CanvasEvent{Type: models.EventStrokeDelete, StrokeID: cmd.Stroke.ID})
	case CommandDelete:
		e.strokes[cmd.Stroke.ID] = cmd.Stroke
		e.emit(models.CanvasEvent{Type: models.EventStrokeAdd, Stroke: cmd.Stroke})
	case CommandUpdate:
		if s, ok := e.strokes[cmd.StrokeID]; ok {
			applyPatch(s, cmd.Before)
			s.UpdatedAt = time.Now().UnixMilli()
			e.emit(models.CanvasEvent{Type: models.EventStrokeUpdate, StrokeID: cmd.StrokeID, Patch: cmd.Before})
		}
	}
}

func (e *Engine) emit(ev models.CanvasEvent) {
	ev.UserID = e.userID
	ev.Username = e.username
	ev.SentAt = time.Now().UnixMilli()
	e.sink(ev)
}
