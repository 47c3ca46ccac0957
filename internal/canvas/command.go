package canvas

import "github.com/jengzang/inkmap-backend-go/internal/models"

// CommandType identifies an undoable mutation of the stroke set
type CommandType int

const (
	CommandAdd CommandType = iota
	CommandDelete
	CommandUpdate
)

// MaxHistoryDepth bounds each history stack; the oldest entry is evicted
// on overflow.
const MaxHistoryDepth = 64

// Command is one unit of undoable history. Add and delete carry the full
// stroke so either direction of the operation can be replayed; update
// carries before/after partial state.
type Command struct {
	Type     CommandType
	Stroke   *models.Stroke // add / delete
	StrokeID string         // update
	Before   *models.StrokePatch
	After    *models.StrokePatch
}

// push appends to a bounded stack, evicting the oldest entry on overflow
func push(stack []*Command, cmd *Command) []*Command {
	if len(stack) >= MaxHistoryDepth {
		copy(stack, stack[1:])
		stack = stack[:len(stack)-1]
	}
	return append(stack, cmd)
}

// applyPatch mutates a stroke with the non-nil fields of a patch
func applyPatch(s *models.Stroke, p *models.StrokePatch) {
	if p == nil {
		return
	}
	if p.Color != nil {
		s.Color = *p.Color
	}
	if p.Opacity != nil {
		s.Opacity = *p.Opacity
	}
	if p.Metadata != nil {
		s.Metadata = *p.Metadata
	}
}

// snapshotPatch captures the fields of a stroke that a patch would touch,
// so an update can be undone.
func snapshotPatch(s *models.Stroke, p *models.StrokePatch) *models.StrokePatch {
	if p == nil {
		return nil
	}
	before := &models.StrokePatch{}
	if p.Color != nil {
		c := s.Color
		before.Color = &c
	}
	if p.Opacity != nil {
		o := s.Opacity
		before.Opacity = &o
	}
	if p.Metadata != nil {
		m := s.Metadata
		before.Metadata = &m
	}
	return before
}
