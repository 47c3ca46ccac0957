package input

import "math"

// Gesture is the classification of the current pointer interaction
type Gesture int

const (
	GestureNone Gesture = iota
	GestureDraw
	GesturePan
	GesturePinch
	GestureUndo
)

// Contact kinds 输入设备类型
const (
	KindTouch = "touch"
	KindPen   = "pen"
	KindMouse = "mouse"
)

// Pressure simulation bounds
const (
	minSimPressure = 0.1
	maxSimPressure = 1.0

	// DefaultVelocityCap is the px/ms speed at which simulated pressure
	// bottoms out
	DefaultVelocityCap = 2.0
)

// Sample is one raw pointer/touch sample in screen space
type Sample struct {
	ContactID int
	Kind      string  // touch / pen / mouse
	X, Y      float64 // Screen pixels
	Pressure  float64 // Hardware pressure, 0 when unavailable
	Button    int     // Mouse button, 0 = primary
	TimeMs    int64   // Sample timestamp, from the input source
}

// Point is a normalized sample: screen position plus effective pressure
type Point struct {
	X, Y     float64
	Pressure float64
	TimeMs   int64
}

// Transition reports the outcome of a contact lifecycle change
type Transition struct {
	Gesture    Gesture
	CancelDraw bool // An in-progress draw must be rolled back
}

type contact struct {
	kind        string
	lastX       float64
	lastY       float64
	lastTimeMs  int64
	hasPrevious bool
}

// Normalizer is a state machine over concurrent pointer contacts. It is
// deterministic for a given sample stream: all timing comes from sample
// timestamps, never from the wall clock.
type Normalizer struct {
	contacts      map[int]*contact
	gesture       Gesture
	velocityCap   float64
	drawWithTouch bool // Whether a draw tool is active for touch input
}

// NewNormalizer creates a normalizer with the default velocity cap
func NewNormalizer() *Normalizer {
	return &Normalizer{
		contacts:    make(map[int]*contact),
		velocityCap: DefaultVelocityCap,
	}
}

// SetDrawWithTouch selects whether a single touch contact draws or pans
func (n *Normalizer) SetDrawWithTouch(v bool) {
	n.drawWithTouch = v
}

// Gesture returns the current gesture classification
func (n *Normalizer) Gesture() Gesture {
	return n.gesture
}

// Begin registers a new contact and classifies the gesture.
// 第二个触点出现时，进行中的单指绘制立即被取消（CancelDraw）。
func (n *Normalizer) Begin(s Sample) Transition {
	n.contacts[s.ContactID] = &contact{
		kind:       s.Kind,
		lastX:      s.X,
		lastY:      s.Y,
		lastTimeMs: s.TimeMs,
	}

	wasDrawing := n.gesture == GestureDraw

	switch len(n.contacts) {
	case 1:
		// Pen and primary-button mouse draw; touch pans unless a draw
		// tool is active.
		if s.Kind == KindPen || (s.Kind == KindMouse && s.Button == 0) || (s.Kind == KindTouch && n.drawWithTouch) {
			n.gesture = GestureDraw
		} else {
			n.gesture = GesturePan
		}
		return Transition{Gesture: n.gesture}
	case 2:
		n.gesture = GesturePinch
		return Transition{Gesture: n.gesture, CancelDraw: wasDrawing}
	case 3:
		n.gesture = GestureUndo
		return Transition{Gesture: n.gesture, CancelDraw: wasDrawing}
	default:
		return Transition{Gesture: n.gesture}
	}
}

// Move normalizes a movement sample. The second return value is false when
// the sample belongs to no draw gesture and should be ignored by the
// stroke engine.
func (n *Normalizer) Move(s Sample) (Point, bool) {
	c, ok := n.contacts[s.ContactID]
	if !ok || n.gesture != GestureDraw {
		return Point{}, false
	}

	p := Point{X: s.X, Y: s.Y, Pressure: n.pressureFor(c, s), TimeMs: s.TimeMs}

	c.lastX = s.X
	c.lastY = s.Y
	c.lastTimeMs = s.TimeMs
	c.hasPrevious = true

	return p, true
}

// End removes a contact; when the last contact lifts the gesture resets
func (n *Normalizer) End(s Sample) Transition {
	delete(n.contacts, s.ContactID)
	if len(n.contacts) == 0 {
		prev := n.gesture
		n.gesture = GestureNone
		return Transition{Gesture: prev}
	}
	return Transition{Gesture: n.gesture}
}

// pressureFor reads hardware pressure where trustworthy, otherwise
// simulates it from instantaneous velocity: slow motion presses harder.
func (n *Normalizer) pressureFor(c *contact, s Sample) float64 {
	if c.kind == KindPen {
		return clamp(s.Pressure, 0, 1)
	}
	if c.kind == KindTouch && s.Pressure > 0 && s.Pressure < 1 {
		return s.Pressure
	}

	if !c.hasPrevious || s.TimeMs <= c.lastTimeMs {
		return maxSimPressure
	}

	dx := s.X - c.lastX
	dy := s.Y - c.lastY
	dist := math.Sqrt(dx*dx + dy*dy)
	velocity := dist / float64(s.TimeMs-c.lastTimeMs) // px per ms

	return clamp(1-velocity/n.velocityCap, minSimPressure, maxSimPressure)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
