package reorder

import "math"

// State is the drag gesture state.
type State int

const (
	Idle State = iota
	Dragging
	Dropped
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Dropped:
		return "dropped"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Point is a pointer position in the same units as Rect.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned box.
type Rect struct {
	X, Y, W, H float64
}

// Center returns the midpoint of r.
func (r Rect) Center() Point {
	return Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

// Event drives the gesture. Pointer and keyboard events share one machine.
type Event interface {
	isEvent()
}

// PointerDown grabs the item at Index. Rects are the sibling boxes in
// current order and Bounds is the drop container.
type PointerDown struct {
	Index  int
	At     Point
	Rects  []Rect
	Bounds Rect
}

// PointerMove updates the dragged box position.
type PointerMove struct {
	At Point
}

// PointerUp releases the dragged item.
type PointerUp struct {
	At Point
}

// KeyGrab picks up the item at Index out of Count items.
type KeyGrab struct {
	Index int
	Count int
}

// KeyStep moves the provisional slot by Delta.
type KeyStep struct {
	Delta int
}

// KeyDrop releases at the provisional slot.
type KeyDrop struct{}

// Cancel abandons the drag and restores the original order.
type Cancel struct{}

func (PointerDown) isEvent() {}
func (PointerMove) isEvent() {}
func (PointerUp) isEvent()   {}
func (KeyGrab) isEvent()     {}
func (KeyStep) isEvent()     {}
func (KeyDrop) isEvent()     {}
func (Cancel) isEvent()      {}

// Step reports the outcome of one event.
type Step struct {
	State  State
	Origin int
	Target int
	// Changed is true when the provisional target moved.
	Changed bool
}

// Gesture is the drag state machine. Dropped and Cancelled are reported once
// and the machine returns to Idle.
type Gesture struct {
	state       State
	origin      int
	provisional int
	count       int
	offset      Point
	rects       []Rect
	bounds      Rect
	pointer     bool
}

// State returns the resting state.
func (g *Gesture) State() State { return g.state }

// Active returns the grabbed index and its provisional target while dragging.
func (g *Gesture) Active() (origin, target int, ok bool) {
	if g.state != Dragging {
		return 0, 0, false
	}
	return g.origin, g.provisional, true
}

// Handle advances the machine.
func (g *Gesture) Handle(ev Event) Step {
	switch e := ev.(type) {
	case PointerDown:
		if g.state != Idle || e.Index < 0 || e.Index >= len(e.Rects) {
			return g.current()
		}
		box := e.Rects[e.Index]
		g.state = Dragging
		g.pointer = true
		g.origin = e.Index
		g.provisional = e.Index
		g.count = len(e.Rects)
		g.rects = append([]Rect(nil), e.Rects...)
		g.bounds = e.Bounds
		g.offset = Point{X: e.At.X - box.X, Y: e.At.Y - box.Y}
		return g.dragging(false)
	case PointerMove:
		if g.state != Dragging || !g.pointer {
			return g.current()
		}
		return g.retarget(g.nearest(e.At))
	case PointerUp:
		if g.state != Dragging || !g.pointer {
			return g.current()
		}
		if !g.bounds.Contains(e.At) {
			return g.finish(Cancelled)
		}
		g.provisional = g.nearest(e.At)
		return g.finish(Dropped)
	case KeyGrab:
		if g.state != Idle || e.Index < 0 || e.Index >= e.Count {
			return g.current()
		}
		g.state = Dragging
		g.pointer = false
		g.origin = e.Index
		g.provisional = e.Index
		g.count = e.Count
		g.rects = nil
		return g.dragging(false)
	case KeyStep:
		if g.state != Dragging {
			return g.current()
		}
		return g.retarget(clamp(g.provisional+e.Delta, 0, g.count-1))
	case KeyDrop:
		if g.state != Dragging {
			return g.current()
		}
		return g.finish(Dropped)
	case Cancel:
		if g.state != Dragging {
			return g.current()
		}
		return g.finish(Cancelled)
	default:
		return g.current()
	}
}

// nearest returns the sibling index whose center is closest to the center of
// the dragged box when the pointer is at p. Ties keep the lower index.
func (g *Gesture) nearest(p Point) int {
	box := g.rects[g.origin]
	dragged := Rect{X: p.X - g.offset.X, Y: p.Y - g.offset.Y, W: box.W, H: box.H}.Center()
	best, bestDist := g.provisional, math.Inf(1)
	for i, r := range g.rects {
		c := r.Center()
		d := math.Hypot(c.X-dragged.X, c.Y-dragged.Y)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func (g *Gesture) retarget(target int) Step {
	changed := target != g.provisional
	g.provisional = target
	return g.dragging(changed)
}

func (g *Gesture) finish(final State) Step {
	step := Step{State: final, Origin: g.origin, Target: g.provisional}
	if final == Cancelled {
		step.Target = g.origin
	}
	*g = Gesture{}
	return step
}

func (g *Gesture) dragging(changed bool) Step {
	return Step{State: Dragging, Origin: g.origin, Target: g.provisional, Changed: changed}
}

func (g *Gesture) current() Step {
	if g.state == Dragging {
		return g.dragging(false)
	}
	return g.idle()
}

func (g *Gesture) idle() Step {
	return Step{State: Idle, Origin: -1, Target: -1}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
