package reorder

import (
	"time"

	"github.com/kingrea/apsboard/internal/schedule"
)

// EffectKind tells the caller what to do after an event.
type EffectKind int

const (
	// EffectNone needs no action.
	EffectNone EffectKind = iota
	// EffectPreview means the provisional slot moved; redraw.
	EffectPreview
	// EffectCommitted means the queue changed; arm the debounce with Token.
	EffectCommitted
	// EffectCancelled means the drag ended without changing the queue.
	EffectCancelled
)

// Effect is the result of handling one event.
type Effect struct {
	Kind  EffectKind
	From  int
	To    int
	Order []string
	Token Token
}

// Controller owns the queue, the gesture machine and the debouncer.
type Controller struct {
	queue    *Queue
	gesture  Gesture
	debounce *Debouncer
}

// NewController builds a controller over items.
func NewController(items []schedule.QueueItem, delay time.Duration) *Controller {
	return &Controller{
		queue:    NewQueue(items),
		debounce: NewDebouncer(delay),
	}
}

// Queue exposes the owned queue for rendering.
func (c *Controller) Queue() *Queue { return c.queue }

// Delay returns the debounce delay.
func (c *Controller) Delay() time.Duration { return c.debounce.Delay() }

// Dragging reports whether a gesture is in progress.
func (c *Controller) Dragging() bool { return c.gesture.State() == Dragging }

// Pending reports whether a debounced re-run has not fired yet.
func (c *Controller) Pending() bool { return c.debounce.Pending() }

// Preview returns the dragged index and its provisional slot.
func (c *Controller) Preview() (origin, target int, ok bool) {
	return c.gesture.Active()
}

// Handle feeds ev to the gesture. A drop commits the queue immediately and
// schedules a debounced re-run.
func (c *Controller) Handle(ev Event) Effect {
	if grab, ok := ev.(KeyGrab); ok && grab.Count == 0 {
		grab.Count = c.queue.Len()
		ev = grab
	}
	step := c.gesture.Handle(ev)
	switch step.State {
	case Dragging:
		if step.Changed {
			return Effect{Kind: EffectPreview, From: step.Origin, To: step.Target}
		}
		return Effect{Kind: EffectNone, From: step.Origin, To: step.Target}
	case Dropped:
		return c.commit(step.Origin, step.Target)
	case Cancelled:
		return Effect{Kind: EffectCancelled, From: step.Origin, To: step.Origin}
	default:
		return Effect{Kind: EffectNone, From: -1, To: -1}
	}
}

// MoveUp moves id one slot earlier.
func (c *Controller) MoveUp(id string) Effect {
	return c.step(id, -1)
}

// MoveDown moves id one slot later.
func (c *Controller) MoveDown(id string) Effect {
	return c.step(id, 1)
}

// MoveTo relocates id to index to.
func (c *Controller) MoveTo(id string, to int) Effect {
	from := c.queue.Index(id)
	if from < 0 || c.Dragging() {
		return Effect{Kind: EffectNone, From: from, To: from}
	}
	return c.commit(from, to)
}

func (c *Controller) step(id string, delta int) Effect {
	from := c.queue.Index(id)
	if from < 0 || c.Dragging() {
		return Effect{Kind: EffectNone, From: from, To: from}
	}
	return c.commit(from, clamp(from+delta, 0, c.queue.Len()-1))
}

func (c *Controller) commit(from, to int) Effect {
	if !c.queue.Move(from, to) {
		return Effect{Kind: EffectNone, From: from, To: from}
	}
	order := c.queue.Order()
	return Effect{
		Kind:  EffectCommitted,
		From:  from,
		To:    to,
		Order: order,
		Token: c.debounce.Schedule(order),
	}
}

// Fire returns the order to send when tok is still the latest debounce.
func (c *Controller) Fire(tok Token) ([]string, bool) {
	return c.debounce.Fire(tok)
}

// Resync applies the server's order unless the operator is mid-gesture or a
// newer order is still waiting to be sent.
func (c *Controller) Resync(details []schedule.QueueItem) bool {
	if c.Dragging() || c.debounce.Pending() {
		return false
	}
	return c.queue.Resync(details)
}

// Reset replaces the queue outright, abandoning any gesture and pending
// debounce. Used when the operator selects different months.
func (c *Controller) Reset(items []schedule.QueueItem) {
	c.gesture = Gesture{}
	c.debounce.Stop()
	c.queue = NewQueue(items)
}
