package reorder

import "time"

// DefaultDelay is the settle time before a reorder triggers a re-run.
const DefaultDelay = 600 * time.Millisecond

// Token identifies one scheduled debounce generation.
type Token uint64

// Debouncer keeps a single pending generation. Scheduling again supersedes
// the previous one, so a timer that fires late is a no-op.
type Debouncer struct {
	delay   time.Duration
	gen     Token
	pending bool
	order   []string
}

// NewDebouncer returns a debouncer with delay, or DefaultDelay when delay <= 0.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer{delay: delay}
}

// Delay returns the settle time.
func (d *Debouncer) Delay() time.Duration { return d.delay }

// Schedule records order as the value to send and returns its token.
func (d *Debouncer) Schedule(order []string) Token {
	d.gen++
	d.pending = true
	d.order = append([]string(nil), order...)
	return d.gen
}

// Fire returns the pending order when tok is the latest generation.
func (d *Debouncer) Fire(tok Token) ([]string, bool) {
	if !d.pending || tok != d.gen {
		return nil, false
	}
	d.pending = false
	order := d.order
	d.order = nil
	return order, true
}

// Pending reports whether a generation is waiting to fire.
func (d *Debouncer) Pending() bool { return d.pending }

// Stop drops the pending generation.
func (d *Debouncer) Stop() {
	d.gen++
	d.pending = false
	d.order = nil
}
