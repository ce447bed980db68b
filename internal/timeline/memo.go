package timeline

import (
	"time"

	"github.com/kingrea/apsboard/internal/schedule"
)

// Memo caches the last layout so renderers can call it on every frame.
// Version must change whenever the segment or warning slices change.
type Memo struct {
	valid     bool
	version   uint64
	window    Window
	scale     Scale
	tolerance time.Duration
	result    Result
}

// Layout returns the cached result when version, window, scale and tolerance
// are unchanged, and recomputes otherwise.
func (m *Memo) Layout(version uint64, segments []schedule.Segment, warnings []schedule.Warning, window Window, scale Scale, tolerance time.Duration) Result {
	if m.valid && m.version == version && m.scale == scale && m.tolerance == tolerance &&
		m.window.Start.Equal(window.Start) && m.window.End.Equal(window.End) {
		return m.result
	}
	m.result = Layout(segments, warnings, window, scale, WithMinutesTolerance(tolerance))
	m.version = version
	m.window = window
	m.scale = scale
	m.tolerance = tolerance
	m.valid = true
	return m.result
}

// Reset drops the cached result.
func (m *Memo) Reset() {
	*m = Memo{}
}
