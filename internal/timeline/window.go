package timeline

import (
	"math"
	"time"

	"github.com/kingrea/apsboard/internal/schedule"
)

// MinWindow is the narrowest window Zoom will produce.
const MinWindow = time.Hour

// Window is the half-open visible range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the window has a positive duration.
func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// Duration returns End-Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overlaps reports whether [start, end) intersects the window.
func (w Window) Overlaps(start, end time.Time) bool {
	return start.Before(w.End) && end.After(w.Start)
}

// Shift pans the window by d, keeping its duration.
func (w Window) Shift(d time.Duration) Window {
	return Window{Start: w.Start.Add(d), End: w.End.Add(d)}
}

// Zoom scales the window around its center. Factors above 1 zoom in.
func (w Window) Zoom(factor float64) Window {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) || !w.Valid() {
		return w
	}
	span := time.Duration(float64(w.Duration()) / factor)
	if span < MinWindow {
		span = MinWindow
	}
	center := w.Start.Add(w.Duration() / 2)
	start := center.Add(-span / 2)
	return Window{Start: start, End: start.Add(span)}
}

// WindowForMonths covers every day of the months from..to inclusive.
func WindowForMonths(from, to schedule.MonthBucket, loc *time.Location) Window {
	if to.YMKey < from.YMKey {
		from, to = to, from
	}
	return Window{Start: from.MonthStart(loc), End: to.MonthStart(loc).AddDate(0, 1, 0)}
}

// WindowForDays covers the calendar days first..last inclusive in first's location.
func WindowForDays(first, last time.Time) Window {
	if last.Before(first) {
		first, last = last, first
	}
	start := startOfDay(first)
	end := startOfDay(last.In(first.Location())).AddDate(0, 0, 1)
	return Window{Start: start, End: end}
}

// Scale converts minutes into layout pixels.
type Scale struct {
	PixelsPerMinute float64
	MinBlockWidth   float64
}

// ScaleToFit returns the scale that maps w onto width pixels.
func ScaleToFit(w Window, width int, minBlockWidth float64) Scale {
	minutes := w.Duration().Minutes()
	if width <= 0 || minutes <= 0 {
		return Scale{MinBlockWidth: minBlockWidth}
	}
	return Scale{PixelsPerMinute: float64(width) / minutes, MinBlockWidth: minBlockWidth}
}

func (s Scale) pixels(d time.Duration) float64 {
	return d.Minutes() * s.PixelsPerMinute
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
