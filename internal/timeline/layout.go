// Package timeline lays schedule segments out on per-machine lanes. Every
// function here is pure: the same inputs always produce identical output and
// the inputs are never modified.
package timeline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kingrea/apsboard/internal/schedule"
)

// DefaultMinutesTolerance is how far a segment's minutes field may drift from
// its timestamps before it is reported.
const DefaultMinutesTolerance = time.Minute

const maxTicks = 732

// Block is one positioned segment.
type Block struct {
	Segment    schedule.Segment
	PixelStart float64
	PixelWidth float64
	// ClipStart and ClipEnd mark edges that extend past the window.
	ClipStart bool
	ClipEnd   bool
	Warning   *schedule.Warning
}

// Level returns the severity of the attached warning, or "" when none.
func (b Block) Level() schedule.Level {
	if b.Warning == nil {
		return ""
	}
	return b.Warning.Level
}

// Visible rounds the block to whole cells and clamps it to [0, width). The
// span is at least one cell whenever the block is visible at all.
func (b Block) Visible(width int) (col, span int, ok bool) {
	if width <= 0 {
		return 0, 0, false
	}
	start := math.Floor(b.PixelStart)
	end := math.Ceil(b.PixelStart + b.PixelWidth)
	if end <= 0 || start >= float64(width) {
		return 0, 0, false
	}
	start = math.Max(start, 0)
	end = math.Min(end, float64(width))
	col = int(start)
	span = int(end) - col
	if span < 1 {
		span = 1
	}
	return col, span, true
}

// Lane holds the blocks of one machine in render order.
type Lane struct {
	MachineIndex int
	Blocks       []Block
}

// Tick is a day boundary on the header axis.
type Tick struct {
	Day   time.Time
	Pixel float64
	Label string
}

// IssueKind classifies data-quality problems found during layout.
type IssueKind string

const (
	IssueInvertedSpan    IssueKind = "inverted_span"
	IssueMinutesMismatch IssueKind = "minutes_mismatch"
	IssueInvalidWindow   IssueKind = "invalid_window"
)

// Issue is a data-quality signal. Issues never stop layout.
type Issue struct {
	Kind    IssueKind
	Segment schedule.Segment
	Message string
}

// Summary counts what happened to the input.
type Summary struct {
	Segments          int
	Placed            int
	OutsideWindow     int
	Dropped           int
	Warned            int
	UnmatchedWarnings int
}

// Result is the derived view of one layout pass.
type Result struct {
	Window Window
	Scale  Scale
	Lanes  []Lane
	Ticks  []Tick
	Issues []Issue
	Summary
}

// Option tunes layout.
type Option func(*options)

type options struct {
	tolerance time.Duration
}

// WithMinutesTolerance overrides DefaultMinutesTolerance.
func WithMinutesTolerance(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.tolerance = d
		}
	}
}

type placed struct {
	seg   schedule.Segment
	index int
}

// Layout partitions segments into lanes ordered by machine index and
// positions every segment that overlaps window. A machine keeps its lane when
// none of its segments overlap, so rows stay put while panning.
func Layout(segments []schedule.Segment, warnings []schedule.Warning, window Window, scale Scale, opts ...Option) Result {
	cfg := options{tolerance: DefaultMinutesTolerance}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	res := Result{Window: window, Scale: scale, Lanes: []Lane{}}
	res.Summary.Segments = len(segments)
	if !window.Valid() {
		res.Issues = append(res.Issues, Issue{
			Kind:    IssueInvalidWindow,
			Message: fmt.Sprintf("window %s..%s is empty", window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339)),
		})
		return res
	}

	alerts, matched := indexWarnings(warnings)
	byMachine := map[int][]placed{}
	for i, seg := range segments {
		if !seg.EndTime.After(seg.StartTime) {
			res.Dropped++
			res.Issues = append(res.Issues, Issue{
				Kind:    IssueInvertedSpan,
				Segment: seg,
				Message: fmt.Sprintf("detail %s on machine %d ends at or before it starts", seg.DetailID, seg.MachineIndex),
			})
			continue
		}
		if drift := minutesDrift(seg); drift > cfg.tolerance {
			res.Issues = append(res.Issues, Issue{
				Kind:    IssueMinutesMismatch,
				Segment: seg,
				Message: fmt.Sprintf("detail %s reports %d minutes but spans %s", seg.DetailID, seg.Minutes, seg.Span()),
			})
		}
		byMachine[seg.MachineIndex] = append(byMachine[seg.MachineIndex], placed{seg: seg, index: i})
	}

	machines := make([]int, 0, len(byMachine))
	for machine := range byMachine {
		machines = append(machines, machine)
	}
	sort.Ints(machines)

	for _, machine := range machines {
		items := byMachine[machine]
		sort.SliceStable(items, func(i, j int) bool {
			return placedLess(items[i], items[j])
		})
		lane := Lane{MachineIndex: machine, Blocks: []Block{}}
		for _, item := range items {
			seg := item.seg
			if !window.Overlaps(seg.StartTime, seg.EndTime) {
				res.OutsideWindow++
				continue
			}
			block := Block{
				Segment:    seg,
				PixelStart: scale.pixels(seg.StartTime.Sub(window.Start)),
				PixelWidth: math.Max(scale.MinBlockWidth, scale.pixels(seg.Span())),
				ClipStart:  seg.StartTime.Before(window.Start),
				ClipEnd:    seg.EndTime.After(window.End),
			}
			if w, ok := alerts[seg.Key()]; ok {
				warning := w
				block.Warning = &warning
				matched[seg.Key()] = true
				res.Warned++
			}
			lane.Blocks = append(lane.Blocks, block)
			res.Placed++
		}
		res.Lanes = append(res.Lanes, lane)
	}
	for _, ok := range matched {
		if !ok {
			res.UnmatchedWarnings++
		}
	}
	res.Ticks = DayTicks(window, scale)
	return res
}

// DayTicks returns one tick per calendar day touched by window, from the day
// of Start through the day of the last instant before End.
func DayTicks(window Window, scale Scale) []Tick {
	if !window.Valid() {
		return nil
	}
	last := startOfDay(window.End.Add(-time.Nanosecond).In(window.Start.Location()))
	var ticks []Tick
	for day := startOfDay(window.Start); !day.After(last) && len(ticks) < maxTicks; day = day.AddDate(0, 0, 1) {
		ticks = append(ticks, Tick{
			Day:   day,
			Pixel: scale.pixels(day.Sub(window.Start)),
			Label: day.Format("01/02"),
		})
	}
	return ticks
}

// indexWarnings keeps the most severe warning per key; ties keep the first seen.
func indexWarnings(warnings []schedule.Warning) (map[schedule.WarningKey]schedule.Warning, map[schedule.WarningKey]bool) {
	best := make(map[schedule.WarningKey]schedule.Warning, len(warnings))
	seen := make(map[schedule.WarningKey]bool, len(warnings))
	for _, w := range warnings {
		key := w.Key()
		current, ok := best[key]
		if !ok || w.Level.Severity() > current.Level.Severity() {
			best[key] = w
		}
		seen[key] = false
	}
	return best, seen
}

func placedLess(a, b placed) bool {
	if !a.seg.StartTime.Equal(b.seg.StartTime) {
		return a.seg.StartTime.Before(b.seg.StartTime)
	}
	if c := schedule.CompareDetailIDs(a.seg.DetailID, b.seg.DetailID); c != 0 {
		return c < 0
	}
	return a.index < b.index
}

func minutesDrift(seg schedule.Segment) time.Duration {
	reported := time.Duration(seg.Minutes) * time.Minute
	drift := reported - seg.Span()
	if drift < 0 {
		drift = -drift
	}
	return drift
}
