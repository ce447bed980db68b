package timeline

import (
	"reflect"
	"testing"
	"time"

	"github.com/kingrea/apsboard/internal/schedule"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2025, 12, day, hour, minute, 0, 0, time.UTC)
}

func seg(machine int, detail string, start, end time.Time) schedule.Segment {
	return schedule.Segment{
		BillNo:       "SO-" + detail,
		DetailID:     detail,
		LineNo:       "1",
		MachineIndex: machine,
		StartTime:    start,
		EndTime:      end,
		Minutes:      int(end.Sub(start).Minutes()),
	}
}

var december1 = Window{Start: at(1, 0, 0), End: at(2, 0, 0)}

func TestLayoutPixelScenario(t *testing.T) {
	month := schedule.MonthBucket{Label: "2025年12月", YMKey: 202512}
	window := WindowForDays(month.MonthStart(time.UTC), month.MonthStart(time.UTC))
	if !window.Start.Equal(december1.Start) || !window.End.Equal(december1.End) {
		t.Fatalf("unexpected window %+v", window)
	}
	res := Layout([]schedule.Segment{seg(1, "1", at(1, 8, 0), at(1, 10, 0))}, nil, window, Scale{PixelsPerMinute: 1, MinBlockWidth: 4})
	if len(res.Lanes) != 1 || len(res.Lanes[0].Blocks) != 1 {
		t.Fatalf("expected one block, got %+v", res.Lanes)
	}
	block := res.Lanes[0].Blocks[0]
	if block.PixelStart != 480 || block.PixelWidth != 120 {
		t.Fatalf("expected 480/120, got %v/%v", block.PixelStart, block.PixelWidth)
	}
	if block.ClipStart || block.ClipEnd {
		t.Fatalf("block inside the window must not be clipped")
	}
	if len(res.Ticks) != 1 || res.Ticks[0].Label != "12/01" {
		t.Fatalf("expected a single day tick, got %+v", res.Ticks)
	}
}

func TestLayoutPicksHighestSeverity(t *testing.T) {
	s := seg(1, "7", at(1, 8, 0), at(1, 9, 0))
	warnings := []schedule.Warning{
		{Level: schedule.LevelWarn, BillNo: s.BillNo, DetailID: s.DetailID, LineNo: s.LineNo, Message: "late"},
		{Level: schedule.LevelError, BillNo: s.BillNo, DetailID: s.DetailID, LineNo: s.LineNo, Message: "no machine"},
		{Level: schedule.LevelError, BillNo: s.BillNo, DetailID: s.DetailID, LineNo: s.LineNo, Message: "second error"},
		{Level: schedule.LevelInfo, BillNo: "other", DetailID: "9", LineNo: "1"},
	}
	res := Layout([]schedule.Segment{s}, warnings, december1, Scale{PixelsPerMinute: 1})
	block := res.Lanes[0].Blocks[0]
	if block.Level() != schedule.LevelError || block.Warning.Message != "no machine" {
		t.Fatalf("expected first ERROR warning, got %+v", block.Warning)
	}
	if res.Warned != 1 || res.UnmatchedWarnings != 1 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
}

func TestLayoutPartitionsAndOrdersLanes(t *testing.T) {
	segments := []schedule.Segment{
		seg(2, "10", at(1, 9, 0), at(1, 10, 0)),
		seg(1, "3", at(1, 8, 0), at(1, 9, 0)),
		seg(2, "9", at(1, 9, 0), at(1, 9, 30)),
		seg(2, "1", at(1, 6, 0), at(1, 7, 0)),
		seg(1, "2", at(1, 8, 0), at(1, 8, 30)),
	}
	res := Layout(segments, nil, december1, Scale{PixelsPerMinute: 0.5})
	if len(res.Lanes) != 2 || res.Lanes[0].MachineIndex != 1 || res.Lanes[1].MachineIndex != 2 {
		t.Fatalf("expected lanes 1 and 2, got %+v", res.Lanes)
	}
	var got [][]string
	total := 0
	for _, lane := range res.Lanes {
		var ids []string
		for i, b := range lane.Blocks {
			if b.Segment.MachineIndex != lane.MachineIndex {
				t.Fatalf("segment %s placed in lane %d", b.Segment.DetailID, lane.MachineIndex)
			}
			if i > 0 && b.Segment.StartTime.Before(lane.Blocks[i-1].Segment.StartTime) {
				t.Fatalf("lane %d is not ordered by start", lane.MachineIndex)
			}
			ids = append(ids, b.Segment.DetailID)
			total++
		}
		got = append(got, ids)
	}
	want := [][]string{{"2", "3"}, {"1", "9", "10"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("lane order = %v, want %v", got, want)
	}
	if total != len(segments) {
		t.Fatalf("expected every segment in exactly one lane")
	}
}

func TestLayoutIsIdempotent(t *testing.T) {
	segments := []schedule.Segment{
		seg(3, "5", at(1, 1, 0), at(1, 2, 15)),
		seg(1, "4", at(1, 3, 0), at(1, 3, 1)),
		seg(3, "6", at(1, 1, 0), at(1, 1, 45)),
	}
	original := append([]schedule.Segment(nil), segments...)
	scale := Scale{PixelsPerMinute: 0.37, MinBlockWidth: 2}
	first := Layout(segments, nil, december1, scale)
	second := Layout(segments, nil, december1, scale)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("layout is not idempotent")
	}
	if !reflect.DeepEqual(segments, original) {
		t.Fatalf("layout mutated its input")
	}
	short := first.Lanes[0].Blocks[0]
	if short.PixelWidth != 2 {
		t.Fatalf("expected minimum block width 2, got %v", short.PixelWidth)
	}
}

func TestLayoutClipsAndDrops(t *testing.T) {
	segments := []schedule.Segment{
		seg(1, "1", time.Date(2025, 11, 30, 22, 0, 0, 0, time.UTC), at(1, 2, 0)),
		seg(1, "2", at(1, 23, 0), at(2, 1, 0)),
		seg(1, "3", at(3, 8, 0), at(3, 9, 0)),
	}
	res := Layout(segments, nil, december1, Scale{PixelsPerMinute: 1})
	blocks := res.Lanes[0].Blocks
	if len(blocks) != 2 {
		t.Fatalf("expected 2 visible blocks, got %d", len(blocks))
	}
	if !blocks[0].ClipStart || blocks[0].ClipEnd {
		t.Fatalf("first block should be clipped at the start only")
	}
	if blocks[1].ClipStart || !blocks[1].ClipEnd {
		t.Fatalf("second block should be clipped at the end only")
	}
	if res.OutsideWindow != 1 {
		t.Fatalf("expected one segment outside the window, got %d", res.OutsideWindow)
	}
	col, span, ok := blocks[0].Visible(1440)
	if !ok || col != 0 || span != 120 {
		t.Fatalf("unexpected visible span %d+%d", col, span)
	}
	col, span, ok = blocks[1].Visible(1440)
	if !ok || col != 1380 || span != 60 {
		t.Fatalf("unexpected visible span %d+%d", col, span)
	}
}

func TestLaneStaysWhenAllBlocksAreOutside(t *testing.T) {
	segments := []schedule.Segment{
		seg(1, "1", at(1, 8, 0), at(1, 9, 0)),
		seg(2, "2", at(5, 8, 0), at(5, 9, 0)),
	}
	res := Layout(segments, nil, december1, Scale{PixelsPerMinute: 1})
	if len(res.Lanes) != 2 {
		t.Fatalf("expected a lane per machine, got %d", len(res.Lanes))
	}
	if lane := res.Lanes[1]; lane.MachineIndex != 2 || len(lane.Blocks) != 0 {
		t.Fatalf("machine 2 should keep an empty lane, got %+v", lane)
	}
	if res.OutsideWindow != 1 || res.Placed != 1 {
		t.Fatalf("unexpected summary placed=%d outside=%d", res.Placed, res.OutsideWindow)
	}
}

func TestLayoutReportsDataQuality(t *testing.T) {
	skewed := seg(1, "1", at(1, 8, 0), at(1, 10, 0))
	skewed.Minutes = 90
	rounded := seg(1, "2", at(1, 10, 0), at(1, 10, 30))
	rounded.Minutes = 31
	inverted := seg(2, "3", at(1, 12, 0), at(1, 11, 0))
	res := Layout([]schedule.Segment{skewed, rounded, inverted}, nil, december1, Scale{PixelsPerMinute: 1})
	if len(res.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %+v", res.Issues)
	}
	if res.Issues[0].Kind != IssueMinutesMismatch || res.Issues[1].Kind != IssueInvertedSpan {
		t.Fatalf("unexpected issues %+v", res.Issues)
	}
	if res.Lanes[0].Blocks[0].PixelWidth != 120 {
		t.Fatalf("timestamps must drive width, got %v", res.Lanes[0].Blocks[0].PixelWidth)
	}
	if len(res.Lanes) != 1 || res.Dropped != 1 {
		t.Fatalf("inverted segment should be dropped, got lanes=%d dropped=%d", len(res.Lanes), res.Dropped)
	}
}

func TestLayoutEmptyInput(t *testing.T) {
	res := Layout(nil, nil, december1, Scale{PixelsPerMinute: 1})
	if res.Lanes == nil || len(res.Lanes) != 0 {
		t.Fatalf("expected empty, non-nil lanes")
	}
	if len(res.Issues) != 0 {
		t.Fatalf("empty input is not an issue: %+v", res.Issues)
	}
	if len(res.Ticks) != 1 {
		t.Fatalf("ticks are independent of lane content, got %d", len(res.Ticks))
	}

	bad := Layout([]schedule.Segment{seg(1, "1", at(1, 8, 0), at(1, 9, 0))}, nil, Window{Start: at(2, 0, 0), End: at(1, 0, 0)}, Scale{PixelsPerMinute: 1})
	if len(bad.Lanes) != 0 || len(bad.Issues) != 1 || bad.Issues[0].Kind != IssueInvalidWindow {
		t.Fatalf("invalid window should degrade to empty lanes, got %+v", bad)
	}
}

func TestDayTicks(t *testing.T) {
	tests := []struct {
		name   string
		window Window
		labels []string
	}{
		{"midnight to midnight", Window{Start: at(1, 0, 0), End: at(3, 0, 0)}, []string{"12/01", "12/02"}},
		{"partial days", Window{Start: at(1, 18, 0), End: at(3, 6, 0)}, []string{"12/01", "12/02", "12/03"}},
		{"within one day", Window{Start: at(5, 9, 0), End: at(5, 17, 0)}, []string{"12/05"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticks := DayTicks(tt.window, Scale{PixelsPerMinute: 1})
			var labels []string
			for _, tick := range ticks {
				labels = append(labels, tick.Label)
			}
			if !reflect.DeepEqual(labels, tt.labels) {
				t.Fatalf("labels = %v, want %v", labels, tt.labels)
			}
		})
	}
	ticks := DayTicks(Window{Start: at(1, 12, 0), End: at(2, 12, 0)}, Scale{PixelsPerMinute: 1})
	if ticks[1].Pixel != 720 {
		t.Fatalf("expected second tick at 720px, got %v", ticks[1].Pixel)
	}
}

func TestMemoReusesLayout(t *testing.T) {
	var memo Memo
	segments := []schedule.Segment{seg(1, "1", at(1, 8, 0), at(1, 10, 0))}
	scale := Scale{PixelsPerMinute: 1}
	first := memo.Layout(1, segments, nil, december1, scale, time.Minute)
	segments[0].StartTime = at(1, 9, 0)
	cached := memo.Layout(1, segments, nil, december1, scale, time.Minute)
	if cached.Lanes[0].Blocks[0].PixelStart != first.Lanes[0].Blocks[0].PixelStart {
		t.Fatalf("same version should reuse the cached layout")
	}
	fresh := memo.Layout(2, segments, nil, december1, scale, time.Minute)
	if fresh.Lanes[0].Blocks[0].PixelStart != 540 {
		t.Fatalf("new version should recompute, got %v", fresh.Lanes[0].Blocks[0].PixelStart)
	}
}
