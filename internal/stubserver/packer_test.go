package stubserver

import (
	"strings"
	"testing"
	"time"

	"github.com/kingrea/apsboard/internal/schedule"
)

var seedBase = time.Date(2025, 12, 10, 9, 0, 0, 0, time.UTC)

func TestSeedCatalogMonths(t *testing.T) {
	c := SeedCatalog(seedBase, 4, time.UTC)
	open := c.Months(false)
	if len(open) != 2 {
		t.Fatalf("expected 2 open months, got %d", len(open))
	}
	if open[0].Label != "2025年12月" || open[0].YMKey != 202512 {
		t.Fatalf("unexpected first month %+v", open[0])
	}
	if open[0].DetailCount != 5 || open[0].OrderCount != 3 {
		t.Fatalf("unexpected counts %+v", open[0])
	}
	all := c.Months(true)
	if len(all) != 3 || all[0].YMKey != 202511 {
		t.Fatalf("includeAll should add the closed month, got %+v", all)
	}
}

func TestResolveMonthAcceptsLabelOrKey(t *testing.T) {
	c := SeedCatalog(seedBase, 4, time.UTC)
	for _, value := range []string{"2026年1月", "202601", " 202601 "} {
		key, ok := c.ResolveMonth(value)
		if !ok || key != 202601 {
			t.Fatalf("ResolveMonth(%q) = %d, %v", value, key, ok)
		}
	}
	if _, ok := c.ResolveMonth("2030年1月"); ok {
		t.Fatalf("expected unknown month to fail")
	}
}

func TestApplyOrderMovesNamedDetailsFirst(t *testing.T) {
	c := SeedCatalog(seedBase, 4, time.UTC)
	details := ApplyOrder(c.Select(202512, 202512, false), []string{"9", "missing", "6", "9"})
	got := make([]string, len(details))
	for i, d := range details {
		got[i] = d.ID
	}
	want := []string{"9", "6", "7", "8", "10"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestPackPlacesOperationsOnEarliestFreeMachine(t *testing.T) {
	c := SeedCatalog(seedBase, 4, time.UTC)
	anchor := c.MonthStart(202512)
	plan := Pack(c.Select(202512, 202512, false), c.Machines, anchor)
	if len(plan.Segments) != 8 {
		t.Fatalf("expected 8 segments, got %d", len(plan.Segments))
	}
	at := func(h, m int) time.Time { return anchor.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }
	cases := []struct {
		detail  string
		process string
		machine int
		start   time.Time
		end     time.Time
	}{
		{"6", "30", 3, at(0, 0), at(4, 0)},
		{"7", "10", 1, at(0, 0), at(1, 0)},
		{"7", "30", 3, at(4, 0), at(6, 0)},
		{"7", "40", 4, at(6, 0), at(6, 45)},
		{"8", "20", 2, at(0, 0), at(5, 0)},
		{"9", "40", 4, at(6, 45), at(7, 15)},
		{"10", "10", 1, at(1, 0), at(2, 30)},
		{"10", "20", 2, at(5, 0), at(8, 0)},
	}
	for i, tc := range cases {
		seg := plan.Segments[i]
		if seg.DetailID != tc.detail || seg.ProcessNo != tc.process || seg.MachineIndex != tc.machine {
			t.Fatalf("segment %d = %s/%s on %d, want %s/%s on %d", i, seg.DetailID, seg.ProcessNo, seg.MachineIndex, tc.detail, tc.process, tc.machine)
		}
		if !seg.StartTime.Equal(tc.start) || !seg.EndTime.Equal(tc.end) {
			t.Fatalf("segment %d spans %s-%s, want %s-%s", i, seg.StartTime, seg.EndTime, tc.start, tc.end)
		}
		if seg.Minutes != int(seg.Span()/time.Minute) {
			t.Fatalf("segment %d minutes %d disagree with span %s", i, seg.Minutes, seg.Span())
		}
	}
	if len(plan.Warnings) != 1 {
		t.Fatalf("expected one warning, got %+v", plan.Warnings)
	}
	warn := plan.Warnings[0]
	if warn.Level != schedule.LevelError || warn.DetailID != "8" || !strings.Contains(warn.Message, "Plating") {
		t.Fatalf("unexpected warning %+v", warn)
	}
}

func TestPackWarnsWhenDetailFinishesLate(t *testing.T) {
	due := time.Date(2025, 12, 1, 1, 0, 0, 0, time.UTC)
	details := []Detail{{
		ID:      "1",
		BillNo:  "SO-1",
		LineNo:  "1",
		YMKey:   202512,
		DueTime: due,
		Ops:     []Operation{{Process: procCutting, Minutes: 120}},
	}}
	machines := []Machine{{Index: 1, Processes: map[string]bool{procCutting.No: true}}}
	plan := Pack(details, machines, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC))
	if len(plan.Warnings) != 1 {
		t.Fatalf("expected late warning, got %+v", plan.Warnings)
	}
	if plan.Warnings[0].Level != schedule.LevelWarn || !strings.Contains(plan.Warnings[0].Message, "1h0m0s") {
		t.Fatalf("unexpected warning %+v", plan.Warnings[0])
	}
	if plan.Warnings[0].Key() != plan.Segments[0].Key() {
		t.Fatalf("warning key should match its segment")
	}
}
