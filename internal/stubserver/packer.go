package stubserver

import (
	"fmt"
	"time"

	"github.com/kingrea/apsboard/internal/schedule"
)

// Plan is the packer's output.
type Plan struct {
	Segments []schedule.Segment
	Warnings []schedule.Warning
	Order    []Detail
}

// ApplyOrder moves the details named in order to the front, in that order.
// Unknown ids are ignored and the rest keep their natural order.
func ApplyOrder(details []Detail, order []string) []Detail {
	if len(order) == 0 {
		return append([]Detail(nil), details...)
	}
	byID := make(map[string]Detail, len(details))
	for _, d := range details {
		byID[d.ID] = d
	}
	used := map[string]bool{}
	out := make([]Detail, 0, len(details))
	for _, id := range order {
		if d, ok := byID[id]; ok && !used[id] {
			out = append(out, d)
			used[id] = true
		}
	}
	for _, d := range details {
		if !used[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

// Pack lays each detail's operations onto machines greedily from anchor.
// Operations of one detail run in sequence; each goes to the capable machine
// that frees up first, lowest index on ties. A detail finishing after its due
// time gets a WARN; a step no machine can run gets an ERROR and ends the detail.
func Pack(details []Detail, machines []Machine, anchor time.Time) Plan {
	free := make(map[int]time.Time, len(machines))
	for _, m := range machines {
		free[m.Index] = anchor
	}
	plan := Plan{Order: details}
	for _, d := range details {
		ready := anchor
		blocked := false
		for _, op := range d.Ops {
			machine, ok := pickMachine(machines, free, op.Process)
			if !ok {
				plan.Warnings = append(plan.Warnings, warningFor(d, schedule.LevelError,
					fmt.Sprintf("no machine can run process %s %s", op.Process.No, op.Process.Name)))
				blocked = true
				break
			}
			start := free[machine]
			if ready.After(start) {
				start = ready
			}
			end := start.Add(time.Duration(op.Minutes) * time.Minute)
			free[machine] = end
			ready = end
			plan.Segments = append(plan.Segments, schedule.Segment{
				MonthLabel:   MonthLabel(d.YMKey),
				YMKey:        d.YMKey,
				BillNo:       d.BillNo,
				DetailID:     d.ID,
				LineNo:       d.LineNo,
				ProductID:    d.ProductID,
				DueTime:      d.DueTime,
				ProcessNo:    op.Process.No,
				ProcessName:  op.Process.Name,
				MachineIndex: machine,
				StartTime:    start,
				EndTime:      end,
				Minutes:      op.Minutes,
			})
		}
		if !blocked && ready.After(d.DueTime) {
			late := ready.Sub(d.DueTime).Round(time.Minute)
			plan.Warnings = append(plan.Warnings, warningFor(d, schedule.LevelWarn,
				fmt.Sprintf("finishes %s after due time", late)))
		}
	}
	return plan
}

func pickMachine(machines []Machine, free map[int]time.Time, proc Process) (int, bool) {
	best, found := 0, false
	for _, m := range machines {
		if !m.Processes[proc.No] {
			continue
		}
		if !found || free[m.Index].Before(free[best]) {
			best, found = m.Index, true
		}
	}
	return best, found
}

func warningFor(d Detail, level schedule.Level, message string) schedule.Warning {
	return schedule.Warning{
		Level:      level,
		MonthLabel: MonthLabel(d.YMKey),
		BillNo:     d.BillNo,
		DetailID:   d.ID,
		LineNo:     d.LineNo,
		ProductID:  d.ProductID,
		DueTime:    d.DueTime,
		Message:    message,
	}
}
