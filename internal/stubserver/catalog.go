package stubserver

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Process is a routing step a machine may be capable of.
type Process struct {
	No   string
	Name string
}

var (
	procCutting  = Process{No: "10", Name: "Cutting"}
	procMilling  = Process{No: "20", Name: "Milling"}
	procTurning  = Process{No: "30", Name: "Turning"}
	procAssembly = Process{No: "40", Name: "Assembly"}
	// No machine offers plating, so details that need it raise an ERROR.
	procPlating = Process{No: "90", Name: "Plating"}

	machineProcesses = []Process{procCutting, procMilling, procTurning, procAssembly}
)

// Operation is one routed step of a detail.
type Operation struct {
	Process Process
	Minutes int
}

// Detail is one production-order line.
type Detail struct {
	ID        string
	BillNo    string
	LineNo    string
	ProductID string
	YMKey     int
	DueTime   time.Time
	Closed    bool
	Ops       []Operation
}

// Machine is a lane the packer fills.
type Machine struct {
	Index     int
	Processes map[string]bool
}

// Catalog is the stub's fixed order book.
type Catalog struct {
	Details  []Detail
	Machines []Machine
	loc      *time.Location
}

// MonthLabel renders a YYYYMM key the way the backend labels months.
func MonthLabel(ymKey int) string {
	return fmt.Sprintf("%d年%d月", ymKey/100, ymKey%100)
}

// SeedCatalog builds a deterministic order book spanning the month before
// base, base's month and the month after. Details of the earliest month are
// closed and only listed with includeAll.
func SeedCatalog(base time.Time, machines int, loc *time.Location) *Catalog {
	if loc == nil {
		loc = time.Local
	}
	if machines <= 0 {
		machines = DefaultMachines
	}
	base = base.In(loc)
	first := time.Date(base.Year(), base.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, -1, 0)
	routings := [][]Operation{
		{{procCutting, 90}, {procMilling, 180}},
		{{procTurning, 240}},
		{{procCutting, 60}, {procTurning, 120}, {procAssembly, 45}},
		{{procMilling, 300}, {procPlating, 60}},
		{{procAssembly, 30}},
	}
	c := &Catalog{loc: loc}
	id := 1
	for m := 0; m < 3; m++ {
		monthStart := first.AddDate(0, m, 0)
		ym := monthStart.Year()*100 + int(monthStart.Month())
		for line := 1; line <= len(routings); line++ {
			c.Details = append(c.Details, Detail{
				ID:        strconv.Itoa(id),
				BillNo:    fmt.Sprintf("SO-%d-%02d", ym, (line+1)/2),
				LineNo:    strconv.Itoa(line),
				ProductID: fmt.Sprintf("P-%03d", 100+id),
				YMKey:     ym,
				DueTime:   monthStart.AddDate(0, 0, 1+line).Add(17 * time.Hour),
				Closed:    m == 0,
				Ops:       routings[(line-1+m)%len(routings)],
			})
			id++
		}
	}
	for i := 1; i <= machines; i++ {
		proc := machineProcesses[(i-1)%len(machineProcesses)]
		caps := map[string]bool{proc.No: true}
		if i > len(machineProcesses) {
			caps[procAssembly.No] = true
		}
		c.Machines = append(c.Machines, Machine{Index: i, Processes: caps})
	}
	return c
}

// MonthRow is one entry of the month index.
type MonthRow struct {
	Label       string
	YMKey       int
	OrderCount  int
	DetailCount int
}

// Months lists months that have selectable details, oldest first.
func (c *Catalog) Months(includeAll bool) []MonthRow {
	var rows []MonthRow
	index := map[int]int{}
	bills := map[int]map[string]bool{}
	for _, d := range c.Details {
		if d.Closed && !includeAll {
			continue
		}
		pos, ok := index[d.YMKey]
		if !ok {
			pos = len(rows)
			index[d.YMKey] = pos
			rows = append(rows, MonthRow{Label: MonthLabel(d.YMKey), YMKey: d.YMKey})
			bills[d.YMKey] = map[string]bool{}
		}
		rows[pos].DetailCount++
		if !bills[d.YMKey][d.BillNo] {
			bills[d.YMKey][d.BillNo] = true
			rows[pos].OrderCount++
		}
	}
	return rows
}

// ResolveMonth accepts a month label ("2025年12月") or a key ("202512").
func (c *Catalog) ResolveMonth(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	for _, d := range c.Details {
		if MonthLabel(d.YMKey) == value || strconv.Itoa(d.YMKey) == value {
			return d.YMKey, true
		}
	}
	return 0, false
}

// Select returns details in [from, to] in natural order.
func (c *Catalog) Select(from, to int, includeAll bool) []Detail {
	if to < from {
		from, to = to, from
	}
	var out []Detail
	for _, d := range c.Details {
		if d.YMKey < from || d.YMKey > to {
			continue
		}
		if d.Closed && !includeAll {
			continue
		}
		out = append(out, d)
	}
	return out
}

// MonthStart returns midnight on the first day of ymKey in the catalog zone.
func (c *Catalog) MonthStart(ymKey int) time.Time {
	return time.Date(ymKey/100, time.Month(ymKey%100), 1, 0, 0, 0, 0, c.loc)
}
