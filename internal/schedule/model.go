package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Level is the severity attached to a schedule warning.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel maps a wire value onto a Level. Unknown values are treated as INFO.
func ParseLevel(value string) Level {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "ERROR", "ERR":
		return LevelError
	case "WARN", "WARNING":
		return LevelWarn
	default:
		return LevelInfo
	}
}

// Severity orders levels ERROR > WARN > INFO.
func (l Level) Severity() int {
	switch l {
	case LevelError:
		return 3
	case LevelWarn:
		return 2
	case LevelInfo:
		return 1
	default:
		return 0
	}
}

// MonthBucket is one selectable month in the index.
type MonthBucket struct {
	Label       string
	YMKey       int
	OrderCount  *int
	DetailCount *int
}

// Year returns the four-digit year encoded in YMKey.
func (b MonthBucket) Year() int { return b.YMKey / 100 }

// Month returns the calendar month encoded in YMKey.
func (b MonthBucket) Month() time.Month { return time.Month(b.YMKey % 100) }

// Valid reports whether YMKey encodes a real month.
func (b MonthBucket) Valid() bool {
	m := b.YMKey % 100
	return b.YMKey >= 100001 && m >= 1 && m <= 12
}

// MonthStart returns midnight on the first day of the bucket's month.
func (b MonthBucket) MonthStart(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(b.Year(), b.Month(), 1, 0, 0, 0, 0, loc)
}

// ParseYMKey converts "202512", "2025-12" or "2025/12" into a YYYYMM integer.
func ParseYMKey(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	replacer := strings.NewReplacer("-", "", "/", "", ".", "")
	digits := replacer.Replace(trimmed)
	if len(digits) != 6 {
		return 0, fmt.Errorf("schedule: month key %q must be YYYYMM", value)
	}
	key, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("schedule: month key %q: %w", value, err)
	}
	if m := key % 100; m < 1 || m > 12 {
		return 0, fmt.Errorf("schedule: month key %q has invalid month", value)
	}
	return key, nil
}

// WarningKey associates warnings with segments.
type WarningKey struct {
	BillNo   string
	DetailID string
	LineNo   string
}

// Segment is one machine-time allocation returned by a schedule run.
type Segment struct {
	MonthLabel   string
	YMKey        int
	BillNo       string
	DetailID     string
	LineNo       string
	ProductID    string
	DueTime      time.Time
	ProcessNo    string
	ProcessName  string
	MachineIndex int
	StartTime    time.Time
	EndTime      time.Time
	Minutes      int
}

// Span is the timestamp-derived duration. It is authoritative over Minutes.
func (s Segment) Span() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Key returns the composite key used to match warnings.
func (s Segment) Key() WarningKey {
	return WarningKey{BillNo: s.BillNo, DetailID: s.DetailID, LineNo: s.LineNo}
}

// Warning is a severity-tagged annotation for an order/detail/line.
type Warning struct {
	Level      Level
	MonthLabel string
	BillNo     string
	DetailID   string
	LineNo     string
	ProductID  string
	DueTime    time.Time
	Message    string
}

// Key returns the composite key used to match segments.
func (w Warning) Key() WarningKey {
	return WarningKey{BillNo: w.BillNo, DetailID: w.DetailID, LineNo: w.LineNo}
}

// RunRequest asks the backend to compute a schedule for a month range.
type RunRequest struct {
	FromMonth   string
	ToMonth     string
	AnchorStart time.Time
	IncludeAll  bool
	// DetailOrder is nil when the natural/persisted order should be used.
	DetailOrder []string
}

// Clone returns a copy that does not share the DetailOrder slice.
func (r RunRequest) Clone() RunRequest {
	out := r
	if r.DetailOrder != nil {
		out.DetailOrder = append([]string(nil), r.DetailOrder...)
	}
	return out
}

// RunResult is the normalized response of a schedule run. A new result always
// replaces the previous one in full.
type RunResult struct {
	FromMonth   string
	ToMonth     string
	AnchorStart time.Time
	Segments    []Segment
	Warnings    []Warning
	// Details is the server's authoritative queue order, when it returns one.
	Details []QueueItem
}

// Empty reports whether the result carries no segments and no warnings.
func (r RunResult) Empty() bool {
	return len(r.Segments) == 0 && len(r.Warnings) == 0
}

// EmptyResult builds the placeholder result used when a payload cannot be decoded.
func EmptyResult(req RunRequest) RunResult {
	return RunResult{
		FromMonth:   req.FromMonth,
		ToMonth:     req.ToMonth,
		AnchorStart: req.AnchorStart,
	}
}

// QueueItem is one pending production-order line in the reorder queue.
type QueueItem struct {
	DetailID  string
	Position  int
	BillNo    string
	LineNo    string
	ProductID string
	DueTime   time.Time
	Label     string
}

// Title renders a short human label for lists.
func (q QueueItem) Title() string {
	if label := strings.TrimSpace(q.Label); label != "" {
		return label
	}
	parts := []string{}
	if q.BillNo != "" {
		parts = append(parts, q.BillNo)
	}
	if q.LineNo != "" {
		parts = append(parts, "#"+q.LineNo)
	}
	if q.ProductID != "" {
		parts = append(parts, q.ProductID)
	}
	if len(parts) == 0 {
		return q.DetailID
	}
	return strings.Join(parts, " · ")
}

// QueueFromSegments derives a queue when the server returns no detail list:
// one item per detail, ordered by its earliest segment start.
func QueueFromSegments(segments []Segment) []QueueItem {
	type first struct {
		item  QueueItem
		start time.Time
		index int
	}
	seen := map[string]*first{}
	var order []*first
	for i, seg := range segments {
		id := strings.TrimSpace(seg.DetailID)
		if id == "" {
			continue
		}
		if f, ok := seen[id]; ok {
			if seg.StartTime.Before(f.start) {
				f.start = seg.StartTime
			}
			continue
		}
		f := &first{
			item: QueueItem{
				DetailID:  id,
				BillNo:    seg.BillNo,
				LineNo:    seg.LineNo,
				ProductID: seg.ProductID,
				DueTime:   seg.DueTime,
			},
			start: seg.StartTime,
			index: i,
		}
		seen[id] = f
		order = append(order, f)
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if !a.start.Equal(b.start) {
			return a.start.Before(b.start)
		}
		return a.index < b.index
	})
	items := make([]QueueItem, len(order))
	for i, f := range order {
		items[i] = f.item
		items[i].Position = i
	}
	return items
}

// CompareDetailIDs orders detail identifiers numerically when both are
// integers and lexically otherwise.
func CompareDetailIDs(a, b string) int {
	ai, aerr := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	bi, berr := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
