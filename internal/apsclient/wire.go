package apsclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/apsboard/internal/schedule"
)

// The backend may spell the same logical field in lower- or upper-camel case.
// Each logical field lists its accepted aliases in lookup order.
var (
	aliasMonthLabel   = []string{"mc", "Mc", "MC", "monthLabel", "MonthLabel", "label", "Label"}
	aliasMonthKey     = []string{"mcYm", "McYm", "MCYM", "ymKey", "YmKey", "YMKey"}
	aliasOrderCount   = []string{"orderCount", "OrderCount"}
	aliasDetailCount  = []string{"detailCount", "DetailCount"}
	aliasMonthsList   = []string{"data", "Data", "items", "Items", "months", "Months"}
	aliasFromMonth    = []string{"fromMc", "FromMc", "FromMC"}
	aliasToMonth      = []string{"toMc", "ToMc", "ToMC"}
	aliasAnchorStart  = []string{"anchorStart", "AnchorStart"}
	aliasSegmentCount = []string{"segmentCount", "SegmentCount"}
	aliasWarningCount = []string{"warningCount", "WarningCount"}
	aliasSegments     = []string{"segments", "Segments"}
	aliasWarnings     = []string{"warnings", "Warnings"}
	aliasDetails      = []string{"details", "Details"}
	aliasBillNo       = []string{"billNo", "BillNo"}
	aliasDetailID     = []string{"detailId", "DetailId", "DetailID", "detailID"}
	aliasLineNo       = []string{"lineNo", "LineNo"}
	aliasProductID    = []string{"productId", "ProductId", "ProductID", "productID"}
	aliasDueTime      = []string{"dueTime", "DueTime"}
	aliasProcessNo    = []string{"processNo", "ProcessNo"}
	aliasProcessName  = []string{"processName", "ProcessName"}
	aliasMachineIndex = []string{"machineIndex", "MachineIndex", "machineNo", "MachineNo"}
	aliasStartTime    = []string{"startTime", "StartTime"}
	aliasEndTime      = []string{"endTime", "EndTime"}
	aliasMinutes      = []string{"minutes", "Minutes"}
	aliasLevel        = []string{"level", "Level"}
	aliasMessage      = []string{"message", "Message", "msg", "Msg"}
	aliasLabel        = []string{"label", "Label", "title", "Title"}
)

var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var labelMonthPattern = regexp.MustCompile(`(\d{4})\D+(\d{1,2})`)

var errMissing = errors.New("missing")

// record is an untyped wire object.
type record map[string]any

func (r record) lookup(aliases []string) (any, bool) {
	for _, name := range aliases {
		if v, ok := r[name]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (r record) str(aliases []string) string {
	v, ok := r.lookup(aliases)
	if !ok {
		return ""
	}
	s, _ := asString(v)
	return strings.TrimSpace(s)
}

func (r record) integer(aliases []string) (int, bool, error) {
	v, ok := r.lookup(aliases)
	if !ok {
		return 0, false, nil
	}
	n, err := asInt(v)
	if err != nil {
		return 0, true, err
	}
	return n, true, nil
}

func (r record) instant(aliases []string, loc *time.Location) (time.Time, bool, error) {
	v, ok := r.lookup(aliases)
	if !ok {
		return time.Time{}, false, nil
	}
	t, err := asTime(v, loc)
	if err != nil {
		return time.Time{}, true, err
	}
	return t, true, nil
}

func (r record) list(aliases []string) ([]any, bool, error) {
	v, ok := r.lookup(aliases)
	if !ok {
		return nil, false, nil
	}
	items, isList := v.([]any)
	if !isList {
		return nil, true, fmt.Errorf("expected array, got %T", v)
	}
	return items, true, nil
}

func decodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &schedule.DecodeError{Err: err}
	}
	return v, nil
}

func asRecord(v any) (record, bool) {
	m, ok := v.(map[string]any)
	return record(m), ok
}

func asString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

func asInt(v any) (int, error) {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return int(n), nil
		}
		f, err := val.Float64()
		if err != nil {
			return 0, err
		}
		return int(math.Round(f)), nil
	case float64:
		return int(math.Round(val)), nil
	case string:
		trimmed := strings.TrimSpace(val)
		if n, err := strconv.Atoi(trimmed); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", val)
		}
		return int(math.Round(f)), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func asTime(v any, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	switch val := v.(type) {
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return time.Time{}, errMissing
		}
		for _, layout := range wireTimeLayouts {
			if layout == time.RFC3339Nano {
				if t, err := time.Parse(layout, trimmed); err == nil {
					return t.In(loc), nil
				}
				continue
			}
			if t, err := time.ParseInLocation(layout, trimmed, loc); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized time %q", val)
	case json.Number, float64:
		ms, err := asInt(val)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(int64(ms)).In(loc), nil
	default:
		return time.Time{}, fmt.Errorf("unrecognized time %T", v)
	}
}

// normalizeMonths converts the months payload into buckets. It accepts a bare
// array or an object wrapping the array.
func normalizeMonths(v any) ([]schedule.MonthBucket, error) {
	items, ok := v.([]any)
	if !ok {
		rec, isRecord := asRecord(v)
		if !isRecord {
			return nil, &schedule.DecodeError{Field: "months", Err: fmt.Errorf("expected array, got %T", v)}
		}
		list, found, err := rec.list(aliasMonthsList)
		if err != nil || !found {
			if err == nil {
				err = errMissing
			}
			return nil, &schedule.DecodeError{Field: "months", Err: err}
		}
		items = list
	}
	buckets := make([]schedule.MonthBucket, 0, len(items))
	for i, item := range items {
		rec, ok := asRecord(item)
		if !ok {
			return nil, &schedule.DecodeError{Field: fmt.Sprintf("months[%d]", i), Err: fmt.Errorf("expected object, got %T", item)}
		}
		bucket, err := normalizeMonth(rec)
		if err != nil {
			return nil, &schedule.DecodeError{Field: fieldPath("months", i, err.field), Err: err.err}
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

type fieldErr struct {
	field string
	err   error
}

func fieldPath(prefix string, index int, field string) string {
	path := fmt.Sprintf("%s[%d]", prefix, index)
	if field == "" {
		return path
	}
	return path + "." + field
}

func normalizeMonth(rec record) (schedule.MonthBucket, *fieldErr) {
	bucket := schedule.MonthBucket{Label: rec.str(aliasMonthLabel)}
	key, found, err := rec.integer(aliasMonthKey)
	if err != nil {
		return bucket, &fieldErr{field: "mcYm", err: err}
	}
	if !found {
		key, err = keyFromLabel(bucket.Label)
		if err != nil {
			return bucket, &fieldErr{field: "mcYm", err: errMissing}
		}
	}
	bucket.YMKey = key
	if bucket.Label == "" {
		bucket.Label = fmt.Sprintf("%04d-%02d", key/100, key%100)
	}
	if n, found, err := rec.integer(aliasOrderCount); err == nil && found {
		bucket.OrderCount = &n
	}
	if n, found, err := rec.integer(aliasDetailCount); err == nil && found {
		bucket.DetailCount = &n
	}
	return bucket, nil
}

func keyFromLabel(label string) (int, error) {
	m := labelMonthPattern.FindStringSubmatch(label)
	if m == nil {
		return 0, errMissing
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return 0, fmt.Errorf("invalid month in %q", label)
	}
	return year*100 + month, nil
}

// normalizeRun converts the run payload into the canonical result.
func normalizeRun(v any, req schedule.RunRequest, loc *time.Location) (schedule.RunResult, error) {
	rec, ok := asRecord(v)
	if !ok {
		return schedule.RunResult{}, &schedule.DecodeError{Err: fmt.Errorf("expected object, got %T", v)}
	}
	result := schedule.RunResult{
		FromMonth:   rec.str(aliasFromMonth),
		ToMonth:     rec.str(aliasToMonth),
		AnchorStart: req.AnchorStart,
	}
	if result.FromMonth == "" {
		result.FromMonth = req.FromMonth
	}
	if result.ToMonth == "" {
		result.ToMonth = req.ToMonth
	}
	if anchor, found, err := rec.instant(aliasAnchorStart, loc); err == nil && found {
		result.AnchorStart = anchor
	}

	segments, found, err := rec.list(aliasSegments)
	if err != nil {
		return schedule.RunResult{}, &schedule.DecodeError{Field: "segments", Err: err}
	}
	if !found {
		if n, _, _ := rec.integer(aliasSegmentCount); n > 0 {
			return schedule.RunResult{}, &schedule.DecodeError{Field: "segments", Err: errMissing}
		}
	}
	result.Segments = make([]schedule.Segment, 0, len(segments))
	for i, item := range segments {
		seg, ferr := normalizeSegment(item, loc)
		if ferr != nil {
			return schedule.RunResult{}, &schedule.DecodeError{Field: fieldPath("segments", i, ferr.field), Err: ferr.err}
		}
		result.Segments = append(result.Segments, seg)
	}

	warnings, found, err := rec.list(aliasWarnings)
	if err != nil {
		return schedule.RunResult{}, &schedule.DecodeError{Field: "warnings", Err: err}
	}
	if !found {
		if n, _, _ := rec.integer(aliasWarningCount); n > 0 {
			return schedule.RunResult{}, &schedule.DecodeError{Field: "warnings", Err: errMissing}
		}
	}
	result.Warnings = make([]schedule.Warning, 0, len(warnings))
	for i, item := range warnings {
		w, ferr := normalizeWarning(item, loc)
		if ferr != nil {
			return schedule.RunResult{}, &schedule.DecodeError{Field: fieldPath("warnings", i, ferr.field), Err: ferr.err}
		}
		result.Warnings = append(result.Warnings, w)
	}

	details, found, err := rec.list(aliasDetails)
	if err != nil {
		return schedule.RunResult{}, &schedule.DecodeError{Field: "details", Err: err}
	}
	if found {
		result.Details = make([]schedule.QueueItem, 0, len(details))
		for i, item := range details {
			d, ferr := normalizeDetail(item, i, loc)
			if ferr != nil {
				return schedule.RunResult{}, &schedule.DecodeError{Field: fieldPath("details", i, ferr.field), Err: ferr.err}
			}
			result.Details = append(result.Details, d)
		}
	}
	return result, nil
}

func normalizeSegment(item any, loc *time.Location) (schedule.Segment, *fieldErr) {
	rec, ok := asRecord(item)
	if !ok {
		return schedule.Segment{}, &fieldErr{field: "", err: fmt.Errorf("expected object, got %T", item)}
	}
	seg := schedule.Segment{
		MonthLabel:  rec.str(aliasMonthLabel),
		BillNo:      rec.str(aliasBillNo),
		DetailID:    rec.str(aliasDetailID),
		LineNo:      rec.str(aliasLineNo),
		ProductID:   rec.str(aliasProductID),
		ProcessNo:   rec.str(aliasProcessNo),
		ProcessName: rec.str(aliasProcessName),
	}
	if key, found, err := rec.integer(aliasMonthKey); err != nil {
		return seg, &fieldErr{field: "ymKey", err: err}
	} else if found {
		seg.YMKey = key
	}
	machine, found, err := rec.integer(aliasMachineIndex)
	if err != nil || !found {
		if err == nil {
			err = errMissing
		}
		return seg, &fieldErr{field: "machineIndex", err: err}
	}
	seg.MachineIndex = machine
	start, found, err := rec.instant(aliasStartTime, loc)
	if err != nil || !found {
		if err == nil {
			err = errMissing
		}
		return seg, &fieldErr{field: "startTime", err: err}
	}
	seg.StartTime = start
	end, found, err := rec.instant(aliasEndTime, loc)
	if err != nil || !found {
		if err == nil {
			err = errMissing
		}
		return seg, &fieldErr{field: "endTime", err: err}
	}
	seg.EndTime = end
	if due, found, err := rec.instant(aliasDueTime, loc); err == nil && found {
		seg.DueTime = due
	}
	if minutes, found, err := rec.integer(aliasMinutes); err == nil && found {
		seg.Minutes = minutes
	} else {
		seg.Minutes = int(seg.Span().Round(time.Minute) / time.Minute)
	}
	return seg, nil
}

func normalizeWarning(item any, loc *time.Location) (schedule.Warning, *fieldErr) {
	rec, ok := asRecord(item)
	if !ok {
		return schedule.Warning{}, &fieldErr{field: "", err: fmt.Errorf("expected object, got %T", item)}
	}
	w := schedule.Warning{
		Level:      schedule.ParseLevel(rec.str(aliasLevel)),
		MonthLabel: rec.str(aliasMonthLabel),
		BillNo:     rec.str(aliasBillNo),
		DetailID:   rec.str(aliasDetailID),
		LineNo:     rec.str(aliasLineNo),
		ProductID:  rec.str(aliasProductID),
		Message:    rec.str(aliasMessage),
	}
	if due, found, err := rec.instant(aliasDueTime, loc); err == nil && found {
		w.DueTime = due
	}
	return w, nil
}

func normalizeDetail(item any, index int, loc *time.Location) (schedule.QueueItem, *fieldErr) {
	rec, ok := asRecord(item)
	if !ok {
		// A bare identifier list is also accepted.
		if id, isScalar := asString(item); isScalar && strings.TrimSpace(id) != "" {
			return schedule.QueueItem{DetailID: strings.TrimSpace(id), Position: index}, nil
		}
		return schedule.QueueItem{}, &fieldErr{field: "", err: fmt.Errorf("expected object, got %T", item)}
	}
	d := schedule.QueueItem{
		DetailID:  rec.str(aliasDetailID),
		Position:  index,
		BillNo:    rec.str(aliasBillNo),
		LineNo:    rec.str(aliasLineNo),
		ProductID: rec.str(aliasProductID),
		Label:     rec.str(aliasLabel),
	}
	if d.DetailID == "" {
		return d, &fieldErr{field: "detailId", err: errMissing}
	}
	if due, found, err := rec.instant(aliasDueTime, loc); err == nil && found {
		d.DueTime = due
	}
	return d, nil
}
