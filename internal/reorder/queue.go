// Package reorder holds the operator's detail queue and the gesture state
// machine used to change it. Nothing here blocks or performs I/O.
package reorder

import (
	"strings"

	"github.com/kingrea/apsboard/internal/schedule"
)

// Queue is the client-side priority order of pending details.
type Queue struct {
	items []schedule.QueueItem
}

// NewQueue copies items into a queue and renumbers positions.
func NewQueue(items []schedule.QueueItem) *Queue {
	q := &Queue{}
	q.set(items)
	return q
}

// Len returns the number of items.
func (q *Queue) Len() int { return len(q.items) }

// Snapshot returns a copy of the items in order.
func (q *Queue) Snapshot() []schedule.QueueItem {
	return append([]schedule.QueueItem(nil), q.items...)
}

// Order returns the detail identifiers in queue order.
func (q *Queue) Order() []string {
	order := make([]string, len(q.items))
	for i, item := range q.items {
		order[i] = item.DetailID
	}
	return order
}

// Index returns the position of id, or -1.
func (q *Queue) Index(id string) int {
	for i, item := range q.items {
		if item.DetailID == id {
			return i
		}
	}
	return -1
}

// Move relocates the item at from to index to, keeping every other relative
// order. It reports whether the order changed.
func (q *Queue) Move(from, to int) bool {
	n := len(q.items)
	if from < 0 || from >= n || to < 0 || to >= n || from == to {
		return false
	}
	item := q.items[from]
	if from < to {
		copy(q.items[from:to], q.items[from+1:to+1])
	} else {
		copy(q.items[to+1:from+1], q.items[to:from])
	}
	q.items[to] = item
	q.renumber()
	return true
}

// Resync replaces the queue with the server's authoritative order. An empty
// list leaves the queue as it is.
func (q *Queue) Resync(details []schedule.QueueItem) bool {
	if len(details) == 0 {
		return false
	}
	if sameOrder(q.items, details) {
		merged := make([]schedule.QueueItem, len(details))
		for i, d := range details {
			merged[i] = mergeItem(q.items[i], d)
		}
		q.set(merged)
		return false
	}
	previous := make(map[string]schedule.QueueItem, len(q.items))
	for _, item := range q.items {
		previous[item.DetailID] = item
	}
	merged := make([]schedule.QueueItem, 0, len(details))
	for _, d := range details {
		if strings.TrimSpace(d.DetailID) == "" {
			continue
		}
		merged = append(merged, mergeItem(previous[d.DetailID], d))
	}
	q.set(merged)
	return true
}

func (q *Queue) set(items []schedule.QueueItem) {
	q.items = append(q.items[:0:0], items...)
	q.renumber()
}

func (q *Queue) renumber() {
	for i := range q.items {
		q.items[i].Position = i
	}
}

func sameOrder(a, b []schedule.QueueItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].DetailID != b[i].DetailID {
			return false
		}
	}
	return true
}

// mergeItem prefers fresh fields from the server and keeps known ones it omits.
func mergeItem(old, fresh schedule.QueueItem) schedule.QueueItem {
	out := fresh
	if out.BillNo == "" {
		out.BillNo = old.BillNo
	}
	if out.LineNo == "" {
		out.LineNo = old.LineNo
	}
	if out.ProductID == "" {
		out.ProductID = old.ProductID
	}
	if out.DueTime.IsZero() {
		out.DueTime = old.DueTime
	}
	if out.Label == "" {
		out.Label = old.Label
	}
	return out
}
