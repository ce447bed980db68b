// Package logbook keeps the dashboard's journey log: one line per month
// selection, run, reorder or failure, tailed by the log panel.
package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/apsboard/internal/schedule"
)

const timeLayout = time.RFC3339

// Entry is one parsed journey line.
type Entry struct {
	Time    time.Time
	Level   schedule.Level
	Message string
}

// String renders the entry the way it is stored.
func (e Entry) String() string {
	return fmt.Sprintf("%s %-5s %s", e.Time.UTC().Format(timeLayout), string(e.Level), e.Message)
}

// ParseEntry reads a stored line. Lines written by something else come back
// as INFO with the raw text.
func ParseEntry(line string) Entry {
	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 2 {
		if ts, err := time.Parse(timeLayout, fields[0]); err == nil {
			rest := strings.TrimLeft(fields[1], " ")
			level, message, _ := strings.Cut(rest, " ")
			return Entry{Time: ts, Level: schedule.ParseLevel(level), Message: strings.TrimSpace(message)}
		}
	}
	return Entry{Level: schedule.LevelInfo, Message: line}
}

// Logbook appends entries to a text file under .apsboard/logs.
type Logbook struct {
	path  string
	clock func() time.Time
	mu    sync.Mutex
}

// Option customizes a Logbook.
type Option func(*Logbook)

// WithClock stamps entries with clock instead of time.Now.
func WithClock(clock func() time.Time) Option {
	return func(l *Logbook) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// New creates the parent directory of path and returns a logbook over it.
func New(path string, opts ...Option) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logbook: ensure dir: %w", err)
	}
	l := &Logbook{path: path, clock: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Record writes one entry. Embedded newlines are folded so every entry stays
// on a single line.
func (l *Logbook) Record(level schedule.Level, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := Entry{Time: l.clock(), Level: level, Message: strings.Join(strings.Fields(message), " ")}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(entry.String() + "\n")
}

// Recent returns up to n of the newest entries, oldest first, and the number
// of entries in the file.
func (l *Logbook) Recent(n int) ([]Entry, int) {
	if l == nil || n <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	ring := make([]string, 0, n)
	total := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		total++
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if total == 0 {
		return nil, 0
	}
	entries := make([]Entry, len(ring))
	for i, line := range ring {
		entries[i] = ParseEntry(line)
	}
	return entries, total
}

func (l *Logbook) Info(format string, args ...any) {
	l.Record(schedule.LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logbook) Warn(format string, args ...any) {
	l.Record(schedule.LevelWarn, fmt.Sprintf(format, args...))
}

func (l *Logbook) Error(format string, args ...any) {
	l.Record(schedule.LevelError, fmt.Sprintf(format, args...))
}
