// Package monthindex memoizes the backend's list of selectable months for the
// lifetime of a dashboard session.
package monthindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/kingrea/apsboard/internal/kvstore"
	"github.com/kingrea/apsboard/internal/schedule"
)

// Status tells callers where a snapshot's buckets came from.
type Status int

const (
	// StatusFresh means the buckets were fetched by this call.
	StatusFresh Status = iota
	// StatusCached means the buckets were served from the session memo.
	StatusCached
	// StatusStale means the fetch failed and the last good list was served.
	StatusStale
	// StatusEmpty means the fetch failed and nothing was available to serve.
	StatusEmpty
)

func (s Status) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusCached:
		return "cached"
	case StatusStale:
		return "stale"
	case StatusEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Fetcher loads the month index from the backend.
type Fetcher interface {
	Months(ctx context.Context, includeAll bool) ([]schedule.MonthBucket, error)
}

// Snapshot is an immutable view of the index returned to callers.
type Snapshot struct {
	Buckets   []schedule.MonthBucket
	Status    Status
	Err       error
	FetchedAt time.Time
}

// Degraded reports whether the snapshot came from a failed fetch.
func (s Snapshot) Degraded() bool {
	return s.Status == StatusStale || s.Status == StatusEmpty
}

type entry struct {
	buckets   []schedule.MonthBucket
	fetchedAt time.Time
}

// Cache memoizes month buckets per includeAll flag.
type Cache struct {
	fetcher Fetcher
	store   kvstore.Store
	clock   func() time.Time
	logger  zerolog.Logger

	mu      sync.RWMutex
	entries map[bool]entry
	group   singleflight.Group
}

// Option customizes Cache construction.
type Option func(*Cache)

// WithStore persists every good list so a cold start can fall back to it.
func WithStore(store kvstore.Store) Option {
	return func(c *Cache) {
		c.store = store
	}
}

// WithLogger receives persistence failures.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New builds a cache over fetcher.
func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		clock:   time.Now,
		logger:  zerolog.Nop(),
		entries: map[bool]entry{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Load returns the memoized list, fetching it on first use.
func (c *Cache) Load(ctx context.Context, includeAll bool) Snapshot {
	c.mu.RLock()
	cached, ok := c.entries[includeAll]
	c.mu.RUnlock()
	if ok {
		return Snapshot{Buckets: cloneBuckets(cached.buckets), Status: StatusCached, FetchedAt: cached.fetchedAt}
	}
	return c.Refresh(ctx, includeAll)
}

// Refresh re-issues the request and swaps the memo on success. Concurrent
// refreshes for the same flag share one request.
func (c *Cache) Refresh(ctx context.Context, includeAll bool) Snapshot {
	v, _, _ := c.group.Do(strconv.FormatBool(includeAll), func() (any, error) {
		return c.refresh(ctx, includeAll), nil
	})
	snap := v.(Snapshot)
	snap.Buckets = cloneBuckets(snap.Buckets)
	return snap
}

func (c *Cache) refresh(ctx context.Context, includeAll bool) Snapshot {
	if c.fetcher == nil {
		return c.fallback(includeAll, fmt.Errorf("monthindex: no fetcher configured"))
	}
	buckets, err := c.fetcher.Months(ctx, includeAll)
	if err != nil {
		return c.fallback(includeAll, err)
	}
	buckets = cloneBuckets(buckets)
	now := c.clock()
	c.mu.Lock()
	c.entries[includeAll] = entry{buckets: buckets, fetchedAt: now}
	c.mu.Unlock()
	if err := c.persist(includeAll, buckets, now); err != nil {
		c.logger.Warn().Err(err).Bool("include_all", includeAll).Msg("month index not persisted")
	}
	return Snapshot{Buckets: buckets, Status: StatusFresh, FetchedAt: now}
}

func (c *Cache) fallback(includeAll bool, cause error) Snapshot {
	c.mu.RLock()
	cached, ok := c.entries[includeAll]
	c.mu.RUnlock()
	if ok {
		return Snapshot{Buckets: cached.buckets, Status: StatusStale, Err: cause, FetchedAt: cached.fetchedAt}
	}
	if persisted, ok := c.restore(includeAll); ok {
		return Snapshot{Buckets: persisted.buckets, Status: StatusStale, Err: cause, FetchedAt: persisted.fetchedAt}
	}
	return Snapshot{Status: StatusEmpty, Err: cause}
}

// Peek returns the memoized list without fetching.
func (c *Cache) Peek(includeAll bool) ([]schedule.MonthBucket, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.entries[includeAll]
	if !ok {
		return nil, false
	}
	return cloneBuckets(cached.buckets), true
}

type persistedIndex struct {
	FetchedAt time.Time         `json:"fetchedAt"`
	Buckets   []persistedBucket `json:"buckets"`
}

type persistedBucket struct {
	Label       string `json:"label"`
	YMKey       int    `json:"ymKey"`
	OrderCount  *int   `json:"orderCount,omitempty"`
	DetailCount *int   `json:"detailCount,omitempty"`
}

func storeKey(includeAll bool) string {
	if includeAll {
		return "months-all"
	}
	return "months-open"
}

func (c *Cache) persist(includeAll bool, buckets []schedule.MonthBucket, at time.Time) error {
	if c.store == nil {
		return nil
	}
	doc := persistedIndex{FetchedAt: at, Buckets: make([]persistedBucket, len(buckets))}
	for i, b := range buckets {
		doc.Buckets[i] = persistedBucket{Label: b.Label, YMKey: b.YMKey, OrderCount: b.OrderCount, DetailCount: b.DetailCount}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("monthindex: encode: %w", err)
	}
	if err := c.store.Write(storeKey(includeAll), data); err != nil {
		return fmt.Errorf("monthindex: write %s: %w", storeKey(includeAll), err)
	}
	return nil
}

func (c *Cache) restore(includeAll bool) (entry, bool) {
	if c.store == nil {
		return entry{}, false
	}
	data, err := c.store.Read(storeKey(includeAll))
	if err != nil {
		return entry{}, false
	}
	var doc persistedIndex
	if err := json.Unmarshal(data, &doc); err != nil {
		return entry{}, false
	}
	buckets := make([]schedule.MonthBucket, len(doc.Buckets))
	for i, b := range doc.Buckets {
		buckets[i] = schedule.MonthBucket{Label: b.Label, YMKey: b.YMKey, OrderCount: b.OrderCount, DetailCount: b.DetailCount}
	}
	return entry{buckets: buckets, fetchedAt: doc.FetchedAt}, true
}

func cloneBuckets(values []schedule.MonthBucket) []schedule.MonthBucket {
	if values == nil {
		return nil
	}
	dup := make([]schedule.MonthBucket, len(values))
	copy(dup, values)
	return dup
}
