package monthindex

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingrea/apsboard/internal/kvstore"
	"github.com/kingrea/apsboard/internal/schedule"
)

type stubFetcher struct {
	mu      sync.Mutex
	calls   map[bool]int
	buckets []schedule.MonthBucket
	err     error
}

func (s *stubFetcher) Months(_ context.Context, includeAll bool) ([]schedule.MonthBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[bool]int{}
	}
	s.calls[includeAll]++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]schedule.MonthBucket, len(s.buckets))
	copy(out, s.buckets)
	return out, nil
}

func (s *stubFetcher) set(buckets []schedule.MonthBucket, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = buckets
	s.err = err
}

var december = []schedule.MonthBucket{{Label: "2025年12月", YMKey: 202512}}

func TestLoadMemoizesPerFlag(t *testing.T) {
	fetcher := &stubFetcher{buckets: december}
	cache := New(fetcher)
	first := cache.Load(context.Background(), false)
	if first.Status != StatusFresh || len(first.Buckets) != 1 {
		t.Fatalf("unexpected first snapshot %+v", first)
	}
	second := cache.Load(context.Background(), false)
	if second.Status != StatusCached {
		t.Fatalf("expected cached status, got %s", second.Status)
	}
	cache.Load(context.Background(), true)
	if fetcher.calls[false] != 1 || fetcher.calls[true] != 1 {
		t.Fatalf("expected one fetch per flag, got %v", fetcher.calls)
	}
}

func TestRefreshReplacesAtomically(t *testing.T) {
	fetcher := &stubFetcher{buckets: december}
	cache := New(fetcher)
	snap := cache.Load(context.Background(), false)
	snap.Buckets[0].Label = "mutated"
	fetcher.set([]schedule.MonthBucket{
		{Label: "2025年12月", YMKey: 202512},
		{Label: "2026年1月", YMKey: 202601},
	}, nil)
	refreshed := cache.Refresh(context.Background(), false)
	if refreshed.Status != StatusFresh || len(refreshed.Buckets) != 2 {
		t.Fatalf("unexpected refreshed snapshot %+v", refreshed)
	}
	peek, ok := cache.Peek(false)
	if !ok || len(peek) != 2 || peek[0].Label != "2025年12月" {
		t.Fatalf("callers must not alias the memo, got %+v", peek)
	}
}

func TestFailureFallsBackToLastGood(t *testing.T) {
	fetcher := &stubFetcher{buckets: december}
	cache := New(fetcher)
	cache.Load(context.Background(), false)
	boom := errors.New("offline")
	fetcher.set(nil, boom)
	snap := cache.Refresh(context.Background(), false)
	if snap.Status != StatusStale {
		t.Fatalf("expected stale status, got %s", snap.Status)
	}
	if !errors.Is(snap.Err, boom) {
		t.Fatalf("expected failure to be surfaced, got %v", snap.Err)
	}
	if len(snap.Buckets) != 1 || snap.Buckets[0].YMKey != 202512 {
		t.Fatalf("expected last good list, got %+v", snap.Buckets)
	}
	again := cache.Load(context.Background(), false)
	if again.Err != nil || again.Status != StatusCached {
		t.Fatalf("memo hit should not re-report the failure, got %+v", again)
	}
}

func TestFailureWithoutCacheIsEmpty(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("offline")}
	snap := New(fetcher).Load(context.Background(), true)
	if snap.Status != StatusEmpty || len(snap.Buckets) != 0 || snap.Err == nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !snap.Degraded() {
		t.Fatalf("empty snapshot should be degraded")
	}
}

func TestColdStartUsesPersistedList(t *testing.T) {
	store := kvstore.NewMemory()
	fixed := time.Date(2025, 11, 30, 9, 0, 0, 0, time.UTC)
	warm := New(&stubFetcher{buckets: december}, WithStore(store), WithClock(func() time.Time { return fixed }))
	warm.Load(context.Background(), true)

	cold := New(&stubFetcher{err: errors.New("offline")}, WithStore(store))
	snap := cold.Load(context.Background(), true)
	if snap.Status != StatusStale {
		t.Fatalf("expected stale snapshot from store, got %s", snap.Status)
	}
	if len(snap.Buckets) != 1 || snap.Buckets[0].Label != "2025年12月" {
		t.Fatalf("unexpected persisted buckets %+v", snap.Buckets)
	}
	if !snap.FetchedAt.Equal(fixed) {
		t.Fatalf("expected persisted timestamp %s, got %s", fixed, snap.FetchedAt)
	}
	if other := cold.Load(context.Background(), false); other.Status != StatusEmpty {
		t.Fatalf("other flag has nothing persisted, got %s", other.Status)
	}
}

type brokenStore struct {
	*kvstore.Memory
}

func (brokenStore) Write(string, []byte) error {
	return errors.New("disk full")
}

func TestPersistFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	cache := New(&stubFetcher{buckets: december},
		WithStore(brokenStore{kvstore.NewMemory()}),
		WithLogger(zerolog.New(&buf)))
	snap := cache.Load(context.Background(), false)
	if snap.Status != StatusFresh || snap.Err != nil {
		t.Fatalf("a persist failure must not fail the fetch, got %s (%v)", snap.Status, snap.Err)
	}
	out := buf.String()
	if !strings.Contains(out, "month index not persisted") || !strings.Contains(out, "disk full") {
		t.Fatalf("expected a persist warning, got %q", out)
	}
}
