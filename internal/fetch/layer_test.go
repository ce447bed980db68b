package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kingrea/apsboard/internal/schedule"
)

type runnerFunc func(ctx context.Context, req schedule.RunRequest) (schedule.RunResult, error)

func (f runnerFunc) Run(ctx context.Context, req schedule.RunRequest) (schedule.RunResult, error) {
	return f(ctx, req)
}

func resultFor(req schedule.RunRequest, detail string) schedule.RunResult {
	return schedule.RunResult{
		FromMonth: req.FromMonth,
		ToMonth:   req.ToMonth,
		Segments:  []schedule.Segment{{DetailID: detail, MachineIndex: 1}},
	}
}

func TestLaterRunWinsRegardlessOfArrival(t *testing.T) {
	for _, lateFirst := range []bool{true, false} {
		runner := runnerFunc(func(_ context.Context, req schedule.RunRequest) (schedule.RunResult, error) {
			return resultFor(req, req.DetailOrder[0]), nil
		})
		layer := New(runner)
		first := layer.Begin(schedule.RunRequest{DetailOrder: []string{"old"}})
		second := layer.Begin(schedule.RunRequest{DetailOrder: []string{"new"}})
		a := layer.Exec(context.Background(), first)
		b := layer.Exec(context.Background(), second)

		order := []Completion{a, b}
		if lateFirst {
			order = []Completion{b, a}
		}
		var applied int
		for _, c := range order {
			_, err := layer.Complete(c)
			switch {
			case err == nil:
				applied++
			case !errors.Is(err, schedule.ErrStaleResponse):
				t.Fatalf("unexpected error %v", err)
			}
		}
		if applied != 1 {
			t.Fatalf("expected exactly one applied completion, got %d", applied)
		}
		current, ok := layer.Current()
		if !ok || current.Segments[0].DetailID != "new" {
			t.Fatalf("lateFirst=%v: expected later run to be current, got %+v", lateFirst, current)
		}
		if layer.Status() != StatusReady {
			t.Fatalf("expected ready, got %s", layer.Status())
		}
	}
}

func TestBeginCancelsPreviousContext(t *testing.T) {
	started := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, req schedule.RunRequest) (schedule.RunResult, error) {
		if req.FromMonth == "slow" {
			close(started)
			<-ctx.Done()
			return schedule.RunResult{}, &schedule.NetworkError{Op: "run", Err: ctx.Err()}
		}
		return resultFor(req, "fast"), nil
	})
	layer := New(runner)
	slow := layer.Begin(schedule.RunRequest{FromMonth: "slow"})
	done := make(chan Completion, 1)
	go func() { done <- layer.Exec(context.Background(), slow) }()
	<-started

	fast := layer.Begin(schedule.RunRequest{FromMonth: "fast"})
	var stale Completion
	select {
	case stale = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("superseded run was not cancelled")
	}
	if !errors.Is(stale.Err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", stale.Err)
	}
	if _, err := layer.Complete(stale); !errors.Is(err, schedule.ErrStaleResponse) {
		t.Fatalf("expected stale discard, got %v", err)
	}
	if layer.Status() != StatusLoading {
		t.Fatalf("stale completion must not change status, got %s", layer.Status())
	}
	if _, err := layer.Complete(layer.Exec(context.Background(), fast)); err != nil {
		t.Fatalf("complete fast: %v", err)
	}
}

func TestServerErrorKeepsCurrentAndOffersRetry(t *testing.T) {
	fail := false
	runner := runnerFunc(func(_ context.Context, req schedule.RunRequest) (schedule.RunResult, error) {
		if fail {
			return schedule.RunResult{}, &schedule.ServerError{Status: 500, Body: "boom"}
		}
		return resultFor(req, "D1"), nil
	})
	layer := New(runner)
	if _, err := layer.Run(context.Background(), schedule.RunRequest{FromMonth: "2025年12月"}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	fail = true
	retryReq := schedule.RunRequest{FromMonth: "2025年12月", DetailOrder: []string{"D3", "D1"}}
	outcome, err := layer.Run(context.Background(), retryReq)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if outcome.Status != StatusFailed || !schedule.Retryable(outcome.Err) {
		t.Fatalf("expected retryable failure, got %+v", outcome)
	}
	if current, _ := layer.Current(); len(current.Segments) != 1 || current.Segments[0].DetailID != "D1" {
		t.Fatalf("server error must keep the current result, got %+v", current)
	}
	req, ok := layer.Retry()
	if !ok || len(req.DetailOrder) != 2 || req.DetailOrder[0] != "D3" {
		t.Fatalf("retry should return last request, got %+v", req)
	}
	req.DetailOrder[0] = "mutated"
	if again, _ := layer.Retry(); again.DetailOrder[0] != "D3" {
		t.Fatalf("retry request must be a copy")
	}
}

func TestDecodeErrorYieldsEmptyResultWithNote(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, req schedule.RunRequest) (schedule.RunResult, error) {
		if req.DetailOrder != nil {
			return schedule.RunResult{}, &schedule.DecodeError{Field: "segments[2].endTime", Err: errors.New("bad time")}
		}
		return resultFor(req, "D1"), nil
	})
	layer := New(runner)
	layer.Run(context.Background(), schedule.RunRequest{FromMonth: "2025年11月"})
	outcome, err := layer.Run(context.Background(), schedule.RunRequest{FromMonth: "2025年12月", ToMonth: "2025年12月", DetailOrder: []string{"1"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !outcome.Result.Empty() || outcome.Result.FromMonth != "2025年12月" {
		t.Fatalf("expected empty result for requested months, got %+v", outcome.Result)
	}
	if outcome.Note == "" || layer.Note() == "" {
		t.Fatalf("expected data-quality note")
	}
	if outcome.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", outcome.Status)
	}
}

func TestAbandonRejectsInFlight(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, req schedule.RunRequest) (schedule.RunResult, error) {
		return resultFor(req, "D1"), nil
	})
	layer := New(runner)
	ticket := layer.Begin(schedule.RunRequest{})
	layer.Abandon()
	if layer.Status() != StatusIdle {
		t.Fatalf("expected idle after abandon, got %s", layer.Status())
	}
	if _, err := layer.Complete(layer.Exec(context.Background(), ticket)); !errors.Is(err, schedule.ErrStaleResponse) {
		t.Fatalf("expected stale, got %v", err)
	}
}

func TestExecMeasuresElapsed(t *testing.T) {
	now := time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(250 * time.Millisecond)
		return now
	}
	layer := New(runnerFunc(func(context.Context, schedule.RunRequest) (schedule.RunResult, error) {
		return schedule.RunResult{}, nil
	}), WithClock(clock))
	done := layer.Exec(context.Background(), layer.Begin(schedule.RunRequest{}))
	if done.Elapsed != 250*time.Millisecond {
		t.Fatalf("expected 250ms elapsed, got %s", done.Elapsed)
	}
}
