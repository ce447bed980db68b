// Package fetch owns the current schedule run result. Runs are tracked by a
// monotonically increasing sequence number and only the latest issued run may
// change the current result.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kingrea/apsboard/internal/schedule"
)

// Runner executes a schedule run against the backend.
type Runner interface {
	Run(ctx context.Context, req schedule.RunRequest) (schedule.RunResult, error)
}

// Status is the externally visible state of the layer.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Ticket identifies one issued run.
type Ticket struct {
	Seq     uint64
	Request schedule.RunRequest
	Issued  time.Time

	ctx context.Context
}

// Completion carries a finished run back to the owner of the layer.
type Completion struct {
	Seq     uint64
	Request schedule.RunRequest
	Result  schedule.RunResult
	Err     error
	Elapsed time.Duration
}

// Outcome describes how a completion changed the layer.
type Outcome struct {
	Seq    uint64
	Status Status
	Result schedule.RunResult
	// Note is a data-quality message shown when the payload was unusable.
	Note string
	Err  error
}

// Layer tracks in-flight runs and the current result for one view.
type Layer struct {
	runner Runner
	clock  func() time.Time

	mu        sync.Mutex
	seq       uint64
	cancel    context.CancelFunc
	status    Status
	current   schedule.RunResult
	hasResult bool
	lastReq   *schedule.RunRequest
	lastErr   error
	note      string
}

// Option customizes a Layer.
type Option func(*Layer)

// WithClock allows tests to control elapsed-time measurement.
func WithClock(clock func() time.Time) Option {
	return func(l *Layer) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// New builds a layer that issues runs through runner.
func New(runner Runner, opts ...Option) *Layer {
	l := &Layer{runner: runner, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Begin issues a new sequence number for req. The previous in-flight run, if
// any, loses interest: its context is cancelled and its completion will be
// rejected as stale.
func (l *Layer) Begin(req schedule.RunRequest) Ticket {
	ctx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	l.seq++
	l.cancel = cancel
	l.status = StatusLoading
	clone := req.Clone()
	l.lastReq = &clone
	return Ticket{Seq: l.seq, Request: req.Clone(), Issued: l.clock(), ctx: ctx}
}

// Exec performs the run described by t. It is safe to call from a goroutine;
// it does not touch layer state.
func (l *Layer) Exec(ctx context.Context, t Ticket) Completion {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if t.ctx != nil {
		stop := context.AfterFunc(t.ctx, cancel)
		defer stop()
	}
	done := Completion{Seq: t.Seq, Request: t.Request}
	if l.runner == nil {
		done.Err = fmt.Errorf("fetch: no runner configured")
		return done
	}
	done.Result, done.Err = l.runner.Run(runCtx, t.Request)
	if !t.Issued.IsZero() {
		done.Elapsed = l.clock().Sub(t.Issued)
	}
	return done
}

// Complete applies c when it belongs to the latest issued run. Older
// completions return schedule.ErrStaleResponse and leave state untouched.
func (l *Layer) Complete(c Completion) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c.Seq != l.seq || l.status != StatusLoading {
		return Outcome{Seq: c.Seq}, schedule.ErrStaleResponse
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	var decErr *schedule.DecodeError
	switch {
	case c.Err == nil:
		l.current = c.Result
		l.hasResult = true
		l.status = StatusReady
		l.lastErr = nil
		l.note = ""
	case errors.As(c.Err, &decErr):
		l.current = schedule.EmptyResult(c.Request)
		l.hasResult = true
		l.status = StatusFailed
		l.lastErr = c.Err
		l.note = dataQualityNote(decErr)
	default:
		l.status = StatusFailed
		l.lastErr = c.Err
		l.note = ""
	}
	return Outcome{
		Seq:    c.Seq,
		Status: l.status,
		Result: l.current,
		Note:   l.note,
		Err:    l.lastErr,
	}, nil
}

// Run issues, executes and applies one run synchronously.
func (l *Layer) Run(ctx context.Context, req schedule.RunRequest) (Outcome, error) {
	return l.Complete(l.Exec(ctx, l.Begin(req)))
}

// Abandon drops interest in the in-flight run without issuing a new one.
func (l *Layer) Abandon() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != StatusLoading {
		return
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.seq++
	if l.lastErr != nil {
		l.status = StatusFailed
	} else if l.hasResult {
		l.status = StatusReady
	} else {
		l.status = StatusIdle
	}
}

// Retry returns the last issued request so the caller can re-issue it. No
// retry is ever attempted automatically.
func (l *Layer) Retry() (schedule.RunRequest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastReq == nil {
		return schedule.RunRequest{}, false
	}
	return l.lastReq.Clone(), true
}

// Status returns the current state.
func (l *Layer) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Current returns the current result, if any run has been applied.
func (l *Layer) Current() (schedule.RunResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current, l.hasResult
}

// Err returns the error of the last applied run.
func (l *Layer) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Note returns the data-quality note of the last applied run.
func (l *Layer) Note() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.note
}

// Seq returns the latest issued sequence number.
func (l *Layer) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

func dataQualityNote(err *schedule.DecodeError) string {
	if err.Field == "" {
		return "Schedule response could not be read; showing an empty timeline"
	}
	return fmt.Sprintf("Schedule response field %s could not be read; showing an empty timeline", err.Field)
}
