package schedule

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStaleResponse marks a run response that was superseded by a later
// request. It is bookkeeping only and never shown to the operator.
var ErrStaleResponse = errors.New("schedule: stale response discarded")

// NetworkError covers unreachable hosts, timeouts and cancelled transports.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("schedule: network error: %v", e.Err)
	}
	return fmt.Sprintf("schedule: %s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-success HTTP status from the backend.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "…"
	}
	if body == "" {
		return fmt.Sprintf("schedule: server returned status %d", e.Status)
	}
	return fmt.Sprintf("schedule: server returned status %d: %s", e.Status, body)
}

// DecodeError reports a response whose shape could not be normalized.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schedule: decode response: %v", e.Err)
	}
	return fmt.Sprintf("schedule: decode response field %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Retryable reports whether err belongs to the user-visible taxonomy that
// offers a manual retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr *NetworkError
	var srvErr *ServerError
	var decErr *DecodeError
	return errors.As(err, &netErr) || errors.As(err, &srvErr) || errors.As(err, &decErr)
}

// Describe returns a short operator-facing message for err.
func Describe(err error) string {
	var netErr *NetworkError
	var srvErr *ServerError
	var decErr *DecodeError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &srvErr):
		return fmt.Sprintf("Server error %d", srvErr.Status)
	case errors.As(err, &netErr):
		return "Backend unreachable"
	case errors.As(err, &decErr):
		return "Unexpected response shape"
	default:
		return err.Error()
	}
}
