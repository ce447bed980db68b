// Package apsclient talks to the APS backend's schedule endpoints and turns
// their loosely-cased JSON into the canonical schedule model. Normalization
// happens here once; nothing downstream inspects wire field names.
package apsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/apsboard/internal/schedule"
)

const (
	monthsPath = "/schedule/months"
	runPath    = "/schedule/run"

	// RequestIDHeader correlates a run request with backend logs.
	RequestIDHeader = "X-Request-ID"

	defaultTimeout  = 30 * time.Second
	maxErrorBodyLen = 4 << 10
)

// Transport performs HTTP requests. Session headers and base-URL resolution
// belong to whoever supplies it.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues month-index and schedule-run requests.
type Client struct {
	baseURL   *url.URL
	transport Transport
	location  *time.Location
	newID     func() string
}

// Option customizes Client construction.
type Option func(*Client)

// WithTransport overrides the default http.Client.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithLocation sets the zone used for wire timestamps without an offset.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithRequestIDs overrides the request id generator.
func WithRequestIDs(gen func() string) Option {
	return func(c *Client) {
		if gen != nil {
			c.newID = gen
		}
	}
}

// New builds a client rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("apsclient: base url is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("apsclient: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("apsclient: base url %q must include scheme and host", trimmed)
	}
	c := &Client{
		baseURL:   u,
		transport: &http.Client{Timeout: defaultTimeout},
		location:  time.Local,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Location returns the zone used for wire timestamps.
func (c *Client) Location() *time.Location {
	return c.location
}

// Months fetches the month index.
func (c *Client) Months(ctx context.Context, includeAll bool) ([]schedule.MonthBucket, error) {
	u := c.endpoint(monthsPath)
	q := u.Query()
	q.Set("includeAll", strconv.FormatBool(includeAll))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("apsclient: create months request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req, "months")
	if err != nil {
		return nil, err
	}
	value, err := decodeValue(body)
	if err != nil {
		return nil, err
	}
	return normalizeMonths(value)
}

type runBody struct {
	FromMc      string   `json:"fromMc"`
	ToMc        string   `json:"toMc"`
	AnchorStart string   `json:"anchorStart"`
	IncludeAll  bool     `json:"includeAll"`
	DetailOrder []string `json:"detailOrder,omitempty"`
}

// Run asks the backend to compute a schedule.
func (c *Client) Run(ctx context.Context, request schedule.RunRequest) (schedule.RunResult, error) {
	payload := runBody{
		FromMc:      request.FromMonth,
		ToMc:        request.ToMonth,
		IncludeAll:  request.IncludeAll,
		DetailOrder: request.DetailOrder,
	}
	if !request.AnchorStart.IsZero() {
		payload.AnchorStart = request.AnchorStart.In(c.location).Format(time.RFC3339)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return schedule.RunResult{}, fmt.Errorf("apsclient: encode run request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(runPath).String(), bytes.NewReader(data))
	if err != nil {
		return schedule.RunResult{}, fmt.Errorf("apsclient: create run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, c.newID())
	body, err := c.do(req, "run")
	if err != nil {
		return schedule.RunResult{}, err
	}
	value, err := decodeValue(body)
	if err != nil {
		return schedule.RunResult{}, err
	}
	return normalizeRun(value, request, c.location)
}

func (c *Client) endpoint(path string) *url.URL {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = ""
	return &u
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.transport.Do(req)
	if err != nil {
		return nil, &schedule.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return nil, &schedule.ServerError{Status: resp.StatusCode, Body: string(snippet)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &schedule.NetworkError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// HeaderTransport adds static headers (for example a session token) to every
// request before delegating to Base.
type HeaderTransport struct {
	Base    Transport
	Headers map[string]string
}

// Do implements Transport.
func (t HeaderTransport) Do(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultClient
	}
	if len(t.Headers) == 0 {
		return base.Do(req)
	}
	clone := req.Clone(req.Context())
	for key, value := range t.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		clone.Header.Set(key, value)
	}
	return base.Do(clone)
}
