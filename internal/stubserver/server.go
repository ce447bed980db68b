// Package stubserver is a local stand-in for the scheduling backend. It
// serves the month index and schedule-run endpoints from a fixed order book
// and a greedy packer so the dashboard can be developed without the real
// service. It is not the production scheduling algorithm.
package stubserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kingrea/apsboard/internal/schedule"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

const wireTimeLayout = "2006-01-02T15:04:05"

// Server wraps the HTTP listener and the stub handlers.
type Server struct {
	settings Settings
	catalog  *Catalog
	logger   zerolog.Logger
	clock    func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
	runs      int
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithClock allows tests to control timestamps and the seeded months.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCatalog replaces the seeded order book.
func WithCatalog(c *Catalog) Option {
	return func(s *Server) {
		if c != nil {
			s.catalog = c
		}
	}
}

// NewServer prepares a stub server using the provided settings.
func NewServer(settings Settings, opts ...Option) *Server {
	settings.normalize()
	s := &Server{
		settings: settings,
		logger:   zerolog.Nop(),
		clock:    time.Now,
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.catalog == nil {
		s.catalog = SeedCatalog(s.clock(), settings.Machines, settings.Location)
	}
	return s
}

// Handler returns the chi router serving the stub API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Head("/health", s.handleHealth)
	r.Route("/schedule", func(r chi.Router) {
		r.Get("/months", s.handleMonths)
		r.Post("/run", s.handleRun)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	return r
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("stubserver: server is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("stubserver: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("stubserver: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("stub serve error")
		}
	}()
	s.logger.Info().Str("addr", listener.Addr().String()).Int("machines", len(s.catalog.Machines)).Msg("stub backend listening")
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", w.Header().Get(RequestIDHeader)).
			Dur("elapsed", time.Since(started)).
			Msg("request")
	})
}

type healthResponse struct {
	Status        string `json:"status"`
	Machines      int    `json:"machines"`
	Runs          int    `json:"runs"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := healthResponse{
		Status:   string(s.status),
		Machines: len(s.catalog.Machines),
		Runs:     s.runs,
	}
	if !s.startTime.IsZero() {
		resp.UptimeSeconds = int64(s.clock().Sub(s.startTime).Seconds())
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMonths(w http.ResponseWriter, r *http.Request) {
	includeAll := strings.EqualFold(r.URL.Query().Get("includeAll"), "true")
	rows := s.catalog.Months(includeAll)
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.object(
			"mc", row.Label,
			"mcYm", row.YMKey,
			"orderCount", row.OrderCount,
			"detailCount", row.DetailCount,
		))
	}
	writeJSON(w, http.StatusOK, out)
}

type runRequest struct {
	FromMc      string   `json:"fromMc"`
	ToMc        string   `json:"toMc"`
	AnchorStart string   `json:"anchorStart"`
	IncludeAll  bool     `json:"includeAll"`
	DetailOrder []string `json:"detailOrder"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return
	}
	var req runRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	from, ok := s.catalog.ResolveMonth(req.FromMc)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown month %q", req.FromMc)})
		return
	}
	to := from
	if strings.TrimSpace(req.ToMc) != "" {
		if to, ok = s.catalog.ResolveMonth(req.ToMc); !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown month %q", req.ToMc)})
			return
		}
	}
	if to < from {
		from, to = to, from
	}
	anchor := s.catalog.MonthStart(from)
	if strings.TrimSpace(req.AnchorStart) != "" {
		parsed, err := time.Parse(time.RFC3339, req.AnchorStart)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "anchorStart must be RFC3339"})
			return
		}
		anchor = parsed.In(s.settings.Location)
	}

	details := ApplyOrder(s.catalog.Select(from, to, req.IncludeAll), req.DetailOrder)
	plan := Pack(details, s.catalog.Machines, anchor)
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	s.logger.Info().
		Int("from", from).
		Int("to", to).
		Int("details", len(details)).
		Int("segments", len(plan.Segments)).
		Int("warnings", len(plan.Warnings)).
		Strs("detail_order", req.DetailOrder).
		Msg("schedule run")

	writeJSON(w, http.StatusOK, s.runResponse(MonthLabel(from), MonthLabel(to), anchor, plan))
}

func (s *Server) runResponse(from, to string, anchor time.Time, plan Plan) map[string]any {
	segments := make([]map[string]any, 0, len(plan.Segments))
	for _, seg := range plan.Segments {
		segments = append(segments, s.object(
			"monthLabel", seg.MonthLabel,
			"mcYm", seg.YMKey,
			"billNo", seg.BillNo,
			"detailId", seg.DetailID,
			"lineNo", seg.LineNo,
			"productId", seg.ProductID,
			"dueTime", s.formatTime(seg.DueTime),
			"processNo", seg.ProcessNo,
			"processName", seg.ProcessName,
			"machineIndex", seg.MachineIndex,
			"startTime", s.formatTime(seg.StartTime),
			"endTime", s.formatTime(seg.EndTime),
			"minutes", seg.Minutes,
		))
	}
	warnings := make([]map[string]any, 0, len(plan.Warnings))
	for _, warn := range plan.Warnings {
		warnings = append(warnings, s.object(
			"level", string(warn.Level),
			"monthLabel", warn.MonthLabel,
			"billNo", warn.BillNo,
			"detailId", warn.DetailID,
			"lineNo", warn.LineNo,
			"productId", warn.ProductID,
			"dueTime", s.formatTime(warn.DueTime),
			"message", warn.Message,
		))
	}
	details := make([]map[string]any, 0, len(plan.Order))
	for _, d := range plan.Order {
		details = append(details, s.object(
			"detailId", d.ID,
			"billNo", d.BillNo,
			"lineNo", d.LineNo,
			"productId", d.ProductID,
			"dueTime", s.formatTime(d.DueTime),
		))
	}
	return s.object(
		"fromMc", from,
		"toMc", to,
		"anchorStart", s.formatTime(anchor),
		"segmentCount", len(segments),
		"warningCount", len(warnings),
		"segments", segments,
		"warnings", warnings,
		"details", details,
	)
}

// object builds a JSON object from key/value pairs, renaming keys to upper
// camel case when the server is configured to.
func (s *Server) object(pairs ...any) map[string]any {
	out := make(map[string]any, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, _ := pairs[i].(string)
		if s.settings.UpperCamel {
			key = upperCamel(key)
		}
		out[key] = pairs[i+1]
	}
	return out
}

func (s *Server) formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	if s.settings.UpperCamel {
		return t.In(s.settings.Location).Format(wireTimeLayout)
	}
	return t.Format(time.RFC3339)
}

func upperCamel(key string) string {
	if key == "" {
		return key
	}
	runes := []rune(key)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// RunOnce packs a request without HTTP. The CLI uses it for offline previews.
func (s *Server) RunOnce(req schedule.RunRequest) (Plan, error) {
	from, ok := s.catalog.ResolveMonth(req.FromMonth)
	if !ok {
		return Plan{}, fmt.Errorf("stubserver: unknown month %q", req.FromMonth)
	}
	to, ok := s.catalog.ResolveMonth(req.ToMonth)
	if !ok {
		to = from
	}
	if to < from {
		from, to = to, from
	}
	anchor := req.AnchorStart
	if anchor.IsZero() {
		anchor = s.catalog.MonthStart(from)
	}
	details := ApplyOrder(s.catalog.Select(from, to, req.IncludeAll), req.DetailOrder)
	return Pack(details, s.catalog.Machines, anchor), nil
}
