package apsclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/apsboard/internal/schedule"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(srv.URL, WithLocation(time.UTC), WithRequestIDs(func() string { return "req-1" }))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestMonthsAcceptsBothCasings(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if r.URL.Path != "/schedule/months" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `[
			{"mc": "2025年11月", "mcYm": 202511, "orderCount": 4},
			{"Mc": "2025年12月", "McYm": "202512", "DetailCount": 9}
		]`)
	})
	months, err := client.Months(context.Background(), true)
	if err != nil {
		t.Fatalf("months: %v", err)
	}
	if gotQuery != "includeAll=true" {
		t.Fatalf("query = %q, want includeAll=true", gotQuery)
	}
	if len(months) != 2 {
		t.Fatalf("expected 2 months, got %d", len(months))
	}
	if months[0].Label != "2025年11月" || months[0].YMKey != 202511 {
		t.Fatalf("unexpected first month %+v", months[0])
	}
	if months[0].OrderCount == nil || *months[0].OrderCount != 4 {
		t.Fatalf("expected order count 4")
	}
	if months[1].YMKey != 202512 || months[1].DetailCount == nil || *months[1].DetailCount != 9 {
		t.Fatalf("unexpected second month %+v", months[1])
	}
}

func TestMonthsDerivesKeyFromLabel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data": [{"mc": "2026年3月"}]}`)
	})
	months, err := client.Months(context.Background(), false)
	if err != nil {
		t.Fatalf("months: %v", err)
	}
	if len(months) != 1 || months[0].YMKey != 202603 {
		t.Fatalf("expected key 202603, got %+v", months)
	}
}

func TestRunNormalizesMixedCasing(t *testing.T) {
	var body map[string]any
	var requestID string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requestID = r.Header.Get(RequestIDHeader)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		io.WriteString(w, `{
			"FromMc": "2025年12月", "toMc": "2025年12月",
			"SegmentCount": 2, "warningCount": 1,
			"Segments": [
				{"DetailId": 3, "BillNo": "SO-1", "LineNo": 1, "MachineIndex": 2,
				 "StartTime": "2025-12-01T08:00", "EndTime": "2025-12-01T10:00", "Minutes": 120},
				{"detailId": "4", "billNo": "SO-2", "lineNo": "1", "machineIndex": 1,
				 "startTime": "2025-12-01T09:00:00Z", "endTime": "2025-12-01T09:30:00Z"}
			],
			"warnings": [
				{"Level": "warn", "BillNo": "SO-1", "DetailId": 3, "LineNo": 1, "Message": "late"}
			],
			"details": [{"detailId": 4}, {"DetailId": 3, "BillNo": "SO-1"}]
		}`)
	})
	anchor := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	result, err := client.Run(context.Background(), schedule.RunRequest{
		FromMonth:   "2025年12月",
		ToMonth:     "2025年12月",
		AnchorStart: anchor,
		IncludeAll:  true,
		DetailOrder: []string{"4", "3"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if requestID != "req-1" {
		t.Fatalf("expected request id header, got %q", requestID)
	}
	if body["fromMc"] != "2025年12月" || body["includeAll"] != true {
		t.Fatalf("unexpected request body %v", body)
	}
	order, ok := body["detailOrder"].([]any)
	if !ok || len(order) != 2 || order[0] != "4" {
		t.Fatalf("unexpected detailOrder %v", body["detailOrder"])
	}
	if body["anchorStart"] != "2025-12-01T00:00:00Z" {
		t.Fatalf("unexpected anchorStart %v", body["anchorStart"])
	}
	if len(result.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(result.Segments))
	}
	first := result.Segments[0]
	if first.DetailID != "3" || first.LineNo != "1" || first.MachineIndex != 2 || first.Minutes != 120 {
		t.Fatalf("unexpected first segment %+v", first)
	}
	if !first.StartTime.Equal(time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", first.StartTime)
	}
	if result.Segments[1].Minutes != 30 {
		t.Fatalf("missing minutes should derive from timestamps, got %d", result.Segments[1].Minutes)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Level != schedule.LevelWarn {
		t.Fatalf("unexpected warnings %+v", result.Warnings)
	}
	if result.Warnings[0].Key() != first.Key() {
		t.Fatalf("warning key %+v should match segment key %+v", result.Warnings[0].Key(), first.Key())
	}
	if len(result.Details) != 2 || result.Details[0].DetailID != "4" || result.Details[1].Position != 1 {
		t.Fatalf("unexpected details %+v", result.Details)
	}
}

func TestRunClassifiesErrors(t *testing.T) {
	t.Run("server", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "scheduler busy", http.StatusServiceUnavailable)
		})
		_, err := client.Run(context.Background(), schedule.RunRequest{})
		var srv *schedule.ServerError
		if !errors.As(err, &srv) {
			t.Fatalf("expected ServerError, got %v", err)
		}
		if srv.Status != http.StatusServiceUnavailable || !strings.Contains(srv.Body, "busy") {
			t.Fatalf("unexpected server error %+v", srv)
		}
	})
	t.Run("decode", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"segments": [{"machineIndex": 1, "startTime": "soon"}]}`)
		})
		_, err := client.Run(context.Background(), schedule.RunRequest{})
		var dec *schedule.DecodeError
		if !errors.As(err, &dec) {
			t.Fatalf("expected DecodeError, got %v", err)
		}
		if dec.Field != "segments[0].startTime" {
			t.Fatalf("unexpected field %q", dec.Field)
		}
	})
	t.Run("missing segments with count", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"segmentCount": 3}`)
		})
		_, err := client.Run(context.Background(), schedule.RunRequest{})
		var dec *schedule.DecodeError
		if !errors.As(err, &dec) {
			t.Fatalf("expected DecodeError, got %v", err)
		}
	})
	t.Run("network", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := srv.URL
		srv.Close()
		client, err := New(url)
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		_, err = client.Months(context.Background(), false)
		var netErr *schedule.NetworkError
		if !errors.As(err, &netErr) {
			t.Fatalf("expected NetworkError, got %v", err)
		}
	})
}

func TestHeaderTransportAddsHeaders(t *testing.T) {
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("Authorization")
		io.WriteString(w, `[]`)
	}))
	t.Cleanup(srv.Close)
	client, err := New(srv.URL, WithTransport(HeaderTransport{Headers: map[string]string{"Authorization": "Bearer abc"}}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Months(context.Background(), false); err != nil {
		t.Fatalf("months: %v", err)
	}
	if token != "Bearer abc" {
		t.Fatalf("expected auth header, got %q", token)
	}
}

func TestNewRejectsRelativeURL(t *testing.T) {
	if _, err := New("schedule.local"); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
}
