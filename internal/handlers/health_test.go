package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	domain "github.com/forkcast/api/internal/domain"
	"github.com/forkcast/api/internal/services"
)

type stubSystemService struct {
	report services.HealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.HealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

func TestHealthzReportsBuildAndUptime(t *testing.T) {
	started := time.Date(2025, 4, 2, 11, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "prod", StartedAt: started}),
		WithHealthClock(func() time.Time { return started.Add(42*time.Second + 300*time.Millisecond) }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != domain.HealthStatusOK || body.Version != "1.0.0" || body.CommitSHA != "abc123" || body.Environment != "prod" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Uptime != "42s" {
		t.Fatalf("expected uptime 42s, got %s", body.Uptime)
	}
}

func TestReadyzStatusCodes(t *testing.T) {
	now := time.Date(2025, 4, 2, 11, 5, 0, 0, time.UTC)
	cases := []struct {
		name    string
		svc     services.SystemService
		code    int
		status  string
		details []string
	}{
		{
			name: "all ok",
			svc: &stubSystemService{report: services.HealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks: map[string]domain.DependencyHealth{
					"firestore":              {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
					"decision_store_breaker": {Status: domain.HealthStatusOK, Detail: "closed"},
				},
			}},
			code:   http.StatusOK,
			status: domain.HealthStatusOK,
		},
		{
			name: "breaker open and pubsub degraded",
			svc: &stubSystemService{report: services.HealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.DependencyHealth{
					"pubsub":                 {Status: domain.HealthStatusDegraded, Error: "topic missing"},
					"decision_store_breaker": {Status: domain.HealthStatusError, Detail: "open", Error: "decision store circuit open"},
					"firestore":              {Status: domain.HealthStatusOK},
				},
			}},
			code:    http.StatusServiceUnavailable,
			status:  domain.HealthStatusError,
			details: []string{"decision_store_breaker: decision store circuit open", "pubsub: topic missing"},
		},
		{
			name:    "report error",
			svc:     &stubSystemService{err: errors.New("collect failed")},
			code:    http.StatusServiceUnavailable,
			status:  domain.HealthStatusError,
			details: []string{"collect failed"},
		},
		{
			name:    "no service",
			code:    http.StatusServiceUnavailable,
			status:  domain.HealthStatusError,
			details: []string{"system service not configured"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := []HealthOption{WithHealthClock(func() time.Time { return now })}
			if tc.svc != nil {
				opts = append(opts, WithHealthSystemService(tc.svc))
			}
			rr := httptest.NewRecorder()
			NewHealthHandlers(opts...).Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rr.Code)
			}
			var body healthResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tc.status {
				t.Fatalf("expected status %s, got %s", tc.status, body.Status)
			}
			if !slices.Equal(body.Details, tc.details) {
				t.Fatalf("expected details %v, got %v", tc.details, body.Details)
			}
			if body.Timestamp == "" {
				t.Fatalf("expected timestamp")
			}
		})
	}
}

func TestReadyzReportsLatency(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{report: services.HealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.DependencyHealth{"redis": {Status: domain.HealthStatusOK, Latency: 7 * time.Millisecond}},
	}}))
	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := body.Checks["redis"].LatencyMS; got != 7 {
		t.Fatalf("expected latency 7ms, got %d", got)
	}
}
