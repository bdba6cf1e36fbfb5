package handlers

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	domain "github.com/forkcast/api/internal/domain"
	"github.com/forkcast/api/internal/services"
)

// HealthHandlers serves /healthz (process liveness) and /readyz (dependency readiness).
type HealthHandlers struct {
	build  services.BuildInfo
	system services.SystemService
	now    func() time.Time
}

type HealthOption func(*HealthHandlers)

func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) { h.build = info }
}

// WithHealthSystemService sets the readiness source. Without one /readyz always answers 503.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) { h.system = svc }
}

func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	return h
}

type healthResponse struct {
	Status      string                     `json:"status"`
	Version     string                     `json:"version,omitempty"`
	CommitSHA   string                     `json:"commitSha,omitempty"`
	Environment string                     `json:"environment,omitempty"`
	Uptime      string                     `json:"uptime"`
	Timestamp   string                     `json:"timestamp"`
	Checks      map[string]healthCheckBody `json:"checks,omitempty"`
	Details     []string                   `json:"details,omitempty"`
}

type healthCheckBody struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.now().UTC()
	writeJSONResponse(w, http.StatusOK, healthResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      roundedUptime(now.Sub(h.build.StartedAt)),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz answers 200 only when every dependency, including the decision store breaker, reports ok.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.notReady(w, "system service not configured")
		return
	}
	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		h.notReady(w, err.Error())
		return
	}

	body := h.readiness(report)
	status := http.StatusOK
	if body.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, body)
}

func (h *HealthHandlers) notReady(w http.ResponseWriter, reason string) {
	writeJSONResponse(w, http.StatusServiceUnavailable, healthResponse{
		Status:    domain.HealthStatusError,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Details:   []string{reason},
	})
}

func (h *HealthHandlers) readiness(report services.HealthReport) healthResponse {
	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = h.now()
	}
	body := healthResponse{
		Status:      report.Status,
		Version:     firstNonEmpty(report.Version, h.build.Version),
		CommitSHA:   firstNonEmpty(report.CommitSHA, h.build.CommitSHA),
		Environment: firstNonEmpty(report.Environment, h.build.Environment),
		Uptime:      roundedUptime(report.Uptime),
		Timestamp:   generated.UTC().Format(time.RFC3339),
		Checks:      make(map[string]healthCheckBody, len(report.Checks)),
	}
	// Sorted so details read the same on every probe.
	for _, name := range slices.Sorted(maps.Keys(report.Checks)) {
		check := report.Checks[name]
		body.Checks[name] = healthCheckBody{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
			CheckedAt: formatTime(check.CheckedAt),
		}
		if check.Status != domain.HealthStatusOK {
			body.Details = append(body.Details, fmt.Sprintf("%s: %s", name, firstNonEmpty(check.Error, check.Detail, check.Status)))
		}
	}
	return body
}

func roundedUptime(d time.Duration) string {
	return max(d, 0).Truncate(time.Second).String()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return ""
}
