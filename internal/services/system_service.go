package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/forkcast/api/internal/domain"
	"github.com/forkcast/api/internal/repositories"
)

// decisionBreakerCheck is the readiness entry describing the circuit breaker in front of the
// decision store.
const decisionBreakerCheck = "decision_store_breaker"

// BuildInfo is the release metadata reported by /healthz and /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// BreakerState exposes the position of a circuit breaker.
type BreakerState interface {
	State() string
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	// DecisionBreaker is optional. When set, an open breaker fails readiness even if the store
	// probe answers, since decision writes are being rejected.
	DecisionBreaker BreakerState
	Clock           func() time.Time
	Build           BuildInfo
}

type systemService struct {
	probes  repositories.HealthRepository
	breaker BreakerState
	now     func() time.Time
	build   BuildInfo
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = now()
	}
	return &systemService{
		probes:  deps.HealthRepository,
		breaker: deps.DecisionBreaker,
		now:     func() time.Time { return now().UTC() },
		build:   build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (HealthReport, error) {
	if ctx == nil {
		return HealthReport{}, errors.New("system service: context is required")
	}
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return HealthReport{}, err
	}

	now := s.now()
	checks := make(map[string]domain.DependencyHealth, len(report.Checks)+1)
	for name, check := range report.Checks {
		checks[name] = check
	}
	if s.breaker != nil {
		checks[decisionBreakerCheck] = breakerHealth(s.breaker.State(), now)
	}

	out := HealthReport{
		Status:      worstStatus(checks),
		Checks:      checks,
		Version:     firstNonBlank(report.Version, s.build.Version),
		CommitSHA:   firstNonBlank(report.CommitSHA, s.build.CommitSHA),
		Environment: firstNonBlank(report.Environment, s.build.Environment),
		Uptime:      report.Uptime,
		GeneratedAt: report.GeneratedAt.UTC(),
	}
	if report.GeneratedAt.IsZero() {
		out.GeneratedAt = now
	}
	if out.Uptime <= 0 {
		out.Uptime = now.Sub(s.build.StartedAt)
	}
	return out, nil
}

// breakerHealth maps an open breaker to an error and a probing (half-open) breaker to degraded.
func breakerHealth(state string, at time.Time) domain.DependencyHealth {
	health := domain.DependencyHealth{Status: domain.HealthStatusOK, Detail: state, CheckedAt: at}
	switch state {
	case "open":
		health.Status = domain.HealthStatusError
		health.Error = "decision store circuit open"
	case "half-open":
		health.Status = domain.HealthStatusDegraded
	}
	return health
}

func worstStatus(checks map[string]domain.DependencyHealth) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusError:
			return domain.HealthStatusError
		case domain.HealthStatusDegraded:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
