package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/forkcast/api/internal/platform/requestctx"
)

// MetricsRecorder records OIDC verification outcomes.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, success bool, reason string, duration time.Duration)
}

type otelRecorder struct {
	verifications metric.Int64Counter
	latency       metric.Float64Histogram
}

// NewOTelMetricsRecorder records auth.oidc.verifications and auth.oidc.latency on meter.
func NewOTelMetricsRecorder(meter metric.Meter) (MetricsRecorder, error) {
	verifications, err := meter.Int64Counter("auth.oidc.verifications",
		metric.WithDescription("OIDC token verifications on scheduler routes"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("auth.oidc.latency",
		metric.WithDescription("OIDC verification latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &otelRecorder{verifications: verifications, latency: latency}, nil
}

func (r *otelRecorder) RecordVerification(ctx context.Context, success bool, reason string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("success", success), attribute.String("reason", reason))
	r.verifications.Add(ctx, 1, attrs)
	r.latency.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
}

// OIDCValidator verifies Google-signed OIDC tokens (Cloud Scheduler, IAP) against a JWKS cache.
type OIDCValidator struct {
	cache      *JWKSCache
	logger     *zap.Logger
	metrics    MetricsRecorder
	now        func() time.Time
	principals []string
}

// OIDCOption customises the validator.
type OIDCOption func(*OIDCValidator)

func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	validator := &OIDCValidator{
		cache:  cache,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

func WithOIDCLogger(logger *zap.Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithOIDCMetrics(recorder MetricsRecorder) OIDCOption {
	return func(v *OIDCValidator) {
		v.metrics = recorder
	}
}

// WithAllowedPrincipals limits callers to the given service account emails. The token's email must
// also be verified. An empty list admits any principal that passes audience and issuer checks.
func WithAllowedPrincipals(emails ...string) OIDCOption {
	return func(v *OIDCValidator) {
		for _, email := range emails {
			if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
				v.principals = append(v.principals, email)
			}
		}
	}
}

func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// RequireOIDC admits requests carrying an RS256 token for audience from one of issuers (any issuer
// when the list is empty). The token is read from the Authorization bearer or the IAP assertion
// header.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	allowed := make([]string, 0, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowed = append(allowed, issuer)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()
			reject := func(status int, reason, code, message string) {
				v.record(ctx, false, reason, start)
				respondAuthError(ctx, w, status, code, message)
			}

			if audience == "" {
				reject(http.StatusServiceUnavailable, "audience_not_configured", "verification_unavailable", "oidc audience not configured")
				return
			}
			tokenStr := extractOIDCToken(r)
			if tokenStr == "" {
				reject(http.StatusUnauthorized, "token_missing", "unauthenticated", "oidc token missing")
				return
			}
			if v.cache == nil {
				reject(http.StatusServiceUnavailable, "cache_unavailable", "verification_unavailable", "oidc verification unavailable")
				return
			}

			claims := jwt.MapClaims{}
			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			if _, err := parser.ParseWithClaims(tokenStr, claims, v.cache.Keyfunc(ctx)); err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					v.logger.Warn("oidc keys unavailable", zap.Error(err))
					reject(http.StatusServiceUnavailable, "jwks_unavailable", "invalid_token", "oidc token verification failed")
					return
				}
				v.logger.Debug("oidc token rejected", zap.Error(err))
				reject(http.StatusUnauthorized, "token_invalid", "invalid_token", "oidc token verification failed")
				return
			}

			issuer, _ := claims["iss"].(string)
			if len(allowed) > 0 && !slices.Contains(allowed, issuer) {
				v.logger.Debug("oidc issuer mismatch", zap.String("issuer", issuer))
				reject(http.StatusUnauthorized, "issuer_mismatch", "invalid_token", "oidc issuer mismatch")
				return
			}
			if !slices.Contains(audienceFromClaims(claims), audience) {
				v.logger.Debug("oidc audience mismatch", zap.String("expected", audience))
				reject(http.StatusUnauthorized, "audience_mismatch", "invalid_token", "oidc audience mismatch")
				return
			}

			identity := &ServiceIdentity{
				Subject:  claimAsString(claims, "sub"),
				Email:    claimAsString(claims, "email"),
				Issuer:   issuer,
				Audience: audience,
			}
			if !v.principalAllowed(identity.Email, claims) {
				v.logger.Info("oidc principal rejected", zap.String("email", identity.Email))
				reject(http.StatusForbidden, "principal_not_allowed", "forbidden", "caller is not allowed to use internal routes")
				return
			}
			v.record(ctx, true, "ok", start)
			requestctx.SetActor(ctx, "system:"+firstNonEmpty(identity.Email, identity.Subject))
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *OIDCValidator) principalAllowed(email string, claims jwt.MapClaims) bool {
	if len(v.principals) == 0 {
		return true
	}
	verified, _ := claims["email_verified"].(bool)
	return verified && slices.Contains(v.principals, strings.ToLower(email))
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, success, reason, v.now().Sub(start))
}

func extractOIDCToken(r *http.Request) string {
	if bearer, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		return bearer
	}
	return strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion"))
}

func audienceFromClaims(claims jwt.MapClaims) []string {
	switch v := claims["aud"].(type) {
	case string:
		return []string{strings.TrimSpace(v)}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok && strings.TrimSpace(str) != "" {
				out = append(out, strings.TrimSpace(str))
			}
		}
		return out
	default:
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
