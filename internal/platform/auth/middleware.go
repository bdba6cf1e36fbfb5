// Package auth verifies callers: Firebase ID tokens for end users and Google-signed OIDC tokens
// for the deadline scheduler.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"github.com/forkcast/api/internal/platform/httpx"
	"github.com/forkcast/api/internal/platform/requestctx"
)

const defaultVerifyTimeout = 5 * time.Second

// Verification outcomes a TokenVerifier reports. Anything else is treated as a failed check.
var (
	ErrTokenExpired    = errors.New("auth: firebase id token expired")
	ErrTokenRevoked    = errors.New("auth: firebase id token revoked")
	ErrAccountDisabled = errors.New("auth: firebase account disabled")
	ErrTokenInvalid    = errors.New("auth: firebase id token invalid")
)

type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator wires Firebase token verification into HTTP middleware.
type Authenticator struct {
	verifier TokenVerifier
	logger   *zap.Logger
	timeout  time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithVerificationTimeout bounds each token verification.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger logs verification failures at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier: verifier,
		logger:   zap.NewNop(),
		timeout:  defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid bearer ID token and stores the caller's
// Identity on the request context.
func (a *Authenticator) RequireFirebaseAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "authorization service unavailable")
				return
			}

			verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
			token, err := a.verifier.VerifyIDToken(verifyCtx, tokenStr)
			cancel()
			if err != nil {
				a.logger.Debug("firebase token rejected", zap.Error(err))
				respondVerificationError(ctx, w, err)
				return
			}
			if strings.TrimSpace(token.UID) == "" {
				respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "firebase id token has no subject")
				return
			}

			identity := &Identity{
				UID:   strings.TrimSpace(token.UID),
				Email: claimAsString(token.Claims, "email"),
				Name:  claimAsString(token.Claims, "name"),
				token: token,
			}
			requestctx.SetActor(ctx, identity.UID)
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func claimAsString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// verificationFailures maps verifier errors onto response status and code. Order matters: a
// revoked or disabled account is reported before the generic invalid-token case.
var verificationFailures = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{ErrTokenExpired, http.StatusUnauthorized, "token_expired", "firebase id token expired"},
	{ErrTokenRevoked, http.StatusUnauthorized, "token_revoked", "firebase id token revoked"},
	{ErrAccountDisabled, http.StatusForbidden, "account_disabled", "account is disabled"},
	{ErrTokenInvalid, http.StatusUnauthorized, "invalid_token", "firebase id token invalid"},
}

func respondVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	for _, failure := range verificationFailures {
		if errors.Is(err, failure.err) {
			respondAuthError(ctx, w, failure.status, failure.code, failure.message)
			return
		}
	}
	respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "firebase id token verification failed")
}
