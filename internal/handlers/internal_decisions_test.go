package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/forkcast/api/internal/platform/auth"
	"github.com/forkcast/api/internal/services"
)

func withTestServiceIdentity(email string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithServiceIdentity(r.Context(), &auth.ServiceIdentity{Subject: "1234", Email: email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newInternalTestRouter(svc services.DecisionService, now time.Time) http.Handler {
	h := NewInternalDecisionHandlers(svc)
	h.now = func() time.Time { return now }
	return NewRouter(
		WithInternalRoutes(h.Routes),
		WithInternalMiddlewares(withTestServiceIdentity("scheduler@example.iam.gserviceaccount.com")),
	)
}

func TestInternalListExpired(t *testing.T) {
	now := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	var (
		gotBefore time.Time
		gotLimit  int
	)
	svc := &stubDecisionService{
		expired: func(_ context.Context, before time.Time, limit int) ([]services.Decision, error) {
			gotBefore, gotLimit = before, limit
			return []services.Decision{sampleDecision()}, nil
		},
	}
	router := newInternalTestRouter(svc, now)

	rr, body := serve(t, router, http.MethodGet, "/api/v1/internal/decisions/expired", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !gotBefore.Equal(now) || gotLimit != 0 {
		t.Fatalf("expected defaults before=%v limit=0, got %v %d", now, gotBefore, gotLimit)
	}
	if items := body["items"].([]any); len(items) != 1 {
		t.Fatalf("expected one item, got %v", items)
	}

	rr, _ = serve(t, router, http.MethodGet, "/api/v1/internal/decisions/expired?before=2025-03-01T00:00:00Z&limit=25", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !gotBefore.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) || gotLimit != 25 {
		t.Fatalf("unexpected before/limit %v %d", gotBefore, gotLimit)
	}

	for _, target := range []string{
		"/api/v1/internal/decisions/expired?before=yesterday",
		"/api/v1/internal/decisions/expired?limit=0",
		"/api/v1/internal/decisions/expired?limit=501",
	} {
		rr, body := serve(t, router, http.MethodGet, target, "")
		if rr.Code != http.StatusBadRequest || body["error"] != "invalid_query" {
			t.Fatalf("%s: expected invalid_query, got %d %v", target, rr.Code, body)
		}
	}
}

func TestInternalCompleteAndCloseActAsSystem(t *testing.T) {
	svc := &stubDecisionService{
		complete: func(_ context.Context, cmd services.CompleteDecisionCommand) (services.DecisionResult, error) {
			if !cmd.System || cmd.ActorID != "system:scheduler@example.iam.gserviceaccount.com" {
				t.Fatalf("unexpected complete command %+v", cmd)
			}
			return services.DecisionResult{}, services.ErrNoVotes
		},
		close: func(_ context.Context, cmd services.CloseDecisionCommand) (services.Decision, error) {
			if !cmd.System || cmd.DecisionID != "dec_01" {
				t.Fatalf("unexpected close command %+v", cmd)
			}
			return sampleDecision(), nil
		},
	}
	router := newInternalTestRouter(svc, time.Now())

	rr, body := serve(t, router, http.MethodPost, "/api/v1/internal/decisions/dec_01/complete", "")
	if rr.Code != http.StatusConflict || body["error"] != "no_votes" {
		t.Fatalf("expected 409 no_votes, got %d %v", rr.Code, body)
	}

	rr, _ = serve(t, router, http.MethodPost, "/api/v1/internal/decisions/dec_01/close", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestSystemActorFallback(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "/", nil)
	if got := systemActor(req); got != "system" {
		t.Fatalf("expected system, got %q", got)
	}
	req = req.WithContext(auth.WithServiceIdentity(req.Context(), &auth.ServiceIdentity{Subject: "sub-1"}))
	if got := systemActor(req); got != "system:sub-1" {
		t.Fatalf("expected system:sub-1, got %q", got)
	}
}
