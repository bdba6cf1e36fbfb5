package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/forkcast/api/internal/platform/requestctx"
)

func TestWriteErrorFillsRequestAndTraceIDs(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "trace-1"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("decision_not_active", "decision is not active\n", http.StatusConflict).
		WithDetails(map[string]any{"decision_id": "dec_1", "status": 200}))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %s", ct)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "decision_not_active" || body["message"] != "decision is not active" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["status"] != float64(http.StatusConflict) {
		t.Fatalf("details must not override status, got %v", body["status"])
	}
	if body["request_id"] != "req-42" || body["trace_id"] != "trace-1" {
		t.Fatalf("expected request and trace ids, got %v", body)
	}
	if body["decision_id"] != "dec_1" {
		t.Fatalf("expected details merged, got %v", body)
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, NewError("boom", "failed", 0))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["request_id"]; ok {
		t.Fatalf("expected no request id without middleware, got %v", body)
	}
}
