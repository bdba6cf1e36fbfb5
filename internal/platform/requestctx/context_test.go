package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	if HasLogger(context.Background()) {
		t.Fatalf("expected no logger on empty context")
	}
	if Logger(context.Background()) == nil {
		t.Fatalf("expected noop logger, got nil")
	}

	ctx := WithLogger(context.Background(), nil)
	if HasLogger(ctx) {
		t.Fatalf("expected nil logger to be stored as noop")
	}

	logger := zap.NewExample()
	ctx = WithLogger(context.Background(), logger)
	if !HasLogger(ctx) || Logger(ctx) != logger {
		t.Fatalf("expected stored logger to be returned")
	}
}

func TestTraceRoundTrip(t *testing.T) {
	if id := TraceID(context.Background()); id != "" {
		t.Fatalf("expected empty trace id, got %q", id)
	}
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", SpanID: "def", Sampled: true})
	info, ok := Trace(ctx)
	if !ok || info.SpanID != "def" || !info.Sampled {
		t.Fatalf("unexpected trace info %+v", info)
	}
	if TraceID(ctx) != "abc" {
		t.Fatalf("expected trace id abc, got %q", TraceID(ctx))
	}
}

func TestActorSlotVisibleToOuterContext(t *testing.T) {
	outer := WithActorSlot(context.Background())
	inner := context.WithValue(outer, struct{}{}, "derived")
	SetActor(inner, "u1")
	if got := Actor(outer); got != "u1" {
		t.Fatalf("expected actor u1, got %q", got)
	}

	SetActor(context.Background(), "ignored")
	if got := Actor(context.Background()); got != "" {
		t.Fatalf("expected no actor without slot, got %q", got)
	}
}
