package services

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	"go.opentelemetry.io/otel/trace/noop"
)

type recordingTracer struct {
	embedded.Tracer

	mu    sync.Mutex
	names []string
}

func (r *recordingTracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	return ctx, noop.Span{}
}

func (r *recordingTracer) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.names)
}

func TestReadOperationsStartSpans(t *testing.T) {
	tracer := &recordingTracer{}
	f := newDecisionFixture(t, func(deps *DecisionServiceDeps) {
		deps.Tracer = tracer
	})
	ctx := context.Background()
	decision := f.tieredGroupDecision(t)

	calls := []struct {
		span string
		call func() error
	}{
		{span: "decision.active_group", call: func() error {
			_, err := f.svc.GetActiveGroupDecisions(ctx, ActiveGroupDecisionsQuery{GroupID: "grp_1", ViewerID: "u1"})
			return err
		}},
		{span: "decision.get", call: func() error {
			_, err := f.svc.GetGroupDecision(ctx, GetDecisionQuery{DecisionID: decision.ID, ViewerID: "u1"})
			return err
		}},
		{span: "decision.resolve_participants", call: func() error {
			_, err := f.svc.ResolveGroupParticipants(ctx, "grp_1")
			return err
		}},
		{span: "decision.list_expired", call: func() error {
			_, err := f.svc.ListExpiredDecisions(ctx, f.now.Add(48*time.Hour), 10)
			return err
		}},
	}
	for _, c := range calls {
		if err := c.call(); err != nil {
			t.Fatalf("%s: unexpected error %v", c.span, err)
		}
		if !slices.Contains(tracer.started(), c.span) {
			t.Fatalf("expected span %s, got %v", c.span, tracer.started())
		}
	}
}
