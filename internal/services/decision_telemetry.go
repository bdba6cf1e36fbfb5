package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const decisionInstrumentation = "github.com/forkcast/api/internal/services"

type decisionTelemetry struct {
	tracer    trace.Tracer
	created   metric.Int64Counter
	completed metric.Int64Counter
	closed    metric.Int64Counter
	votes     metric.Int64Counter
}

func newDecisionTelemetry(tracer trace.Tracer, meter metric.Meter) (decisionTelemetry, error) {
	if tracer == nil {
		tracer = otel.Tracer(decisionInstrumentation)
	}
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(decisionInstrumentation)
	}

	created, err := meter.Int64Counter("decisions.created", metric.WithDescription("Decisions created"))
	if err != nil {
		return decisionTelemetry{}, err
	}
	completed, err := meter.Int64Counter("decisions.completed", metric.WithDescription("Decisions completed with a result"))
	if err != nil {
		return decisionTelemetry{}, err
	}
	closed, err := meter.Int64Counter("decisions.closed", metric.WithDescription("Decisions closed without a result"))
	if err != nil {
		return decisionTelemetry{}, err
	}
	votes, err := meter.Int64Counter("decisions.votes", metric.WithDescription("Ranked votes recorded"))
	if err != nil {
		return decisionTelemetry{}, err
	}

	return decisionTelemetry{
		tracer:    tracer,
		created:   created,
		completed: completed,
		closed:    closed,
		votes:     votes,
	}, nil
}

func (t decisionTelemetry) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, DecisionErrorCode(err))
	}
	span.End()
}

func decisionAttrs(decision Decision) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("decision.type", string(decision.Type)),
		attribute.String("decision.method", string(decision.Method)),
	}
}

func (t decisionTelemetry) count(ctx context.Context, counter metric.Int64Counter, decision Decision) {
	counter.Add(ctx, 1, metric.WithAttributes(decisionAttrs(decision)...))
}
