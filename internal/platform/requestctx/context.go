// Package requestctx carries request-scoped values shared by middleware, handlers and services.
package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
	actorKey  struct{}
)

var noopLogger = zap.NewNop()

// TraceInfo is the Cloud Trace metadata of the current request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores a request-scoped logger. A nil logger stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the request-scoped logger, or a no-op logger when none was stored.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := loggerFrom(ctx); ok {
		return logger
	}
	return noopLogger
}

// HasLogger reports whether a logger other than the no-op logger is attached to ctx.
func HasLogger(ctx context.Context) bool {
	logger, ok := loggerFrom(ctx)
	return ok && logger != noopLogger
}

func loggerFrom(ctx context.Context) (*zap.Logger, bool) {
	if ctx == nil {
		return nil, false
	}
	logger, ok := ctx.Value(loggerKey{}).(*zap.Logger)
	return logger, ok && logger != nil
}

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID returns the trace id of the current request, or "".
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

type actorSlot struct {
	mu sync.Mutex
	id string
}

// WithActorSlot reserves a slot that authentication middleware further down the chain fills with
// SetActor, so outer middleware can read the caller after the handler returns.
func WithActorSlot(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey{}, &actorSlot{})
}

// SetActor records the authenticated caller. It is a no-op without a slot.
func SetActor(ctx context.Context, id string) {
	if ctx == nil {
		return
	}
	slot, ok := ctx.Value(actorKey{}).(*actorSlot)
	if !ok {
		return
	}
	slot.mu.Lock()
	slot.id = id
	slot.mu.Unlock()
}

func Actor(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	slot, ok := ctx.Value(actorKey{}).(*actorSlot)
	if !ok {
		return ""
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.id
}
