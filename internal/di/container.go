// Package di assembles repositories and services for the API process.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/forkcast/api/internal/platform/config"
	"github.com/forkcast/api/internal/repositories"
	rediscache "github.com/forkcast/api/internal/repositories/redis"
	"github.com/forkcast/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Decisions services.DecisionService
	System    services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

type containerOptions struct {
	notifier services.DecisionNotifier
	redis    rediscache.Client
	logger   func(ctx context.Context, event string, fields map[string]any)
	tracer   trace.Tracer
	meter    metric.Meter
	clock    func() time.Time
	random   services.RandomSource
	build    services.BuildInfo
}

// Option customises container assembly.
type Option func(*containerOptions)

// WithNotifier sets the completion notifier.
func WithNotifier(notifier services.DecisionNotifier) Option {
	return func(o *containerOptions) {
		o.notifier = notifier
	}
}

// WithRedisClient enables the collection cache in front of the collection store.
func WithRedisClient(client rediscache.Client) Option {
	return func(o *containerOptions) {
		o.redis = client
	}
}

// WithEventLogger sets the structured event hook handed to services and decorators.
func WithEventLogger(logger func(ctx context.Context, event string, fields map[string]any)) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

func WithTelemetry(tracer trace.Tracer, meter metric.Meter) Option {
	return func(o *containerOptions) {
		o.tracer = tracer
		o.meter = meter
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		o.clock = clock
	}
}

func WithRandomSource(rng services.RandomSource) Option {
	return func(o *containerOptions) {
		o.random = rng
	}
}

// WithBuildInfo sets the release metadata reported by readiness.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// NewContainer constructs the runtime dependencies. Tests supply the in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.logger == nil {
		options.logger = func(context.Context, string, map[string]any) {}
	}

	svc, err := buildServices(ctx, reg, cfg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, opts containerOptions) (Services, error) {
	var svc Services

	collections := reg.Collections()
	if opts.redis != nil && collections != nil {
		cache, err := rediscache.NewCollectionCache(rediscache.CollectionCacheDeps{
			Next:   collections,
			Client: opts.redis,
			TTL:    cfg.Redis.TTL,
			Logger: opts.logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build collection cache: %w", err)
		}
		collections = cache
	}

	var breaker services.BreakerState
	decisions := reg.Decisions()
	if decisions != nil {
		resilient, err := repositories.NewResilientDecisionRepository(decisions, repositories.BreakerSettings{
			FailureThreshold: uint32(max(cfg.Breaker.FailureThreshold, 0)),
			OpenTimeout:      cfg.Breaker.OpenTimeout,
			OnStateChange: func(name string, from, to string) {
				opts.logger(context.Background(), "decision.store.breaker", map[string]any{
					"breaker": name,
					"from":    from,
					"to":      to,
				})
			},
		})
		if err != nil {
			return Services{}, fmt.Errorf("build resilient decision repository: %w", err)
		}
		decisions = resilient
		breaker = resilient
	}

	if collections != nil && reg.Groups() != nil && decisions != nil {
		decisionSvc, err := services.NewDecisionService(services.DecisionServiceDeps{
			Collections: collections,
			Groups:      reg.Groups(),
			Decisions:   decisions,
			Notifier:    opts.notifier,
			Random:      opts.random,
			Clock:       opts.clock,
			Settings:    decisionSettings(cfg.Decisions),
			Logger:      opts.logger,
			Tracer:      opts.tracer,
			Meter:       opts.meter,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build decision service: %w", err)
		}
		svc.Decisions = decisionSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := opts.build
		if build.Version == "" {
			build.Version = cfg.Release.Version
		}
		if build.CommitSHA == "" {
			build.CommitSHA = cfg.Release.CommitSHA
		}
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			DecisionBreaker:  breaker,
			Clock:            opts.clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

func decisionSettings(cfg config.DecisionConfig) services.DecisionSettings {
	return services.DecisionSettings{
		Weighting: services.WeightingParams{
			DecayPerSelection: cfg.DecayPerSelection,
			RecencyWindowDays: cfg.RecencyWindowDays,
			MinWeight:         cfg.MinWeight,
			MaxWeight:         cfg.MaxWeight,
		},
		Tabulation:       services.TabulationMethod(cfg.TabulationMethod),
		DefaultDeadline:  cfg.DefaultDeadline,
		MaxDeadline:      cfg.MaxDeadline,
		HistoryScanLimit: cfg.HistoryScanLimit,
		DefaultPageSize:  cfg.DefaultPageSize,
		MaxPageSize:      cfg.MaxPageSize,
	}
}
