// Package handlers is the chi HTTP transport in front of the decision engine.
package handlers

import (
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/forkcast/api/internal/platform/httpx"
)

const (
	defaultAPIPrefix      = "/api/v1"
	defaultRequestTimeout = 60 * time.Second
)

// RouteRegistrar adds one route group's endpoints to r.
type RouteRegistrar func(r chi.Router)

// Route groups mounted under the API prefix, in mount order.
const (
	groupDecisions   = "decisions"
	groupGroups      = "groups"
	groupCollections = "collections"
	groupInternal    = "internal"
)

var mountOrder = []string{groupDecisions, groupGroups, groupCollections, groupInternal}

type routeGroup struct {
	register    RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	prefix  string
	timeout time.Duration
	global  []func(http.Handler) http.Handler
	health  *HealthHandlers
	groups  map[string]*routeGroup
}

func (c *routerConfig) group(name string) *routeGroup {
	g, ok := c.groups[name]
	if !ok {
		g = &routeGroup{}
		c.groups[name] = g
	}
	return g
}

type Option func(*routerConfig)

// NewRouter builds the API router: request ids, real client IPs and a request timeout apply to
// every route, then caller middleware, then the probes and the route groups. A group without a
// registrar answers 501 so clients can tell a disabled feature from a typo.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		prefix:  defaultAPIPrefix,
		timeout: defaultRequestTimeout,
		groups:  make(map[string]*routeGroup, len(mountOrder)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.global {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.prefix, func(api chi.Router) {
		api.Use(requireJSONBody)
		for _, name := range mountOrder {
			g := cfg.group(name)
			api.Route("/"+name, func(sub chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if g.register == nil {
					notImplemented(sub, name)
					return
				}
				g.register(sub)
			})
		}
	})
	return r
}

func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithRequestTimeout replaces the per-request deadline. Non-positive values keep the default.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(cfg *routerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

func WithDecisionRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupDecisions).register = reg }
}

func WithGroupRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupGroups).register = reg }
}

func WithCollectionRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupCollections).register = reg }
}

// WithInternalRoutes mounts the scheduler endpoints. Pair it with WithInternalMiddlewares to put
// service-token verification in front of them.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(groupInternal).register = reg }
}

func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(groupInternal)
		g.middlewares = append(g.middlewares, mw...)
	}
}

// requireJSONBody rejects requests that carry a body in anything but application/json.
func requireJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength == 0 {
			next.ServeHTTP(w, r)
			return
		}
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			httpx.WriteError(r.Context(), w, httpx.NewError("unsupported_media_type", "request body must be application/json", http.StatusUnsupportedMediaType))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
