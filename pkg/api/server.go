package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/audittrail/pkg/app"
	"github.com/platinummonkey/audittrail/pkg/audit"
	"github.com/platinummonkey/audittrail/pkg/httputil"
	"github.com/platinummonkey/audittrail/pkg/middleware"
	"github.com/platinummonkey/audittrail/pkg/observability"
)

// Redis key prefixes of the write limiters
const (
	principalLimitPrefix = "audit:ratelimit:principal"
	anonymousLimitPrefix = "audit:ratelimit:anon"
)

// Server is the audit trail HTTP API
type Server struct {
	app      *app.App
	router   *mux.Router
	verifier middleware.TokenVerifier

	writeLimit    *middleware.RateLimitMiddleware
	localLimiters []*middleware.RateLimiter
}

// NewServer creates the API server. verifier may be nil, in which case
// requests are attributed to the configured static principal only.
func NewServer(a *app.App, verifier middleware.TokenVerifier) *Server {
	s := &Server{
		app:      a,
		router:   mux.NewRouter(),
		verifier: verifier,
	}
	s.writeLimit = s.newWriteLimit()
	s.setupRoutes()
	return s
}

// newWriteLimit shares limits across replicas through Redis when the cache
// client is available
func (s *Server) newWriteLimit() *middleware.RateLimitMiddleware {
	if client := s.app.Redis(); client != nil {
		return middleware.NewRateLimitMiddleware(
			middleware.NewDistributedRateLimiter(client, middleware.PrincipalRateLimitConfig(), principalLimitPrefix),
			middleware.NewDistributedRateLimiter(client, middleware.DefaultRateLimitConfig(), anonymousLimitPrefix),
			s.app.Logger,
		)
	}

	principal := middleware.NewRateLimiter(middleware.PrincipalRateLimitConfig())
	anonymous := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	s.localLimiters = []*middleware.RateLimiter{principal, anonymous}
	return middleware.NewRateLimitMiddleware(principal, anonymous, s.app.Logger)
}

func (s *Server) setupRoutes() {
	cfg := s.app.Config

	s.router.Use(middleware.RequestID)
	if s.verifier != nil {
		s.router.Use(middleware.NewAuthenticator(s.verifier, cfg.Auth.StaticPrincipal != "").Handler)
	}
	s.router.Use(middleware.StaticPrincipal(cfg.Auth.StaticPrincipal))
	s.router.Use(audit.RequestMiddleware(audit.RequestCaptureConfig{
		CaptureBody: cfg.Audit.CaptureRequestBodies,
	}))
	if s.app.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.app.Metrics))
	}
	s.router.Use(s.app.Exceptions.Middleware)
	s.router.Use(s.limitWrites)

	s.router.NotFoundHandler = s.app.Exceptions.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		return audit.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no route found for %s %s", r.Method, r.URL.Path))
	})

	if cfg.Audit.ResourceEnabled {
		s.RegisterRoutes(audit.NewHandlers(s.app.Recorder, s.app.Reader, s.app.Categories, s.app.Catalog))
	}
}

// limitWrites applies the rate and body limits to non-read methods
func (s *Server) limitWrites(next http.Handler) http.Handler {
	limited := s.writeLimit.Handler(httputil.LimitBody(s.app.Config.Server.MaxBodyBytes)(next))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
		default:
			limited.ServeHTTP(w, r)
		}
	})
}

// StartCleanup evicts idle in-process limiter buckets until ctx is done
func (s *Server) StartCleanup(ctx context.Context) {
	for _, l := range s.localLimiters {
		l.StartCleanup(ctx)
	}
}

// Router exposes the underlying router for additional routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}
