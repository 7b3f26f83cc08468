// Package api provides the HTTP server for the audit trail.
//
// # Overview
//
// Server mounts the audit record handlers on a gorilla/mux router and
// installs the middleware chain every request passes through:
//
//   - RequestID: propagates or assigns X-Request-ID
//   - Authenticator: OIDC bearer tokens, when a verifier is configured
//   - StaticPrincipal: fallback principal for unauthenticated callers
//   - audit.RequestMiddleware: client IP, path, route and optional body
//   - HTTPMetricsMiddleware: Prometheus request counters, when enabled
//   - ExceptionListener.Middleware: audits and renders panics
//   - write rate limiting on non-read methods
//
// Unmatched routes are rendered through the exception listener, so a 404 is
// audited unless the response code is excluded.
//
// # Usage
//
//	a, err := app.New(cfg, logger, metrics)
//	if err != nil {
//		return err
//	}
//	server := api.NewServer(a, verifier)
//	server.StartCleanup(ctx)
//	http.ListenAndServe(":8080", server)
//
// # Routes
//
// Registered when audit.resource_enabled is true:
//
//	GET  /audit/records
//	POST /audit/records
//	GET  /audit/records/{id}
//	GET  /audit/export?format=json|ndjson|csv
//	GET  /audit/stats
//	GET  /audit/categories
package api
