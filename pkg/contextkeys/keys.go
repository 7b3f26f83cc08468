// Package contextkeys defines the context keys shared between the HTTP
// middleware, the audit recorder and the logger.
//
// Keys live here so that the packages setting a value and the packages
// reading it never import each other:
//
//	ctx = contextkeys.WithPrincipal(ctx, "alice@example.com")
//	principal, ok := contextkeys.GetPrincipal(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey holds the authenticated principal identifier (string).
	// Set by middleware.Authenticator and middleware.StaticPrincipal, read
	// by audit.ContextIdentity.
	PrincipalKey Key = "principal"

	// MainRequestKey holds the top-level *audit.RequestInfo.
	// Set by audit.RequestMiddleware.
	MainRequestKey Key = "main_request"

	// CurrentRequestKey holds the *audit.RequestInfo being served. It only
	// differs from MainRequestKey inside audit.WithSubRequest.
	CurrentRequestKey Key = "current_request"

	// RequestIDKey holds the request ID (string) set by middleware.RequestID
	RequestIDKey Key = "request_id"
)

// WithPrincipal stores the principal identifier
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// GetPrincipal returns the principal identifier; empty identifiers count as absent
func GetPrincipal(ctx context.Context) (string, bool) {
	principal, ok := ctx.Value(PrincipalKey).(string)
	if !ok || principal == "" {
		return "", false
	}
	return principal, true
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(RequestIDKey).(string)
	return requestID
}
