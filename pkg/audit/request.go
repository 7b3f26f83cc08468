package audit

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/audittrail/pkg/contextkeys"
)

// RequestInfo is the audit-relevant part of an HTTP request
type RequestInfo struct {
	ClientIP  string
	Path      string
	RawBody   string
	RouteName string
	RequestID string
}

// WithRequest stores info as the current request. The first request stored
// in a context also becomes the main request.
func WithRequest(ctx context.Context, info *RequestInfo) context.Context {
	if _, ok := ctx.Value(contextkeys.MainRequestKey).(*RequestInfo); !ok {
		ctx = context.WithValue(ctx, contextkeys.MainRequestKey, info)
	}
	return context.WithValue(ctx, contextkeys.CurrentRequestKey, info)
}

// WithSubRequest stores info as the current request while keeping the main one
func WithSubRequest(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, contextkeys.CurrentRequestKey, info)
}

// RequestCaptureConfig configures RequestMiddleware
type RequestCaptureConfig struct {
	// CaptureBody reads up to MaxBodyBytes of the body into RequestInfo.RawBody
	CaptureBody  bool
	MaxBodyBytes int64
}

// DefaultMaxBodyBytes bounds captured request bodies
const DefaultMaxBodyBytes = 64 * 1024

// RequestMiddleware records request metadata in the context for the recorder.
// Install it with router.Use so the matched route name is available.
func RequestMiddleware(cfg RequestCaptureConfig) mux.MiddlewareFunc {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := NewRequestInfo(r)

			if cfg.CaptureBody && r.Body != nil && r.Body != http.NoBody {
				body, err := io.ReadAll(io.LimitReader(r.Body, cfg.MaxBodyBytes))
				if err == nil {
					info.RawBody = string(body)
				}
				r.Body = readCloser{
					Reader: io.MultiReader(bytes.NewReader(body), r.Body),
					Closer: r.Body,
				}
			}

			next.ServeHTTP(w, r.WithContext(WithRequest(r.Context(), info)))
		})
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

// NewRequestInfo extracts request metadata without reading the body
func NewRequestInfo(r *http.Request) *RequestInfo {
	info := &RequestInfo{
		ClientIP:  getClientIP(r),
		Path:      r.URL.Path,
		RequestID: contextkeys.GetRequestID(r.Context()),
	}
	if route := mux.CurrentRoute(r); route != nil {
		info.RouteName = route.GetName()
	}
	return info
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first; the client is the left-most entry
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			xff = xff[:i]
		}
		return strings.TrimSpace(xff)
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	// Fall back to RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
