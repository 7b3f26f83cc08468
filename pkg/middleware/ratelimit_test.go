package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/audittrail/pkg/contextkeys"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClockedLimiter(config *RateLimitConfig) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	limiter := NewRateLimiter(config)
	limiter.now = clock.Now
	return limiter, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter, clock := newClockedLimiter(config)
	ctx := context.Background()

	key := "test-user"

	// Should allow initial requests up to limit + burst
	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		if ok, _ := limiter.Allow(ctx, key); ok {
			allowedCount++
		}
	}

	expected := config.RequestsPerWindow + config.BurstSize
	if allowedCount != expected {
		t.Errorf("Allowed %d requests, want %d", allowedCount, expected)
	}

	// After waiting, tokens should refill
	clock.Advance(time.Second)
	if ok, _ := limiter.Allow(ctx, key); !ok {
		t.Error("Should allow request after refill")
	}
}

func TestRateLimiter_Remaining(t *testing.T) {
	limiter, _ := newClockedLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	})
	ctx := context.Background()

	if remaining, _ := limiter.Remaining(ctx, "k"); remaining != 12 {
		t.Errorf("Initial remaining = %d, want 12", remaining)
	}

	limiter.Allow(ctx, "k")
	limiter.Allow(ctx, "k")

	if remaining, _ := limiter.Remaining(ctx, "k"); remaining != 10 {
		t.Errorf("Remaining after 2 requests = %d, want 10", remaining)
	}
}

func TestRateLimiter_TokenCapRefill(t *testing.T) {
	limiter, clock := newClockedLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	})
	ctx := context.Background()

	limiter.Allow(ctx, "k")
	clock.Advance(time.Hour)
	limiter.Allow(ctx, "k")

	if remaining, _ := limiter.Remaining(ctx, "k"); remaining != 11 {
		t.Errorf("Remaining = %d, want capacity 12 minus 1", remaining)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter, clock := newClockedLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
	})
	ctx := context.Background()

	limiter.Allow(ctx, "old")
	clock.Advance(3 * time.Second)
	limiter.Allow(ctx, "fresh")

	limiter.Cleanup()

	limiter.mu.RLock()
	_, hasOld := limiter.buckets["old"]
	_, hasFresh := limiter.buckets["fresh"]
	limiter.mu.RUnlock()

	if hasOld {
		t.Error("Idle bucket should have been removed")
	}
	if !hasFresh {
		t.Error("Active bucket should be kept")
	}
}

func TestRateLimitConfig_Defaults(t *testing.T) {
	config := DefaultRateLimitConfig()
	if config.RequestsPerWindow != 100 || config.WindowDuration != time.Minute || config.BurstSize != 10 {
		t.Errorf("DefaultRateLimitConfig() = %+v", config)
	}

	config = PrincipalRateLimitConfig()
	if config.RequestsPerWindow != 1000 || config.BurstSize != 50 {
		t.Errorf("PrincipalRateLimitConfig() = %+v", config)
	}
}

func TestNewRateLimiter_NilConfig(t *testing.T) {
	limiter := NewRateLimiter(nil)
	if limiter.Config().RequestsPerWindow != 100 {
		t.Errorf("nil config should use defaults, got %+v", limiter.Config())
	}
}

func TestRateLimiter_Concurrency(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 50,
		WindowDuration:    time.Hour,
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow(ctx, "shared"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("Allowed %d concurrent requests, want 50", allowed)
	}
}

func TestRateLimiter_StartCleanup(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    10 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter.Allow(ctx, "k")
	limiter.StartCleanup(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		limiter.mu.RLock()
		n := len(limiter.buckets)
		limiter.mu.RUnlock()
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Background cleanup did not remove the idle bucket")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{name: "remote addr", remoteAddr: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "remote addr without port", remoteAddr: "192.0.2.1", want: "192.0.2.1"},
		{
			name:       "first forwarded hop",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"},
			want:       "203.0.113.5",
		},
		{
			name:       "real ip",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			want:       "198.51.100.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimitMiddleware_Anonymous(t *testing.T) {
	anon := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Hour})
	m := NewRateLimitMiddleware(NewRateLimiter(nil), anon, nil)
	handler := m.Handler(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/audit/records", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)

		if i == 0 {
			if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
				t.Errorf("X-RateLimit-Limit = %q, want 2", got)
			}
			if got := rec.Header().Get("X-RateLimit-Remaining"); got != "1" {
				t.Errorf("X-RateLimit-Remaining = %q, want 1", got)
			}
		}
		if i == 2 {
			if got := rec.Header().Get("Retry-After"); got != "3600" {
				t.Errorf("Retry-After = %q, want 3600", got)
			}
		}
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d: status %d, want %d", i, codes[i], want[i])
		}
	}
}

func TestRateLimitMiddleware_PrincipalUsesOwnLimiter(t *testing.T) {
	anon := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour})
	principal := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Hour})
	handler := NewRateLimitMiddleware(principal, anon, nil).Handler(okHandler)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/audit/records", nil)
		req = req.WithContext(contextkeys.WithPrincipal(req.Context(), "alice"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d, want 200", i, rec.Code)
		}
	}

	if remaining, _ := principal.Remaining(context.Background(), "principal:alice"); remaining != 2 {
		t.Errorf("principal remaining = %d, want 2", remaining)
	}
	if remaining, _ := anon.Remaining(context.Background(), "ip:192.0.2.1"); remaining != 1 {
		t.Errorf("anonymous limiter should be untouched, remaining = %d", remaining)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}
func (brokenLimiter) Remaining(context.Context, string) (int, error) { return 0, nil }
func (brokenLimiter) Config() *RateLimitConfig { return DefaultRateLimitConfig() }

func TestRateLimitMiddleware_LimiterFailure(t *testing.T) {
	m := NewRateLimitMiddleware(brokenLimiter{}, brokenLimiter{}, nil)

	rec := httptest.NewRecorder()
	m.Handler(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("fail open: status %d, want 200", rec.Code)
	}

	m.SetFailOpen(false)
	rec = httptest.NewRecorder()
	m.Handler(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("fail closed: status %d, want 503", rec.Code)
	}
}
