// Package middleware provides HTTP middleware for request identification,
// principal resolution and write rate limiting in front of the audit API.
//
// # Middleware Components
//
// RequestID: propagates or assigns X-Request-ID
//
//	router.Use(middleware.RequestID)
//
// Authenticator: verifies OIDC bearer tokens and sets the principal that
// audit records are attributed to
//
//	verifier, err := middleware.NewOIDCVerifier(ctx, issuerURL, clientID)
//	router.Use(middleware.NewAuthenticator(verifier, false).Handler)
//
// StaticPrincipal: attributes unauthenticated requests to a fixed name
//
//	router.Use(middleware.StaticPrincipal("system"))
//
// RateLimitMiddleware: per-principal or per-IP limits, in process or in Redis
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, nil, "audit:ratelimit:anon")
//	m := middleware.NewRateLimitMiddleware(middleware.NewRateLimiter(middleware.PrincipalRateLimitConfig()), limiter, logger)
//
// # Rate Limiting
//
// Anonymous: 100 req/min, 10 burst
// Per-Principal: 1000 req/min, 50 burst
package middleware
