package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/platinummonkey/audittrail/pkg/contextkeys"
	"github.com/platinummonkey/audittrail/pkg/httputil"
)

// ErrNoPrincipal is returned when a verified token names nobody
var ErrNoPrincipal = errors.New("token carries no principal")

// TokenVerifier turns a bearer token into a principal identifier
type TokenVerifier interface {
	VerifyPrincipal(ctx context.Context, rawToken string) (string, error)
}

// OIDCVerifier verifies ID tokens issued by an OpenID Connect provider
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer and builds a verifier for clientID
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewOIDCVerifierFromKeys builds a verifier without discovery
func NewOIDCVerifierFromKeys(issuerURL, clientID string, keys oidc.KeySet) *OIDCVerifier {
	return &OIDCVerifier{verifier: oidc.NewVerifier(issuerURL, keys, &oidc.Config{ClientID: clientID})}
}

type principalClaims struct {
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
}

// VerifyPrincipal returns the email claim, then preferred_username, then the subject
func (v *OIDCVerifier) VerifyPrincipal(ctx context.Context, rawToken string) (string, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return "", err
	}

	var claims principalClaims
	if err := token.Claims(&claims); err != nil {
		return "", fmt.Errorf("failed to parse claims: %w", err)
	}

	switch {
	case claims.Email != "":
		return claims.Email, nil
	case claims.PreferredUsername != "":
		return claims.PreferredUsername, nil
	case token.Subject != "":
		return token.Subject, nil
	}
	return "", ErrNoPrincipal
}

// Authenticator sets the request principal from a bearer token
type Authenticator struct {
	verifier TokenVerifier
	optional bool // If true, allow requests without auth
}

// NewAuthenticator creates a new authentication middleware
func NewAuthenticator(verifier TokenVerifier, optional bool) *Authenticator {
	return &Authenticator{
		verifier: verifier,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w, "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			unauthorized(w, "invalid authorization header format")
			return
		}

		principal, err := m.verifier.VerifyPrincipal(r.Context(), token)
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// StaticPrincipal attributes every request without a principal to name
func StaticPrincipal(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := contextkeys.GetPrincipal(r.Context()); ok || name == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(contextkeys.WithPrincipal(r.Context(), name)))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	httputil.WriteErrorMessage(w, http.StatusUnauthorized, message)
}
