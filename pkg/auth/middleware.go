package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/redhat-et/obo-delegation-demo/pkg/logger"
)

// TokenValidator validates a raw bearer credential
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*AccessTokenClaims, error)
}

// Principal is the authenticated caller of a request
type Principal struct {
	// Token is the raw bearer credential exactly as presented
	Token       string
	Claims      *AccessTokenClaims
	Authorities Authorities
}

type principalKey struct{}

// WithPrincipal returns a context carrying p
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by Middleware
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// ExtractBearerToken extracts the token from an "Authorization: Bearer <token>" header
func ExtractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware rejects requests without a valid bearer token and stores the
// resulting Principal in the request context.
func Middleware(validator TokenValidator, includeScopes bool, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := ExtractBearerToken(r)
			if !ok {
				log.Deny("Missing bearer token", "path", r.URL.Path)
				unauthorized(w)
				return
			}

			claims, err := validator.ValidateAccessToken(r.Context(), token)
			if err != nil {
				log.Deny("Token rejected", "path", r.URL.Path, "error", err)
				unauthorized(w)
				return
			}

			authorities, err := MapAuthorities(claims, includeScopes)
			if errors.Is(err, ErrMalformedRoles) {
				log.Warn("Ignoring malformed realm roles", "sub", claims.Subject)
			}

			log.Debug("Authenticated request",
				"sub", claims.Subject,
				"user", claims.PreferredUsername,
				"authorities", []string(authorities))

			ctx := WithPrincipal(r.Context(), &Principal{
				Token:       token,
				Claims:      claims,
				Authorities: authorities,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "invalid_token"})
}
