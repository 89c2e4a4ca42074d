package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
)

const (
	// jwksTTL is how long a fetched key set is trusted before refetching
	jwksTTL = 5 * time.Minute

	// clockSkew is tolerated on the exp claim
	clockSkew = 30 * time.Second
)

var supportedAlgorithms = []jose.SignatureAlgorithm{jose.RS256, jose.ES256}

// AccessTokenClaims represents claims extracted from an access token
type AccessTokenClaims struct {
	Subject           string          `json:"sub"`
	PreferredUsername string          `json:"preferred_username"`
	Email             string          `json:"email"`
	Issuer            string          `json:"iss"`
	Audience          Audience        `json:"aud"`
	Groups            []string        `json:"groups"`
	ExpiresAt         int64           `json:"exp"`
	IssuedAt          int64           `json:"iat"`
	AuthorizedParty   string          `json:"azp"`
	Scope             string          `json:"scope"`
	RealmAccess       json.RawMessage `json:"realm_access,omitempty"`
}

// Audience handles both string and []string forms of the "aud" claim
type Audience []string

func (a *Audience) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = Audience{s}
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("aud claim is neither string nor array: %w", err)
	}
	*a = Audience(arr)
	return nil
}

// Contains reports whether aud is one of the token audiences
func (a Audience) Contains(aud string) bool {
	return slices.Contains(a, aud)
}

// ValidationError is returned when an inbound credential is rejected.
// It is never retried.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid token: %s: %v", e.Reason, e.Err)
	}
	return "invalid token: " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(reason string, err error) error {
	return &ValidationError{Reason: reason, Err: err}
}

// KeySet resolves verification keys by key ID
type KeySet interface {
	Key(ctx context.Context, kid string) (*jose.JSONWebKey, error)
}

// StaticKeySet is a fixed set of verification keys
type StaticKeySet struct {
	keys jose.JSONWebKeySet
}

// NewStaticKeySet returns a key set backed by the given keys
func NewStaticKeySet(keys ...jose.JSONWebKey) *StaticKeySet {
	return &StaticKeySet{keys: jose.JSONWebKeySet{Keys: keys}}
}

// Key implements KeySet
func (s *StaticKeySet) Key(_ context.Context, kid string) (*jose.JSONWebKey, error) {
	keys := s.keys.Key(kid)
	if len(keys) == 0 {
		return nil, fmt.Errorf("no matching key found for kid %q", kid)
	}
	return &keys[0], nil
}

// RemoteKeySet fetches and caches a JWKS document published by the identity provider
type RemoteKeySet struct {
	jwksURL    string
	httpClient *http.Client

	mu      sync.RWMutex
	jwks    *jose.JSONWebKeySet
	fetched time.Time
}

// NewRemoteKeySet creates a key set for the given JWKS URL
func NewRemoteKeySet(jwksURL string, httpClient *http.Client) *RemoteKeySet {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteKeySet{
		jwksURL:    jwksURL,
		httpClient: httpClient,
	}
}

// Key implements KeySet. An unknown kid forces one refetch in case keys were rotated.
func (r *RemoteKeySet) Key(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	keySet, err := r.getJWKS(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	keys := keySet.Key(kid)
	if len(keys) == 0 {
		r.invalidateJWKS()
		keySet, err = r.getJWKS(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
		}
		keys = keySet.Key(kid)
		if len(keys) == 0 {
			return nil, fmt.Errorf("no matching key found for kid %q", kid)
		}
	}
	return &keys[0], nil
}

// getJWKS returns the cached JWKS or fetches it
func (r *RemoteKeySet) getJWKS(ctx context.Context) (*jose.JSONWebKeySet, error) {
	r.mu.RLock()
	if r.jwks != nil && time.Since(r.fetched) < jwksTTL {
		defer r.mu.RUnlock()
		return r.jwks, nil
	}
	r.mu.RUnlock()

	return r.fetchJWKS(ctx)
}

// invalidateJWKS forces the next getJWKS call to fetch fresh keys
func (r *RemoteKeySet) invalidateJWKS() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetched = time.Time{}
}

// fetchJWKS fetches the JWKS from the remote endpoint
func (r *RemoteKeySet) fetchJWKS(ctx context.Context) (*jose.JSONWebKeySet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if r.jwks != nil && time.Since(r.fetched) < jwksTTL {
		return r.jwks, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", r.jwksURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var keySet jose.JSONWebKeySet
	if err := json.Unmarshal(body, &keySet); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}

	r.jwks = &keySet
	r.fetched = time.Now()

	return r.jwks, nil
}

// JWTValidator validates JWT access tokens against a key set
type JWTValidator struct {
	keys             KeySet
	expectedIssuer   string
	expectedAudience string
	now              func() time.Time
}

// NewJWTValidator creates a new JWT access token validator.
// Empty issuer or audience disables that check.
func NewJWTValidator(keys KeySet, expectedIssuer, expectedAudience string) *JWTValidator {
	return &JWTValidator{
		keys:             keys,
		expectedIssuer:   expectedIssuer,
		expectedAudience: expectedAudience,
		now:              time.Now,
	}
}

// ValidateAccessToken validates a JWT access token and returns the parsed claims.
// All failures are reported as *ValidationError.
func (v *JWTValidator) ValidateAccessToken(ctx context.Context, tokenString string) (*AccessTokenClaims, error) {
	jws, err := jose.ParseSigned(tokenString, supportedAlgorithms)
	if err != nil {
		return nil, invalid("malformed", err)
	}

	if len(jws.Signatures) == 0 {
		return nil, invalid("no signatures in JWT", nil)
	}
	kid := jws.Signatures[0].Header.KeyID

	key, err := v.keys.Key(ctx, kid)
	if err != nil {
		return nil, invalid("unknown signing key", err)
	}

	payload, err := jws.Verify(key.Key)
	if err != nil {
		return nil, invalid("signature verification failed", err)
	}

	var claims AccessTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, invalid("malformed claims", err)
	}

	now := v.now()
	if claims.ExpiresAt > 0 && now.After(time.Unix(claims.ExpiresAt, 0).Add(clockSkew)) {
		return nil, invalid(fmt.Sprintf("token expired at %d", claims.ExpiresAt), nil)
	}

	if v.expectedIssuer != "" && claims.Issuer != v.expectedIssuer {
		return nil, invalid(fmt.Sprintf("issuer %q, expected %q", claims.Issuer, v.expectedIssuer), nil)
	}

	if v.expectedAudience != "" && !claims.Audience.Contains(v.expectedAudience) {
		return nil, invalid(fmt.Sprintf("audience %v does not contain %q",
			[]string(claims.Audience), v.expectedAudience), nil)
	}

	return &claims, nil
}

// IsValidationError reports whether err is an inbound credential rejection
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
