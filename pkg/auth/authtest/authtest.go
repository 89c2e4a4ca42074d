// Package authtest mints signed access tokens for tests.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// KeyPair holds an RSA key pair for testing.
// The private key signs tokens, the public key verifies them.
type KeyPair struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
	Kid        string
}

// GenerateKeyPair creates a new RSA key pair for testing.
func GenerateKeyPair(t testing.TB, kid string) *KeyPair {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	return &KeyPair{
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		Kid:        kid,
	}
}

// JWK returns the public verification key
func (k *KeyPair) JWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       k.PublicKey,
		KeyID:     k.Kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
}

// JWKS returns a key set document containing the public keys of pairs
func JWKS(pairs ...*KeyPair) jose.JSONWebKeySet {
	set := jose.JSONWebKeySet{}
	for _, p := range pairs {
		set.Keys = append(set.Keys, p.JWK())
	}
	return set
}

// TokenBuilder provides a fluent API for building test JWTs.
type TokenBuilder struct {
	t           testing.TB
	keyPair     *KeyPair
	subject     string
	username    string
	email       string
	azp         string
	audience    []string
	scope       string
	realmAccess any
	expiration  time.Time
	issuedAt    time.Time
	issuer      string
}

// NewTokenBuilder creates a new token builder with sensible defaults.
func NewTokenBuilder(t testing.TB, keyPair *KeyPair) *TokenBuilder {
	t.Helper()
	return &TokenBuilder{
		t:          t,
		keyPair:    keyPair,
		subject:    "test-user-id",
		username:   "testuser",
		email:      "testuser@example.com",
		azp:        "demo-client",
		audience:   []string{"profile-service-client"},
		expiration: time.Now().Add(time.Hour),
		issuedAt:   time.Now(),
		issuer:     "http://localhost:8081/realms/obo-demo-realm",
	}
}

// WithSubject sets the subject claim.
func (b *TokenBuilder) WithSubject(sub string) *TokenBuilder {
	b.subject = sub
	return b
}

// WithUsername sets preferred_username.
func (b *TokenBuilder) WithUsername(name string) *TokenBuilder {
	b.username = name
	return b
}

// WithAzp sets the authorized party claim.
func (b *TokenBuilder) WithAzp(azp string) *TokenBuilder {
	b.azp = azp
	return b
}

// WithAudience sets the audience claim.
func (b *TokenBuilder) WithAudience(aud ...string) *TokenBuilder {
	b.audience = aud
	return b
}

// WithScope sets the space-separated scope claim.
func (b *TokenBuilder) WithScope(scope string) *TokenBuilder {
	b.scope = scope
	return b
}

// WithRealmRoles sets realm_access.roles.
func (b *TokenBuilder) WithRealmRoles(roles ...string) *TokenBuilder {
	b.realmAccess = map[string]any{"roles": roles}
	return b
}

// WithRealmAccess sets realm_access to an arbitrary value, for malformed-claim tests.
func (b *TokenBuilder) WithRealmAccess(v any) *TokenBuilder {
	b.realmAccess = v
	return b
}

// WithExpiration sets when the token expires.
func (b *TokenBuilder) WithExpiration(exp time.Time) *TokenBuilder {
	b.expiration = exp
	return b
}

// Expired sets the token to have expired 1 hour ago.
func (b *TokenBuilder) Expired() *TokenBuilder {
	b.expiration = time.Now().Add(-time.Hour)
	return b
}

// WithIssuer sets the issuer claim.
func (b *TokenBuilder) WithIssuer(iss string) *TokenBuilder {
	b.issuer = iss
	return b
}

type customClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	Azp               string `json:"azp,omitempty"`
	Scope             string `json:"scope,omitempty"`
	RealmAccess       any    `json:"realm_access,omitempty"`
}

// Build creates and signs the JWT, returning the token string.
func (b *TokenBuilder) Build() string {
	b.t.Helper()

	claims := customClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   b.subject,
			Issuer:    b.issuer,
			Audience:  b.audience,
			ExpiresAt: jwt.NewNumericDate(b.expiration),
			IssuedAt:  jwt.NewNumericDate(b.issuedAt),
		},
		PreferredUsername: b.username,
		Email:             b.email,
		Azp:               b.azp,
		Scope:             b.scope,
		RealmAccess:       b.realmAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = b.keyPair.Kid

	tokenString, err := token.SignedString(b.keyPair.PrivateKey)
	if err != nil {
		b.t.Fatalf("Failed to sign token: %v", err)
	}

	return tokenString
}
