package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-et/obo-delegation-demo/pkg/auth/authtest"
)

const testIssuer = "http://localhost:8081/realms/obo-demo-realm"

func TestValidateAccessToken_Valid(t *testing.T) {
	keyPair := authtest.GenerateKeyPair(t, "kid-1")
	v := NewJWTValidator(NewStaticKeySet(keyPair.JWK()), testIssuer, "profile-service-client")

	token := authtest.NewTokenBuilder(t, keyPair).
		WithSubject("user-123").
		WithUsername("alice").
		WithAzp("demo-client").
		WithRealmRoles("user").
		Build()

	claims, err := v.ValidateAccessToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, "alice", claims.PreferredUsername)
	assert.Equal(t, "demo-client", claims.AuthorizedParty)
	assert.True(t, claims.Audience.Contains("profile-service-client"))
	assert.NotEmpty(t, claims.RealmAccess)
}

func TestValidateAccessToken_Rejections(t *testing.T) {
	keyPair := authtest.GenerateKeyPair(t, "kid-1")
	otherPair := authtest.GenerateKeyPair(t, "kid-1")
	v := NewJWTValidator(NewStaticKeySet(keyPair.JWK()), testIssuer, "profile-service-client")

	valid := authtest.NewTokenBuilder(t, keyPair).Build()
	parts := strings.Split(valid, ".")
	require.Len(t, parts, 3)

	tests := []struct {
		name  string
		token string
	}{
		{"malformed", "not-a-jwt"},
		{"expired", authtest.NewTokenBuilder(t, keyPair).Expired().Build()},
		{"wrong key", authtest.NewTokenBuilder(t, otherPair).Build()},
		{"unknown kid", authtest.NewTokenBuilder(t, authtest.GenerateKeyPair(t, "kid-2")).Build()},
		{"tampered payload", parts[0] + "." + parts[1] + "x." + parts[2]},
		{"wrong issuer", authtest.NewTokenBuilder(t, keyPair).WithIssuer("http://evil").Build()},
		{"wrong audience", authtest.NewTokenBuilder(t, keyPair).WithAudience("someone-else").Build()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateAccessToken(context.Background(), tt.token)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "expected ValidationError, got %T", err)
		})
	}
}

func TestValidateAccessToken_ClockSkew(t *testing.T) {
	keyPair := authtest.GenerateKeyPair(t, "kid-1")
	v := NewJWTValidator(NewStaticKeySet(keyPair.JWK()), "", "")

	// expired 15 seconds ago, inside the 30s leeway
	token := authtest.NewTokenBuilder(t, keyPair).
		WithExpiration(time.Now().Add(-15 * time.Second)).
		Build()

	_, err := v.ValidateAccessToken(context.Background(), token)
	assert.NoError(t, err)
}

func TestRemoteKeySet_RefetchesOnUnknownKid(t *testing.T) {
	first := authtest.GenerateKeyPair(t, "old")
	second := authtest.GenerateKeyPair(t, "new")

	var fetches atomic.Int32
	var rotated atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if rotated.Load() {
			json.NewEncoder(w).Encode(authtest.JWKS(first, second))
			return
		}
		json.NewEncoder(w).Encode(authtest.JWKS(first))
	}))
	defer srv.Close()

	v := NewJWTValidator(NewRemoteKeySet(srv.URL, srv.Client()), "", "")

	_, err := v.ValidateAccessToken(context.Background(), authtest.NewTokenBuilder(t, first).Build())
	require.NoError(t, err)
	_, err = v.ValidateAccessToken(context.Background(), authtest.NewTokenBuilder(t, first).Build())
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load(), "key set should be cached")

	rotated.Store(true)
	_, err = v.ValidateAccessToken(context.Background(), authtest.NewTokenBuilder(t, second).Build())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestAudienceUnmarshal(t *testing.T) {
	var single struct {
		Aud Audience `json:"aud"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"aud":"a"}`), &single))
	assert.Equal(t, Audience{"a"}, single.Aud)

	var multi struct {
		Aud Audience `json:"aud"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"aud":["a","b"]}`), &multi))
	assert.True(t, multi.Aud.Contains("b"))

	var bad struct {
		Aud Audience `json:"aud"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"aud":42}`), &bad))
}
