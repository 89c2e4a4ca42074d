package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-et/obo-delegation-demo/pkg/auth"
	"github.com/redhat-et/obo-delegation-demo/pkg/auth/authtest"
	"github.com/redhat-et/obo-delegation-demo/pkg/logger"
)

func TestProfileHandler(t *testing.T) {
	keyPair := authtest.GenerateKeyPair(t, "kid-1")
	validator := auth.NewJWTValidator(auth.NewStaticKeySet(keyPair.JWK()), "", "")
	handler := auth.Middleware(validator, true, logger.Discard(logger.ComponentProfileService))(http.HandlerFunc(ProfileHandler))

	token := authtest.NewTokenBuilder(t, keyPair).
		WithSubject("user-123").
		WithUsername("alice").
		WithRealmRoles("user").
		WithScope("openid profile").
		Build()

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ProfileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "profile-service", resp.Service)
	assert.Equal(t, "user-123", resp.UserID)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "testuser@example.com", resp.Email)
	assert.JSONEq(t, `{"roles":["user"]}`, string(resp.Roles))
	assert.Equal(t, []string{"ROLE_USER", "SCOPE_openid", "SCOPE_profile"}, resp.Authorities)
	assert.Equal(t, "This is profile data from profile-service", resp.Message)
}

func TestProfileHandler_NoRealmAccess(t *testing.T) {
	keyPair := authtest.GenerateKeyPair(t, "kid-1")
	validator := auth.NewJWTValidator(auth.NewStaticKeySet(keyPair.JWK()), "", "")
	handler := auth.Middleware(validator, true, logger.Discard(logger.ComponentProfileService))(http.HandlerFunc(ProfileHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Authorization", "Bearer "+authtest.NewTokenBuilder(t, keyPair).Build())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp["roles"])
	assert.Equal(t, []any{}, resp["authorities"])
}
