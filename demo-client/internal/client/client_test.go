package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestFetchToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "alice", r.PostForm.Get("username"))
		assert.Equal(t, "alice-pass", r.PostForm.Get("password"))
		assert.Equal(t, "demo-client", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "user-token",
			"token_type":   "Bearer",
			"expires_in":   300,
		})
	}))
	defer srv.Close()

	cfg := &oauth2.Config{
		ClientID:     "demo-client",
		ClientSecret: "demo-secret",
		Endpoint: oauth2.Endpoint{
			TokenURL:  srv.URL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	token, err := FetchToken(context.Background(), cfg, "alice", "alice-pass")
	require.NoError(t, err)
	assert.Equal(t, "user-token", token.AccessToken)
}

func TestClientGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer user-token" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_token"}`))
			return
		}
		if r.URL.Path == "/api/delegate" {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"Failed to process delegate call"}`))
			return
		}
		w.Write([]byte(`{"service":"profile-service"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", 5*time.Second)
	ctx := context.Background()

	body, err := c.Get(ctx, &oauth2.Token{AccessToken: "user-token"}, "/api/profile")
	require.NoError(t, err)
	assert.JSONEq(t, `{"service":"profile-service"}`, string(body))

	_, err = c.Get(ctx, &oauth2.Token{AccessToken: "user-token"}, "/api/delegate")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.Status)
	assert.Contains(t, statusErr.Body, "Failed to process delegate call")

	_, err = c.Get(ctx, &oauth2.Token{AccessToken: "wrong"}, "/api/profile")
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.Status)
}
