package downstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/redhat-et/obo-delegation-demo/pkg/logger"
)

func newTestCaller(timeout time.Duration) *Caller {
	return NewCaller(nil, timeout, logger.Discard(logger.ComponentDownstream))
}

func bearer(s string) *oauth2.Token {
	return &oauth2.Token{AccessToken: s, TokenType: "Bearer"}
}

func TestInvoke_Success(t *testing.T) {
	payload := `{"secure_data":{"credit_score":750}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer T1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	body, err := newTestCaller(time.Second).Invoke(context.Background(), bearer("T1"), srv.URL+"/api/data")
	require.NoError(t, err)
	assert.Equal(t, payload, string(body), "body passed through unchanged")
}

func TestInvoke_LowercaseTokenTypeNormalized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer T1", r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	_, err := newTestCaller(time.Second).Invoke(context.Background(),
		&oauth2.Token{AccessToken: "T1", TokenType: "bearer"}, srv.URL)
	require.NoError(t, err)
}

func TestInvoke_NonBearerTokenTypeSentAsBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer T1", r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	token := &oauth2.Token{AccessToken: "T1", TokenType: "N_A"}
	_, err := newTestCaller(time.Second).Invoke(context.Background(), token, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "N_A", token.TokenType, "caller's token left untouched")
}

func TestInvoke_NonSuccessStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"forbidden"}`))
	}))
	defer srv.Close()

	_, err := newTestCaller(time.Second).Invoke(context.Background(), bearer("T1"), srv.URL)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, http.StatusForbidden, callErr.Status)
	assert.Equal(t, `{"error":"forbidden"}`, callErr.Body)
	assert.Equal(t, int32(1), calls.Load(), "no retries")
}

func TestInvoke_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestCaller(time.Second).Invoke(context.Background(), bearer("T1"), url)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, 0, callErr.Status)
	assert.Error(t, callErr.Cause)
}

func TestInvoke_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestCaller(50*time.Millisecond).Invoke(context.Background(), bearer("T1"), srv.URL)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, 0, callErr.Status)
}

func TestInvoke_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestCaller(time.Second).Invoke(ctx, bearer("T1"), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestInvoke_MissingToken(t *testing.T) {
	_, err := newTestCaller(time.Second).Invoke(context.Background(), nil, "http://unused")
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
}
