// Package client calls the profile-service API as the demo user.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/redhat-et/obo-delegation-demo/pkg/telemetry"
)

const maxBodySize = 1 << 20

// StatusError is returned when profile-service answers with a non-2xx status
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("profile-service returned %d %s: %s", e.Status, http.StatusText(e.Status), e.Body)
}

// FetchToken obtains a user access token with the resource owner password grant
func FetchToken(ctx context.Context, cfg *oauth2.Config, username, password string) (*oauth2.Token, error) {
	token, err := cfg.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token for %s: %w", username, err)
	}
	return token, nil
}

// Client is a profile-service API client
type Client struct {
	baseURL string
	timeout time.Duration
}

// New creates a client for the profile-service at baseURL
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
	}
}

// Get calls path with token as bearer and returns the body of a 2xx response
func (c *Client) Get(ctx context.Context, token *oauth2.Token, path string) ([]byte, error) {
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(token),
			Base:   telemetry.WrapTransport(http.DefaultTransport),
		},
		Timeout: c.timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call profile-service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
