// Package exchange implements the on-behalf-of delegation broker: RFC 8693
// token exchange against the identity provider plus a bounded cache of the
// audience-scoped tokens it returns.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// RFC 8693 identifiers
const (
	GrantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	TokenTypeAccessToken   = "urn:ietf:params:oauth:token-type:access_token"
)

const (
	defaultTimeout = 10 * time.Second

	// maxResponseBodySize bounds how much of an IdP response is read (1 MiB)
	maxResponseBodySize = 1 << 20

	// maxDetailLen bounds raw error bodies copied into Error.Detail
	maxDetailLen = 512
)

// Exchanger trades a subject token for a token scoped to audience
type Exchanger interface {
	Exchange(ctx context.Context, subjectToken, audience string) (*oauth2.Token, error)
}

// ClientConfig holds the identity provider endpoint and this service's credentials
type ClientConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	// HTTPClient is used for the exchange request; a client with Timeout is built when nil
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client performs RFC 8693 token exchanges
type Client struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewClient creates a token exchange client
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if _, err := url.Parse(cfg.TokenURL); err != nil {
		return nil, fmt.Errorf("token URL is not a valid URL: %w", err)
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
	}, nil
}

// tokenResponse is the token endpoint success body
type tokenResponse struct {
	AccessToken     string `json:"access_token"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int64  `json:"expires_in"`
	IssuedTokenType string `json:"issued_token_type"`
}

// oauthError is an RFC 6749 section 5.2 error body
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// buildForm constructs the exchange request body. Client credentials travel
// in the form, which is what the realm's confidential clients expect.
func (c *Client) buildForm(subjectToken, audience string) url.Values {
	form := url.Values{}
	form.Set("grant_type", GrantTypeTokenExchange)
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("subject_token", subjectToken)
	form.Set("subject_token_type", TokenTypeAccessToken)
	form.Set("audience", audience)
	return form
}

// Exchange posts the subject token to the token endpoint and returns the
// audience-scoped token. All failures are *Error.
func (c *Client) Exchange(ctx context.Context, subjectToken, audience string) (*oauth2.Token, error) {
	if subjectToken == "" {
		return nil, failed(0, "subject token is empty", nil)
	}

	body := c.buildForm(subjectToken, audience).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(body))
	if err != nil {
		return nil, failed(0, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, failed(0, err.Error(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, failed(resp.StatusCode, "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, failed(resp.StatusCode, errorDetail(raw), nil)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, failed(resp.StatusCode, "malformed token response", err)
	}
	if tr.AccessToken == "" {
		return nil, failed(resp.StatusCode, "response has no access_token", nil)
	}

	return newToken(tr, time.Now()), nil
}

// newToken always reports a Bearer token type. RFC 8693 lets the identity
// provider answer "N_A", which is not a valid Authorization scheme.
func newToken(tr tokenResponse, now time.Time) *oauth2.Token {
	token := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   tr.ExpiresIn,
	}
	if tr.ExpiresIn > 0 {
		token.Expiry = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return token
}

// ExpiresIn returns the lifetime the identity provider reported for token,
// or 0 when it reported none.
func ExpiresIn(token *oauth2.Token) time.Duration {
	if token == nil || token.ExpiresIn <= 0 {
		return 0
	}
	return time.Duration(token.ExpiresIn) * time.Second
}

// errorDetail prefers the OAuth error fields and falls back to the raw body
func errorDetail(body []byte) string {
	var oe oauthError
	if err := json.Unmarshal(body, &oe); err == nil && oe.Error != "" {
		if oe.ErrorDescription != "" {
			return oe.Error + ": " + oe.ErrorDescription
		}
		return oe.Error
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > maxDetailLen {
		detail = detail[:maxDetailLen] + "..."
	}
	return detail
}
