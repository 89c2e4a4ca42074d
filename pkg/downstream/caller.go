// Package downstream calls a protected resource with an exchanged token.
package downstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/redhat-et/obo-delegation-demo/pkg/logger"
	"github.com/redhat-et/obo-delegation-demo/pkg/metrics"
	"github.com/redhat-et/obo-delegation-demo/pkg/telemetry"
)

const (
	defaultTimeout = 10 * time.Second

	// maxBodySize bounds how much of a downstream response is read (1 MiB)
	maxBodySize = 1 << 20
)

// CallError reports a failed downstream call. Status is 0 and Cause is set
// when no response was received; otherwise Body holds the response body.
type CallError struct {
	Status int
	Body   string
	Cause  error
}

func (e *CallError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("downstream call failed: %v", e.Cause)
	}
	return fmt.Sprintf("downstream returned status %d: %s", e.Status, e.Body)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// Caller performs authenticated GETs against a downstream service. It never retries.
type Caller struct {
	base    http.RoundTripper
	timeout time.Duration
	log     *logger.Logger
}

// NewCaller creates a caller on top of base, which carries mTLS when enabled
func NewCaller(base http.RoundTripper, timeout time.Duration, log *logger.Logger) *Caller {
	if base == nil {
		base = http.DefaultTransport
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Caller{
		base:    telemetry.WrapTransport(base),
		timeout: timeout,
		log:     log,
	}
}

// client returns an HTTP client that presents token as the bearer credential,
// whatever token type the identity provider reported.
func (c *Caller) client(token *oauth2.Token) *http.Client {
	bearer := *token
	bearer.TokenType = "Bearer"
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&bearer),
			Base:   c.base,
		},
		Timeout: c.timeout,
	}
}

// Invoke GETs resourceURL with token and returns the response body unchanged
// on 2xx. Any other outcome is a *CallError.
func (c *Caller) Invoke(ctx context.Context, token *oauth2.Token, resourceURL string) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "downstream.invoke", telemetry.AttrDownstreamURL.String(resourceURL))
	defer span.End()

	body, status, err := c.do(ctx, token, resourceURL)
	span.SetAttributes(telemetry.AttrDownstreamCode.Int(status))
	metrics.DownstreamCalls.WithLabelValues(strconv.Itoa(status)).Inc()
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	telemetry.SetSpanOK(span)
	return body, nil
}

func (c *Caller) do(ctx context.Context, token *oauth2.Token, resourceURL string) ([]byte, int, error) {
	if token == nil || token.AccessToken == "" {
		return nil, 0, &CallError{Cause: fmt.Errorf("no access token")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, 0, &CallError{Cause: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	c.log.Flow(logger.DirectionOutgoing, "Calling downstream", "url", resourceURL)
	start := time.Now()
	resp, err := c.client(token).Do(req)
	metrics.DownstreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.log.Deny("Downstream unreachable", "url", resourceURL, "error", err)
		return nil, 0, &CallError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, &CallError{Status: resp.StatusCode, Cause: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Deny("Downstream rejected call", "url", resourceURL, "status", resp.StatusCode)
		return nil, resp.StatusCode, &CallError{Status: resp.StatusCode, Body: string(body)}
	}

	c.log.Flow(logger.DirectionIncoming, "Downstream responded", "status", resp.StatusCode, "bytes", len(body))
	return body, resp.StatusCode, nil
}
