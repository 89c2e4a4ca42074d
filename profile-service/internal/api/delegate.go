// Package api holds the profile-service HTTP handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/redhat-et/obo-delegation-demo/pkg/auth"
	"github.com/redhat-et/obo-delegation-demo/pkg/downstream"
	"github.com/redhat-et/obo-delegation-demo/pkg/exchange"
	"github.com/redhat-et/obo-delegation-demo/pkg/logger"
	"github.com/redhat-et/obo-delegation-demo/pkg/metrics"
	"github.com/redhat-et/obo-delegation-demo/pkg/telemetry"
)

const serviceName = "profile-service"

// TokenResolver obtains a token for audience on behalf of a subject token
type TokenResolver interface {
	Resolve(ctx context.Context, subjectToken, audience string) (*oauth2.Token, error)
}

// ResourceInvoker calls a downstream resource with a bearer token
type ResourceInvoker interface {
	Invoke(ctx context.Context, token *oauth2.Token, resourceURL string) ([]byte, error)
}

// delegateState tracks one delegate request through its hops
type delegateState int

const (
	stateStart delegateState = iota
	stateTokenExtracted
	stateExchanged
	stateCalled
	stateResponded
	stateErrored
)

func (s delegateState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateTokenExtracted:
		return "token_extracted"
	case stateExchanged:
		return "exchanged"
	case stateCalled:
		return "called"
	case stateResponded:
		return "responded"
	case stateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// delegation is the per-request state
type delegation struct {
	state     delegateState
	principal *auth.Principal
	token     *oauth2.Token
	payload   []byte

	// failedIn is the state the request was in when err occurred
	failedIn delegateState
	err      error
}

func (d *delegation) fail(err error) delegateState {
	d.failedIn = d.state
	d.err = err
	return stateErrored
}

// DelegateResponse is the body of a successful GET /api/delegate
type DelegateResponse struct {
	Service          string          `json:"service"`
	Message          string          `json:"message"`
	User             string          `json:"user"`
	ProcessedAt      string          `json:"processed_at"`
	OriginalTokenAzp string          `json:"original_token_azp"`
	SecureData       json.RawMessage `json:"secure_data_from_data_service"`
}

// DelegateHandler serves GET /api/delegate: it exchanges the caller's token
// for the downstream audience and returns the downstream's data. It expects
// auth.Middleware in front of it.
type DelegateHandler struct {
	resolver    TokenResolver
	invoker     ResourceInvoker
	audience    string
	resourceURL string
	log         *logger.Logger
	now         func() time.Time
}

// NewDelegateHandler creates the delegate handler
func NewDelegateHandler(resolver TokenResolver, invoker ResourceInvoker, audience, resourceURL string, log *logger.Logger) *DelegateHandler {
	return &DelegateHandler{
		resolver:    resolver,
		invoker:     invoker,
		audience:    audience,
		resourceURL: resourceURL,
		log:         log,
		now:         time.Now,
	}
}

func (h *DelegateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "delegate", telemetry.AttrAudience.String(h.audience))
	defer span.End()

	h.log.Section("DELEGATE REQUEST")

	d := &delegation{state: stateStart}
	for d.state != stateResponded && d.state != stateErrored {
		d.state = h.step(ctx, w, d)
	}

	span.SetAttributes(telemetry.AttrDelegateState.String(d.state.String()))
	if d.state == stateErrored {
		outcome := h.logFailure(d)
		metrics.DelegateRequests.WithLabelValues(outcome).Inc()
		telemetry.SetSpanError(span, d.err)
		jsonError(w, "Failed to process delegate call", http.StatusInternalServerError)
		return
	}
	metrics.DelegateRequests.WithLabelValues(d.state.String()).Inc()
	telemetry.SetSpanOK(span)
}

// step performs the work for d.state and returns the next state
func (h *DelegateHandler) step(ctx context.Context, w http.ResponseWriter, d *delegation) delegateState {
	switch d.state {
	case stateStart:
		principal, ok := auth.PrincipalFrom(ctx)
		if !ok {
			return d.fail(errors.New("no authenticated principal in request context"))
		}
		d.principal = principal
		trace.SpanFromContext(ctx).SetAttributes(
			telemetry.AttrUsername.String(principal.Claims.PreferredUsername),
			telemetry.AttrAuthorizedParty.String(principal.Claims.AuthorizedParty),
		)
		h.log.Flow(logger.DirectionIncoming, "Delegate call received",
			"user", principal.Claims.PreferredUsername,
			"azp", principal.Claims.AuthorizedParty)
		return stateTokenExtracted

	case stateTokenExtracted:
		if err := ctx.Err(); err != nil {
			return d.fail(err)
		}
		token, err := h.resolver.Resolve(ctx, d.principal.Token, h.audience)
		if err != nil {
			return d.fail(err)
		}
		d.token = token
		return stateExchanged

	case stateExchanged:
		if err := ctx.Err(); err != nil {
			return d.fail(err)
		}
		h.log.Flow(logger.DirectionOutgoing, "Calling downstream with exchanged token", "url", h.resourceURL)
		payload, err := h.invoker.Invoke(ctx, d.token, h.resourceURL)
		if err != nil {
			return d.fail(err)
		}
		d.payload = payload
		return stateCalled

	case stateCalled:
		h.respond(w, d)
		return stateResponded
	}
	return d.fail(errors.New("invalid delegate state " + d.state.String()))
}

func (h *DelegateHandler) respond(w http.ResponseWriter, d *delegation) {
	secureData := json.RawMessage(d.payload)
	if !json.Valid(d.payload) {
		quoted, _ := json.Marshal(string(d.payload))
		secureData = quoted
	}

	resp := DelegateResponse{
		Service:          serviceName,
		Message:          "Successfully delegated call to data-service",
		User:             d.principal.Claims.PreferredUsername,
		ProcessedAt:      h.now().UTC().Format(time.RFC3339),
		OriginalTokenAzp: d.principal.Claims.AuthorizedParty,
		SecureData:       secureData,
	}

	h.log.Success("Delegated call completed", "user", resp.User)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// logFailure logs the failure detail and returns the outcome label
func (h *DelegateHandler) logFailure(d *delegation) string {
	var exErr *exchange.Error
	var callErr *downstream.CallError
	switch {
	case errors.Is(d.err, context.Canceled), errors.Is(d.err, context.DeadlineExceeded):
		h.log.Warn("Delegate call abandoned", "state", d.failedIn.String(), "error", d.err)
		return "abandoned"
	case errors.As(d.err, &exErr):
		h.log.Deny("Token exchange failed",
			"audience", h.audience,
			"status", exErr.Status,
			"detail", exErr.Detail)
		return "exchange_failed"
	case errors.As(d.err, &callErr):
		h.log.Deny("Downstream call failed",
			"url", h.resourceURL,
			"status", callErr.Status,
			"body", callErr.Body,
			"error", callErr.Cause)
		return "downstream_failed"
	default:
		h.log.Error("Delegate call failed", "state", d.failedIn.String(), "error", d.err)
		return "errored"
	}
}

// jsonError writes a JSON error response
func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
