// Package api holds the data-service HTTP handlers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redhat-et/obo-delegation-demo/data-service/internal/policy"
	"github.com/redhat-et/obo-delegation-demo/pkg/auth"
	"github.com/redhat-et/obo-delegation-demo/pkg/logger"
	"github.com/redhat-et/obo-delegation-demo/pkg/spiffe"
	"github.com/redhat-et/obo-delegation-demo/pkg/storage"
)

const serviceName = "data-service"

// Authorizer decides whether a caller may read secure data
type Authorizer interface {
	Evaluate(ctx context.Context, in policy.Input) (*policy.Decision, error)
}

// SecureData is the payload returned to authorized callers
type SecureData struct {
	AccountBalance string `json:"account_balance"`
	SSNLastFour    string `json:"ssn_last_four"`
	CreditScore    int    `json:"credit_score"`
	AccessedAt     string `json:"accessed_at"`
}

// DataResponse is the body of GET /api/data
type DataResponse struct {
	SecureData SecureData `json:"secure_data"`
	Service    string     `json:"service"`
	Message    string     `json:"message"`
}

// DataHandler serves GET /api/data. It expects auth.Middleware in front of it.
type DataHandler struct {
	records  storage.RecordStorage
	authz    Authorizer
	audience string
	log      *logger.Logger
	now      func() time.Time
}

// NewDataHandler creates the secure data handler. audience is the client ID
// that delegated tokens must be issued for.
func NewDataHandler(records storage.RecordStorage, authz Authorizer, audience string, log *logger.Logger) *DataHandler {
	return &DataHandler{
		records:  records,
		authz:    authz,
		audience: audience,
		log:      log,
		now:      time.Now,
	}
}

func (h *DataHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		jsonError(w, "invalid_token", http.StatusUnauthorized)
		return
	}
	claims := principal.Claims

	callerType := "user"
	caller := spiffe.GetSPIFFEIDFromContext(r.Context())
	if caller != "" {
		callerType = "delegated"
	}

	h.log.Section("SECURE DATA REQUEST")
	h.log.Flow(logger.DirectionIncoming, "Secure data requested",
		"sub", claims.Subject,
		"user", claims.PreferredUsername,
		"azp", claims.AuthorizedParty,
		"caller", caller)

	decision, err := h.authz.Evaluate(r.Context(), policy.Input{
		Subject:          claims.Subject,
		Audience:         claims.Audience,
		Authorities:      principal.Authorities,
		ExpectedAudience: h.audience,
		CallerType:       callerType,
	})
	if err != nil {
		h.log.Error("Authorization check failed", "error", err)
		jsonError(w, "Authorization failed", http.StatusInternalServerError)
		return
	}
	if !decision.Allow {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{
			"error":  "Access denied",
			"reason": decision.Reason,
		})
		return
	}

	record, err := storage.Lookup(r.Context(), h.records, claims.Subject)
	if err != nil {
		h.log.Error("Failed to load secure record", "sub", claims.Subject, "error", err)
		jsonError(w, "Failed to load secure data", http.StatusInternalServerError)
		return
	}

	resp := DataResponse{
		SecureData: SecureData{
			AccountBalance: record.AccountBalance,
			SSNLastFour:    record.SSNLastFour,
			CreditScore:    record.CreditScore,
			AccessedAt:     h.now().UTC().Format(time.RFC3339),
		},
		Service: serviceName,
		Message: "This is secure data from data-service",
	}

	h.log.Success("Returning secure data", "sub", claims.Subject)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleHealth reports liveness
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// ReadyHandler reports readiness once the record store answers
func ReadyHandler(records storage.RecordStorage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := records.Ping(r.Context()); err != nil {
			jsonError(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

// jsonError writes a JSON error response
func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
