package api

import (
	"encoding/json"
	"net/http"

	"github.com/redhat-et/obo-delegation-demo/pkg/auth"
)

// ProfileResponse is the body of GET /api/profile
type ProfileResponse struct {
	Service     string          `json:"service"`
	UserID      string          `json:"user_id"`
	Username    string          `json:"username"`
	Email       string          `json:"email"`
	Roles       json.RawMessage `json:"roles"`
	Authorities []string        `json:"authorities"`
	Message     string          `json:"message"`
}

// ProfileHandler returns the caller's identity as seen by this service
func ProfileHandler(w http.ResponseWriter, r *http.Request) {
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

	roles := claims.RealmAccess
	if len(roles) == 0 {
		roles = json.RawMessage("null")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ProfileResponse{
		Service:     serviceName,
		UserID:      claims.Subject,
		Username:    claims.PreferredUsername,
		Email:       claims.Email,
		Roles:       roles,
		Authorities: principal.Authorities,
		Message:     "This is profile data from profile-service",
	})
}

// HandleHealth reports liveness
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
