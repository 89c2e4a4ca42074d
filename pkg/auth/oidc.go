package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/redhat-et/obo-delegation-demo/pkg/config"
)

// Endpoints are the identity provider URLs the services talk to
type Endpoints struct {
	Issuer   string
	TokenURL string
	JWKSURL  string
}

// Discover reads the issuer's OpenID configuration document
func Discover(ctx context.Context, issuerURL string, httpClient *http.Client) (*Endpoints, error) {
	if httpClient != nil {
		ctx = oidc.ClientContext(ctx, httpClient)
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	var meta struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("failed to read provider metadata: %w", err)
	}

	return &Endpoints{
		Issuer:   issuerURL,
		TokenURL: provider.Endpoint().TokenURL,
		JWKSURL:  meta.JWKSURI,
	}, nil
}

// ResolveEndpoints returns discovered endpoints when discovery is enabled,
// otherwise the well-known realm paths.
func ResolveEndpoints(ctx context.Context, cfg config.IdPConfig) (*Endpoints, error) {
	if cfg.Discovery {
		return Discover(ctx, cfg.IssuerURL(), &http.Client{Timeout: cfg.Timeout})
	}
	return &Endpoints{
		Issuer:   cfg.IssuerURL(),
		TokenURL: cfg.TokenURL(),
		JWKSURL:  cfg.JWKSURL(),
	}, nil
}

// PasswordConfig returns an OAuth2 config for the resource-owner password grant
// used by the demo client.
func PasswordConfig(endpoints *Endpoints, clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  endpoints.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{oidc.ScopeOpenID, "profile", "email"},
	}
}
