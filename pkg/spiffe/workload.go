package spiffe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"

	"github.com/redhat-et/obo-delegation-demo/pkg/config"
	"github.com/redhat-et/obo-delegation-demo/pkg/logger"
)

// Config holds SPIFFE-related configuration
type Config struct {
	SocketPath  string
	TrustDomain string
	MockMode    bool
}

// FromConfig builds a Config from loaded service settings
func FromConfig(svc config.ServiceConfig, cfg config.SPIFFEConfig) Config {
	return Config{
		SocketPath:  cfg.SocketPath,
		TrustDomain: cfg.TrustDomain,
		MockMode:    svc.MockSPIFFE,
	}
}

// WorkloadClient holds the workload's X.509 SVID and builds mTLS
// configuration from it. In mock mode no SPIRE agent is contacted and
// plain HTTP is used.
type WorkloadClient struct {
	config Config
	log    *logger.Logger

	mu       sync.RWMutex
	source   *workloadapi.X509Source
	spiffeID string
}

// NewWorkloadClient creates a new workload client
func NewWorkloadClient(cfg Config, log *logger.Logger) *WorkloadClient {
	return &WorkloadClient{
		config: cfg,
		log:    log,
	}
}

// Start connects to the SPIRE agent and waits for the first SVID
func (c *WorkloadClient) Start(ctx context.Context) error {
	if c.config.MockMode {
		c.log.Info("Mock mode: Skipping SPIRE Agent connection")
		return nil
	}

	c.log.Info("Connecting to SPIRE Agent", "socket", c.config.SocketPath)
	source, err := workloadapi.NewX509Source(ctx,
		workloadapi.WithClientOptions(workloadapi.WithAddr(c.config.SocketPath)))
	if err != nil {
		return fmt.Errorf("failed to create X509 source: %w", err)
	}

	svid, err := source.GetX509SVID()
	if err != nil {
		source.Close()
		return fmt.Errorf("failed to get X509 SVID: %w", err)
	}

	c.mu.Lock()
	c.source = source
	c.spiffeID = svid.ID.String()
	c.mu.Unlock()

	c.log.SVID(svid.ID.String(), "Received X509 SVID")
	return nil
}

// SetMockIdentity sets a mock identity for local development and tests
func (c *WorkloadClient) SetMockIdentity(spiffeID string) {
	c.mu.Lock()
	c.spiffeID = spiffeID
	c.mu.Unlock()
	c.log.SVID(spiffeID, "Using mock SPIFFE identity")
}

// SPIFFEID returns the workload's identity, or "" before Start
func (c *WorkloadClient) SPIFFEID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.spiffeID
}

// authorizer accepts any workload in the configured trust domain
func (c *WorkloadClient) authorizer() (tlsconfig.Authorizer, error) {
	td, err := spiffeid.TrustDomainFromString(c.config.TrustDomain)
	if err != nil {
		return nil, fmt.Errorf("invalid trust domain %q: %w", c.config.TrustDomain, err)
	}
	return tlsconfig.AuthorizeMemberOf(td), nil
}

// Transport returns the base round tripper for service-to-service calls:
// mTLS with the workload SVID, or the default transport in mock mode.
func (c *WorkloadClient) Transport() (http.RoundTripper, error) {
	c.mu.RLock()
	source := c.source
	c.mu.RUnlock()

	if c.config.MockMode || source == nil {
		return http.DefaultTransport, nil
	}

	authorizer, err := c.authorizer()
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsconfig.MTLSClientConfig(source, source, authorizer)
	return transport, nil
}

// ServerTLSConfig returns the mTLS server configuration, or nil in mock mode
func (c *WorkloadClient) ServerTLSConfig() (*tls.Config, error) {
	c.mu.RLock()
	source := c.source
	c.mu.RUnlock()

	if c.config.MockMode || source == nil {
		return nil, nil
	}

	authorizer, err := c.authorizer()
	if err != nil {
		return nil, err
	}
	return tlsconfig.MTLSServerConfig(source, source, authorizer), nil
}

// CreateHTTPServer returns a server for handler that requires client
// certificates from the trust domain unless in mock mode.
func (c *WorkloadClient) CreateHTTPServer(addr string, handler http.Handler) (*http.Server, error) {
	tlsConfig, err := c.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:      addr,
		Handler:   handler,
		TLSConfig: tlsConfig,
	}, nil
}

// ListenAndServe serves with mTLS when the server carries a TLS config
func ListenAndServe(server *http.Server) error {
	if server.TLSConfig != nil {
		return server.ListenAndServeTLS("", "")
	}
	return server.ListenAndServe()
}

// Close releases the SVID source
func (c *WorkloadClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == nil {
		return nil
	}
	err := c.source.Close()
	c.source = nil
	return err
}

// IdentityMiddleware records the calling workload's SPIFFE ID in the request
// context. Mock mode reads the X-SPIFFE-ID header; otherwise the ID comes
// from the verified peer certificate.
func IdentityMiddleware(mockMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var spiffeID string
			if mockMode {
				spiffeID = r.Header.Get("X-SPIFFE-ID")
			} else if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
				if uris := r.TLS.PeerCertificates[0].URIs; len(uris) > 0 {
					spiffeID = uris[0].String()
				}
			}
			if spiffeID != "" {
				r = r.WithContext(context.WithValue(r.Context(), spiffeIDKey, spiffeID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

type contextKey string

const spiffeIDKey contextKey = "spiffe-id"

// GetSPIFFEIDFromContext extracts the SPIFFE ID from the request context
func GetSPIFFEIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(spiffeIDKey).(string); ok {
		return id
	}
	return ""
}

// MockIdentityTransport adds X-SPIFFE-ID to outbound requests in mock mode so
// the receiving service can still attribute the caller.
type MockIdentityTransport struct {
	Base     http.RoundTripper
	SPIFFEID string
}

// RoundTrip implements http.RoundTripper
func (t *MockIdentityTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.SPIFFEID != "" {
		req = req.Clone(req.Context())
		req.Header.Set("X-SPIFFE-ID", t.SPIFFEID)
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
