package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/redhat-et/obo-delegation-demo/pkg/auth"
	"github.com/redhat-et/obo-delegation-demo/pkg/config"
	"github.com/redhat-et/obo-delegation-demo/pkg/downstream"
	"github.com/redhat-et/obo-delegation-demo/pkg/exchange"
	"github.com/redhat-et/obo-delegation-demo/pkg/logger"
	"github.com/redhat-et/obo-delegation-demo/pkg/spiffe"
	"github.com/redhat-et/obo-delegation-demo/pkg/telemetry"
	"github.com/redhat-et/obo-delegation-demo/profile-service/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the profile service",
	Long:  `Start the profile service on the configured port.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type Config struct {
	config.CommonConfig `mapstructure:",squash"`
	Cache               config.CacheConfig      `mapstructure:"cache"`
	Downstream          config.DownstreamConfig `mapstructure:"downstream"`
}

// newExchangeCache builds the configured cache backend. The returned close
// function releases backend connections.
func newExchangeCache(ctx context.Context, cfg config.CacheConfig, log *logger.Logger) (exchange.Cache, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		log.Info("Using in-memory exchange cache", "capacity", cfg.Capacity)
		return exchange.NewMemoryCache(cfg.Capacity), func() error { return nil }, nil
	case "redis":
		log.Info("Using Redis exchange cache", "addr", cfg.Redis.Addr)
		cache, err := exchange.NewRedisCache(ctx, cfg.Redis, log)
		if err != nil {
			return nil, nil, err
		}
		return cache, cache.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg Config
	if err := config.Load(v, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, telemetry.FromOTelConfig("profile-service", cfg.OTel))
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer otelShutdown(ctx)

	level := logger.ParseLevel(cfg.Service.LogLevel)
	log := logger.NewWithLevel(logger.ComponentProfileService, level)

	workloadClient := spiffe.NewWorkloadClient(spiffe.FromConfig(cfg.Service, cfg.SPIFFE), logger.NewWithLevel(logger.ComponentMTLS, level))
	if cfg.Service.MockSPIFFE {
		workloadClient.SetMockIdentity("spiffe://" + cfg.SPIFFE.TrustDomain + "/service/profile-service")
	} else if err := workloadClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to fetch SPIFFE identity: %w", err)
	}

	// Identity provider endpoints and inbound token validation
	endpoints, err := auth.ResolveEndpoints(ctx, cfg.IdP)
	if err != nil {
		return fmt.Errorf("failed to resolve identity provider endpoints: %w", err)
	}
	issuer := ""
	if cfg.JWT.CheckIssuer {
		issuer = endpoints.Issuer
	}
	keySet := auth.NewRemoteKeySet(endpoints.JWKSURL, &http.Client{Timeout: cfg.IdP.Timeout})
	validator := auth.NewJWTValidator(keySet, issuer, cfg.JWT.ExpectedAudience)

	// Token exchange
	exchangeLog := logger.NewWithLevel(logger.ComponentExchange, level)
	cache, closeCache, err := newExchangeCache(ctx, cfg.Cache, logger.NewWithLevel(logger.ComponentCache, level))
	if err != nil {
		return fmt.Errorf("failed to initialize exchange cache: %w", err)
	}
	client, err := exchange.NewClient(exchange.ClientConfig{
		TokenURL:     endpoints.TokenURL,
		ClientID:     cfg.IdP.ClientID,
		ClientSecret: cfg.IdP.ClientSecret,
		HTTPClient: &http.Client{
			Transport: telemetry.WrapTransport(http.DefaultTransport),
			Timeout:   cfg.IdP.Timeout,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create token exchange client: %w", err)
	}
	broker := exchange.NewBroker(client, cache, exchange.BrokerConfig{
		Ceiling:      cfg.Cache.TTL,
		SafetyMargin: cfg.Cache.SafetyMargin,
		Timeout:      cfg.IdP.Timeout,
	}, exchangeLog)

	// Downstream caller over mTLS, or plain HTTP with the mock identity header
	base, err := workloadClient.Transport()
	if err != nil {
		return fmt.Errorf("failed to create downstream transport: %w", err)
	}
	if cfg.Service.MockSPIFFE {
		base = &spiffe.MockIdentityTransport{Base: base, SPIFFEID: workloadClient.SPIFFEID()}
	}
	caller := downstream.NewCaller(base, cfg.Downstream.Timeout, logger.NewWithLevel(logger.ComponentDownstream, level))

	delegateHandler := api.NewDelegateHandler(broker, caller, cfg.Downstream.Audience, cfg.Downstream.ResourceURL(), log)
	authenticate := auth.Middleware(validator, true, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", api.HandleHealth)
	mux.Handle("/api/delegate", authenticate(delegateHandler))
	mux.Handle("/api/profile", authenticate(http.HandlerFunc(api.ProfileHandler)))

	var handler http.Handler = spiffe.IdentityMiddleware(cfg.Service.MockSPIFFE)(mux)
	handler = telemetry.WrapHandler(handler, "profile-service")

	// Public listener: end users connect without client certificates.
	server := &http.Server{
		Addr:         cfg.Service.Addr(),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", api.HandleHealth)
	healthMux.HandleFunc("/ready", api.HandleHealth)
	healthMux.Handle("/metrics", promhttp.Handler())
	healthServer := &http.Server{
		Addr:         cfg.Service.HealthAddr(),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Info("Shutting down profile service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Shutdown error", "error", err)
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Health server shutdown error", "error", err)
		}
		if err := closeCache(); err != nil {
			log.Error("Failed to close exchange cache", "error", err)
		}
		if err := workloadClient.Close(); err != nil {
			log.Error("Failed to close SPIFFE workload client", "error", err)
		}
		close(done)
	}()

	log.Section("STARTING PROFILE SERVICE")
	log.Info("Profile Service starting", "addr", cfg.Service.Addr())
	log.Info("Health server starting", "addr", cfg.Service.HealthAddr())
	log.Info("Token endpoint", "url", endpoints.TokenURL)
	log.Info("Downstream", "url", cfg.Downstream.ResourceURL(), "audience", cfg.Downstream.Audience)
	log.Info("Exchange cache", "backend", cfg.Cache.Backend, "ttl", cfg.Cache.TTL, "safety_margin", cfg.Cache.SafetyMargin)
	log.Info("mTLS to downstream", "enabled", !cfg.Service.MockSPIFFE)

	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Health server error", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	log.Info("Profile service stopped")
	return nil
}
