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

	"github.com/redhat-et/obo-delegation-demo/data-service/internal/api"
	"github.com/redhat-et/obo-delegation-demo/data-service/internal/policy"
	"github.com/redhat-et/obo-delegation-demo/pkg/auth"
	"github.com/redhat-et/obo-delegation-demo/pkg/config"
	"github.com/redhat-et/obo-delegation-demo/pkg/logger"
	"github.com/redhat-et/obo-delegation-demo/pkg/spiffe"
	"github.com/redhat-et/obo-delegation-demo/pkg/storage"
	"github.com/redhat-et/obo-delegation-demo/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the data service",
	Long:  `Start the data service on the configured port.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type Config struct {
	config.CommonConfig `mapstructure:",squash"`
	Storage             config.StorageConfig `mapstructure:"storage"`
}

// newRecordStorage returns S3 storage when enabled, the in-memory demo records otherwise
func newRecordStorage(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (storage.RecordStorage, error) {
	if !cfg.Enabled {
		log.Info("Using in-memory secure records")
		return storage.NewMockStorage(), nil
	}

	log.Info("Connecting to S3 storage",
		"host", cfg.BucketHost,
		"port", cfg.BucketPort,
		"bucket", cfg.BucketName)
	s3Store, err := storage.NewS3Storage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
	}
	if err := s3Store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to S3 storage: %w", err)
	}
	log.Info("S3 storage connected successfully")
	return s3Store, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg Config
	if err := config.Load(v, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	config.LoadStorageConfigFromEnv(&cfg.Storage)

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, telemetry.FromOTelConfig("data-service", cfg.OTel))
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer otelShutdown(ctx)

	level := logger.ParseLevel(cfg.Service.LogLevel)
	log := logger.NewWithLevel(logger.ComponentDataService, level)

	workloadClient := spiffe.NewWorkloadClient(spiffe.FromConfig(cfg.Service, cfg.SPIFFE), logger.NewWithLevel(logger.ComponentMTLS, level))
	if cfg.Service.MockSPIFFE {
		workloadClient.SetMockIdentity("spiffe://" + cfg.SPIFFE.TrustDomain + "/service/data-service")
	} else if err := workloadClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to fetch SPIFFE identity: %w", err)
	}

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

	records, err := newRecordStorage(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}

	evaluator, err := policy.NewEvaluator(ctx, "data-service", logger.NewWithLevel(logger.ComponentPolicy, level))
	if err != nil {
		return fmt.Errorf("failed to initialize policy: %w", err)
	}

	dataHandler := api.NewDataHandler(records, evaluator, cfg.IdP.ClientID, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", api.HandleHealth)
	mux.Handle("/api/data", auth.Middleware(validator, false, log)(dataHandler))

	var handler http.Handler = spiffe.IdentityMiddleware(cfg.Service.MockSPIFFE)(mux)
	handler = telemetry.WrapHandler(handler, "data-service")

	server, err := workloadClient.CreateHTTPServer(cfg.Service.Addr(), handler)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	server.ReadTimeout = 10 * time.Second
	server.WriteTimeout = 10 * time.Second

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", api.HandleHealth)
	healthMux.HandleFunc("/ready", api.ReadyHandler(records))
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

		log.Info("Shutting down data service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Shutdown error", "error", err)
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Health server shutdown error", "error", err)
		}
		if err := workloadClient.Close(); err != nil {
			log.Error("Failed to close SPIFFE workload client", "error", err)
		}
		close(done)
	}()

	log.Section("STARTING DATA SERVICE")
	log.Info("Data Service starting", "addr", cfg.Service.Addr())
	log.Info("Health server starting", "addr", cfg.Service.HealthAddr())
	log.Info("Token issuer", "issuer", endpoints.Issuer, "jwks", endpoints.JWKSURL)
	log.Info("Accepted audience", "audience", cfg.IdP.ClientID)
	log.Info("mTLS mode", "enabled", !cfg.Service.MockSPIFFE)

	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Health server error", "error", err)
		}
	}()

	if err := spiffe.ListenAndServe(server); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	log.Info("Data service stopped")
	return nil
}
