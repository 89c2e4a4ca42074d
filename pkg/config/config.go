package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ServiceConfig holds common service configuration
type ServiceConfig struct {
	Port       int    `mapstructure:"port"`
	HealthPort int    `mapstructure:"health_port"`
	Host       string `mapstructure:"host"`
	MockSPIFFE bool   `mapstructure:"mock_spiffe"`
	LogLevel   string `mapstructure:"log_level"`
}

// Addr returns the service listen address
func (c ServiceConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HealthAddr returns the health check listen address (plain HTTP)
func (c ServiceConfig) HealthAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HealthPort)
}

// SPIFFEConfig holds SPIFFE-related configuration
type SPIFFEConfig struct {
	SocketPath  string `mapstructure:"socket_path"`
	TrustDomain string `mapstructure:"trust_domain"`
}

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

// IdPConfig describes the identity provider realm and this service's client registration.
type IdPConfig struct {
	URL          string        `mapstructure:"url"`
	Realm        string        `mapstructure:"realm"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Discovery    bool          `mapstructure:"discovery"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// IssuerURL returns the realm issuer URL
func (c IdPConfig) IssuerURL() string {
	return fmt.Sprintf("%s/realms/%s", strings.TrimSuffix(c.URL, "/"), c.Realm)
}

// TokenURL returns the realm token endpoint
func (c IdPConfig) TokenURL() string {
	return c.IssuerURL() + "/protocol/openid-connect/token"
}

// JWKSURL returns the realm key set endpoint
func (c IdPConfig) JWKSURL() string {
	return c.IssuerURL() + "/protocol/openid-connect/certs"
}

// JWTConfig controls inbound access token validation
type JWTConfig struct {
	ExpectedAudience string `mapstructure:"expected_audience"`
	CheckIssuer      bool   `mapstructure:"check_issuer"`
}

// RedisConfig holds connection settings for the shared exchange cache
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// CacheConfig holds exchanged-token cache settings
type CacheConfig struct {
	Backend      string        `mapstructure:"backend"`
	Capacity     int           `mapstructure:"capacity"`
	TTL          time.Duration `mapstructure:"ttl"`
	SafetyMargin time.Duration `mapstructure:"safety_margin"`
	Redis        RedisConfig   `mapstructure:"redis"`
}

// DownstreamConfig describes the resource called on behalf of the user
type DownstreamConfig struct {
	URL      string        `mapstructure:"url"`
	Audience string        `mapstructure:"audience"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ResourceURL returns the secure data endpoint of the downstream service
func (c DownstreamConfig) ResourceURL() string {
	return strings.TrimSuffix(c.URL, "/") + "/api/data"
}

// StorageConfig holds S3-compatible object storage configuration
type StorageConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	BucketHost      string `mapstructure:"bucket_host"`
	BucketPort      int    `mapstructure:"bucket_port"`
	BucketName      string `mapstructure:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// CommonConfig holds configuration common to all services
type CommonConfig struct {
	Service ServiceConfig `mapstructure:"service"`
	SPIFFE  SPIFFEConfig  `mapstructure:"spiffe"`
	OTel    OTelConfig    `mapstructure:"otel"`
	IdP     IdPConfig     `mapstructure:"idp"`
	JWT     JWTConfig     `mapstructure:"jwt"`
}

// InitViper initializes Viper with common settings
func InitViper(serviceName string) *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(fmt.Sprintf("./%s", serviceName))
	v.AddConfigPath("/etc/obo-demo/")

	v.SetEnvPrefix("OBO_DEMO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v, serviceName)

	return v
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper, serviceName string) {
	v.SetDefault("service.host", "0.0.0.0")
	v.SetDefault("service.mock_spiffe", true)
	v.SetDefault("service.log_level", "info")

	// Port layout mirrors the original demo: data 8082, profile 8083, client 8080.
	switch serviceName {
	case "data-service":
		v.SetDefault("service.port", 8082)
		v.SetDefault("service.health_port", 8182)
	case "profile-service":
		v.SetDefault("service.port", 8083)
		v.SetDefault("service.health_port", 8183)
	default:
		v.SetDefault("service.port", 8080)
		v.SetDefault("service.health_port", 8180)
	}

	v.SetDefault("spiffe.socket_path", "unix:///run/spire/sockets/agent.sock")
	v.SetDefault("spiffe.trust_domain", "demo.example.com")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.collector_endpoint", "")

	v.SetDefault("idp.url", "http://localhost:8081")
	v.SetDefault("idp.realm", "obo-demo-realm")
	v.SetDefault("idp.discovery", false)
	v.SetDefault("idp.timeout", 10*time.Second)

	v.SetDefault("jwt.check_issuer", true)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.capacity", 1000)
	v.SetDefault("cache.ttl", 4*time.Minute)
	v.SetDefault("cache.safety_margin", 30*time.Second)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.key_prefix", "obo:exchange:")

	v.SetDefault("downstream.url", "http://localhost:8082")
	v.SetDefault("downstream.audience", "data-service-client")
	v.SetDefault("downstream.timeout", 10*time.Second)

	// Storage defaults (disabled by default for local development)
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket_host", "localhost")
	v.SetDefault("storage.bucket_port", 9000)
	v.SetDefault("storage.bucket_name", "secure-data")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.region", "us-east-1")
}

// Load reads the configuration from file and environment
func Load(v *viper.Viper, cfg any) error {
	// Support standard PORT/HOST env vars used by container platforms
	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			v.Set("service.port", port)
		}
	}
	if host := os.Getenv("HOST"); host != "" {
		v.Set("service.host", host)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

// BindFlags binds common CLI flags to Viper
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.PersistentFlags().IntP("port", "p", 0, "Port to listen on")
	cmd.PersistentFlags().String("host", "", "Host to bind to")
	cmd.PersistentFlags().Bool("mock-spiffe", true, "Use mock SPIFFE mode (no SPIRE required)")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("otel-enabled", false, "Enable OpenTelemetry tracing")
	cmd.PersistentFlags().String("otel-collector-endpoint", "", "OpenTelemetry collector gRPC endpoint (e.g. localhost:4317)")
	cmd.PersistentFlags().String("idp-url", "", "Identity provider base URL")
	cmd.PersistentFlags().String("idp-realm", "", "Identity provider realm")
	cmd.PersistentFlags().String("client-id", "", "OAuth client ID of this service")
	cmd.PersistentFlags().String("client-secret", "", "OAuth client secret of this service")

	v.BindPFlag("service.port", cmd.PersistentFlags().Lookup("port"))
	v.BindPFlag("service.host", cmd.PersistentFlags().Lookup("host"))
	v.BindPFlag("service.mock_spiffe", cmd.PersistentFlags().Lookup("mock-spiffe"))
	v.BindPFlag("service.log_level", cmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("otel.enabled", cmd.PersistentFlags().Lookup("otel-enabled"))
	v.BindPFlag("otel.collector_endpoint", cmd.PersistentFlags().Lookup("otel-collector-endpoint"))
	v.BindPFlag("idp.url", cmd.PersistentFlags().Lookup("idp-url"))
	v.BindPFlag("idp.realm", cmd.PersistentFlags().Lookup("idp-realm"))
	v.BindPFlag("idp.client_id", cmd.PersistentFlags().Lookup("client-id"))
	v.BindPFlag("idp.client_secret", cmd.PersistentFlags().Lookup("client-secret"))
}

// LoadStorageConfigFromEnv loads storage configuration from OBC-style environment variables.
// This supplements the viper config by checking for BUCKET_HOST, BUCKET_PORT, BUCKET_NAME
// which are set by OpenShift OBC ConfigMaps.
func LoadStorageConfigFromEnv(cfg *StorageConfig) {
	if host := os.Getenv("BUCKET_HOST"); host != "" {
		cfg.BucketHost = host
	}
	if portStr := os.Getenv("BUCKET_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.BucketPort = port
		}
	}
	if name := os.Getenv("BUCKET_NAME"); name != "" {
		cfg.BucketName = name
	}
	if region := os.Getenv("BUCKET_REGION"); region != "" {
		cfg.Region = region
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		cfg.AccessKeyID = key
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		cfg.SecretAccessKey = secret
	}

	// 443 is what NooBaa/ODF hands out; BUCKET_SSL overrides
	if sslStr := os.Getenv("BUCKET_SSL"); sslStr != "" {
		cfg.UseSSL = sslStr == "true" || sslStr == "1"
	} else if cfg.BucketPort == 443 {
		cfg.UseSSL = true
	}
}
