package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"github.com/redhat-et/obo-delegation-demo/demo-client/internal/client"
	"github.com/redhat-et/obo-delegation-demo/pkg/auth"
	"github.com/redhat-et/obo-delegation-demo/pkg/config"
	"github.com/redhat-et/obo-delegation-demo/pkg/logger"
)

var (
	cfgFile string
	v       *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "demo-client",
	Short: "Relying-party client for the On-Behalf-Of Delegation Demo",
	Long: `demo-client signs a user in against the identity provider and calls
profile-service with the user's access token.`,
}

// ProfileServiceConfig locates profile-service
type ProfileServiceConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// UserConfig holds the demo user's credentials
type UserConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`
}

type Config struct {
	config.CommonConfig `mapstructure:",squash"`
	ProfileService      ProfileServiceConfig `mapstructure:"profile_service"`
	User                UserConfig           `mapstructure:"user"`
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	v = config.InitViper("demo-client")
	config.BindFlags(rootCmd, v)

	v.SetDefault("idp.client_id", "demo-client")
	v.SetDefault("profile_service.url", "http://localhost:8083")
	v.SetDefault("profile_service.timeout", 30*time.Second)

	rootCmd.PersistentFlags().String("profile-url", "", "Base URL of profile-service")
	rootCmd.PersistentFlags().StringP("username", "u", "", "User to sign in as")
	rootCmd.PersistentFlags().String("password", "", "Password of the user")
	rootCmd.PersistentFlags().String("token", "", "Use this access token instead of signing in")

	v.BindPFlag("profile_service.url", rootCmd.PersistentFlags().Lookup("profile-url"))
	v.BindPFlag("user.username", rootCmd.PersistentFlags().Lookup("username"))
	v.BindPFlag("user.password", rootCmd.PersistentFlags().Lookup("password"))
	v.BindPFlag("user.token", rootCmd.PersistentFlags().Lookup("token"))
}

func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
}

func loadConfig() (*Config, *logger.Logger, error) {
	var cfg Config
	if err := config.Load(v, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, logger.NewWithLevel(logger.ComponentClient, logger.ParseLevel(cfg.Service.LogLevel)), nil
}

// userToken returns the configured token, or signs the user in
func userToken(ctx context.Context, cfg *Config, log *logger.Logger) (*oauth2.Token, error) {
	if cfg.User.Token != "" {
		return &oauth2.Token{AccessToken: cfg.User.Token, TokenType: "Bearer"}, nil
	}
	if cfg.User.Username == "" {
		return nil, fmt.Errorf("--username or --token is required")
	}

	endpoints, err := auth.ResolveEndpoints(ctx, cfg.IdP)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve identity provider endpoints: %w", err)
	}

	log.Flow(logger.DirectionOutgoing, "Signing in", "user", cfg.User.Username, "token_url", endpoints.TokenURL)
	token, err := client.FetchToken(ctx, auth.PasswordConfig(endpoints, cfg.IdP.ClientID, cfg.IdP.ClientSecret),
		cfg.User.Username, cfg.User.Password)
	if err != nil {
		return nil, err
	}
	log.Success("Signed in", "user", cfg.User.Username, "expiry", token.Expiry)
	return token, nil
}
