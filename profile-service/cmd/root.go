package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/redhat-et/obo-delegation-demo/pkg/config"
)

var (
	cfgFile string
	v       *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "profile-service",
	Short: "Profile Service for the On-Behalf-Of Delegation Demo",
	Long: `Profile Service accepts user access tokens, exchanges them for tokens scoped
to data-service (RFC 8693) and calls data-service on the user's behalf.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	v = config.InitViper("profile-service")
	config.BindFlags(rootCmd, v)

	v.SetDefault("idp.client_id", "profile-service-client")

	// Exchange cache flags
	rootCmd.PersistentFlags().String("cache-backend", "memory", "Exchanged token cache backend (memory, redis)")
	rootCmd.PersistentFlags().Int("cache-capacity", 1000, "Maximum cached exchanged tokens (memory backend)")
	rootCmd.PersistentFlags().Duration("cache-ttl", 0, "Upper bound on how long an exchanged token is reused")
	rootCmd.PersistentFlags().String("redis-addr", "", "Redis address for the redis cache backend")

	// Downstream flags
	rootCmd.PersistentFlags().String("downstream-url", "", "Base URL of data-service")
	rootCmd.PersistentFlags().String("downstream-audience", "", "Audience requested in the token exchange")

	rootCmd.PersistentFlags().String("jwt-expected-audience", "", "Reject tokens without this audience")

	v.BindPFlag("cache.backend", rootCmd.PersistentFlags().Lookup("cache-backend"))
	v.BindPFlag("cache.capacity", rootCmd.PersistentFlags().Lookup("cache-capacity"))
	v.BindPFlag("cache.ttl", rootCmd.PersistentFlags().Lookup("cache-ttl"))
	v.BindPFlag("cache.redis.addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
	v.BindPFlag("downstream.url", rootCmd.PersistentFlags().Lookup("downstream-url"))
	v.BindPFlag("downstream.audience", rootCmd.PersistentFlags().Lookup("downstream-audience"))
	v.BindPFlag("jwt.expected_audience", rootCmd.PersistentFlags().Lookup("jwt-expected-audience"))
}

func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
}
