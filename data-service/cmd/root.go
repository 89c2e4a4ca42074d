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
	Use:   "data-service",
	Short: "Data Service for the On-Behalf-Of Delegation Demo",
	Long: `Data Service holds per-user secure data. It accepts only tokens that were
exchanged for its own audience and decides access with an embedded OPA policy.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	v = config.InitViper("data-service")
	config.BindFlags(rootCmd, v)

	v.SetDefault("idp.client_id", "data-service-client")

	rootCmd.PersistentFlags().Bool("storage-enabled", false, "Read secure records from S3-compatible storage")
	rootCmd.PersistentFlags().String("jwt-expected-audience", "", "Reject tokens without this audience before policy evaluation")

	v.BindPFlag("storage.enabled", rootCmd.PersistentFlags().Lookup("storage-enabled"))
	v.BindPFlag("jwt.expected_audience", rootCmd.PersistentFlags().Lookup("jwt-expected-audience"))
}

func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
}
