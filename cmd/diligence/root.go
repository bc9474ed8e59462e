package main

import (
	"github.com/spf13/cobra"

	"diligence/internal/platform/config"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	flagLogLevel string
	flagCatalog  string
)

var rootCmd = &cobra.Command{
	Use:   "diligence",
	Short: "Due-diligence reports for DeFi protocols",
	Long: `diligence resolves a protocol name against its catalog, gathers on-chain,
security, governance and development evidence from public providers, and
produces a scored report that states exactly which data was missing.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error); overrides DILIGENCE_LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&flagCatalog, "catalog", "", "path to a protocol catalog YAML file; overrides DILIGENCE_CATALOG_PATH")

	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.Version = version
}

// loadConfig reads the environment, then applies the global flags.
func loadConfig() config.Config {
	cfg := config.FromEnv()
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagCatalog != "" {
		cfg.CatalogPath = flagCatalog
	}
	return cfg
}
