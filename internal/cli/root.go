package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"chart-pattern-scanner/internal/app"
	"chart-pattern-scanner/internal/config"
	"chart-pattern-scanner/internal/logging"
)

var (
	cfgFile    string
	logLevel   string
	symbol     string
	dataFormat string
	appHandle  *app.App
)

var rootCmd = &cobra.Command{
	Use:           "patternscan",
	Short:         "Render candlestick windows and keep the charts with detected patterns",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd.Name() == versionCmd.Name() {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if err := applyOverrides(cfg); err != nil {
			return err
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	rootCmd.PersistentFlags().StringVar(&symbol, "symbol", "", "Override data.symbol (instrument filter for database sources)")
	rootCmd.PersistentFlags().StringVar(&dataFormat, "data-format", "", "Override data.format: csv, sqlite or postgres")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(windowsCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(versionCmd)
}

// applyOverrides folds the global flags into cfg and re-validates it.
func applyOverrides(cfg *config.Config) error {
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if symbol != "" {
		cfg.Data.Symbol = symbol
	}
	if dataFormat != "" {
		cfg.Data.Format = strings.ToLower(dataFormat)
	}
	return cfg.Validate()
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
