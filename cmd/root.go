package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantbot/ultramm/internal/config"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ultramm",
	Short: "Automated market-making and stat-arb trading core",
	Long: `ultramm runs a market-making and statistical-arbitrage trading core
against a crypto spot venue. It ships with a paper venue for simulation,
per-strategy risk limits, and live-tunable strategy parameters.`,
	PersistentPreRunE: initializeApp,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initLogger)

	rootCmd.PersistentFlags().String("strategies", "", "strategies file (YAML)")
}

// initLogger configures zap: default INFO, DEBUG if DEBUG env is truthy.
func initLogger() {
	verbose := false
	if v := os.Getenv("DEBUG"); v == "true" || v == "1" || v == "yes" {
		verbose = true
	}

	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	var err error
	logger, err = zcfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
}

// initializeApp loads configuration shared by every subcommand.
func initializeApp(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if path, _ := cmd.Flags().GetString("strategies"); path != "" {
		cfg.StrategiesFile = path
	}

	mode := "PAPER"
	if !cfg.PaperTrade {
		mode = "LIVE"
	}
	fmt.Printf("ultramm - %s trading mode\n", mode)

	return nil
}
