package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/javadderoom/TradingGuard/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage the guard configuration.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  tradingguard config init --output tradingguard.yaml
  tradingguard config validate --file tradingguard.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "tradingguard.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  tradingguard run --config %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Risk: %.2f USD/trade, max loss %.2f, max profit %.2f, %d trades/day\n",
		cfg.Risk.RiskPerTradeUSD, cfg.Risk.MaxDailyLossUSD,
		cfg.Risk.MaxDailyProfitUSD, cfg.Risk.MaxTradesPerDay)
	fmt.Printf("  Session: %s-%s, analysis %s, day starts %02d:00\n",
		cfg.Session.TradingStart, cfg.Session.TradingEnd,
		cfg.Session.AnalysisDuration, cfg.Session.DayStartHour)
	fmt.Printf("  Storage: session %s, ledger %s\n",
		cfg.Storage.SessionFile, cfg.Storage.DBPath)
	return nil
}
