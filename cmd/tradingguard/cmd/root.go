package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/javadderoom/TradingGuard/config"
	"github.com/javadderoom/TradingGuard/guard"
	"github.com/javadderoom/TradingGuard/ledger"
	"github.com/javadderoom/TradingGuard/logging"
	"github.com/javadderoom/TradingGuard/news"
	"github.com/javadderoom/TradingGuard/session"
	"github.com/javadderoom/TradingGuard/terminal"
)

var rootCmd = &cobra.Command{
	Use:   "tradingguard",
	Short: "A discretionary-trading risk governor for MetaTrader 5",
	Long: `TradingGuard sits beside a MetaTrader 5 terminal and enforces a trader's
self-imposed rules: daily loss and profit limits, trade counts, consecutive-loss
breaks, bias discipline, news blackouts, and two-red-day recovery lockouts.

It exchanges state with the terminal's Expert Advisor through a shared session
file, records every day and trade into a local ledger, and kills the terminal
process whenever a lockout is in force.`,
	SilenceUsage: true,
}

var cfgFile string

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./tradingguard.yaml)")
}

// loadConfig resolves the configuration: the --config flag, else the default
// file when present, else built-in defaults.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromFile(cfgFile)
	}
	if _, err := os.Stat("tradingguard.yaml"); err == nil {
		return config.LoadFromFile("tradingguard.yaml")
	}
	return config.Default(), nil
}

// buildEngine wires the full stack for one command invocation. The caller
// must Close the returned ledger.
func buildEngine(cfg *config.Config, log *zap.Logger) (*guard.Engine, *session.Store, *ledger.SQLite, error) {
	store := session.NewStore(cfg.Storage.SessionFile)
	db, err := ledger.NewSQLite(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, nil, err
	}

	term := terminal.NewController(
		cfg.Terminal.ExePath,
		cfg.Terminal.ProcessName,
		config.Duration(cfg.Terminal.CommandTimeout),
		log,
	)

	var feed *news.Service
	if cfg.News.Enabled {
		feed = news.NewService(
			cfg.News.URL, cfg.News.APIKey, cfg.News.Currency,
			cfg.News.OffsetMinutes, cfg.News.CachePath, log,
		)
	}

	return guard.NewEngine(cfg, store, db, term, feed, log), store, db, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging.Level, cfg.Logging.Dir)
}
