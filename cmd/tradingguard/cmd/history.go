package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/javadderoom/TradingGuard/ledger"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent daily results and overview stats",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyDays int

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyDays, "days", "n", 30, "number of trailing days")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := ledger.NewSQLite(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	days, err := db.LastNDays(historyDays)
	if err != nil {
		return err
	}
	if len(days) == 0 {
		fmt.Println("No recorded days yet.")
		return nil
	}

	fmt.Printf("%-12s %10s %7s %7s\n", "DAY", "PNL", "TRADES", "RESULT")
	for _, d := range days {
		fmt.Printf("%-12s %+10.2f %7d %7s\n", d.Day, d.PnL, d.Trades, d.Result)
	}

	today := cfg.SessionDay(time.Now())
	stats, err := db.OverviewStats(today, historyDays)
	if err != nil {
		return err
	}

	fmt.Printf("\nLast %d days: %d recorded (%d green / %d red), net %+.2f USD\n",
		stats.Days, stats.TotalDays, stats.GreenDays, stats.RedDays, stats.TotalPnL)
	fmt.Printf("Trades: %d total, %d wins / %d losses / %d breakeven / %d unknown",
		stats.TotalTrades, stats.Wins, stats.Losses, stats.Breakeven, stats.Unknown)
	if stats.Wins+stats.Losses > 0 {
		fmt.Printf(", win rate %.1f%%", stats.WinRate)
	}
	fmt.Println()

	rec, err := db.IsRecoveryDay()
	if err != nil {
		return err
	}
	if rec {
		fmt.Println("\nRECOVERY DAY: the last two days were red. No trading today.")
	}
	return nil
}
