package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var dayCmd = &cobra.Command{
	Use:   "day",
	Short: "Manage recorded days",
}

var dayClearCmd = &cobra.Command{
	Use:   "clear <YYYY-MM-DD>",
	Short: "Delete one day's rows from the ledger",
	Long: `Delete a day's result together with its trade events, ledger entries,
violations, and analysis notes. Intended for development resets of the daily
lock; the audit trail for the day is gone afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: runDayClear,
}

func init() {
	rootCmd.AddCommand(dayCmd)
	dayCmd.AddCommand(dayClearCmd)
}

func runDayClear(cmd *cobra.Command, args []string) error {
	day := args[0]
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return fmt.Errorf("day must be YYYY-MM-DD: %w", err)
	}

	db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.ClearDay(day); err != nil {
		return err
	}
	fmt.Printf("Cleared all rows for %s.\n", day)
	return nil
}
