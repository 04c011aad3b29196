package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/javadderoom/TradingGuard/ledger"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the trade journal",
	Long: `Query per-trade records and the violation audit trail.

Subcommands:
  trades      - List trade events
  ledger      - List trade ledger entries (close reason, source)
  violations  - List rule-violation audit records
  note        - Attach discretionary notes to a trade
  show        - Show the notes for a trade

Examples:
  tradingguard journal trades --day 2026-02-18
  tradingguard journal violations --limit 20
  tradingguard journal note 2026-02-18 1 --reason "break of structure" --tags bos,fvg`,
}

var journalTradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "List trade events",
	Args:  cobra.NoArgs,
	RunE:  runJournalTrades,
}

var journalLedgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "List trade ledger entries",
	Args:  cobra.NoArgs,
	RunE:  runJournalLedger,
}

var journalViolationsCmd = &cobra.Command{
	Use:   "violations",
	Short: "List rule-violation audit records",
	Args:  cobra.NoArgs,
	RunE:  runJournalViolations,
}

var journalNoteCmd = &cobra.Command{
	Use:   "note <YYYY-MM-DD> <trade-index>",
	Short: "Attach discretionary notes to a trade",
	Args:  cobra.ExactArgs(2),
	RunE:  runJournalNote,
}

var journalShowCmd = &cobra.Command{
	Use:   "show <YYYY-MM-DD> <trade-index>",
	Short: "Show the notes for a trade",
	Args:  cobra.ExactArgs(2),
	RunE:  runJournalShow,
}

var (
	journalDay   string
	journalLimit int
	noteReason   string
	noteTags     string
	noteText     string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradesCmd)
	journalCmd.AddCommand(journalLedgerCmd)
	journalCmd.AddCommand(journalViolationsCmd)
	journalCmd.AddCommand(journalNoteCmd)
	journalCmd.AddCommand(journalShowCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDay, "day", "d", "", "restrict to one day (YYYY-MM-DD)")
	journalCmd.PersistentFlags().IntVarP(&journalLimit, "limit", "l", 50, "maximum rows")

	journalNoteCmd.Flags().StringVar(&noteReason, "reason", "", "entry reason")
	journalNoteCmd.Flags().StringVar(&noteTags, "tags", "", "comma-separated setup tags")
	journalNoteCmd.Flags().StringVar(&noteText, "notes", "", "free-text notes")
}

func openLedger() (*ledger.SQLite, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return ledger.NewSQLite(cfg.Storage.DBPath)
}

func runJournalTrades(cmd *cobra.Command, args []string) error {
	db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	events, err := db.TradeEvents(journalDay, journalLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No trade events.")
		return nil
	}

	fmt.Printf("%-12s %5s %-8s %10s\n", "DAY", "IDX", "RESULT", "PNL")
	for _, ev := range events {
		pnl := "-"
		if ev.PnL != nil {
			pnl = fmt.Sprintf("%+.2f", *ev.PnL)
		}
		fmt.Printf("%-12s %5d %-8s %10s\n", ev.Day, ev.Index, ev.Result, pnl)
	}
	return nil
}

func runJournalLedger(cmd *cobra.Command, args []string) error {
	db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.TradeLedger(journalDay, journalLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No ledger entries.")
		return nil
	}

	fmt.Printf("%-12s %5s %-8s %10s %-14s %-14s\n", "DAY", "IDX", "RESULT", "PNL", "CLOSE", "SOURCE")
	for _, e := range entries {
		pnl := "-"
		if e.PnL != nil {
			pnl = fmt.Sprintf("%+.2f", *e.PnL)
		}
		fmt.Printf("%-12s %5d %-8s %10s %-14s %-14s\n",
			e.Day, e.Index, e.Result, pnl, e.CloseReason, e.Source)
	}
	return nil
}

func runJournalViolations(cmd *cobra.Command, args []string) error {
	db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	viols, err := db.Violations(journalDay, journalLimit)
	if err != nil {
		return err
	}
	if len(viols) == 0 {
		fmt.Println("No violations. Keep it that way.")
		return nil
	}

	for _, v := range viols {
		fmt.Printf("%s  [%s] %-24s %s\n",
			v.Time.In(time.Local).Format("2006-01-02 15:04:05"),
			strings.ToUpper(v.Severity), v.Rule, v.Message)
	}
	return nil
}

func runJournalNote(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("trade index: %w", err)
	}

	db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	var tags []string
	for _, tag := range strings.Split(noteTags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	a := ledger.Analysis{
		Day:         args[0],
		Index:       index,
		EntryReason: noteReason,
		SetupTags:   tags,
		Notes:       noteText,
	}
	if err := db.UpsertAnalysis(a); err != nil {
		return err
	}
	fmt.Printf("Notes saved for %s trade %d.\n", a.Day, a.Index)
	return nil
}

func runJournalShow(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("trade index: %w", err)
	}

	db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	a, found, err := db.Analysis(args[0], index)
	if err != nil {
		return err
	}
	if !found {
		fmt.Printf("No notes for %s trade %d.\n", args[0], index)
		return nil
	}

	fmt.Printf("Trade %s #%d\n", a.Day, a.Index)
	if a.EntryReason != "" {
		fmt.Printf("  Entry reason: %s\n", a.EntryReason)
	}
	if len(a.SetupTags) > 0 {
		fmt.Printf("  Tags:         %s\n", strings.Join(a.SetupTags, ", "))
	}
	if a.Notes != "" {
		fmt.Printf("  Notes:        %s\n", a.Notes)
	}
	fmt.Printf("  Updated:      %s\n", a.UpdatedAt.In(time.Local).Format("2006-01-02 15:04"))
	return nil
}
