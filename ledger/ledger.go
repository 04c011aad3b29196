package ledger

import "time"

// Day outcome classifications, derived from the sign of net P&L.
const (
	DayGreen = "green"
	DayRed   = "red"
	DayFlat  = "flat"
)

// Violation severities.
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityCritical = "critical"
)

// ClassifyDay maps net P&L to a day outcome. Recomputed on every upsert,
// never cached independently of the pnl column.
func ClassifyDay(pnl float64) string {
	switch {
	case pnl > 0:
		return DayGreen
	case pnl < 0:
		return DayRed
	default:
		return DayFlat
	}
}

// DayResult is one row per calendar trading day.
type DayResult struct {
	Day    string
	PnL    float64
	Trades int
	Result string
}

// TradeEvent is the per-trade row maintained by the poll-loop sync.
// PnL is nil when the outcome was never observed (backfilled index).
type TradeEvent struct {
	Day        string
	Index      int
	Result     string
	PnL        *float64
	RecordedAt time.Time
}

// LedgerEntry is the richer per-trade row carrying close metadata.
type LedgerEntry struct {
	Day         string
	Index       int
	Result      string
	PnL         *float64
	CloseReason string
	Source      string
	RecordedAt  time.Time
}

// Violation is one append-only audit record of a rule transition or
// enforcement action.
type Violation struct {
	ID         string
	Time       time.Time
	Day        string
	TradeIndex *int
	Rule       string
	Severity   string
	Message    string
	Context    map[string]any
}

// Analysis holds the trader's discretionary notes for one trade.
type Analysis struct {
	Day         string
	Index       int
	EntryReason string
	SetupTags   []string
	Screenshots map[string]string
	ChartShots  map[string]string
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OverviewStats aggregates trailing history. Trade-level counts come from
// trade_events rows, day-level totals from daily_results rows.
type OverviewStats struct {
	Days        int
	TotalDays   int
	GreenDays   int
	RedDays     int
	TotalPnL    float64
	TotalTrades int
	Wins        int
	Losses      int
	Breakeven   int
	Unknown     int
	WinRate     float64
}
