package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Day returns one day's result row, or sql.ErrNoRows wrapped when absent.
func (l *SQLite) Day(day string) (DayResult, error) {
	var r DayResult
	row := l.db.QueryRow(`SELECT date, pnl, trades, result FROM daily_results WHERE date = ?`, day)
	if err := row.Scan(&r.Day, &r.PnL, &r.Trades, &r.Result); err != nil {
		if err == sql.ErrNoRows {
			return DayResult{}, fmt.Errorf("day %q not recorded: %w", day, err)
		}
		return DayResult{}, err
	}
	return r, nil
}

// HasDay reports whether a result row exists for day.
func (l *SQLite) HasDay(day string) (bool, error) {
	var n int
	if err := l.db.QueryRow(`SELECT COUNT(1) FROM daily_results WHERE date = ?`, day).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// LastNDays returns up to n daily results, most recent first.
func (l *SQLite) LastNDays(n int) ([]DayResult, error) {
	rows, err := l.db.Query(`
		SELECT date, pnl, trades, result
		FROM daily_results
		ORDER BY date DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DayResult
	for rows.Next() {
		var r DayResult
		if err := rows.Scan(&r.Day, &r.PnL, &r.Trades, &r.Result); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IsRecoveryDay reports whether the two most recently recorded days are both
// red. With fewer than two recorded days it is false. Pure function of the
// last two daily_results rows; no look-ahead, no skipped-day handling.
func (l *SQLite) IsRecoveryDay() (bool, error) {
	days, err := l.LastNDays(2)
	if err != nil {
		return false, err
	}
	if len(days) < 2 {
		return false, nil
	}
	return days[0].Result == DayRed && days[1].Result == DayRed, nil
}

// LastTradeIndex returns the highest trade_index recorded for day (0 if none).
func (l *SQLite) LastTradeIndex(day string) (int, error) {
	var idx sql.NullInt64
	err := l.db.QueryRow(`SELECT MAX(trade_index) FROM trade_events WHERE trade_date = ?`, day).Scan(&idx)
	if err != nil {
		return 0, err
	}
	return int(idx.Int64), nil
}

// TradeEvents returns trade events newest first, optionally for one day.
func (l *SQLite) TradeEvents(day string, limit int) ([]TradeEvent, error) {
	q := `
		SELECT trade_date, trade_index, result, pnl, recorded_at
		FROM trade_events`
	args := []any{}
	if day != "" {
		q += ` WHERE trade_date = ?`
		args = append(args, day)
	}
	q += ` ORDER BY trade_date DESC, trade_index DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeEvent
	for rows.Next() {
		var (
			ev  TradeEvent
			pnl sql.NullFloat64
			at  string
		)
		if err := rows.Scan(&ev.Day, &ev.Index, &ev.Result, &pnl, &at); err != nil {
			return nil, err
		}
		if pnl.Valid {
			v := pnl.Float64
			ev.PnL = &v
		}
		ev.RecordedAt, _ = time.Parse(time.RFC3339, at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// TradeLedger returns trade ledger rows newest first, optionally for one day.
func (l *SQLite) TradeLedger(day string, limit int) ([]LedgerEntry, error) {
	q := `
		SELECT trade_date, trade_index, result, pnl, close_reason, source, recorded_at
		FROM trade_ledger`
	args := []any{}
	if day != "" {
		q += ` WHERE trade_date = ?`
		args = append(args, day)
	}
	q += ` ORDER BY trade_date DESC, trade_index DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var (
			e   LedgerEntry
			pnl sql.NullFloat64
			at  string
		)
		if err := rows.Scan(&e.Day, &e.Index, &e.Result, &pnl, &e.CloseReason, &e.Source, &at); err != nil {
			return nil, err
		}
		if pnl.Valid {
			v := pnl.Float64
			e.PnL = &v
		}
		e.RecordedAt, _ = time.Parse(time.RFC3339, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Violations returns audit records newest first, optionally for one day.
func (l *SQLite) Violations(day string, limit int) ([]Violation, error) {
	q := `
		SELECT id, event_time, trade_date, trade_index, rule_code, severity, message, context_json
		FROM violation_log`
	args := []any{}
	if day != "" {
		q += ` WHERE trade_date = ?`
		args = append(args, day)
	}
	q += ` ORDER BY event_time DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Violation
	for rows.Next() {
		var (
			v    Violation
			at   string
			vday sql.NullString
			idx  sql.NullInt64
			ctx  string
		)
		if err := rows.Scan(&v.ID, &at, &vday, &idx, &v.Rule, &v.Severity, &v.Message, &ctx); err != nil {
			return nil, err
		}
		v.Time, _ = time.Parse(time.RFC3339, at)
		v.Day = vday.String
		if idx.Valid {
			i := int(idx.Int64)
			v.TradeIndex = &i
		}
		if ctx != "" {
			_ = json.Unmarshal([]byte(ctx), &v.Context)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Analysis returns the discretionary notes for one trade, or found=false.
func (l *SQLite) Analysis(day string, index int) (Analysis, bool, error) {
	var (
		a              Analysis
		tags, sh, ch   string
		created, updat string
	)
	row := l.db.QueryRow(`
		SELECT trade_date, trade_index, entry_reason, setup_tags, notes,
		       mt5_screenshots, chart_screenshots, created_at, updated_at
		FROM trade_analysis
		WHERE trade_date = ? AND trade_index = ?`, day, index)
	err := row.Scan(&a.Day, &a.Index, &a.EntryReason, &tags, &a.Notes, &sh, &ch, &created, &updat)
	if err == sql.ErrNoRows {
		return Analysis{}, false, nil
	}
	if err != nil {
		return Analysis{}, false, err
	}

	_ = json.Unmarshal([]byte(tags), &a.SetupTags)
	_ = json.Unmarshal([]byte(sh), &a.Screenshots)
	_ = json.Unmarshal([]byte(ch), &a.ChartShots)
	a.CreatedAt, _ = time.Parse(time.RFC3339, created)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updat)
	return a, true, nil
}

// OverviewStats aggregates trailing history: day totals over the last
// `days` recorded days, trade win/loss counts over the calendar window
// ending at today (inclusive).
func (l *SQLite) OverviewStats(today string, days int) (OverviewStats, error) {
	stats := OverviewStats{Days: days}

	daily, err := l.LastNDays(days)
	if err != nil {
		return OverviewStats{}, err
	}
	stats.TotalDays = len(daily)
	for _, d := range daily {
		stats.TotalPnL += d.PnL
		stats.TotalTrades += d.Trades
		switch d.Result {
		case DayGreen:
			stats.GreenDays++
		case DayRed:
			stats.RedDays++
		}
	}

	cutoff := today
	if t, err := time.Parse("2006-01-02", today); err == nil && days > 0 {
		cutoff = t.AddDate(0, 0, -(days - 1)).Format("2006-01-02")
	}

	rows, err := l.db.Query(`SELECT result FROM trade_events WHERE trade_date >= ?`, cutoff)
	if err != nil {
		return OverviewStats{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return OverviewStats{}, err
		}
		switch strings.ToLower(result) {
		case "win":
			stats.Wins++
		case "loss":
			stats.Losses++
		case "be", "flat", "breakeven":
			stats.Breakeven++
		default:
			stats.Unknown++
		}
	}
	if err := rows.Err(); err != nil {
		return OverviewStats{}, err
	}

	if decided := stats.Wins + stats.Losses; decided > 0 {
		stats.WinRate = float64(stats.Wins) / float64(decided) * 100.0
	}
	return stats, nil
}
