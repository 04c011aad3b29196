package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/javadderoom/TradingGuard/pkg/id"
)

// SQLite is the daily-outcome ledger backed by a SQLite database. It is
// owned exclusively by this application; the poll loop serializes writes,
// and sqlite's own transactions guard against a stray second instance.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the ledger database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (l *SQLite) Close() error {
	return l.db.Close()
}

// RecordDay upserts the result row for one day. The outcome classification
// is recomputed from pnl on every call, so repeated calls are idempotent and
// a changed pnl reclassifies the day.
func (l *SQLite) RecordDay(day string, pnl float64, trades int) error {
	_, err := l.db.Exec(`
		INSERT INTO daily_results (date, pnl, trades, result)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			pnl = excluded.pnl,
			trades = excluded.trades,
			result = excluded.result`,
		day, pnl, trades, ClassifyDay(pnl),
	)
	return err
}

// RecordTradeEvent upserts one trade event for (day, index). A nil pnl
// keeps any previously stored value (COALESCE), so a backfilled unknown row
// never erases an outcome recorded earlier.
func (l *SQLite) RecordTradeEvent(ev TradeEvent) error {
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now()
	}
	if ev.Result == "" {
		ev.Result = "unknown"
	}
	_, err := l.db.Exec(`
		INSERT INTO trade_events (trade_date, trade_index, result, pnl, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(trade_date, trade_index) DO UPDATE SET
			result = excluded.result,
			pnl = COALESCE(excluded.pnl, trade_events.pnl),
			recorded_at = excluded.recorded_at`,
		ev.Day, ev.Index, ev.Result, nullFloat(ev.PnL), ev.RecordedAt.Format(time.RFC3339),
	)
	return err
}

// RecordTradeLedger upserts one trade ledger row for (day, index). PnL
// merges like RecordTradeEvent; an empty close_reason keeps the previous
// non-empty one so partial updates arriving out of order do not lose it.
func (l *SQLite) RecordTradeLedger(e LedgerEntry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	if e.Result == "" {
		e.Result = "unknown"
	}
	if e.Source == "" {
		e.Source = "guard"
	}
	_, err := l.db.Exec(`
		INSERT INTO trade_ledger (trade_date, trade_index, result, pnl, close_reason, source, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_date, trade_index) DO UPDATE SET
			result = excluded.result,
			pnl = COALESCE(excluded.pnl, trade_ledger.pnl),
			close_reason = CASE
				WHEN excluded.close_reason != '' THEN excluded.close_reason
				ELSE trade_ledger.close_reason
			END,
			source = excluded.source,
			recorded_at = excluded.recorded_at`,
		e.Day, e.Index, e.Result, nullFloat(e.PnL), e.CloseReason, e.Source,
		e.RecordedAt.Format(time.RFC3339),
	)
	return err
}

// RecordViolation appends one audit record. The ID and timestamp are filled
// when unset. Context is stored as JSON.
func (l *SQLite) RecordViolation(v Violation) error {
	if v.ID == "" {
		v.ID = id.New()
	}
	if v.Time.IsZero() {
		v.Time = time.Now()
	}
	if v.Severity == "" {
		v.Severity = SeverityWarn
	}
	ctx := v.Context
	if ctx == nil {
		ctx = map[string]any{}
	}
	ctxJSON, err := json.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("encode violation context: %w", err)
	}

	_, err = l.db.Exec(`
		INSERT INTO violation_log (id, event_time, trade_date, trade_index, rule_code, severity, message, context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Time.Format(time.RFC3339), v.Day, nullInt(v.TradeIndex),
		v.Rule, v.Severity, v.Message, string(ctxJSON),
	)
	return err
}

// UpsertAnalysis inserts or replaces the discretionary notes for one trade,
// preserving created_at across updates.
func (l *SQLite) UpsertAnalysis(a Analysis) error {
	now := time.Now().Format(time.RFC3339)
	tags, err := json.Marshal(orEmptySlice(a.SetupTags))
	if err != nil {
		return err
	}
	shots, err := json.Marshal(orEmptyMap(a.Screenshots))
	if err != nil {
		return err
	}
	charts, err := json.Marshal(orEmptyMap(a.ChartShots))
	if err != nil {
		return err
	}

	_, err = l.db.Exec(`
		INSERT INTO trade_analysis (trade_date, trade_index, entry_reason, setup_tags, notes,
			mt5_screenshots, chart_screenshots, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_date, trade_index) DO UPDATE SET
			entry_reason = excluded.entry_reason,
			setup_tags = excluded.setup_tags,
			notes = excluded.notes,
			mt5_screenshots = excluded.mt5_screenshots,
			chart_screenshots = excluded.chart_screenshots,
			updated_at = excluded.updated_at`,
		a.Day, a.Index, a.EntryReason, string(tags), a.Notes,
		string(shots), string(charts), now, now,
	)
	return err
}

// ClearDay deletes one day's row and all dependent intraday rows. Intended
// for development/testing resets of the daily lock.
func (l *SQLite) ClearDay(day string) error {
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM daily_results WHERE date = ?`,
		`DELETE FROM trade_events WHERE trade_date = ?`,
		`DELETE FROM trade_ledger WHERE trade_date = ?`,
		`DELETE FROM violation_log WHERE trade_date = ?`,
		`DELETE FROM trade_analysis WHERE trade_date = ?`,
	} {
		if _, err := tx.Exec(stmt, day); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
