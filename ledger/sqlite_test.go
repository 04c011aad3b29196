package ledger

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	l, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	return l, path
}

func TestSchemaCreated(t *testing.T) {
	t.Parallel()

	l, path := newTestLedger(t)
	require.NoError(t, l.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'
		AND name IN ('daily_results','trade_events','trade_ledger','violation_log','trade_analysis')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["daily_results"])
	assert.True(t, found["trade_events"])
	assert.True(t, found["trade_ledger"])
	assert.True(t, found["violation_log"])
	assert.True(t, found["trade_analysis"])
}

func TestRecordDayAndRetrieve(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)

	require.NoError(t, l.RecordDay("2026-02-18", 15.0, 2))

	days, err := l.LastNDays(1)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, "2026-02-18", days[0].Day)
	assert.InDelta(t, 15.0, days[0].PnL, 1e-9)
	assert.Equal(t, 2, days[0].Trades)
	assert.Equal(t, DayGreen, days[0].Result)
}

func TestRecordDayClassification(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)

	require.NoError(t, l.RecordDay("2026-02-16", 0.0, 1))
	require.NoError(t, l.RecordDay("2026-02-17", -10.0, 3))
	require.NoError(t, l.RecordDay("2026-02-18", 15.0, 2))

	for day, want := range map[string]string{
		"2026-02-16": DayFlat,
		"2026-02-17": DayRed,
		"2026-02-18": DayGreen,
	} {
		r, err := l.Day(day)
		require.NoError(t, err)
		assert.Equal(t, want, r.Result, day)
	}
}

func TestRecordDayIdempotentAndReclassifies(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)

	require.NoError(t, l.RecordDay("2026-02-18", 5.0, 1))
	require.NoError(t, l.RecordDay("2026-02-18", 5.0, 1))
	require.NoError(t, l.RecordDay("2026-02-18", -3.0, 2))

	days, err := l.LastNDays(5)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.InDelta(t, -3.0, days[0].PnL, 1e-9)
	assert.Equal(t, DayRed, days[0].Result)
}

func TestLastNDaysOrdering(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)

	require.NoError(t, l.RecordDay("2026-02-15", 1.0, 1))
	require.NoError(t, l.RecordDay("2026-02-16", 2.0, 1))
	require.NoError(t, l.RecordDay("2026-02-17", 3.0, 1))

	days, err := l.LastNDays(2)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2026-02-17", days[0].Day)
	assert.Equal(t, "2026-02-16", days[1].Day)
}

func TestIsRecoveryDay(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)

	rec, err := l.IsRecoveryDay()
	require.NoError(t, err)
	assert.False(t, rec, "no recorded days")

	require.NoError(t, l.RecordDay("2026-02-16", -5.0, 2))
	rec, err = l.IsRecoveryDay()
	require.NoError(t, err)
	assert.False(t, rec, "one red day")

	require.NoError(t, l.RecordDay("2026-02-17", 10.0, 2))
	rec, err = l.IsRecoveryDay()
	require.NoError(t, err)
	assert.False(t, rec, "red then green")

	require.NoError(t, l.RecordDay("2026-02-18", -8.0, 3))
	rec, err = l.IsRecoveryDay()
	require.NoError(t, err)
	assert.False(t, rec, "green then red")

	require.NoError(t, l.RecordDay("2026-02-19", -5.0, 2))
	rec, err = l.IsRecoveryDay()
	require.NoError(t, err)
	assert.True(t, rec, "two most recent days both red")
}

func TestHasDay(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)

	ok, err := l.HasDay("2026-02-18")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.RecordDay("2026-02-18", 1.0, 1))
	ok, err = l.HasDay("2026-02-18")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClearDayCascades(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	day := "2026-02-18"
	pnl := 7.5

	require.NoError(t, l.RecordDay(day, 7.5, 1))
	require.NoError(t, l.RecordTradeEvent(TradeEvent{Day: day, Index: 1, Result: "win", PnL: &pnl}))
	require.NoError(t, l.RecordTradeLedger(LedgerEntry{Day: day, Index: 1, Result: "win", PnL: &pnl}))
	require.NoError(t, l.RecordViolation(Violation{Day: day, Rule: "SHUTDOWN_SIGNAL", Message: "test"}))
	require.NoError(t, l.UpsertAnalysis(Analysis{Day: day, Index: 1, Notes: "good entry"}))

	require.NoError(t, l.ClearDay(day))

	ok, err := l.HasDay(day)
	require.NoError(t, err)
	assert.False(t, ok)

	events, err := l.TradeEvents(day, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	entries, err := l.TradeLedger(day, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	viols, err := l.Violations(day, 10)
	require.NoError(t, err)
	assert.Empty(t, viols)

	_, found, err := l.Analysis(day, 1)
	require.NoError(t, err)
	assert.False(t, found)
}
