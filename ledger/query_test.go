package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fptr(f float64) *float64 { return &f }

func TestTradeEventUpsertMergesPnL(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	day := "2026-02-18"

	// First observation carries the outcome.
	require.NoError(t, l.RecordTradeEvent(TradeEvent{Day: day, Index: 1, Result: "loss", PnL: fptr(-12.0)}))

	// Re-observation of the same index without a pnl keeps the stored one.
	require.NoError(t, l.RecordTradeEvent(TradeEvent{Day: day, Index: 1, Result: "loss"}))

	events, err := l.TradeEvents(day, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].PnL)
	assert.InDelta(t, -12.0, *events[0].PnL, 1e-9)

	// A new non-nil pnl replaces the stored one.
	require.NoError(t, l.RecordTradeEvent(TradeEvent{Day: day, Index: 1, Result: "loss", PnL: fptr(-14.5)}))
	events, err = l.TradeEvents(day, 10)
	require.NoError(t, err)
	require.NotNil(t, events[0].PnL)
	assert.InDelta(t, -14.5, *events[0].PnL, 1e-9)
}

func TestTradeLedgerKeepsCloseReason(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	day := "2026-02-18"

	require.NoError(t, l.RecordTradeLedger(LedgerEntry{
		Day: day, Index: 1, Result: "loss", PnL: fptr(-12.0), CloseReason: "stop_loss",
	}))

	// New pnl with an empty close_reason: pnl replaced, reason preserved.
	require.NoError(t, l.RecordTradeLedger(LedgerEntry{
		Day: day, Index: 1, Result: "loss", PnL: fptr(-11.5),
	}))

	entries, err := l.TradeLedger(day, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].PnL)
	assert.InDelta(t, -11.5, *entries[0].PnL, 1e-9)
	assert.Equal(t, "stop_loss", entries[0].CloseReason)
}

func TestTradeEventsNoDuplicatesPerIndex(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	day := "2026-02-18"

	for i := 0; i < 5; i++ {
		require.NoError(t, l.RecordTradeEvent(TradeEvent{Day: day, Index: 2, Result: "win", PnL: fptr(7.5)}))
	}

	events, err := l.TradeEvents(day, 100)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestLastTradeIndex(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	day := "2026-02-18"

	idx, err := l.LastTradeIndex(day)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	require.NoError(t, l.RecordTradeEvent(TradeEvent{Day: day, Index: 1}))
	require.NoError(t, l.RecordTradeEvent(TradeEvent{Day: day, Index: 3}))

	idx, err = l.LastTradeIndex(day)
	require.NoError(t, err)
	assert.Equal(t, 3, idx)

	// Other days do not leak in.
	idx, err = l.LastTradeIndex("2026-02-17")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestViolationsAppendOnly(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	day := "2026-02-18"
	one := 1

	require.NoError(t, l.RecordViolation(Violation{
		Day: day, Rule: "SHUTDOWN_SIGNAL", Severity: SeverityCritical,
		Message: "daily loss limit reached",
		Context: map[string]any{"pnl": -24.0},
	}))
	require.NoError(t, l.RecordViolation(Violation{
		Day: day, TradeIndex: &one, Rule: "BIAS_EXPIRED", Message: "bias stale",
	}))

	viols, err := l.Violations(day, 10)
	require.NoError(t, err)
	require.Len(t, viols, 2)

	for _, v := range viols {
		assert.NotEmpty(t, v.ID)
		assert.False(t, v.Time.IsZero())
	}

	byRule := map[string]Violation{}
	for _, v := range viols {
		byRule[v.Rule] = v
	}
	assert.Equal(t, SeverityCritical, byRule["SHUTDOWN_SIGNAL"].Severity)
	assert.InDelta(t, -24.0, byRule["SHUTDOWN_SIGNAL"].Context["pnl"].(float64), 1e-9)
	assert.Equal(t, SeverityWarn, byRule["BIAS_EXPIRED"].Severity)
	require.NotNil(t, byRule["BIAS_EXPIRED"].TradeIndex)
	assert.Equal(t, 1, *byRule["BIAS_EXPIRED"].TradeIndex)
}

func TestAnalysisUpsert(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	day := "2026-02-18"

	require.NoError(t, l.UpsertAnalysis(Analysis{
		Day: day, Index: 1,
		EntryReason: "break of structure",
		SetupTags:   []string{"bos", "fvg"},
		Notes:       "clean entry",
		Screenshots: map[string]string{"entry": "shots/e1.png"},
	}))

	a, found, err := l.Analysis(day, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "break of structure", a.EntryReason)
	assert.Equal(t, []string{"bos", "fvg"}, a.SetupTags)
	assert.Equal(t, "shots/e1.png", a.Screenshots["entry"])
	created := a.CreatedAt

	require.NoError(t, l.UpsertAnalysis(Analysis{
		Day: day, Index: 1,
		EntryReason: "break of structure",
		Notes:       "revised: chased the entry",
	}))

	a, found, err = l.Analysis(day, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "revised: chased the entry", a.Notes)
	assert.True(t, a.CreatedAt.Equal(created), "created_at survives updates")

	_, found, err = l.Analysis(day, 9)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOverviewStats(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)

	require.NoError(t, l.RecordDay("2026-02-16", 20.0, 2))
	require.NoError(t, l.RecordDay("2026-02-17", -10.0, 3))
	require.NoError(t, l.RecordDay("2026-02-18", 0.0, 1))

	require.NoError(t, l.RecordTradeEvent(TradeEvent{Day: "2026-02-16", Index: 1, Result: "win", PnL: fptr(20.0)}))
	require.NoError(t, l.RecordTradeEvent(TradeEvent{Day: "2026-02-17", Index: 1, Result: "loss", PnL: fptr(-4.0)}))
	require.NoError(t, l.RecordTradeEvent(TradeEvent{Day: "2026-02-17", Index: 2, Result: "loss", PnL: fptr(-6.0)}))
	require.NoError(t, l.RecordTradeEvent(TradeEvent{Day: "2026-02-17", Index: 3, Result: "win", PnL: fptr(0.0)}))
	require.NoError(t, l.RecordTradeEvent(TradeEvent{Day: "2026-02-18", Index: 1, Result: "flat"}))
	require.NoError(t, l.RecordTradeEvent(TradeEvent{Day: "2026-02-18", Index: 2}))

	stats, err := l.OverviewStats("2026-02-18", 30)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalDays)
	assert.Equal(t, 1, stats.GreenDays)
	assert.Equal(t, 1, stats.RedDays)
	assert.InDelta(t, 10.0, stats.TotalPnL, 1e-9)
	assert.Equal(t, 6, stats.TotalTrades)

	assert.Equal(t, 2, stats.Wins)
	assert.Equal(t, 2, stats.Losses)
	assert.Equal(t, 1, stats.Breakeven)
	assert.Equal(t, 1, stats.Unknown)
	assert.InDelta(t, 50.0, stats.WinRate, 1e-9)
}

func TestOverviewStatsEmpty(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)

	stats, err := l.OverviewStats("2026-02-18", 30)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalDays)
	assert.Zero(t, stats.TotalPnL)
	assert.Zero(t, stats.WinRate)
}
