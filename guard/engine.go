// Package guard holds the enforcement state machine: a polling loop that
// reconciles the externally-mutated session file against locally-tracked
// lifecycle state, commands the terminal controller, and records day and
// trade facts into the ledger.
package guard

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/javadderoom/TradingGuard/config"
	"github.com/javadderoom/TradingGuard/ledger"
	"github.com/javadderoom/TradingGuard/news"
	"github.com/javadderoom/TradingGuard/session"
)

// Engine is the enforcement state machine. It runs single-threaded: the poll
// tick and the faster guard tick are cases of one select loop, so no two
// ticks ever overlap. The session file is the only shared mutable resource;
// the ledger is owned exclusively by this process.
type Engine struct {
	cfg   *config.Config
	store *session.Store
	db    *ledger.SQLite
	term  Terminal
	feed  *news.Service // nil when the news feature is disabled
	log   *zap.Logger
	now   func() time.Time

	phase         Phase
	day           string
	fired         map[string]bool // violation dedup, cleared at day rollover
	dayRecorded   bool
	staleCheck    bool // run the carry-over cleanup on the next poll
	analysisStart time.Time
	lastTrades    int
	lastNetPnL    float64
	newsEvents    []news.Event
}

// NewEngine builds the engine and computes its initial phase from the
// ledger: recovery lockout first, then today's daily lock, else idle.
// feed may be nil when the news feature is disabled.
func NewEngine(cfg *config.Config, store *session.Store, db *ledger.SQLite, term Terminal, feed *news.Service, log *zap.Logger) *Engine {
	e := &Engine{
		cfg:   cfg,
		store: store,
		db:    db,
		term:  term,
		feed:  feed,
		log:   log,
		now:   time.Now,
	}
	e.enterDay(cfg.SessionDay(e.now()))
	return e
}

// Phase returns the current enforcement phase.
func (e *Engine) Phase() Phase {
	return e.phase
}

// Day returns the current session-day key.
func (e *Engine) Day() string {
	return e.day
}

// Run drives the poll and guard ticks until ctx is cancelled. Both ticks run
// in this one goroutine; a tick that overruns simply delays the next one.
func (e *Engine) Run(ctx context.Context) error {
	poll := time.NewTicker(config.Duration(e.cfg.Session.PollInterval))
	defer poll.Stop()
	guard := time.NewTicker(config.Duration(e.cfg.Session.GuardInterval))
	defer guard.Stop()

	var newsTick <-chan time.Time
	if e.feed != nil {
		t := time.NewTicker(config.Duration(e.cfg.News.RefreshInterval))
		defer t.Stop()
		newsTick = t.C
		e.refreshNews(ctx)
	}

	e.log.Info("enforcement engine started",
		zap.String("phase", string(e.phase)),
		zap.String("day", e.day))

	e.PollOnce()
	for {
		select {
		case <-ctx.Done():
			e.log.Info("enforcement engine stopping")
			return ctx.Err()
		case <-poll.C:
			e.PollOnce()
		case <-guard.C:
			e.GuardOnce()
		case <-newsTick:
			e.refreshNews(ctx)
		}
	}
}

// PollOnce runs one pass of the slow state poll: day rollover, carry-over
// cleanup, shutdown and break handling, trade sync, bias expiry. A session
// read failure skips the pass; state carries over unchanged to the next tick.
func (e *Engine) PollOnce() {
	now := e.now()
	today := e.cfg.SessionDay(now)
	if today != e.day {
		e.log.Info("trading day rolled over", zap.String("from", e.day), zap.String("to", today))
		e.enterDay(today)
	}

	st, err := e.store.Read()
	if err != nil {
		e.log.Warn("session read failed, skipping poll", zap.Error(err))
		return
	}

	if e.staleCheck {
		e.staleCheck = false
		if e.cleanupCarryOver(&st, today) {
			st, err = e.store.Read()
			if err != nil {
				e.log.Warn("session re-read failed after cleanup", zap.Error(err))
				return
			}
		}
	}

	e.syncNewsLock(&st, now)

	// In the lockout phases the day is over. EA-written flags must not
	// demote the lockout into a break or a fresh shutdown; they are wiped
	// and the lockout holds until the next day rollover recomputes it.
	if e.phase == PhaseShutdown || e.phase == PhaseRecovery {
		if st.SessionActive || st.TradingAllowed || st.BreakActive || st.ShutdownSignal {
			if _, err := e.store.Update(func(s *session.State) {
				s.SessionActive = false
				s.TradingAllowed = false
				s.BreakActive = false
				s.BreakUntil = ""
				s.ShutdownSignal = false
			}); err != nil {
				e.log.Warn("failed to clear session flags during lockout", zap.Error(err))
			}
		}
		return
	}

	// break_active together with shutdown_signal is the EA's consecutive-loss
	// stop: a partial shutdown, not the end of the day.
	if st.ShutdownSignal && st.BreakActive {
		e.enterLossBreak(&st, now, today)
		return
	}
	if st.ShutdownSignal {
		e.enterShutdown(&st, today)
		return
	}

	if st.BreakActive {
		if until, ok := st.BreakUntilTime(); ok && now.After(until) {
			e.endBreak()
		} else {
			e.phase = PhaseBreak
		}
		return
	}
	if e.phase == PhaseBreak {
		// The EA cleared the break flags itself; follow it.
		e.phase = PhaseIdle
		delete(e.fired, RuleConsecutiveLossBreak)
		delete(e.fired, RuleBreakActive)
	}

	if !st.SessionActive {
		// Follow an operator-driven analysis start observed in the store.
		if e.phase == PhaseIdle && st.AnalysisStartedAt != "" {
			if t, ok := st.AnalysisStartedAtTime(); ok {
				e.phase = PhaseAnalysis
				e.analysisStart = t
			}
		}
		return
	}

	// Operator started a session (possibly from another process): adopt it.
	if e.phase == PhaseIdle || e.phase == PhaseAnalysis || e.phase == PhaseBreak {
		e.adoptSession(&st, today)
	}

	e.syncTrades(&st, today)
	e.checkBias(&st, now, today)
	e.lastNetPnL = st.NetPnL()
}

// GuardOnce runs one pass of the fast terminal guard: in any lockout phase
// or window a running terminal is killed immediately. This is what makes the
// lockouts effective against a human restarting the terminal manually.
func (e *Engine) GuardOnce() {
	now := e.now()
	rule := e.lockoutRule(now)
	if rule == "" {
		return
	}
	if !e.term.IsRunning() {
		return
	}

	killed := e.term.Kill()
	e.log.Warn("terminal running during lockout",
		zap.String("rule", rule),
		zap.Bool("killed", killed))
	e.violationOnce(e.day, rule, ledger.SeverityCritical,
		"terminal killed during lockout", map[string]any{"phase": string(e.phase)})
}

// lockoutRule returns the violation code for the active lockout, or "" when
// the terminal is allowed to run.
func (e *Engine) lockoutRule(now time.Time) string {
	switch e.phase {
	case PhaseRecovery:
		return RuleRecoveryDay
	case PhaseShutdown:
		return RuleMT5Blocked
	case PhaseBreak:
		return RuleBreakActive
	case PhaseAnalysis:
		if now.Sub(e.analysisStart) < config.Duration(e.cfg.Session.AnalysisDuration) {
			return RulePreSession
		}
	}
	if e.cfg.Session.BreakStart != "" && e.cfg.Session.BreakEnd != "" {
		if config.InClockWindow(e.localTime(now), e.cfg.Session.BreakStart, e.cfg.Session.BreakEnd) {
			return RuleDailyBreak
		}
	}
	return ""
}

// BeginAnalysis starts the mandatory pre-session analysis timer.
func (e *Engine) BeginAnalysis() error {
	st, err := e.store.Read()
	if err != nil {
		return err
	}
	if st.SessionActive {
		return fmt.Errorf("session already active")
	}
	if e.phase == PhaseShutdown {
		return fmt.Errorf("trading day is over; no new session today")
	}
	if e.phase == PhaseRecovery {
		return fmt.Errorf("recovery day lockout; no trading today")
	}
	if err := e.dayLockout(); err != nil {
		return err
	}

	now := e.now()
	if _, err := e.store.Update(func(s *session.State) {
		s.AnalysisStartedAt = session.FormatTimestamp(now)
	}); err != nil {
		return err
	}
	e.phase = PhaseAnalysis
	e.analysisStart = now
	e.log.Info("analysis period started",
		zap.String("duration", e.cfg.Session.AnalysisDuration))
	return nil
}

// StartSession activates a trading session: analysis must be complete and
// the clock must be inside the trading-hours window. Counters are zeroed,
// the session flags are raised, and the terminal is launched.
func (e *Engine) StartSession() error {
	now := e.now()

	switch e.phase {
	case PhaseShutdown:
		return fmt.Errorf("trading day is over; no new session today")
	case PhaseRecovery:
		return fmt.Errorf("recovery day lockout; no trading today")
	case PhaseBreak:
		return fmt.Errorf("break in progress")
	}
	if err := e.dayLockout(); err != nil {
		return err
	}

	st, err := e.store.Read()
	if err != nil {
		return err
	}
	if st.SessionActive {
		return fmt.Errorf("session already active")
	}

	started, ok := st.AnalysisStartedAtTime()
	if !ok {
		return fmt.Errorf("analysis period has not been started")
	}
	need := config.Duration(e.cfg.Session.AnalysisDuration)
	if elapsed := now.Sub(started); elapsed < need {
		return fmt.Errorf("analysis period not finished: %s of %s elapsed",
			elapsed.Round(time.Second), need)
	}
	if !config.InClockWindow(e.localTime(now), e.cfg.Session.TradingStart, e.cfg.Session.TradingEnd) {
		return fmt.Errorf("outside trading hours %s-%s",
			e.cfg.Session.TradingStart, e.cfg.Session.TradingEnd)
	}

	if _, err := e.store.Update(func(s *session.State) {
		s.SessionActive = true
		s.TradingAllowed = true
		s.ShutdownSignal = false
		s.BreakActive = false
		s.BreakUntil = ""
		s.BiasExpired = false
		s.DailyLossUSD = 0
		s.DailyProfitUSD = 0
		s.TradesToday = 0
		s.ConsecutiveLosses = 0
		s.LossesSinceBias = 0
		s.LastTradeResult = ""
		s.LastTradePnL = 0
		s.CooldownUntil = ""
	}); err != nil {
		return err
	}

	e.phase = PhaseActive
	e.lastTrades = 0
	e.lastNetPnL = 0
	if !e.term.Launch() {
		e.log.Warn("terminal launch failed; session is active without it")
	}
	e.log.Info("trading session started", zap.String("day", e.day))
	return nil
}

// EndSession closes the session manually and records the day's outcome.
func (e *Engine) EndSession() error {
	st, err := e.store.Read()
	if err != nil {
		return err
	}
	if !st.SessionActive {
		return fmt.Errorf("no active session")
	}

	e.term.Kill()
	if err := e.db.RecordDay(e.day, st.NetPnL(), st.TradesToday); err != nil {
		return fmt.Errorf("record day result: %w", err)
	}
	e.dayRecorded = true

	if _, err := e.store.Update(func(s *session.State) {
		s.SessionActive = false
		s.TradingAllowed = false
	}); err != nil {
		return err
	}
	e.phase = PhaseShutdown
	e.log.Info("trading session ended",
		zap.Float64("pnl", st.NetPnL()),
		zap.Int("trades", st.TradesToday))
	return nil
}

// enterDay resets the per-day edge-trigger memory and recomputes the phase
// lockouts for the new trading day.
func (e *Engine) enterDay(today string) {
	e.day = today
	e.fired = map[string]bool{}
	e.dayRecorded = false
	e.staleCheck = true
	e.analysisStart = time.Time{}
	e.lastTrades = 0
	e.lastNetPnL = 0

	e.recomputeLockout(today)
}

// recomputeLockout re-derives the phase from the ledger: recovery lockout
// first, then today's daily lock, else idle.
func (e *Engine) recomputeLockout(today string) {
	if rec, err := e.db.IsRecoveryDay(); err != nil {
		e.log.Warn("recovery-day check failed", zap.Error(err))
	} else if rec {
		e.phase = PhaseRecovery
		return
	}

	if has, err := e.db.HasDay(today); err != nil {
		e.log.Warn("daily-lock check failed", zap.Error(err))
	} else if has {
		e.phase = PhaseShutdown
		e.dayRecorded = true
		return
	}

	e.phase = PhaseIdle
}

// dayLockout re-checks the ledger-backed lockouts directly. The in-memory
// phase can lag the ledger; a session may only start when the ledger itself
// clears the day. Check failures refuse the session rather than allow it.
func (e *Engine) dayLockout() error {
	rec, err := e.db.IsRecoveryDay()
	if err != nil {
		return fmt.Errorf("recovery-day check: %w", err)
	}
	if rec {
		return fmt.Errorf("recovery day lockout; no trading today")
	}

	has, err := e.db.HasDay(e.day)
	if err != nil {
		return fmt.Errorf("daily-lock check: %w", err)
	}
	if has {
		return fmt.Errorf("trading day is over; no new session today")
	}
	return nil
}

// cleanupCarryOver detects counters left over from the previous day: an
// inactive session with nonzero counters right after a day boundary. When
// they exactly match yesterday's recorded result the matching rows recorded
// for today are a carry-over artifact and are deleted. The store is
// force-reset either way. Exact-match deletion can in principle hit a day
// that legitimately repeats yesterday's numbers; accepted risk, and the
// violation record flags it.
func (e *Engine) cleanupCarryOver(st *session.State, today string) bool {
	if st.SessionActive {
		return false
	}
	if st.TradesToday == 0 && st.DailyLossUSD == 0 && st.DailyProfitUSD == 0 {
		return false
	}

	rule := RuleStaleState
	if prev, err := e.db.Day(previousDay(today)); err == nil &&
		prev.Trades == st.TradesToday && floatEq(prev.PnL, st.NetPnL()) {
		rule = RuleDuplicateDay
		if cur, err := e.db.Day(today); err == nil &&
			cur.Trades == prev.Trades && floatEq(cur.PnL, prev.PnL) {
			if err := e.db.ClearDay(today); err != nil {
				e.log.Warn("failed to clear duplicated day", zap.Error(err))
			} else {
				// The deleted row may have been what locked the day, either
				// directly or as half of a bogus red pair.
				e.dayRecorded = false
				e.recomputeLockout(today)
			}
		}
	}

	e.log.Warn("stale session counters detected, forcing reset",
		zap.String("rule", rule),
		zap.Int("trades", st.TradesToday),
		zap.Float64("net_pnl", st.NetPnL()))
	if _, err := e.store.Reset(); err != nil {
		e.log.Warn("session reset failed", zap.Error(err))
		return false
	}
	e.lastTrades = 0
	e.lastNetPnL = 0
	e.violationOnce(today, rule, ledger.SeverityWarn,
		"carried-over session counters force-reset", map[string]any{
			"trades":  st.TradesToday,
			"net_pnl": st.NetPnL(),
		})
	return true
}

// enterLossBreak handles the EA's consecutive-loss stop: kill the terminal,
// schedule the break end, and clear the shutdown flag so a fresh session can
// start once the break expires. No DailyResult is written; the day goes on.
func (e *Engine) enterLossBreak(st *session.State, now time.Time, today string) {
	e.term.Kill()

	until := now.Add(config.Duration(e.cfg.Session.LossBreak))
	if _, err := e.store.Update(func(s *session.State) {
		s.BreakActive = true
		s.BreakUntil = session.FormatTimestamp(until)
		s.ShutdownSignal = false
		s.SessionActive = false
		s.TradingAllowed = false
	}); err != nil {
		e.log.Warn("failed to persist loss break", zap.Error(err))
		return
	}

	e.phase = PhaseBreak
	e.log.Warn("consecutive-loss break started",
		zap.Time("until", until),
		zap.Int("consecutive_losses", st.ConsecutiveLosses))
	e.violationOnce(today, RuleConsecutiveLossBreak, ledger.SeverityCritical,
		"consecutive losses reached, trading suspended", map[string]any{
			"consecutive_losses": st.ConsecutiveLosses,
			"break_until":        session.FormatTimestamp(until),
		})
}

// endBreak clears the break flags once the wall clock passes break_until.
// The terminal is not relaunched; a new manual session start is required.
func (e *Engine) endBreak() {
	if _, err := e.store.Update(func(s *session.State) {
		s.BreakActive = false
		s.BreakUntil = ""
		s.TradingAllowed = true
	}); err != nil {
		e.log.Warn("failed to clear break flags", zap.Error(err))
		return
	}
	e.phase = PhaseIdle
	delete(e.fired, RuleConsecutiveLossBreak)
	delete(e.fired, RuleBreakActive)
	e.log.Info("break expired; a new session may be started")
}

// enterShutdown handles the full daily-limit stop: kill the terminal, lock
// the rest of the day, and record the day's outcome exactly once.
func (e *Engine) enterShutdown(st *session.State, today string) {
	e.term.Kill()
	e.phase = PhaseShutdown

	if !e.dayRecorded {
		if err := e.db.RecordDay(today, st.NetPnL(), st.TradesToday); err != nil {
			e.log.Error("failed to record day result", zap.Error(err))
		} else {
			e.dayRecorded = true
		}
	}

	if st.SessionActive || st.TradingAllowed {
		if _, err := e.store.Update(func(s *session.State) {
			s.SessionActive = false
			s.TradingAllowed = false
		}); err != nil {
			e.log.Warn("failed to persist shutdown flags", zap.Error(err))
		}
	}

	e.violationOnce(today, RuleShutdownSignal, ledger.SeverityCritical,
		"daily limit shutdown", map[string]any{
			"net_pnl": st.NetPnL(),
			"trades":  st.TradesToday,
		})
}

// adoptSession aligns local tracking with a session that became active in
// the store, whether started through this process or another one.
func (e *Engine) adoptSession(st *session.State, today string) {
	e.phase = PhaseActive
	last, err := e.db.LastTradeIndex(today)
	if err != nil {
		e.log.Warn("last trade index lookup failed", zap.Error(err))
		last = st.TradesToday
	}
	e.lastTrades = last
	e.lastNetPnL = st.NetPnL()
	e.log.Info("session adopted", zap.Int("trades_recorded", last))
}

// syncTrades backfills the ledger when trades_today advances. Only the most
// recent trade's outcome is exposed by the store, so intermediate indices
// are recorded as unknown rather than guessed. When exactly one new trade
// arrived and the store carries no explicit result, the outcome is derived
// from the net-P&L delta since the previous poll.
func (e *Engine) syncTrades(st *session.State, today string) {
	n := st.TradesToday
	if n <= e.lastTrades {
		return
	}
	newCount := n - e.lastTrades

	for i := e.lastTrades + 1; i <= n; i++ {
		if i < n {
			ev := ledger.TradeEvent{Day: today, Index: i, Result: session.ResultUnknown}
			if err := e.db.RecordTradeEvent(ev); err != nil {
				e.log.Warn("trade event write failed", zap.Int("index", i), zap.Error(err))
			}
			entry := ledger.LedgerEntry{
				Day: today, Index: i,
				Result: session.ResultUnknown,
				Source: "sync_backfill",
			}
			if err := e.db.RecordTradeLedger(entry); err != nil {
				e.log.Warn("trade ledger write failed", zap.Int("index", i), zap.Error(err))
			}
			continue
		}

		result := st.LastTradeResult
		var pnl *float64
		if result != "" && result != session.ResultUnknown {
			v := st.LastTradePnL
			pnl = &v
		} else if newCount == 1 {
			delta := st.NetPnL() - e.lastNetPnL
			result = classifyDelta(delta)
			if result != session.ResultUnknown {
				pnl = &delta
			}
		} else {
			result = session.ResultUnknown
		}

		ev := ledger.TradeEvent{Day: today, Index: i, Result: result, PnL: pnl}
		if err := e.db.RecordTradeEvent(ev); err != nil {
			e.log.Warn("trade event write failed", zap.Int("index", i), zap.Error(err))
		}
		entry := ledger.LedgerEntry{Day: today, Index: i, Result: result, PnL: pnl, Source: "guard"}
		if err := e.db.RecordTradeLedger(entry); err != nil {
			e.log.Warn("trade ledger write failed", zap.Int("index", i), zap.Error(err))
		}

		e.log.Info("trade recorded",
			zap.Int("index", i),
			zap.String("result", result))
	}

	e.lastTrades = n
}

// checkBias suspends trading when the declared bias is stale: too old, or
// invalidated by losses since it was set. The suspension is edge-triggered;
// the operator clears it by declaring a fresh bias, which this loop only
// observes.
func (e *Engine) checkBias(st *session.State, now time.Time, today string) {
	if st.BiasExpired {
		e.phase = PhaseBiasExpired
		return
	}
	if e.phase == PhaseBiasExpired {
		// Fresh bias observed; allow the rule to fire again later today.
		e.phase = PhaseActive
		delete(e.fired, RuleBiasExpired)
	}

	if st.Bias == session.BiasNeutral || st.BiasSetAt == "" {
		return
	}

	reason := ""
	setAt, ok := st.BiasSetAtTime()
	if ok && now.Sub(setAt) >= config.Duration(e.cfg.Bias.MaxAge) {
		reason = "bias older than " + e.cfg.Bias.MaxAge
	}
	if st.LossesSinceBias >= e.cfg.Bias.MaxLosses {
		reason = fmt.Sprintf("%d losses since bias was set", st.LossesSinceBias)
	}
	if reason == "" {
		return
	}

	if _, err := e.store.Update(func(s *session.State) {
		s.BiasExpired = true
		s.TradingAllowed = false
	}); err != nil {
		e.log.Warn("failed to persist bias expiry", zap.Error(err))
		return
	}
	e.phase = PhaseBiasExpired
	e.log.Warn("bias expired", zap.String("reason", reason))
	e.violationOnce(today, RuleBiasExpired, ledger.SeverityWarn,
		"bias expired: "+reason, map[string]any{
			"bias":              st.Bias,
			"losses_since_bias": st.LossesSinceBias,
		})
}

// syncNewsLock reflects the calendar blackout into the session file so the
// EA sees it as a plain flag.
func (e *Engine) syncNewsLock(st *session.State, now time.Time) {
	if e.feed == nil {
		return
	}
	buffer := time.Duration(e.cfg.News.BufferMinutes) * time.Minute
	active := news.Active(e.newsEvents, now, buffer)
	if active == st.NewsLock {
		return
	}
	if _, err := e.store.Update(func(s *session.State) {
		s.NewsLock = active
	}); err != nil {
		e.log.Warn("failed to update news lock", zap.Error(err))
		return
	}
	st.NewsLock = active
	e.log.Info("news lock changed", zap.Bool("active", active))
}

func (e *Engine) refreshNews(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	events, err := e.feed.TodayEvents(rctx)
	if err != nil {
		e.log.Warn("news refresh failed", zap.Error(err))
		return
	}
	e.newsEvents = events
}

// violationOnce appends an audit record unless the rule already fired today.
// Write failures are logged and swallowed; the audit trail is best-effort.
func (e *Engine) violationOnce(day, rule, severity, msg string, ctx map[string]any) {
	if e.fired[rule] {
		return
	}
	e.fired[rule] = true

	v := ledger.Violation{Day: day, Rule: rule, Severity: severity, Message: msg, Context: ctx}
	if err := e.db.RecordViolation(v); err != nil {
		e.log.Warn("violation write failed", zap.String("rule", rule), zap.Error(err))
	}
}

func (e *Engine) localTime(now time.Time) time.Time {
	loc, err := e.cfg.Location()
	if err != nil {
		return now
	}
	return now.In(loc)
}

func previousDay(day string) string {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, -1).Format("2006-01-02")
}

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func classifyDelta(delta float64) string {
	switch {
	case delta > 0:
		return session.ResultWin
	case delta < 0:
		return session.ResultLoss
	default:
		return session.ResultUnknown
	}
}
