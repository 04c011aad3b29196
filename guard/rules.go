package guard

// Phase is the locally-held enforcement state. It is derived, not persisted:
// a restart recomputes it from the ledger and the session file.
type Phase string

const (
	// PhaseIdle means no session has started this trading day.
	PhaseIdle Phase = "idle"
	// PhaseAnalysis means the mandatory pre-session analysis timer is running.
	PhaseAnalysis Phase = "analysis"
	// PhaseActive means a session is running and trading is permitted
	// subject to the sub-rules.
	PhaseActive Phase = "active"
	// PhaseBiasExpired means trading is suspended until a fresh bias is set.
	PhaseBiasExpired Phase = "bias_expired"
	// PhaseBreak means a temporary suspension (consecutive-loss break).
	PhaseBreak Phase = "break"
	// PhaseShutdown means the day is over; the terminal may not restart
	// until the next trading day.
	PhaseShutdown Phase = "shutdown"
	// PhaseRecovery means a two-red-day lockout; the terminal may not run.
	PhaseRecovery Phase = "recovery"
)

// Rule codes written to the violation log. Closed vocabulary; the guard
// deduplicates per (rule, day) so repeated enforcement does not flood it.
const (
	RuleShutdownSignal       = "SHUTDOWN_SIGNAL"
	RuleConsecutiveLossBreak = "CONSECUTIVE_LOSS_BREAK"
	RuleBiasExpired          = "BIAS_EXPIRED"
	RuleRecoveryDay          = "RECOVERY_DAY"
	RuleDailyBreak           = "DAILY_BREAK"
	RulePreSession           = "PRE_SESSION"
	RuleBreakActive          = "BREAK_ACTIVE"
	RuleStaleState           = "STALE_STATE"
	RuleDuplicateDay         = "DUPLICATE_DAY"
	RuleMT5Blocked           = "MT5_BLOCKED"
)

// Terminal is the process-controller surface the engine commands. All three
// calls are idempotent and report expected failure through their result.
type Terminal interface {
	IsRunning() bool
	Launch() bool
	Kill() bool
}
