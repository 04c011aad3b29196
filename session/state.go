package session

import (
	"encoding/json"
	"time"
)

// Bias values the trader can declare.
const (
	BiasNeutral = "neutral"
	BiasBullish = "bullish"
	BiasBearish = "bearish"
)

// Trade result classifications echoed by the EA.
const (
	ResultWin     = "win"
	ResultLoss    = "loss"
	ResultFlat    = "flat"
	ResultUnknown = "unknown"
)

// State is the session record shared with the MT5 EA through the session
// file. Field names are the wire contract; both writers touch largely
// disjoint subsets. Timestamp fields are ISO-8601 strings with "" meaning
// unset, matching what the EA writes.
type State struct {
	Version           int     `json:"version"`
	SessionActive     bool    `json:"session_active"`
	TradingAllowed    bool    `json:"trading_allowed"`
	Bias              string  `json:"bias"`
	InvalidationPrice float64 `json:"invalidation_price"`
	NewsLock          bool    `json:"news_lock"`
	DailyLossUSD      float64 `json:"daily_loss_usd"`
	DailyProfitUSD    float64 `json:"daily_profit_usd"`
	TradesToday       int     `json:"trades_today"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	BiasSetAt         string  `json:"bias_set_at"`
	LossesSinceBias   int     `json:"losses_since_bias"`
	BiasExpired       bool    `json:"bias_expired"`
	StrictMode        bool    `json:"strict_mode"`
	BreakActive       bool    `json:"break_active"`
	BreakUntil        string  `json:"break_until"`
	ShutdownSignal    bool    `json:"shutdown_signal"`
	CooldownUntil     string  `json:"cooldown_until"`
	LastTradeResult   string  `json:"last_trade_result"`
	LastTradePnL      float64 `json:"last_trade_pnl"`
	AnalysisStartedAt string  `json:"analysis_started_at"`
	Timestamp         string  `json:"timestamp"`

	// extra carries fields the EA writes that this application does not
	// model; they survive read-modify-write untouched.
	extra map[string]json.RawMessage
}

// Default returns the record written on reset and merged under any document
// read from disk, so fields missing on disk are backfilled.
func Default() State {
	return State{
		Version: 1,
		Bias:    BiasNeutral,
	}
}

// NetPnL is the day's net P&L: accumulated profit minus accumulated loss.
func (s *State) NetPnL() float64 {
	return s.DailyProfitUSD - s.DailyLossUSD
}

// BreakUntilTime parses break_until; ok is false when unset or malformed.
func (s *State) BreakUntilTime() (time.Time, bool) {
	return ParseTimestamp(s.BreakUntil)
}

// BiasSetAtTime parses bias_set_at.
func (s *State) BiasSetAtTime() (time.Time, bool) {
	return ParseTimestamp(s.BiasSetAt)
}

// CooldownUntilTime parses cooldown_until.
func (s *State) CooldownUntilTime() (time.Time, bool) {
	return ParseTimestamp(s.CooldownUntil)
}

// AnalysisStartedAtTime parses analysis_started_at.
func (s *State) AnalysisStartedAtTime() (time.Time, bool) {
	return ParseTimestamp(s.AnalysisStartedAt)
}

// timestampFormats covers RFC3339 plus the naive ISO forms the EA and the
// previous implementation wrote.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a session timestamp string; ok is false for "" or an
// unrecognized format. Naive timestamps are interpreted in local time, which
// is what the EA's clock means.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders a session timestamp string.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

// MarshalJSON emits the known fields plus any preserved unknown fields.
func (s State) MarshalJSON() ([]byte, error) {
	type plain State
	b, err := json.Marshal(plain(s))
	if err != nil {
		return nil, err
	}
	if len(s.extra) == 0 {
		return b, nil
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range s.extra {
		if _, known := m[k]; !known {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the known fields on top of the receiver's current
// values (so defaults survive for missing keys) and stashes unknown fields.
func (s *State) UnmarshalJSON(data []byte) error {
	type plain State
	a := plain(*s)
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known, err := json.Marshal(a)
	if err != nil {
		return err
	}
	var knownKeys map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownKeys); err != nil {
		return err
	}
	for k := range knownKeys {
		delete(raw, k)
	}

	*s = State(a)
	if len(raw) > 0 {
		s.extra = raw
	}
	return nil
}
