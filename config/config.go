package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete guard configuration
type Config struct {
	Risk     RiskConfig     `yaml:"risk"`
	Cooldown CooldownConfig `yaml:"cooldown"`
	Bias     BiasConfig     `yaml:"bias"`
	Session  SessionConfig  `yaml:"session"`
	Terminal TerminalConfig `yaml:"terminal"`
	News     NewsConfig     `yaml:"news"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RiskConfig contains the hard daily limits the EA enforces and this
// application audits against
type RiskConfig struct {
	RiskPerTradeUSD      float64 `yaml:"risk_per_trade_usd"`
	MaxDailyLossUSD      float64 `yaml:"max_daily_loss_usd"`
	MaxDailyProfitUSD    float64 `yaml:"max_daily_profit_usd"`
	MaxTradesPerDay      int     `yaml:"max_trades_per_day"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
}

// CooldownConfig contains post-trade cooldown durations
type CooldownConfig struct {
	Base      string `yaml:"base"`       // e.g. "15m"
	LossExtra string `yaml:"loss_extra"` // added when the last trade was a loss
}

// BiasConfig controls when a declared bias expires
type BiasConfig struct {
	MaxAge    string `yaml:"max_age"`    // e.g. "2h"
	MaxLosses int    `yaml:"max_losses"` // losses since bias was set
}

// SessionConfig contains the session-lifecycle parameters
type SessionConfig struct {
	AnalysisDuration string `yaml:"analysis_duration"` // mandatory pre-session timer
	TradingStart     string `yaml:"trading_start"`     // "HH:MM", sessions may only start inside this window
	TradingEnd       string `yaml:"trading_end"`
	BreakStart       string `yaml:"break_start"` // scheduled daily break window; empty disables
	BreakEnd         string `yaml:"break_end"`
	LossBreak        string `yaml:"loss_break"`     // suspension after consecutive losses
	DayStartHour     int    `yaml:"day_start_hour"` // session-day rollover hour (local), not midnight
	Timezone         string `yaml:"timezone"`       // IANA name or "Local"
	PollInterval     string `yaml:"poll_interval"`
	GuardInterval    string `yaml:"guard_interval"`
}

// TerminalConfig locates the MT5 terminal process
type TerminalConfig struct {
	ExePath        string `yaml:"exe_path"`
	ProcessName    string `yaml:"process_name"`
	CommandTimeout string `yaml:"command_timeout"`
}

// NewsConfig controls the high-impact news feed
type NewsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	APIKey          string `yaml:"api_key"`
	URL             string `yaml:"url"`
	Currency        string `yaml:"currency"`
	BufferMinutes   int    `yaml:"buffer_minutes"` // lock window around each event
	OffsetMinutes   int    `yaml:"offset_minutes"` // broker clock offset applied to event times
	CachePath       string `yaml:"cache_path"`
	RefreshInterval string `yaml:"refresh_interval"`
}

// StorageConfig holds the two data files
type StorageConfig struct {
	SessionFile string `yaml:"session_file"` // shared with the MT5 EA
	DBPath      string `yaml:"db_path"`
}

// LoggingConfig configures the application logger
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile writes the configuration as YAML
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Risk.MaxDailyLossUSD <= 0 {
		return fmt.Errorf("risk.max_daily_loss_usd must be positive")
	}
	if c.Risk.MaxDailyProfitUSD <= 0 {
		return fmt.Errorf("risk.max_daily_profit_usd must be positive")
	}
	if c.Risk.MaxTradesPerDay <= 0 {
		return fmt.Errorf("risk.max_trades_per_day must be positive")
	}
	if c.Risk.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("risk.max_consecutive_losses must be positive")
	}
	if c.Bias.MaxLosses <= 0 {
		return fmt.Errorf("bias.max_losses must be positive")
	}
	if c.Session.DayStartHour < 0 || c.Session.DayStartHour > 23 {
		return fmt.Errorf("session.day_start_hour must be between 0 and 23")
	}
	if c.Storage.SessionFile == "" {
		return fmt.Errorf("storage.session_file is required")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Terminal.ProcessName == "" {
		return fmt.Errorf("terminal.process_name is required")
	}

	for name, s := range map[string]string{
		"cooldown.base":             c.Cooldown.Base,
		"cooldown.loss_extra":       c.Cooldown.LossExtra,
		"bias.max_age":              c.Bias.MaxAge,
		"session.analysis_duration": c.Session.AnalysisDuration,
		"session.loss_break":        c.Session.LossBreak,
		"session.poll_interval":     c.Session.PollInterval,
		"session.guard_interval":    c.Session.GuardInterval,
		"terminal.command_timeout":  c.Terminal.CommandTimeout,
		"news.refresh_interval":     c.News.RefreshInterval,
	} {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	for name, s := range map[string]string{
		"session.trading_start": c.Session.TradingStart,
		"session.trading_end":   c.Session.TradingEnd,
	} {
		if _, _, err := ParseClock(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Session.BreakStart != "" || c.Session.BreakEnd != "" {
		if _, _, err := ParseClock(c.Session.BreakStart); err != nil {
			return fmt.Errorf("session.break_start: %w", err)
		}
		if _, _, err := ParseClock(c.Session.BreakEnd); err != nil {
			return fmt.Errorf("session.break_end: %w", err)
		}
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("session.timezone: %w", err)
	}

	return nil
}

// Location resolves the configured timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Session.Timezone == "" || c.Session.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Session.Timezone)
}

// SessionDay returns the session-day key for the given instant. The trading
// day rolls over at day_start_hour local time, so an early-morning poll still
// belongs to the previous day.
func (c *Config) SessionDay(now time.Time) string {
	loc, err := c.Location()
	if err != nil {
		loc = time.Local
	}
	local := now.In(loc)
	if local.Hour() < c.Session.DayStartHour {
		local = local.AddDate(0, 0, -1)
	}
	return local.Format("2006-01-02")
}

// Duration parses one of the validated duration fields. Validate guarantees
// these parse, so a zero value only appears for an unvalidated Config.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// ParseClock parses an "HH:MM" wall-clock string.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// InClockWindow reports whether the local time of now falls inside the
// [start, end) wall-clock window. Windows that cross midnight wrap.
func InClockWindow(now time.Time, start, end string) bool {
	sh, sm, err := ParseClock(start)
	if err != nil {
		return false
	}
	eh, em, err := ParseClock(end)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	s := sh*60 + sm
	e := eh*60 + em
	if s <= e {
		return cur >= s && cur < e
	}
	return cur >= s || cur < e
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Risk: RiskConfig{
			RiskPerTradeUSD:      12.0,
			MaxDailyLossUSD:      24.0,
			MaxDailyProfitUSD:    35.0,
			MaxTradesPerDay:      3,
			MaxConsecutiveLosses: 2,
		},
		Cooldown: CooldownConfig{
			Base:      "15m",
			LossExtra: "10m",
		},
		Bias: BiasConfig{
			MaxAge:    "2h",
			MaxLosses: 3,
		},
		Session: SessionConfig{
			AnalysisDuration: "20m",
			TradingStart:     "09:00",
			TradingEnd:       "17:00",
			LossBreak:        "1h",
			DayStartHour:     6,
			Timezone:         "Local",
			PollInterval:     "2s",
			GuardInterval:    "500ms",
		},
		Terminal: TerminalConfig{
			ExePath:        `C:\Program Files\LiteFinance MT5 Terminal\terminal64.exe`,
			ProcessName:    "terminal64.exe",
			CommandTimeout: "10s",
		},
		News: NewsConfig{
			Enabled:         false,
			URL:             "https://www.jblanked.com/news/api/mql5/calendar/today/",
			Currency:        "USD",
			BufferMinutes:   30,
			CachePath:       "./news_cache.json",
			RefreshInterval: "1h",
		},
		Storage: StorageConfig{
			SessionFile: "./session.json",
			DBPath:      "./tradingguard.db",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "./logs",
		},
	}
}
