package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/javadderoom/TradingGuard/news"
	"github.com/javadderoom/TradingGuard/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the trading session",
	Long: `Inspect and drive the session lifecycle.

Subcommands:
  status   - Show the current session state and enforcement phase
  analyze  - Start the mandatory pre-session analysis timer
  start    - Start a trading session (analysis must be complete)
  end      - End the session and record the day's outcome
  bias     - Declare a directional bias (clears a bias expiry)
  news     - Show today's high-impact calendar events
  reset    - Reset the session file to defaults`,
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session state",
	Args:  cobra.NoArgs,
	RunE:  runSessionStatus,
}

var sessionAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Start the pre-session analysis timer",
	Args:  cobra.NoArgs,
	RunE:  runSessionAnalyze,
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a trading session",
	Args:  cobra.NoArgs,
	RunE:  runSessionStart,
}

var sessionEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End the session and record the day",
	Args:  cobra.NoArgs,
	RunE:  runSessionEnd,
}

var sessionBiasCmd = &cobra.Command{
	Use:   "bias <neutral|bullish|bearish>",
	Short: "Declare a directional bias",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionBias,
}

var sessionNewsCmd = &cobra.Command{
	Use:   "news",
	Short: "Show today's high-impact calendar events",
	Args:  cobra.NoArgs,
	RunE:  runSessionNews,
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the session file to defaults",
	Args:  cobra.NoArgs,
	RunE:  runSessionReset,
}

var (
	biasInvalidation float64
	newsLockOn       bool
	newsLockOff      bool
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionStatusCmd)
	sessionCmd.AddCommand(sessionAnalyzeCmd)
	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionEndCmd)
	sessionCmd.AddCommand(sessionBiasCmd)
	sessionCmd.AddCommand(sessionNewsCmd)
	sessionCmd.AddCommand(sessionResetCmd)

	sessionBiasCmd.Flags().Float64VarP(&biasInvalidation, "invalidation", "i", 0, "invalidation price for the bias")
	sessionNewsCmd.Flags().BoolVar(&newsLockOn, "lock", false, "manually raise the news lock")
	sessionNewsCmd.Flags().BoolVar(&newsLockOff, "unlock", false, "manually clear the news lock")
	sessionNewsCmd.MarkFlagsMutuallyExclusive("lock", "unlock")
}

func runSessionStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	engine, store, db, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	st, err := store.Read()
	if err != nil {
		return err
	}

	fmt.Printf("Day:               %s\n", engine.Day())
	fmt.Printf("Phase:             %s\n", engine.Phase())
	fmt.Printf("Session active:    %v\n", st.SessionActive)
	fmt.Printf("Trading allowed:   %v\n", st.TradingAllowed)
	fmt.Printf("Bias:              %s", st.Bias)
	if st.Bias != session.BiasNeutral {
		if at, ok := st.BiasSetAtTime(); ok {
			fmt.Printf(" (set %s, invalidation %.5f)", at.Format("15:04"), st.InvalidationPrice)
		}
	}
	fmt.Println()
	fmt.Printf("Bias expired:      %v\n", st.BiasExpired)
	fmt.Printf("Net P&L:           %+.2f USD (profit %.2f, loss %.2f)\n",
		st.NetPnL(), st.DailyProfitUSD, st.DailyLossUSD)
	fmt.Printf("Trades today:      %d/%d\n", st.TradesToday, cfg.Risk.MaxTradesPerDay)
	fmt.Printf("Consecutive loss:  %d/%d\n", st.ConsecutiveLosses, cfg.Risk.MaxConsecutiveLosses)
	fmt.Printf("News lock:         %v\n", st.NewsLock)
	if st.BreakActive {
		if until, ok := st.BreakUntilTime(); ok {
			fmt.Printf("Break until:       %s\n", until.Format("15:04:05"))
		} else {
			fmt.Println("Break active")
		}
	}
	if until, ok := st.CooldownUntilTime(); ok && until.After(time.Now()) {
		fmt.Printf("Cooldown until:    %s\n", until.Format("15:04:05"))
	}
	if st.ShutdownSignal {
		fmt.Println("Shutdown signal:   raised")
	}
	return nil
}

func runSessionAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	engine, _, db, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := engine.BeginAnalysis(); err != nil {
		return err
	}
	fmt.Printf("Analysis period started (%s). Chart review only; the terminal stays blocked.\n",
		cfg.Session.AnalysisDuration)
	return nil
}

func runSessionStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	engine, _, db, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := engine.StartSession(); err != nil {
		return err
	}
	fmt.Println("Session started. Good trading.")
	return nil
}

func runSessionEnd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	engine, store, db, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := engine.EndSession(); err != nil {
		return err
	}
	st, err := store.Read()
	if err != nil {
		return err
	}
	fmt.Printf("Session ended. Net P&L %+.2f USD over %d trades.\n", st.NetPnL(), st.TradesToday)
	return nil
}

func runSessionBias(cmd *cobra.Command, args []string) error {
	bias := args[0]
	switch bias {
	case session.BiasNeutral, session.BiasBullish, session.BiasBearish:
	default:
		return fmt.Errorf("bias must be neutral, bullish, or bearish")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := session.NewStore(cfg.Storage.SessionFile)

	now := time.Now()
	st, err := store.Update(func(s *session.State) {
		s.Bias = bias
		s.LossesSinceBias = 0
		if bias == session.BiasNeutral {
			s.BiasSetAt = ""
			s.InvalidationPrice = 0
		} else {
			s.BiasSetAt = session.FormatTimestamp(now)
			s.InvalidationPrice = biasInvalidation
		}
		if s.BiasExpired {
			s.BiasExpired = false
			if s.SessionActive {
				s.TradingAllowed = true
			}
		}
	})
	if err != nil {
		return err
	}

	if bias == session.BiasNeutral {
		fmt.Println("Bias cleared to neutral.")
	} else {
		fmt.Printf("Bias set to %s (invalidation %.5f).\n", st.Bias, st.InvalidationPrice)
	}
	return nil
}

func runSessionNews(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if newsLockOn || newsLockOff {
		store := session.NewStore(cfg.Storage.SessionFile)
		st, err := store.Update(func(s *session.State) {
			s.NewsLock = newsLockOn
		})
		if err != nil {
			return err
		}
		fmt.Printf("News lock set to %v.\n", st.NewsLock)
		return nil
	}

	if cfg.News.APIKey == "" {
		return fmt.Errorf("news.api_key is not configured")
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	feed := news.NewService(
		cfg.News.URL, cfg.News.APIKey, cfg.News.Currency,
		cfg.News.OffsetMinutes, cfg.News.CachePath, log,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	events, err := feed.TodayEvents(ctx)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Printf("No high-impact %s events today.\n", cfg.News.Currency)
		return nil
	}

	now := time.Now()
	buffer := time.Duration(cfg.News.BufferMinutes) * time.Minute
	for _, e := range events {
		marker := " "
		if !now.Before(e.Time.Add(-buffer)) && !now.After(e.Time.Add(buffer)) {
			marker = "*"
		}
		fmt.Printf("%s %s  %-4s %s\n", marker, e.Time.Format("15:04"), e.Currency, e.Name)
	}
	if news.Active(events, now, buffer) {
		fmt.Println("\nNews lock ACTIVE.")
	} else if next, ok := news.Next(events, now); ok {
		fmt.Printf("\nNext event %s at %s.\n", next.Name, next.Time.Format("15:04"))
	}
	return nil
}

func runSessionReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := session.NewStore(cfg.Storage.SessionFile)
	if _, err := store.Reset(); err != nil {
		return err
	}
	fmt.Println("Session file reset to defaults.")
	return nil
}
