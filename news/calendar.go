// Package news supplies the high-impact economic-calendar events that drive
// the session's news blackout flag. The upstream API is rate-limited to a
// handful of calls per day, so results are cached on disk per session day.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Event is a single scheduled calendar event.
type Event struct {
	Time     time.Time `json:"time"`
	Currency string    `json:"currency"`
	Name     string    `json:"name"`
	Impact   string    `json:"impact"`
}

// apiItem mirrors the calendar API's response element.
type apiItem struct {
	Date     string `json:"Date"`
	Currency string `json:"Currency"`
	Name     string `json:"Name"`
	Impact   string `json:"Impact"`
}

const apiTimeLayout = "2006.01.02 15:04:05"

var httpClient = &http.Client{Timeout: 15 * time.Second}

// Service fetches and caches today's high-impact events for one currency.
type Service struct {
	baseURL   string
	apiKey    string
	currency  string
	offset    time.Duration // broker clock offset applied to event times
	cachePath string
	now       func() time.Time
	log       *zap.Logger
}

// NewService returns a calendar service. offsetMinutes shifts API event
// times onto the broker clock.
func NewService(baseURL, apiKey, currency string, offsetMinutes int, cachePath string, log *zap.Logger) *Service {
	return &Service{
		baseURL:   baseURL,
		apiKey:    apiKey,
		currency:  currency,
		offset:    time.Duration(offsetMinutes) * time.Minute,
		cachePath: cachePath,
		now:       time.Now,
		log:       log,
	}
}

// TodayEvents returns today's high-impact events for the configured
// currency, from cache when fresh, otherwise from the API.
func (s *Service) TodayEvents(ctx context.Context) ([]Event, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("news: no API key configured")
	}

	if events, ok := s.loadCache(); ok {
		return events, nil
	}

	events, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.saveCache(events)
	return events, nil
}

func (s *Service) fetch(ctx context.Context) ([]Event, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("news: parse url: %w", err)
	}
	q := u.Query()
	q.Set("currency", s.currency)
	q.Set("impact", "High")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Api-Key "+s.apiKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news: request calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("news: unauthorized; check the API key or account credits")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news: calendar returned status %d", resp.StatusCode)
	}

	var items []apiItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("news: decode calendar: %w", err)
	}

	var events []Event
	for _, item := range items {
		if !strings.Contains(strings.ToLower(item.Impact), "high") {
			continue
		}
		if !strings.Contains(strings.ToLower(item.Currency), strings.ToLower(s.currency)) {
			continue
		}
		t, err := time.ParseInLocation(apiTimeLayout, item.Date, time.Local)
		if err != nil {
			continue
		}
		events = append(events, Event{
			Time:     t.Add(s.offset),
			Currency: item.Currency,
			Name:     item.Name,
			Impact:   strings.ToLower(item.Impact),
		})
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Time.Before(events[j].Time) })
	s.log.Info("fetched calendar events",
		zap.Int("events", len(events)),
		zap.Duration("offset", s.offset))
	return events, nil
}

// Active reports whether any event is live at now: inside ± buffer of its
// scheduled time.
func Active(events []Event, now time.Time, buffer time.Duration) bool {
	for _, e := range events {
		if !now.Before(e.Time.Add(-buffer)) && !now.After(e.Time.Add(buffer)) {
			return true
		}
	}
	return false
}

// Next returns the earliest event strictly after now.
func Next(events []Event, now time.Time) (Event, bool) {
	var next Event
	found := false
	for _, e := range events {
		if !e.Time.After(now) {
			continue
		}
		if !found || e.Time.Before(next.Time) {
			next = e
			found = true
		}
	}
	return next, found
}

// --- disk cache ---

type cacheFile struct {
	Date          string  `json:"date"`
	OffsetMinutes int     `json:"offset_minutes"`
	Events        []Event `json:"events"`
}

// loadCache returns cached events when they are from today and were built
// with the current clock offset; a stale offset would carry shifted times.
func (s *Service) loadCache() ([]Event, bool) {
	if s.cachePath == "" {
		return nil, false
	}
	data, err := os.ReadFile(s.cachePath)
	if err != nil {
		return nil, false
	}

	var c cacheFile
	if err := json.Unmarshal(data, &c); err != nil {
		s.log.Warn("failed to parse news cache", zap.Error(err))
		return nil, false
	}
	if c.Date != s.now().Format("2006-01-02") {
		return nil, false
	}
	if time.Duration(c.OffsetMinutes)*time.Minute != s.offset {
		s.log.Info("news cache offset mismatch, refreshing",
			zap.Int("cached", c.OffsetMinutes))
		return nil, false
	}
	return c.Events, true
}

func (s *Service) saveCache(events []Event) {
	if s.cachePath == "" {
		return
	}
	c := cacheFile{
		Date:          s.now().Format("2006-01-02"),
		OffsetMinutes: int(s.offset / time.Minute),
		Events:        events,
	}
	data, err := json.Marshal(c)
	if err != nil {
		s.log.Warn("failed to encode news cache", zap.Error(err))
		return
	}
	if err := os.WriteFile(s.cachePath, data, 0o644); err != nil {
		s.log.Warn("failed to save news cache", zap.Error(err))
	}
}
