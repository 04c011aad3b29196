package news

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func eventAt(t time.Time) Event {
	return Event{Time: t, Currency: "USD", Name: "NFP", Impact: "high"}
}

func TestActiveWindow(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 2, 18, 12, 0, 0, 0, time.Local)
	events := []Event{eventAt(at)}
	buffer := 30 * time.Minute

	assert.False(t, Active(events, at.Add(-31*time.Minute), buffer))
	assert.True(t, Active(events, at.Add(-30*time.Minute), buffer))
	assert.True(t, Active(events, at, buffer))
	assert.True(t, Active(events, at.Add(30*time.Minute), buffer))
	assert.False(t, Active(events, at.Add(31*time.Minute), buffer))
	assert.False(t, Active(nil, at, buffer))
}

func TestNext(t *testing.T) {
	t.Parallel()

	morning := time.Date(2026, 2, 18, 9, 0, 0, 0, time.Local)
	noon := time.Date(2026, 2, 18, 12, 0, 0, 0, time.Local)
	events := []Event{eventAt(noon), eventAt(morning)}

	next, ok := Next(events, morning.Add(-time.Hour))
	require.True(t, ok)
	assert.True(t, next.Time.Equal(morning))

	next, ok = Next(events, morning)
	require.True(t, ok)
	assert.True(t, next.Time.Equal(noon), "strictly after now")

	_, ok = Next(events, noon)
	assert.False(t, ok)
}

func TestFetchFiltersAndShiftsEvents(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 2, 18, 14, 30, 0, 0, time.Local)
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		items := []apiItem{
			{Date: day.Format(apiTimeLayout), Currency: "USD", Name: "CPI", Impact: "High"},
			{Date: day.Add(time.Hour).Format(apiTimeLayout), Currency: "USD", Name: "Retail Sales", Impact: "Medium"},
			{Date: day.Format(apiTimeLayout), Currency: "EUR", Name: "ECB Rate", Impact: "High"},
			{Date: "not a date", Currency: "USD", Name: "Broken", Impact: "High"},
		}
		_ = json.NewEncoder(w).Encode(items)
	}))
	t.Cleanup(srv.Close)

	s := NewService(srv.URL, "k123", "USD", 90, "", zap.NewNop())
	events, err := s.TodayEvents(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Api-Key k123", gotAuth)
	require.Len(t, events, 1)
	assert.Equal(t, "CPI", events[0].Name)
	assert.True(t, events[0].Time.Equal(day.Add(90*time.Minute)), "broker clock offset applied")
}

func TestTodayEventsRequiresAPIKey(t *testing.T) {
	t.Parallel()

	s := NewService("http://127.0.0.1:1", "", "USD", 0, "", zap.NewNop())
	_, err := s.TodayEvents(context.Background())
	assert.Error(t, err)
}

func TestFetchUnauthorized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	s := NewService(srv.URL, "bad", "USD", 0, "", zap.NewNop())
	_, err := s.TodayEvents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestCacheAvoidsRefetch(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 2, 18, 14, 30, 0, 0, time.Local)
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		items := []apiItem{{Date: day.Format(apiTimeLayout), Currency: "USD", Name: "CPI", Impact: "High"}}
		_ = json.NewEncoder(w).Encode(items)
	}))
	t.Cleanup(srv.Close)

	cache := filepath.Join(t.TempDir(), "news_cache.json")
	s := NewService(srv.URL, "k", "USD", 0, cache, zap.NewNop())
	s.now = func() time.Time { return day }

	events, err := s.TodayEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, 1, calls)

	events, err = s.TodayEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, calls, "second read served from cache")

	// A changed clock offset invalidates the cache.
	s2 := NewService(srv.URL, "k", "USD", 60, cache, zap.NewNop())
	s2.now = func() time.Time { return day }
	_, err = s2.TodayEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCacheExpiresNextDay(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 2, 18, 14, 30, 0, 0, time.Local)
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode([]apiItem{})
	}))
	t.Cleanup(srv.Close)

	cache := filepath.Join(t.TempDir(), "news_cache.json")
	s := NewService(srv.URL, "k", "USD", 0, cache, zap.NewNop())
	s.now = func() time.Time { return day }

	_, err := s.TodayEvents(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	s.now = func() time.Time { return day.Add(24 * time.Hour) }
	_, err = s.TodayEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "yesterday's cache is stale")
}

func TestCorruptCacheFallsBackToFetch(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode([]apiItem{})
	}))
	t.Cleanup(srv.Close)

	cache := filepath.Join(t.TempDir(), "news_cache.json")
	require.NoError(t, os.WriteFile(cache, []byte("{not json"), 0o644))

	s := NewService(srv.URL, "k", "USD", 0, cache, zap.NewNop())
	_, err := s.TodayEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
