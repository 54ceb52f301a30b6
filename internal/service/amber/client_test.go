package amber

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"AmberPull/internal/domain/models"
	"AmberPull/internal/service/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRateLimitHeaders(w http.ResponseWriter, remaining, reset string) {
	w.Header().Set("RateLimit-Policy", "50;w=300")
	w.Header().Set("RateLimit-Limit", "50")
	w.Header().Set("RateLimit-Remaining", remaining)
	w.Header().Set("RateLimit-Reset", reset)
}

func TestClientFetchCurrentPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sites/site-1/prices/current", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "12", r.URL.Query().Get("next"))
		assert.Equal(t, "0", r.URL.Query().Get("previous"))
		assert.Equal(t, "5", r.URL.Query().Get("resolution"))
		setRateLimitHeaders(w, "41", "200")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(intervalsJSON))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second, nil, WithPricingMode(models.PricingModeAEMO))
	res, err := c.FetchCurrentPrices(context.Background(), "site-1", 12, 5)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.Status)
	require.True(t, res.HasRateLimit)
	assert.Equal(t, 41, res.RateLimit.Remaining)
	assert.Equal(t, 50, res.RateLimit.Limit)
	assert.NotNil(t, res.Snapshot.Forecasts)
	assert.Equal(t, 0.24, *res.Snapshot.Current[models.ChannelGeneral].PerKWh)

	info, ok := c.RateLimitInfo()
	require.True(t, ok)
	assert.Equal(t, 200, info.ResetSeconds)
}

func TestClientRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		setRateLimitHeaders(w, "0", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	now := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	limiter := ratelimit.New(ratelimit.WithClock(clock))
	c := NewClient(srv.URL, "secret", time.Second, limiter, WithClientClock(clock))

	_, err := c.FetchCurrentPrices(context.Background(), "site-1", 0, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	var rl *RateLimitedError
	require.True(t, errors.As(err, &rl))
	require.NotNil(t, rl.ResetSeconds)
	assert.Equal(t, 30, *rl.ResetSeconds)
	assert.Equal(t, 32*time.Second, limiter.CurrentBackoff())
	assert.Equal(t, http.StatusTooManyRequests, c.LastStatus())

	// While backing off no request leaves the client.
	_, err = c.FetchCurrentPrices(context.Background(), "site-1", 0, 5)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientRateLimitedWithoutHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	limiter := ratelimit.New()
	c := NewClient(srv.URL, "secret", time.Second, limiter)
	_, err := c.FetchCurrentPrices(context.Background(), "site-1", 0, 5)
	var rl *RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Nil(t, rl.ResetSeconds)
	assert.Equal(t, ratelimit.DefaultInitialBackoff, limiter.CurrentBackoff())
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second, nil)
	_, err := c.FetchCurrentPrices(context.Background(), "site-1", 0, 5)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "boom", apiErr.Message)
	assert.False(t, errors.Is(err, ErrRateLimited))
}

func TestClientSuccessClearsBackoff(t *testing.T) {
	var limited atomic.Bool
	limited.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limited.Load() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	now := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(ratelimit.WithClock(func() time.Time { return now }))
	c := NewClient(srv.URL, "secret", time.Second, limiter)

	_, err := c.FetchCurrentPrices(context.Background(), "site-1", 0, 5)
	require.Error(t, err)

	now = now.Add(11 * time.Second)
	limited.Store(false)
	res, err := c.FetchCurrentPrices(context.Background(), "site-1", 0, 5)
	require.NoError(t, err)
	assert.False(t, res.HasRateLimit)
	assert.Empty(t, res.Snapshot.Current)
	assert.Equal(t, time.Duration(0), limiter.CurrentBackoff())
}

func TestClientFetchSites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sites", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"site-1","nmi":"Q123","status":"active","intervalLength":5,
			"channels":[{"identifier":"E1","type":"general","tariff":"A100"}]}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second, nil)
	sites, err := c.FetchSites(context.Background())
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "site-1", sites[0].ID)
	assert.Equal(t, 5, sites[0].IntervalLength)
	require.Len(t, sites[0].Channels, 1)
	assert.Equal(t, "general", sites[0].Channels[0].Type)
}
