package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"AmberPull/internal/domain/models"
	"AmberPull/internal/services/polling"
	"AmberPull/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePoller struct {
	status usecase.PollerStatus
	obs    []models.Observation
}

func (f *fakePoller) Status() usecase.PollerStatus { return f.status }

func (f *fakePoller) Observations(limit int) []models.Observation {
	if limit > 0 && len(f.obs) > limit {
		return f.obs[len(f.obs)-limit:]
	}
	return f.obs
}

type connected bool

func (c connected) IsConnected() bool { return bool(c) }

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, p *fakePoller, m *usecase.PriceMerger, opts ...HandlerOption) *echo.Echo {
	t.Helper()
	e := echo.New()
	NewPollingEchoHandler(nil, p, m, opts...).RegisterRoutes(e)
	return e
}

func get(t *testing.T, e *echo.Echo, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func f64(v float64) *float64 { return &v }

func TestPollingStats(t *testing.T) {
	p := &fakePoller{status: usecase.PollerStatus{
		Interval:      polling.IntervalState{State: polling.StateHasEstimate},
		Scheduler:     polling.Stats{K: 4, ScheduledPolls: []float64{21, 27, 33, 39}, ObservationCount: 100},
		NextPollDelay: 11 * time.Second,
		RateLimit:     &models.RateLimitInfo{Limit: 50, Remaining: 40},
	}}
	e := newTestServer(t, p, usecase.NewPriceMerger())

	rec, env := get(t, e, "/api/polling/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, env.Status)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "has_estimate", got["state"])
	assert.Equal(t, 4.0, got["polls_per_interval"])
	assert.Equal(t, 100.0, got["observation_count"])
	assert.Equal(t, 11.0, got["next_poll_in_seconds"])
	assert.Len(t, got["scheduled_polls"], 4)
	assert.NotNil(t, got["rate_limit"])
}

func TestPollingState(t *testing.T) {
	p := &fakePoller{status: usecase.PollerStatus{
		Interval: polling.IntervalState{State: polling.StateConfirmed, PollCount: 3, HasConfirmed: true},
		Limiter:  usecase.LimiterStatus{Limited: true, RemainingSeconds: 4},
	}}
	e := newTestServer(t, p, usecase.NewPriceMerger())

	_, env := get(t, e, "/api/polling/state")
	var got usecase.PollerStatus
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, polling.StateConfirmed, got.Interval.State)
	assert.Equal(t, 3, got.Interval.PollCount)
	assert.True(t, got.Limiter.Limited)
}

func TestObservations(t *testing.T) {
	obs := make([]models.Observation, 30)
	for i := range obs {
		obs[i] = models.Observation{Start: float64(i), End: float64(i + 10), Weight: 1}
	}
	e := newTestServer(t, &fakePoller{obs: obs}, usecase.NewPriceMerger())

	type list struct {
		Rows  []models.Observation `json:"rows"`
		Total int64                `json:"total"`
	}

	_, env := get(t, e, "/api/observations")
	var got list
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Len(t, got.Rows, 20)
	assert.Equal(t, int64(30), got.Total)
	assert.Equal(t, 29.0, got.Rows[19].Start)

	_, env = get(t, e, "/api/observations?limit=5")
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Len(t, got.Rows, 5)
	assert.Equal(t, 25.0, got.Rows[0].Start)

	_, env = get(t, e, "/api/observations?limit=500")
	assert.Equal(t, http.StatusBadRequest, env.Status)
	assert.Contains(t, string(env.Data), "ERR_LTE")
}

func TestCurrentPrice(t *testing.T) {
	m := usecase.NewPriceMerger()
	m.UpdatePolling(models.PriceSnapshot{
		Current: map[string]models.ChannelPrice{
			models.ChannelGeneral: {PerKWh: f64(0.25), Estimate: true},
		},
		Forecasts: map[string][]models.ChannelPrice{
			models.ChannelGeneral: {{PerKWh: f64(0.3)}},
		},
		FetchedAt: time.Date(2025, 1, 6, 10, 5, 0, 0, time.UTC),
	})
	e := newTestServer(t, &fakePoller{}, m)

	rec, env := get(t, e, "/api/prices/current?channel=general&forecasts=true")
	assert.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))
	var got CurrentPriceResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, models.SourcePolling, got.Source)
	assert.Equal(t, 0.25, *got.Current[models.ChannelGeneral].PerKWh)
	assert.Len(t, got.Forecasts[models.ChannelGeneral], 1)
	require.NotNil(t, got.PollingAt)
	assert.Nil(t, got.StreamAt)

	_, env = get(t, e, "/api/prices/current")
	got = CurrentPriceResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Empty(t, got.Forecasts)

	_, env = get(t, e, "/api/prices/current?channel=feed_in")
	assert.Equal(t, http.StatusNotFound, env.Status)

	_, env = get(t, e, "/api/prices/current?channel=gas")
	assert.Equal(t, http.StatusBadRequest, env.Status)
}

func TestHealth(t *testing.T) {
	p := &fakePoller{status: usecase.PollerStatus{LastError: "upstream 502"}}
	e := newTestServer(t, p, usecase.NewPriceMerger(),
		WithStreamStatus(connected(true)),
		WithHealthCheck("cache", func(context.Context) error { return nil }))

	rec, env := get(t, e, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	var got HealthResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "ok", got.Status)
	assert.False(t, got.HasData)
	require.NotNil(t, got.StreamConnected)
	assert.True(t, *got.StreamConnected)
	assert.Equal(t, "upstream 502", got.LastError)
	assert.Equal(t, map[string]string{"cache": "ok"}, got.Checks)

	e = newTestServer(t, p, usecase.NewPriceMerger(),
		WithHealthCheck("clickhouse", func(context.Context) error { return errors.New("dial tcp: refused") }))
	rec, env = get(t, e, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.Status)
	got = HealthResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "degraded", got.Status)
	assert.Equal(t, "dial tcp: refused", got.Checks["clickhouse"])
}
