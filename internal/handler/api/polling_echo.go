package api

import (
	"context"
	"net/http"
	"time"

	"AmberPull/internal/domain/models"
	"AmberPull/internal/services/polling"
	"AmberPull/internal/usecase"
	xhttp "AmberPull/pkg/http"
	xlogger "AmberPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

// PollingReader is the read side of the poll loop.
type PollingReader interface {
	Status() usecase.PollerStatus
	Observations(limit int) []models.Observation
}

// ConnectionStatus reports whether the push stream is live.
type ConnectionStatus interface {
	IsConnected() bool
}

// HealthCheck checks one infrastructure dependency.
type HealthCheck func(ctx context.Context) error

type namedCheck struct {
	name string
	fn   HealthCheck
}

// StatsResponse is the scheduler view served at /api/polling/stats.
type StatsResponse struct {
	polling.Stats
	State             polling.State         `json:"state"`
	NextPollInSeconds float64               `json:"next_poll_in_seconds"`
	RateLimit         *models.RateLimitInfo `json:"rate_limit,omitempty"`
}

// CurrentPriceResponse is the merged price view.
type CurrentPriceResponse struct {
	Source      string                           `json:"source"`
	Current     map[string]models.ChannelPrice   `json:"current"`
	Forecasts   map[string][]models.ChannelPrice `json:"forecasts,omitempty"`
	PollingAt   *time.Time                       `json:"polling_at,omitempty"`
	StreamAt    *time.Time                       `json:"stream_at,omitempty"`
	ForecastsAt *time.Time                       `json:"forecasts_at,omitempty"`
}

// HealthResponse summarises liveness of the loop and its dependencies.
type HealthResponse struct {
	Status          string            `json:"status"`
	HasData         bool              `json:"has_data"`
	RateLimited     bool              `json:"rate_limited"`
	StreamConnected *bool             `json:"stream_connected,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
	Checks          map[string]string `json:"checks,omitempty"`
}

// PollingEchoHandler serves the diagnostics API.
type PollingEchoHandler struct {
	logger  *xlogger.Logger
	poller  PollingReader
	merger  *usecase.PriceMerger
	stream  ConnectionStatus
	checks  []namedCheck
	timeout time.Duration
}

type HandlerOption func(*PollingEchoHandler)

// WithStreamStatus reports the push stream in /health.
func WithStreamStatus(s ConnectionStatus) HandlerOption {
	return func(h *PollingEchoHandler) { h.stream = s }
}

// WithHealthCheck adds a dependency check to /health.
func WithHealthCheck(name string, fn HealthCheck) HandlerOption {
	return func(h *PollingEchoHandler) {
		if fn != nil {
			h.checks = append(h.checks, namedCheck{name: name, fn: fn})
		}
	}
}

func NewPollingEchoHandler(logger *xlogger.Logger, poller PollingReader, merger *usecase.PriceMerger, opts ...HandlerOption) *PollingEchoHandler {
	h := &PollingEchoHandler{
		logger:  xlogger.OrNop(logger).With("api"),
		poller:  poller,
		merger:  merger,
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *PollingEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/polling/stats", h.Stats)
	g.GET("/polling/state", h.State)
	g.GET("/prices/current", h.CurrentPrice)
	g.GET("/observations", h.Observations)
	e.GET("/health", h.Health)
}

func (h *PollingEchoHandler) Stats(c echo.Context) error {
	st := h.poller.Status()
	return xhttp.SuccessResponse(c, StatsResponse{
		Stats:             st.Scheduler,
		State:             st.Interval.State,
		NextPollInSeconds: st.NextPollDelay.Seconds(),
		RateLimit:         st.RateLimit,
	})
}

func (h *PollingEchoHandler) State(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.poller.Status())
}

func (h *PollingEchoHandler) CurrentPrice(c echo.Context) error {
	req := &models.CurrentPriceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	snap := h.merger.Current()
	res := CurrentPriceResponse{
		Source:      snap.Source,
		Current:     snap.Current,
		PollingAt:   timePtr(snap.PollingAt),
		StreamAt:    timePtr(snap.StreamAt),
		ForecastsAt: timePtr(snap.ForecastsAt),
	}
	if req.Forecasts {
		res.Forecasts = snap.Forecasts
	}

	if req.Channel != "" {
		cur, fc, ok := snap.Channel(req.Channel)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no price for channel %s", req.Channel))
		}
		res.Current = map[string]models.ChannelPrice{req.Channel: cur}
		if req.Forecasts {
			res.Forecasts = map[string][]models.ChannelPrice{req.Channel: fc}
		}
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, res)
}

func (h *PollingEchoHandler) Observations(c echo.Context) error {
	req := &models.ObservationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	all := h.poller.Observations(0)
	rows := all
	if len(rows) > req.Limit {
		rows = rows[len(rows)-req.Limit:]
	}
	return xhttp.ListResponse(c, rows, int64(len(all)))
}

func (h *PollingEchoHandler) Health(c echo.Context) error {
	st := h.poller.Status()
	res := HealthResponse{
		Status:      "ok",
		HasData:     h.merger.HasData(),
		RateLimited: st.Limiter.Limited,
		LastError:   st.LastError,
	}
	if h.stream != nil {
		connected := h.stream.IsConnected()
		res.StreamConnected = &connected
	}

	code := http.StatusOK
	if len(h.checks) > 0 {
		ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
		defer cancel()
		res.Checks = make(map[string]string, len(h.checks))
		for _, chk := range h.checks {
			if err := chk.fn(ctx); err != nil {
				h.logger.Warn("health check failed", xlogger.String("check", chk.name), xlogger.Error(err))
				res.Checks[chk.name] = err.Error()
				res.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			res.Checks[chk.name] = "ok"
		}
	}
	return xhttp.StatusResponse(c, code, res)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
