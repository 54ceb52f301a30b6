package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"AmberPull/internal/domain/models"
	drepo "AmberPull/internal/domain/repository"
	"AmberPull/internal/service/ratelimit"
	"AmberPull/internal/services/polling"
	applogger "AmberPull/pkg/logger"
	"AmberPull/pkg/metrics"
)

const (
	PollKindInterval     = "interval"
	PollKindConfirmatory = "confirmatory"
	PollKindForecast     = "forecast"
)

// PollerConfig holds poll loop settings.
type PollerConfig struct {
	SiteID            string
	Resolution        int
	ForecastIntervals int
	Tick              time.Duration
	RequestTimeout    time.Duration
	SaveTimeout       time.Duration
	// WaitForConfirmed hides estimates from the merged view.
	WaitForConfirmed bool
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Resolution <= 0 {
		c.Resolution = int(drepo.DefaultResolution())
	}
	if c.ForecastIntervals < 0 {
		c.ForecastIntervals = 0
	}
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 5 * time.Second
	}
	return c
}

// LimiterStatus describes the backoff state for diagnostics.
type LimiterStatus struct {
	Limited          bool          `json:"limited"`
	RemainingSeconds float64       `json:"remaining_seconds"`
	Backoff          time.Duration `json:"backoff_ns"`
	Until            time.Time     `json:"until,omitempty"`
}

// PollerStatus is a consistent copy of the core state taken under one lock.
type PollerStatus struct {
	Interval      polling.IntervalState `json:"interval"`
	Scheduler     polling.Stats         `json:"scheduler"`
	NextPollDelay time.Duration         `json:"next_poll_delay_ns"`
	RateLimit     *models.RateLimitInfo `json:"rate_limit,omitempty"`
	Limiter       LimiterStatus         `json:"limiter"`
	LastError     string                `json:"last_error,omitempty"`
	LastPollAt    time.Time             `json:"last_poll_at,omitempty"`
}

// PricePoller drives the orchestrator from a ticker and performs the I/O it
// asks for. The orchestrator is guarded by one mutex that is never held
// across a request, so diagnostics readers never wait on the network.
type PricePoller struct {
	cfg     PollerConfig
	api     drepo.PriceAPI
	limiter *ratelimit.Limiter
	merger  *PriceMerger
	store   drepo.ObservationStore
	sink    drepo.PriceSink
	metrics drepo.Metrics
	l       *applogger.Logger
	now     func() time.Time

	mu          sync.Mutex
	orch        *polling.Orchestrator
	lastInfo    *models.RateLimitInfo
	lastErr     error
	lastPollAt  time.Time
	missedFirst time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type PollerOption func(*PricePoller)

func WithPollerLogger(l *applogger.Logger) PollerOption {
	return func(p *PricePoller) { p.l = l }
}

func WithPollerClock(now func() time.Time) PollerOption {
	return func(p *PricePoller) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPricePoller wires the loop. store, sink and metrics may be nil.
func NewPricePoller(
	cfg PollerConfig,
	orch *polling.Orchestrator,
	api drepo.PriceAPI,
	limiter *ratelimit.Limiter,
	merger *PriceMerger,
	store drepo.ObservationStore,
	sink drepo.PriceSink,
	m drepo.Metrics,
	opts ...PollerOption,
) *PricePoller {
	if m == nil {
		m = metrics.Nop{}
	}
	p := &PricePoller{
		cfg:     cfg.withDefaults(),
		orch:    orch,
		api:     api,
		limiter: limiter,
		merger:  merger,
		store:   store,
		sink:    sink,
		metrics: m,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.l = applogger.OrNop(p.l).With("price_poller")
	if p.limiter == nil {
		p.limiter = ratelimit.New(ratelimit.WithLogger(p.l))
	}
	if p.merger == nil {
		p.merger = NewPriceMerger()
	}
	return p
}

// Restore replaces the scheduler's window with the persisted one.
func (p *PricePoller) Restore(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	obs, err := p.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore observations: %w", err)
	}
	p.mu.Lock()
	p.orch.Scheduler().ReplaceObservations(obs)
	n := len(p.orch.Scheduler().Observations())
	p.mu.Unlock()

	p.metrics.RecordObservations(n)
	p.l.Info("observations restored", applogger.Int("count", n))
	return nil
}

// Start restores state and begins the polling loop.
func (p *PricePoller) Start(ctx context.Context) error {
	if err := p.Restore(ctx); err != nil {
		p.l.Warn("using cold start observations", applogger.Error(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(runCtx)

	p.l.Info("price poller started",
		applogger.String("site_id", p.cfg.SiteID),
		applogger.Int("resolution", p.cfg.Resolution),
		applogger.Duration("tick_ms", p.cfg.Tick))
	return nil
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (p *PricePoller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.l.Info("price poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PricePoller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Tick)
	defer ticker.Stop()

	p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one scheduling decision and, when due, one poll.
func (p *PricePoller) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	due := p.orch.ShouldPoll(p.merger.HasData(), p.limiter)
	st := p.orch.IntervalState()
	if !due && p.missedFirst.Equal(st.IntervalStart) && st.PollCount == 0 {
		// The interval's opening poll was skipped during backoff.
		due = true
	}
	p.mu.Unlock()
	if !due {
		return
	}

	if p.limiter.IsLimited() {
		if st.PollCount == 0 {
			p.mu.Lock()
			p.missedFirst = st.IntervalStart
			p.mu.Unlock()
		}
		p.l.Debug("poll due but rate limit backoff active",
			applogger.Float64("remaining_s", p.limiter.RemainingSeconds()))
		return
	}

	if st.State == polling.StateForecastsPending {
		p.retryForecasts(ctx)
		return
	}
	p.poll(ctx)
}

func (p *PricePoller) poll(ctx context.Context) {
	p.mu.Lock()
	p.orch.OnPollStarted()
	st := p.orch.IntervalState()
	p.missedFirst = time.Time{}
	p.lastPollAt = p.now()
	p.mu.Unlock()

	first := st.PollCount == 1
	kind := PollKindConfirmatory
	next := 0
	if first {
		kind = PollKindInterval
		next = p.cfg.ForecastIntervals
	}
	p.metrics.RecordPoll(kind)
	p.l.Debug("polling",
		applogger.String("kind", kind),
		applogger.Int("poll", st.PollCount),
		applogger.Float64("elapsed_s", st.Elapsed))

	fetch, err := p.fetch(ctx, next)
	if err != nil {
		return
	}

	general, ok := fetch.Snapshot.General()
	if !ok {
		p.l.Debug("poll returned no general channel", applogger.Int("poll", st.PollCount))
		p.merger.UpdatePolling(fetch.Snapshot)
		return
	}

	if general.Estimate {
		p.mu.Lock()
		p.orch.OnEstimateReceived()
		p.mu.Unlock()
		if !p.cfg.WaitForConfirmed {
			p.merger.UpdatePolling(fetch.Snapshot)
		}
		p.recordPrices(fetch.Snapshot)
		return
	}

	p.mu.Lock()
	wasConfirmed := p.orch.IntervalState().HasConfirmed
	obs, recorded := p.orch.OnConfirmedReceived()
	confirmedAt := p.orch.IntervalState()
	var window []models.Observation
	if recorded {
		window = p.orch.Scheduler().Observations()
	}
	p.mu.Unlock()

	p.merger.UpdatePolling(fetch.Snapshot)
	p.recordPrices(fetch.Snapshot)
	if wasConfirmed {
		return
	}

	p.l.Info("confirmed price received",
		applogger.Float64("elapsed_s", confirmedAt.Elapsed),
		applogger.Int("polls", confirmedAt.PollCount),
		applogger.Bool("observation_recorded", recorded))
	p.metrics.RecordConfirmation(confirmedAt.Elapsed)

	if next == 0 && p.cfg.ForecastIntervals > 0 {
		p.fetchForecasts(ctx)
	}
	if recorded {
		p.persist(ctx, obs, window)
	}
	p.emitConfirmed(ctx, fetch.Snapshot, confirmedAt)
}

// fetchForecasts follows a confirmation with a forecast request; on failure
// the orchestrator is told to retry on later ticks.
func (p *PricePoller) fetchForecasts(ctx context.Context) {
	if p.limiter.IsLimited() {
		p.mu.Lock()
		p.orch.SetForecastsPending()
		p.mu.Unlock()
		return
	}
	p.metrics.RecordPoll(PollKindForecast)
	fetch, err := p.fetch(ctx, p.cfg.ForecastIntervals)
	if err != nil {
		p.mu.Lock()
		p.orch.SetForecastsPending()
		p.mu.Unlock()
		p.l.Warn("forecast fetch failed, will retry", applogger.Error(err))
		return
	}
	p.merger.UpdatePolling(fetch.Snapshot)
}

func (p *PricePoller) retryForecasts(ctx context.Context) {
	p.metrics.RecordPoll(PollKindForecast)
	fetch, err := p.fetch(ctx, p.cfg.ForecastIntervals)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.orch.ClearForecastsPending()
	p.mu.Unlock()
	p.merger.UpdatePolling(fetch.Snapshot)
	p.l.Info("forecasts fetched on retry")
}

// fetch performs one request and folds its quota headers into the budget.
func (p *PricePoller) fetch(ctx context.Context, next int) (*models.PriceFetch, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	fetch, err := p.api.FetchCurrentPrices(reqCtx, p.cfg.SiteID, next, p.cfg.Resolution)
	p.metrics.RecordLatency("fetch_prices", time.Since(start).Seconds())

	p.mu.Lock()
	p.lastErr = err
	if err == nil && fetch.HasRateLimit {
		info := fetch.RateLimit
		p.lastInfo = &info
		p.orch.UpdateBudget(info)
	}
	stats := p.orch.Stats()
	p.mu.Unlock()

	if err != nil {
		p.handleError(err)
		return nil, err
	}
	p.metrics.RecordBudget(stats.K)
	p.metrics.RecordSchedule(len(stats.ScheduledPolls) - stats.Cursor)
	return fetch, nil
}

func (p *PricePoller) handleError(err error) {
	switch {
	case errors.Is(err, drepo.ErrRateLimited):
		p.metrics.RecordRateLimited()
		p.l.Warn("rate limited", applogger.Error(err))
	case errors.Is(err, context.Canceled):
	default:
		p.metrics.RecordError("fetch")
		p.l.Warn("price fetch failed", applogger.Error(err))
	}
}

func (p *PricePoller) persist(ctx context.Context, obs models.Observation, window []models.Observation) {
	p.metrics.RecordObservations(len(window))
	if p.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.SaveTimeout)
	defer cancel()
	if err := p.store.Save(saveCtx, window); err != nil {
		p.metrics.RecordError("persist")
		p.l.Error("failed to persist observations", applogger.Error(err))
		return
	}
	p.l.Debug("observation persisted",
		applogger.Float64("start", obs.Start),
		applogger.Float64("end", obs.End),
		applogger.Int("window", len(window)))
}

func (p *PricePoller) emitConfirmed(ctx context.Context, snap models.PriceSnapshot, st polling.IntervalState) {
	if p.sink == nil {
		return
	}
	out := make([]models.ConfirmedPrice, 0, len(snap.Current))
	for channel, cp := range snap.Current {
		if cp.Estimate || cp.PerKWh == nil {
			continue
		}
		start := cp.StartTime
		if start.IsZero() {
			start = st.IntervalStart
		}
		out = append(out, models.ConfirmedPrice{
			SiteID:        p.cfg.SiteID,
			Channel:       channel,
			IntervalStart: start,
			PerKWh:        *cp.PerKWh,
			SpotPerKWh:    deref(cp.SpotPerKWh),
			Renewables:    deref(cp.Renewables),
			Descriptor:    cp.Descriptor,
			DetectedAfter: st.Elapsed,
			Source:        models.SourcePolling,
		})
	}
	if len(out) == 0 {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.SaveTimeout)
	defer cancel()
	if err := p.sink.Write(writeCtx, out); err != nil {
		p.metrics.RecordError("sink")
		p.l.Warn("confirmed price sink write failed", applogger.Error(err))
	}
}

func (p *PricePoller) recordPrices(snap models.PriceSnapshot) {
	for channel, cp := range snap.Current {
		if cp.PerKWh != nil {
			p.metrics.RecordLastPrice(channel, *cp.PerKWh)
		}
	}
}

// Status returns a consistent copy of the core state.
func (p *PricePoller) Status() PollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := PollerStatus{
		Interval:      p.orch.IntervalState(),
		Scheduler:     p.orch.Stats(),
		NextPollDelay: p.orch.NextPollDelay(),
		LastPollAt:    p.lastPollAt,
		Limiter: LimiterStatus{
			Limited:          p.limiter.IsLimited(),
			RemainingSeconds: p.limiter.RemainingSeconds(),
			Backoff:          p.limiter.CurrentBackoff(),
			Until:            p.limiter.Until(),
		},
	}
	if p.lastInfo != nil {
		info := *p.lastInfo
		st.RateLimit = &info
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}

// Observations returns up to limit of the most recent observations, newest last.
func (p *PricePoller) Observations(limit int) []models.Observation {
	p.mu.Lock()
	obs := p.orch.Scheduler().Observations()
	p.mu.Unlock()
	if limit > 0 && len(obs) > limit {
		obs = obs[len(obs)-limit:]
	}
	return obs
}

// Merger exposes the merged price view.
func (p *PricePoller) Merger() *PriceMerger { return p.merger }

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
