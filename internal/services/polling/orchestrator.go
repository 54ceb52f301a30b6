package polling

import (
	"time"

	"AmberPull/internal/domain/models"
	"AmberPull/pkg/logger"
	"AmberPull/pkg/util"
)

const (
	DefaultInterval     = 5 * time.Minute
	DefaultBudget       = 4
	DefaultSafetyBuffer = 2
)

// State is the orchestrator's position within the current interval.
type State string

const (
	StateAwaitingEstimate State = "awaiting_estimate"
	StateHasEstimate      State = "has_estimate"
	StateConfirmed        State = "confirmed"
	StateForecastsPending State = "forecasts_pending"
)

// Backoff is the part of a rate limiter the orchestrator consults.
type Backoff interface {
	IsLimited() bool
}

// IntervalState is a snapshot of the per-interval bookkeeping.
type IntervalState struct {
	IntervalStart             time.Time `json:"interval_start"`
	State                     State     `json:"state"`
	HasConfirmed              bool      `json:"has_confirmed_price"`
	ForecastsPending          bool      `json:"forecasts_pending"`
	PollCount                 int       `json:"poll_count_this_interval"`
	FirstIntervalAfterStartup bool      `json:"first_interval_after_startup"`
	LastEstimateElapsed       *float64  `json:"last_estimate_elapsed,omitempty"`
	Elapsed                   float64   `json:"elapsed_seconds"`
	K                         int       `json:"polls_per_interval"`
}

// Orchestrator folds poll outcomes into interval state and answers when to
// poll next. It performs no I/O and is not safe for concurrent use.
type Orchestrator struct {
	scheduler     *Scheduler
	now           func() time.Time
	interval      time.Duration
	safetyBuffer  int
	defaultBudget int
	log           *logger.Logger

	intervalStart    time.Time
	hasEstimate      bool
	hasConfirmed     bool
	forecastsPending bool
	pollCount        int
	firstInterval    bool
	lastEstimate     *float64
	k                *int
}

type OrchestratorOption func(*Orchestrator)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithInterval sets the length of a price interval.
func WithInterval(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithSafetyBuffer reserves n requests of the remaining quota for boundary polls.
func WithSafetyBuffer(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.safetyBuffer = n
		}
	}
}

// WithDefaultBudget sets k until the first rate limit headers arrive.
func WithDefaultBudget(k int) OrchestratorOption {
	return func(o *Orchestrator) {
		if k >= 0 {
			o.defaultBudget = k
		}
	}
}

// WithOrchestratorLogger sets the orchestrator logger.
func WithOrchestratorLogger(l *logger.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

// NewOrchestrator builds an orchestrator over scheduler, or over a
// cold-start scheduler when nil.
func NewOrchestrator(scheduler *Scheduler, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		scheduler:     scheduler,
		now:           time.Now,
		interval:      DefaultInterval,
		safetyBuffer:  DefaultSafetyBuffer,
		defaultBudget: DefaultBudget,
		firstInterval: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = logger.OrNop(o.log)
	if o.scheduler == nil {
		o.scheduler = NewScheduler(WithSchedulerLogger(o.log))
	}
	return o
}

// Scheduler exposes the underlying scheduler for persistence and stats.
func (o *Orchestrator) Scheduler() *Scheduler { return o.scheduler }

// ShouldPoll decides whether a poll is due now. Crossing into a new
// interval resets all per-interval state and always polls.
func (o *Orchestrator) ShouldPoll(hasData bool, limiter Backoff) bool {
	current := util.IntervalStart(o.now(), o.interval)
	if !current.Equal(o.intervalStart) {
		o.beginInterval(current, hasData)
		return true
	}

	if o.hasConfirmed && !o.forecastsPending {
		return false
	}
	if o.forecastsPending {
		return limiter == nil || !limiter.IsLimited()
	}
	return o.scheduler.ShouldPollNow(o.elapsed())
}

func (o *Orchestrator) beginInterval(start time.Time, hasData bool) {
	o.intervalStart = start
	o.hasEstimate = false
	o.hasConfirmed = false
	o.forecastsPending = false
	o.pollCount = 0
	o.lastEstimate = nil

	k := o.defaultBudget
	if o.k != nil {
		k = *o.k
	}
	o.scheduler.StartInterval(&k)

	if !hasData {
		o.log.Debug("first poll, fetching initial data", logger.Time("interval", start))
		return
	}
	o.firstInterval = false
	o.log.Debug("new interval started",
		logger.Time("interval", start),
		logger.Int("k", k),
		logger.Floats("polls", o.scheduler.Schedule()))
}

// OnPollStarted counts a poll; every poll after the interval's first is confirmatory.
func (o *Orchestrator) OnPollStarted() {
	o.pollCount++
	if o.pollCount > 1 {
		o.scheduler.AdvancePast(o.elapsed())
	}
}

// OnEstimateReceived notes when the latest estimate was seen.
func (o *Orchestrator) OnEstimateReceived() {
	if o.intervalStart.IsZero() || o.hasConfirmed {
		return
	}
	e := o.elapsed()
	o.lastEstimate = &e
	o.hasEstimate = true
}

// OnConfirmedReceived marks the interval confirmed and, when an estimate
// preceded it outside the startup interval, records the observation.
func (o *Orchestrator) OnConfirmedReceived() (models.Observation, bool) {
	if o.hasConfirmed {
		return models.Observation{}, false
	}
	o.hasConfirmed = true
	if o.intervalStart.IsZero() {
		return models.Observation{}, false
	}
	if o.firstInterval {
		o.log.Debug("skipping observation on first interval after startup")
		return models.Observation{}, false
	}

	confirmed := o.elapsed()
	if o.lastEstimate == nil {
		o.log.Debug("confirmed without a prior estimate, skipping observation",
			logger.Float64("confirmed_at", confirmed))
		return models.Observation{}, false
	}
	start := *o.lastEstimate
	if !o.scheduler.RecordObservation(start, confirmed, 1) {
		return models.Observation{}, false
	}
	o.log.Info("interval confirmed",
		logger.Float64("estimate_at", start),
		logger.Float64("confirmed_at", confirmed),
		logger.Int("polls", o.pollCount))
	return models.Observation{Start: start, End: confirmed, Weight: 1}, true
}

func (o *Orchestrator) SetForecastsPending()   { o.forecastsPending = true }
func (o *Orchestrator) ClearForecastsPending() { o.forecastsPending = false }

// UpdateBudget derives k from the remaining quota, less the safety buffer,
// and re-plans the rest of the interval.
func (o *Orchestrator) UpdateBudget(info models.RateLimitInfo) {
	k := max(0, info.Remaining-o.safetyBuffer)
	o.k = &k
	if o.intervalStart.IsZero() {
		return
	}
	o.scheduler.UpdateBudget(k, o.elapsed(), float64(info.ResetSeconds), info.Limit)
}

// NextPollDelay returns the wait until the next planned poll, falling back
// to the next interval boundary when nothing else is planned.
func (o *Orchestrator) NextPollDelay() time.Duration {
	now := o.now()
	boundary := util.IntervalStart(now, o.interval).Add(o.interval).Sub(now)
	if o.intervalStart.IsZero() {
		return 0
	}
	if o.hasConfirmed && !o.forecastsPending {
		return boundary
	}
	if o.forecastsPending {
		return 0
	}
	if delay, ok := o.scheduler.NextPollDelay(o.elapsed()); ok {
		d := time.Duration(delay * float64(time.Second))
		return min(d, boundary)
	}
	return boundary
}

// State reports the current interval state.
func (o *Orchestrator) State() State {
	switch {
	case o.hasConfirmed && o.forecastsPending:
		return StateForecastsPending
	case o.hasConfirmed:
		return StateConfirmed
	case o.hasEstimate:
		return StateHasEstimate
	default:
		return StateAwaitingEstimate
	}
}

func (o *Orchestrator) IntervalState() IntervalState {
	st := IntervalState{
		IntervalStart:             o.intervalStart,
		State:                     o.State(),
		HasConfirmed:              o.hasConfirmed,
		ForecastsPending:          o.forecastsPending,
		PollCount:                 o.pollCount,
		FirstIntervalAfterStartup: o.firstInterval,
		K:                         o.scheduler.K(),
	}
	if o.lastEstimate != nil {
		e := *o.lastEstimate
		st.LastEstimateElapsed = &e
	}
	if !o.intervalStart.IsZero() {
		st.Elapsed = o.elapsed()
	}
	return st
}

// Stats returns the scheduler diagnostics.
func (o *Orchestrator) Stats() Stats { return o.scheduler.Stats() }

func (o *Orchestrator) elapsed() float64 {
	return o.now().Sub(o.intervalStart).Seconds()
}
