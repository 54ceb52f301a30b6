package polling

import (
	"math"

	"AmberPull/internal/domain/models"
	"AmberPull/pkg/logger"
)

const (
	DefaultWindowSize    = 100
	DefaultBlendHighFrac = 0.3
	DefaultBlendLowFrac  = 0.2
)

// Stats is a diagnostic snapshot of the scheduler.
type Stats struct {
	ObservationCount      int                 `json:"observation_count"`
	ScheduledPolls        []float64           `json:"scheduled_polls"`
	Cursor                int                 `json:"next_poll_index"`
	ConfirmatoryPollCount int                 `json:"confirmatory_poll_count"`
	K                     int                 `json:"polls_per_interval"`
	LastObservation       *models.Observation `json:"last_observation,omitempty"`
}

// Scheduler plans confirmatory polls within an interval from the learned
// confirmation delay distribution. It is not safe for concurrent use.
type Scheduler struct {
	windowSize int
	highFrac   float64
	lowFrac    float64
	log        *logger.Logger

	observations []models.Observation
	cdf          CDF
	dirty        bool

	schedule     []float64
	cursor       int
	confirmatory int
	k            int
	quota        int
}

type SchedulerOption func(*Scheduler)

// WithWindowSize caps how many observations the window keeps.
func WithWindowSize(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.windowSize = n
		}
	}
}

// WithBlendFractions sets the quota fractions at which planning is purely
// targeted (high) and purely uniform (low).
func WithBlendFractions(high, low float64) SchedulerOption {
	return func(s *Scheduler) {
		if high >= low && low >= 0 {
			s.highFrac, s.lowFrac = high, low
		}
	}
}

// WithObservations seeds the window instead of the cold-start corpus.
func WithObservations(obs []models.Observation) SchedulerOption {
	return func(s *Scheduler) { s.observations = append([]models.Observation(nil), obs...) }
}

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(l *logger.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = l }
}

// NewScheduler builds a scheduler seeded with the cold-start corpus unless
// WithObservations supplies a window.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		windowSize: DefaultWindowSize,
		highFrac:   DefaultBlendHighFrac,
		lowFrac:    DefaultBlendLowFrac,
		dirty:      true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrNop(s.log)
	if s.observations == nil {
		s.observations = ColdStartObservations()
	}
	s.observations = s.keepValid(s.observations)
	return s
}

// StartInterval resets the cursor and counter and plans against the
// unconditional distribution. A nil k keeps the previous budget.
func (s *Scheduler) StartInterval(k *int) {
	s.cursor = 0
	s.confirmatory = 0
	if k != nil {
		s.k = max(0, *k)
	}
	s.recompute(0, 0)
	s.log.Debug("interval schedule planned",
		logger.Int("k", s.k),
		logger.Floats("polls", s.schedule))
}

// RecordObservation appends a validated observation, evicting the oldest
// beyond capacity. It reports whether the observation was accepted.
func (s *Scheduler) RecordObservation(start, end, weight float64) bool {
	o, err := models.NewWeightedObservation(start, end, weight)
	if err != nil || o.EffectiveWeight() <= 0 {
		s.log.Debug("observation rejected",
			logger.Float64("start", start),
			logger.Float64("end", end))
		return false
	}
	s.observations = append(s.observations, o)
	if over := len(s.observations) - s.windowSize; over > 0 {
		s.observations = append([]models.Observation(nil), s.observations[over:]...)
	}
	s.dirty = true
	s.recompute(0, 0)
	return true
}

// UpdateBudget re-plans the rest of the interval conditioned on no
// confirmation by elapsed, blending toward a uniform spread over the
// quota reset window as k runs low.
func (s *Scheduler) UpdateBudget(k int, elapsed, resetSeconds float64, quota int) {
	s.k = max(0, k)
	s.quota = quota
	s.recompute(elapsed, resetSeconds)
	s.cursor = 0
	s.log.Debug("schedule replanned",
		logger.Int("k", s.k),
		logger.Int("quota", quota),
		logger.Float64("elapsed", elapsed),
		logger.Float64("reset", resetSeconds),
		logger.Floats("polls", s.schedule))
}

// ShouldPollNow reports whether the next planned poll is due.
func (s *Scheduler) ShouldPollNow(elapsed float64) bool {
	return s.cursor < len(s.schedule) && elapsed >= s.schedule[s.cursor]
}

// Advance counts a confirmatory poll and moves past its planned slot.
func (s *Scheduler) Advance() {
	s.confirmatory++
	if s.cursor < len(s.schedule) {
		s.cursor++
	}
}

// AdvancePast is Advance for a poll made at elapsed: every slot already
// due is consumed, so a late tick polls once instead of once per slot.
func (s *Scheduler) AdvancePast(elapsed float64) {
	s.Advance()
	for s.cursor < len(s.schedule) && s.schedule[s.cursor] <= elapsed {
		s.cursor++
	}
}

// NextPollDelay returns the seconds until the next planned poll, or false
// when the schedule is exhausted.
func (s *Scheduler) NextPollDelay(elapsed float64) (float64, bool) {
	if s.cursor >= len(s.schedule) {
		return 0, false
	}
	return math.Max(0, s.schedule[s.cursor]-elapsed), true
}

// K returns the current budget.
func (s *Scheduler) K() int { return s.k }

// Schedule returns a copy of the planned offsets.
func (s *Scheduler) Schedule() []float64 {
	return append([]float64(nil), s.schedule...)
}

// Observations returns a copy of the window for persistence.
func (s *Scheduler) Observations() []models.Observation {
	return append([]models.Observation(nil), s.observations...)
}

// ReplaceObservations swaps in a loaded window, keeping the newest entries.
func (s *Scheduler) ReplaceObservations(obs []models.Observation) {
	s.observations = s.keepValid(obs)
	s.dirty = true
	s.recompute(0, 0)
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		ObservationCount:      len(s.observations),
		ScheduledPolls:        s.Schedule(),
		Cursor:                s.cursor,
		ConfirmatoryPollCount: s.confirmatory,
		K:                     s.k,
	}
	if n := len(s.observations); n > 0 {
		last := s.observations[n-1]
		st.LastObservation = &last
	}
	return st
}

// BlendWeight is the share of CDF targeting in a plan for budget k under
// quota; the remainder is a uniform spread. Unknown quota means 1.
func BlendWeight(k, quota int, highFrac, lowFrac float64) float64 {
	if quota <= 0 {
		return 1
	}
	high := highFrac * float64(quota)
	low := lowFrac * float64(quota)
	kf := float64(k)
	if high <= low {
		if kf >= high {
			return 1
		}
		return 0
	}
	return math.Min(1, math.Max(0, (kf-low)/(high-low)))
}

func (s *Scheduler) currentCDF() CDF {
	if s.dirty {
		s.cdf = BuildCDF(s.observations)
		s.dirty = false
	}
	return s.cdf
}

func (s *Scheduler) recompute(elapsed, resetSeconds float64) {
	s.schedule = nil
	if s.k <= 0 || len(s.observations) == 0 {
		return
	}
	cdf := s.currentCDF()
	if !cdf.Valid() {
		return
	}

	w := 1.0
	if resetSeconds > 0 {
		w = BlendWeight(s.k, s.quota, s.highFrac, s.lowFrac)
	}
	targeted := SampleQuantiles(cdf, s.k, elapsed)
	if w >= 1 {
		s.schedule = targeted
		return
	}

	from := math.Max(0, elapsed)
	uniform := UniformQuantiles(from, resetSeconds, s.k)
	if len(targeted) == 0 {
		s.schedule = uniform
		return
	}
	out := make([]float64, s.k)
	for i := range out {
		out[i] = w*targeted[i] + (1-w)*uniform[i]
	}
	s.schedule = out
}

func (s *Scheduler) keepValid(obs []models.Observation) []models.Observation {
	out := make([]models.Observation, 0, min(len(obs), s.windowSize))
	for _, o := range obs {
		if o.Validate() == nil {
			out = append(out, o)
		}
	}
	if over := len(out) - s.windowSize; over > 0 {
		out = out[over:]
	}
	return out
}
