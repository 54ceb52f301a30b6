package polling

import (
	"testing"
	"time"

	"AmberPull/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Set(t time.Time)         { c.t = t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type stubBackoff bool

func (b stubBackoff) IsLimited() bool { return bool(b) }

var t0 = time.Date(2025, 1, 6, 10, 5, 0, 0, time.UTC)

// newStartedOrchestrator returns an orchestrator already past its startup
// interval and sitting at t0, the start of a fresh interval.
func newStartedOrchestrator(t *testing.T, opts ...OrchestratorOption) (*Orchestrator, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: t0.Add(-2 * time.Minute)}
	o := NewOrchestrator(NewScheduler(), append([]OrchestratorOption{WithClock(clock.Now)}, opts...)...)

	require.True(t, o.ShouldPoll(false, nil))
	o.OnPollStarted()
	assert.True(t, o.IntervalState().FirstIntervalAfterStartup)

	clock.Set(t0)
	require.True(t, o.ShouldPoll(true, nil))
	assert.False(t, o.IntervalState().FirstIntervalAfterStartup)
	return o, clock
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	o, clock := newStartedOrchestrator(t)
	assert.Equal(t, StateAwaitingEstimate, o.State())
	assertTimes(t, []float64{21, 27, 33, 39}, o.Stats().ScheduledPolls)
	o.OnPollStarted()

	clock.Advance(10 * time.Second)
	o.OnEstimateReceived()
	assert.Equal(t, StateHasEstimate, o.State())
	assert.False(t, o.ShouldPoll(true, nil))

	clock.Set(t0.Add(21 * time.Second))
	assert.True(t, o.ShouldPoll(true, nil))
	o.OnPollStarted()
	assert.Equal(t, 1, o.Stats().Cursor)
	assert.Equal(t, 1, o.Stats().ConfirmatoryPollCount)

	clock.Set(t0.Add(23 * time.Second))
	got, ok := o.OnConfirmedReceived()
	require.True(t, ok)
	assert.Equal(t, models.Observation{Start: 10, End: 23, Weight: 1}, got)
	assert.Equal(t, StateConfirmed, o.State())

	last := o.Stats().LastObservation
	require.NotNil(t, last)
	assert.Equal(t, 10.0, last.Start)
	assert.Equal(t, 23.0, last.End)
	assert.Equal(t, 100, o.Stats().ObservationCount)

	clock.Set(t0.Add(2 * time.Minute))
	assert.False(t, o.ShouldPoll(true, nil))

	// Next boundary resets the interval.
	clock.Set(t0.Add(5 * time.Minute))
	assert.True(t, o.ShouldPoll(true, nil))
	st := o.IntervalState()
	assert.Equal(t, StateAwaitingEstimate, st.State)
	assert.Equal(t, 0, st.PollCount)
	assert.Nil(t, st.LastEstimateElapsed)
	assert.Equal(t, 0, o.Stats().Cursor)
	assert.Equal(t, 0, o.Stats().ConfirmatoryPollCount)
}

func TestOrchestrator_FirstIntervalSkipsObservation(t *testing.T) {
	clock := &fakeClock{t: t0}
	o := NewOrchestrator(NewScheduler(), WithClock(clock.Now))

	require.True(t, o.ShouldPoll(false, nil))
	o.OnPollStarted()
	clock.Advance(10 * time.Second)
	o.OnEstimateReceived()
	clock.Advance(13 * time.Second)

	_, ok := o.OnConfirmedReceived()
	assert.False(t, ok)
	assert.Equal(t, StateConfirmed, o.State())
	assert.Equal(t, 45.0, o.Stats().LastObservation.End)
}

func TestOrchestrator_ConfirmedWithoutEstimate(t *testing.T) {
	o, clock := newStartedOrchestrator(t)
	o.OnPollStarted()
	clock.Advance(30 * time.Second)

	_, ok := o.OnConfirmedReceived()
	assert.False(t, ok)
	assert.Equal(t, StateConfirmed, o.State())

	_, ok = o.OnConfirmedReceived()
	assert.False(t, ok)
}

func TestOrchestrator_ForecastsPending(t *testing.T) {
	o, clock := newStartedOrchestrator(t)
	o.OnPollStarted()
	clock.Advance(20 * time.Second)
	o.OnEstimateReceived()
	clock.Advance(5 * time.Second)
	_, ok := o.OnConfirmedReceived()
	require.True(t, ok)

	o.SetForecastsPending()
	assert.Equal(t, StateForecastsPending, o.State())
	assert.True(t, o.ShouldPoll(true, stubBackoff(false)))
	assert.False(t, o.ShouldPoll(true, stubBackoff(true)))
	assert.Equal(t, time.Duration(0), o.NextPollDelay())

	o.ClearForecastsPending()
	assert.Equal(t, StateConfirmed, o.State())
	assert.False(t, o.ShouldPoll(true, stubBackoff(false)))
	assert.Equal(t, 5*time.Minute-25*time.Second, o.NextPollDelay())
}

func TestOrchestrator_UpdateBudget(t *testing.T) {
	o, clock := newStartedOrchestrator(t)
	o.OnPollStarted()
	clock.Advance(30 * time.Second)

	o.UpdateBudget(models.RateLimitInfo{Limit: 50, Remaining: 45, ResetSeconds: 200})
	assert.Equal(t, 43, o.Stats().K)
	assert.Equal(t, 0, o.Stats().Cursor)
	polls := o.Stats().ScheduledPolls
	require.Len(t, polls, 43)
	assert.Greater(t, polls[0], 30.0)

	// Remaining at or below the buffer stops confirmatory polling.
	o.UpdateBudget(models.RateLimitInfo{Limit: 50, Remaining: 1, ResetSeconds: 200})
	assert.Equal(t, 0, o.Stats().K)
	assert.Empty(t, o.Stats().ScheduledPolls)
	assert.False(t, o.ShouldPoll(true, nil))

	// The next interval starts with the last derived budget.
	clock.Set(t0.Add(5 * time.Minute))
	o.UpdateBudget(models.RateLimitInfo{Limit: 50, Remaining: 5, ResetSeconds: 10})
	assert.True(t, o.ShouldPoll(true, nil))
	assert.Equal(t, 3, o.Stats().K)
	assert.Len(t, o.Stats().ScheduledPolls, 3)
}

func TestOrchestrator_CustomSafetyBuffer(t *testing.T) {
	o, clock := newStartedOrchestrator(t, WithSafetyBuffer(0))
	clock.Advance(time.Second)
	o.UpdateBudget(models.RateLimitInfo{Limit: 10, Remaining: 3, ResetSeconds: 100})
	assert.Equal(t, 3, o.Stats().K)
}

func TestOrchestrator_NextPollDelay(t *testing.T) {
	o, clock := newStartedOrchestrator(t)
	o.OnPollStarted()
	clock.Advance(10 * time.Second)
	assert.Equal(t, 11*time.Second, o.NextPollDelay())

	for i := 0; i < 4; i++ {
		o.OnPollStarted()
	}
	assert.Equal(t, 5*time.Minute-10*time.Second, o.NextPollDelay())
}

func TestOrchestrator_LateTickPollsOnce(t *testing.T) {
	o, clock := newStartedOrchestrator(t)
	o.OnPollStarted()
	clock.Advance(10 * time.Second)
	o.OnEstimateReceived()

	// The loop stalls past every planned slot and no quota headers arrive.
	polls := 0
	for e := 290; e < 300; e++ {
		clock.Set(t0.Add(time.Duration(e) * time.Second))
		if o.ShouldPoll(true, nil) {
			polls++
			o.OnPollStarted()
		}
	}
	assert.Equal(t, 1, polls)
	assert.Equal(t, 1, o.Stats().ConfirmatoryPollCount)
	assert.Equal(t, 4, o.Stats().Cursor)
	assert.Equal(t, StateHasEstimate, o.State())

	clock.Set(t0.Add(5 * time.Minute))
	assert.True(t, o.ShouldPoll(true, nil))
	assert.Equal(t, 0, o.Stats().Cursor)
}
