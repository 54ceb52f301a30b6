package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordPoll("confirmatory")
	r.RecordPoll("confirmatory")
	r.RecordPoll("estimate")
	r.RecordRateLimited()
	r.RecordError("fetch")
	r.RecordBudget(43)
	r.RecordSchedule(12)
	r.RecordObservations(100)
	r.RecordLastPrice("general", 0.24)
	r.RecordConfirmation(23)
	r.RecordLatency("fetch_prices", 0.2)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.polls.WithLabelValues("confirmatory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.polls.WithLabelValues("estimate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rateLimited))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("fetch")))
	assert.Equal(t, 43.0, testutil.ToFloat64(r.budget))
	assert.Equal(t, 12.0, testutil.ToFloat64(r.scheduled))
	assert.Equal(t, 100.0, testutil.ToFloat64(r.observations))
	assert.Equal(t, 0.24, testutil.ToFloat64(r.lastPrice.WithLabelValues("general")))

	n, err := testutil.GatherAndCount(reg, "amberpull_confirmation_delay_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
