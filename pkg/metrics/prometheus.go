package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	polls        *prometheus.CounterVec
	rateLimited  prometheus.Counter
	errorsTotal  *prometheus.CounterVec
	confirmDelay prometheus.Histogram
	budget       prometheus.Gauge
	scheduled    prometheus.Gauge
	observations prometheus.Gauge
	lastPrice    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
}

// New creates a recorder registered on reg; nil means the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		polls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amberpull_polls_total",
				Help: "Total number of upstream price polls by kind",
			},
			[]string{"kind"},
		),
		rateLimited: f.NewCounter(
			prometheus.CounterOpts{
				Name: "amberpull_rate_limited_total",
				Help: "Total number of rate limited responses",
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amberpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		confirmDelay: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "amberpull_confirmation_delay_seconds",
				Help:    "Seconds after interval start at which a confirmed price was seen",
				Buckets: []float64{5, 10, 15, 20, 25, 30, 40, 50, 60, 90, 120, 180, 300},
			},
		),
		budget: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "amberpull_poll_budget",
				Help: "Confirmatory polls allowed in the current interval",
			},
		),
		scheduled: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "amberpull_scheduled_polls",
				Help: "Confirmatory polls currently scheduled",
			},
		),
		observations: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "amberpull_observations",
				Help: "Observations in the rolling window",
			},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "amberpull_last_price",
				Help: "Last current-interval price per channel in dollars per kWh",
			},
			[]string{"channel"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "amberpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordPoll counts a poll of the given kind (estimate, confirmatory, forecast).
func (r *Recorder) RecordPoll(kind string) {
	r.polls.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordRateLimited() {
	r.rateLimited.Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordConfirmation(delaySeconds float64) {
	r.confirmDelay.Observe(delaySeconds)
}

func (r *Recorder) RecordBudget(k int) {
	r.budget.Set(float64(k))
}

func (r *Recorder) RecordSchedule(polls int) {
	r.scheduled.Set(float64(polls))
}

func (r *Recorder) RecordObservations(n int) {
	r.observations.Set(float64(n))
}

// RecordLastPrice records the last price for a channel.
func (r *Recorder) RecordLastPrice(channel string, price float64) {
	r.lastPrice.WithLabelValues(channel).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
