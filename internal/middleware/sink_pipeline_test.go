package middleware

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"AmberPull/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	failures int
	writes   [][]models.ConfirmedPrice
	closed   bool
}

func (s *fakeSink) Init(context.Context) error { return nil }

func (s *fakeSink) Write(_ context.Context, prices []models.ConfirmedPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("downstream unavailable")
	}
	s.writes = append(s.writes, prices)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

func (s *fakeSink) rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.writes {
		n += len(w)
	}
	return n
}

var start0 = time.Date(2025, 1, 6, 10, 5, 0, 0, time.UTC)

func price(channel string, at time.Time) models.ConfirmedPrice {
	return models.ConfirmedPrice{SiteID: "site-1", Channel: channel, IntervalStart: at, PerKWh: 0.2}
}

func TestSinkPipeline_ValidatesAndDeduplicates(t *testing.T) {
	sink := &fakeSink{}
	p := NewSinkPipeline(sink, nil)

	require.NoError(t, p.Write(context.Background(), []models.ConfirmedPrice{
		price(models.ChannelGeneral, start0),
		{SiteID: "site-1", Channel: models.ChannelGeneral},
		{SiteID: "site-1", Channel: models.ChannelFeedIn, IntervalStart: start0, PerKWh: math.NaN()},
	}))
	assert.Equal(t, 1, sink.rows())

	// The same interval is not delivered twice; the next one is.
	require.NoError(t, p.Write(context.Background(), []models.ConfirmedPrice{price(models.ChannelGeneral, start0)}))
	assert.Equal(t, 1, sink.rows())
	require.NoError(t, p.Write(context.Background(), []models.ConfirmedPrice{price(models.ChannelGeneral, start0.Add(5*time.Minute))}))
	assert.Equal(t, 2, sink.rows())
}

func TestSinkPipeline_BuffersAndRetries(t *testing.T) {
	sink := &fakeSink{failures: 2}
	p := NewSinkPipeline(sink, nil, WithRetryBackoff(time.Millisecond, 5*time.Millisecond))

	err := p.Write(context.Background(), []models.ConfirmedPrice{price(models.ChannelGeneral, start0)})
	require.Error(t, err)
	assert.Equal(t, 1, p.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	assert.Eventually(t, func() bool { return sink.rows() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, p.Pending())

	require.NoError(t, p.Close())
	assert.True(t, sink.closed)
}

func TestSinkPipeline_DropsWhenBufferFull(t *testing.T) {
	sink := &fakeSink{failures: 10}
	p := NewSinkPipeline(sink, nil, WithBufferSize(1))

	_ = p.Write(context.Background(), []models.ConfirmedPrice{price(models.ChannelGeneral, start0)})
	_ = p.Write(context.Background(), []models.ConfirmedPrice{price(models.ChannelFeedIn, start0)})
	assert.Equal(t, 1, p.Pending())
}

func TestSinkPipeline_StopIsIdempotent(t *testing.T) {
	p := NewSinkPipeline(&fakeSink{}, nil)
	p.Stop()
	p.Start(context.Background())
	p.Start(context.Background())
	p.Stop()
	p.Stop()
}
