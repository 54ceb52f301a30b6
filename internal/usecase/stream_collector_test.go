package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"AmberPull/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedStream struct {
	updates   []models.PriceSnapshot
	err       error
	connected atomic.Bool
}

func (s *scriptedStream) Run(ctx context.Context, onUpdate func(models.PriceSnapshot)) error {
	s.connected.Store(true)
	defer s.connected.Store(false)
	for _, u := range s.updates {
		onUpdate(u)
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *scriptedStream) IsConnected() bool { return s.connected.Load() }

func streamSnap(estimate bool, at time.Time) models.PriceSnapshot {
	return models.PriceSnapshot{
		Current: map[string]models.ChannelPrice{
			models.ChannelGeneral: {PerKWh: f64(0.31), Estimate: estimate},
		},
		FetchedAt: at,
	}
}

func TestStreamCollector_FeedsMerger(t *testing.T) {
	stream := &scriptedStream{updates: []models.PriceSnapshot{streamSnap(true, time.Now())}}
	merger := NewPriceMerger()
	c := NewStreamCollector(stream, merger, nil)

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, merger.HasData, time.Second, 5*time.Millisecond)
	assert.True(t, c.IsConnected())

	got := merger.Current()
	assert.Equal(t, models.SourceWebsocket, got.Source)
	assert.Equal(t, 0.31, *got.Current[models.ChannelGeneral].PerKWh)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.NoError(t, c.Err())
	assert.False(t, c.IsConnected())
}

func TestStreamCollector_WaitForConfirmedDropsEstimates(t *testing.T) {
	stream := &scriptedStream{updates: []models.PriceSnapshot{streamSnap(true, time.Now())}}
	merger := NewPriceMerger()
	c := NewStreamCollector(stream, merger, nil, WithCollectorWaitForConfirmed(true))

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, stream.IsConnected, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.False(t, merger.HasData())
}

func TestStreamCollector_RecordsTerminalError(t *testing.T) {
	forbidden := errors.New("forbidden")
	stream := &scriptedStream{err: forbidden}
	c := NewStreamCollector(stream, NewPriceMerger(), nil)

	require.NoError(t, c.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.ErrorIs(t, c.Err(), forbidden)
}

func TestStreamCollector_NilStream(t *testing.T) {
	c := NewStreamCollector(nil, NewPriceMerger(), nil)
	require.NoError(t, c.Start(context.Background()))
	assert.False(t, c.IsConnected())
	assert.NoError(t, c.Shutdown(context.Background()))
}
