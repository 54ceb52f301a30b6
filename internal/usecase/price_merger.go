package usecase

import (
	"sync/atomic"
	"time"

	"AmberPull/internal/domain/models"
)

// MergedSnapshot is the combined view served to readers.
type MergedSnapshot struct {
	Current     map[string]models.ChannelPrice   `json:"current"`
	Forecasts   map[string][]models.ChannelPrice `json:"forecasts"`
	Source      string                           `json:"source"`
	PollingAt   time.Time                        `json:"polling_timestamp"`
	StreamAt    time.Time                        `json:"websocket_timestamp"`
	ForecastsAt time.Time                        `json:"forecasts_timestamp"`
}

// Channel returns the price and forecasts for one channel.
func (m MergedSnapshot) Channel(name string) (models.ChannelPrice, []models.ChannelPrice, bool) {
	p, ok := m.Current[name]
	f := m.Forecasts[name]
	return p, f, ok || len(f) > 0
}

type mergerState struct {
	polling     map[string]models.ChannelPrice
	pollingAt   time.Time
	stream      map[string]models.ChannelPrice
	streamAt    time.Time
	forecasts   map[string][]models.ChannelPrice
	forecastsAt time.Time
}

// PriceMerger combines polling and push updates. Current-interval prices
// come from whichever source wrote last; forecasts only ever come from
// polling and survive push updates. Each update swaps in a new immutable
// state, so readers never lock.
type PriceMerger struct {
	state atomic.Pointer[mergerState]
	now   func() time.Time
}

func NewPriceMerger() *PriceMerger {
	m := &PriceMerger{now: time.Now}
	m.state.Store(&mergerState{})
	return m
}

// UpdatePolling records a REST snapshot. A nil Forecasts map keeps the
// previous forecasts.
func (m *PriceMerger) UpdatePolling(snap models.PriceSnapshot) {
	at := m.stamp(snap.FetchedAt)
	current := copyCurrent(snap.Current)
	m.update(func(old *mergerState) *mergerState {
		if at.Before(old.pollingAt) {
			return nil
		}
		next := *old
		next.polling, next.pollingAt = current, at
		if snap.Forecasts != nil {
			next.forecasts = mergeForecasts(old.forecasts, snap.Forecasts)
			next.forecastsAt = at
		}
		return &next
	})
}

// UpdateStream records a push snapshot; any forecasts on it are ignored.
func (m *PriceMerger) UpdateStream(snap models.PriceSnapshot) {
	at := m.stamp(snap.FetchedAt)
	current := copyCurrent(snap.Current)
	m.update(func(old *mergerState) *mergerState {
		if at.Before(old.streamAt) {
			return nil
		}
		next := *old
		next.stream, next.streamAt = current, at
		return &next
	})
}

// HasData reports whether any source has written yet.
func (m *PriceMerger) HasData() bool {
	s := m.state.Load()
	return !s.pollingAt.IsZero() || !s.streamAt.IsZero()
}

// Current returns the merged view.
func (m *PriceMerger) Current() MergedSnapshot {
	s := m.state.Load()
	out := MergedSnapshot{
		Source:      models.SourcePolling,
		Forecasts:   s.forecasts,
		PollingAt:   s.pollingAt,
		StreamAt:    s.streamAt,
		ForecastsAt: s.forecastsAt,
	}
	switch {
	case !s.streamAt.IsZero() && s.streamAt.After(s.pollingAt):
		out.Current, out.Source = s.stream, models.SourceWebsocket
	case !s.pollingAt.IsZero():
		out.Current = s.polling
	}
	if out.Current == nil {
		out.Current = map[string]models.ChannelPrice{}
	}
	if out.Forecasts == nil {
		out.Forecasts = map[string][]models.ChannelPrice{}
	}
	return out
}

func (m *PriceMerger) update(fn func(old *mergerState) *mergerState) {
	for {
		old := m.state.Load()
		next := fn(old)
		if next == nil || m.state.CompareAndSwap(old, next) {
			return
		}
	}
}

func (m *PriceMerger) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return m.now()
	}
	return t
}

func copyCurrent(in map[string]models.ChannelPrice) map[string]models.ChannelPrice {
	out := make(map[string]models.ChannelPrice, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// mergeForecasts replaces per channel, keeping channels the new payload lacks.
func mergeForecasts(old, in map[string][]models.ChannelPrice) map[string][]models.ChannelPrice {
	out := make(map[string][]models.ChannelPrice, len(old)+len(in))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range in {
		out[k] = append([]models.ChannelPrice(nil), v...)
	}
	return out
}
