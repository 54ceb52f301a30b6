package models

import "time"

const (
	ChannelGeneral        = "general"
	ChannelFeedIn         = "feed_in"
	ChannelControlledLoad = "controlled_load"
)

const (
	SourcePolling   = "polling"
	SourceWebsocket = "websocket"
)

const (
	PricingModeAEMO = "per_kwh"
	PricingModeApp  = "advanced_price_predicted"
)

// AdvancedPrice is the low/predicted/high price band in dollars.
type AdvancedPrice struct {
	Low       float64 `json:"low"`
	Predicted float64 `json:"predicted"`
	High      float64 `json:"high"`
}

// ChannelPrice is one interval's price for a metering channel, in dollars per kWh.
type ChannelPrice struct {
	PerKWh        *float64       `json:"per_kwh"`
	SpotPerKWh    *float64       `json:"spot_per_kwh"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	NEMTime       *time.Time     `json:"nem_time,omitempty"`
	Renewables    *float64       `json:"renewables"`
	Descriptor    string         `json:"descriptor"`
	SpikeStatus   string         `json:"spike_status"`
	Estimate      bool           `json:"estimate"`
	AdvancedPrice *AdvancedPrice `json:"advanced_price_predicted,omitempty"`
	DemandWindow  *bool          `json:"demand_window,omitempty"`
	TariffPeriod  string         `json:"tariff_period,omitempty"`
	TariffSeason  string         `json:"tariff_season,omitempty"`
	TariffBlock   *float64       `json:"tariff_block,omitempty"`
}

// PriceSnapshot is the processed result of one fetch or push message.
// Forecasts is nil when the source carried no forecast payload.
type PriceSnapshot struct {
	Current   map[string]ChannelPrice   `json:"current"`
	Forecasts map[string][]ChannelPrice `json:"forecasts,omitempty"`
	FetchedAt time.Time                 `json:"fetched_at"`
}

// General returns the general channel price, if present.
func (s *PriceSnapshot) General() (ChannelPrice, bool) {
	if s == nil {
		return ChannelPrice{}, false
	}
	p, ok := s.Current[ChannelGeneral]
	return p, ok
}

// ConfirmedPrice is the record emitted to sinks once an interval is confirmed.
type ConfirmedPrice struct {
	SiteID        string    `json:"site_id"`
	Channel       string    `json:"channel"`
	IntervalStart time.Time `json:"interval_start"`
	PerKWh        float64   `json:"per_kwh"`
	SpotPerKWh    float64   `json:"spot_per_kwh"`
	Renewables    float64   `json:"renewables"`
	Descriptor    string    `json:"descriptor"`
	DetectedAfter float64   `json:"detected_after_seconds"`
	Source        string    `json:"source"`
}

// PriceFetch is the outcome of one REST price request.
type PriceFetch struct {
	Snapshot     PriceSnapshot
	RateLimit    RateLimitInfo
	HasRateLimit bool
	Status       int
}
