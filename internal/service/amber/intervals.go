package amber

import (
	"math"
	"sort"
	"time"

	"AmberPull/internal/domain/models"
)

const (
	typeCurrent  = "CurrentInterval"
	typeForecast = "ForecastInterval"
	typeActual   = "ActualInterval"
)

var channelTypes = map[string]string{
	"general":        models.ChannelGeneral,
	"feedIn":         models.ChannelFeedIn,
	"controlledLoad": models.ChannelControlledLoad,
}

// Interval is one upstream price interval, priced in cents.
type Interval struct {
	Type              string             `json:"type"`
	Duration          int                `json:"duration"`
	SpotPerKWh        *float64           `json:"spotPerKwh"`
	PerKWh            *float64           `json:"perKwh"`
	Date              string             `json:"date"`
	NEMTime           *time.Time         `json:"nemTime"`
	StartTime         time.Time          `json:"startTime"`
	EndTime           time.Time          `json:"endTime"`
	Renewables        *float64           `json:"renewables"`
	ChannelType       string             `json:"channelType"`
	TariffInformation *TariffInformation `json:"tariffInformation"`
	SpikeStatus       string             `json:"spikeStatus"`
	Descriptor        string             `json:"descriptor"`
	Estimate          *bool              `json:"estimate"`
	AdvancedPrice     *AdvancedPrice     `json:"advancedPrice"`
}

type TariffInformation struct {
	Period       string   `json:"period"`
	Season       string   `json:"season"`
	Block        *float64 `json:"block"`
	DemandWindow *bool    `json:"demandWindow"`
}

type AdvancedPrice struct {
	Low       float64 `json:"low"`
	Predicted float64 `json:"predicted"`
	High      float64 `json:"high"`
}

// Channel returns the internal channel name for the interval.
func (iv Interval) Channel() string {
	if c, ok := channelTypes[iv.ChannelType]; ok {
		return c
	}
	return iv.ChannelType
}

// CentsToDollars converts and rounds to 2 decimal places.
func CentsToDollars(cents *float64) *float64 {
	if cents == nil {
		return nil
	}
	v := math.Round(*cents) / 100
	return &v
}

// ToChannelPrice converts an interval under the given pricing mode.
// Forecast intervals are always estimates.
func (iv Interval) ToChannelPrice(mode string) models.ChannelPrice {
	price := iv.PerKWh
	if mode == models.PricingModeApp && iv.AdvancedPrice != nil {
		predicted := iv.AdvancedPrice.Predicted
		price = &predicted
	}

	estimate := true
	if iv.Type != typeForecast && iv.Estimate != nil {
		estimate = *iv.Estimate
	}

	cp := models.ChannelPrice{
		PerKWh:      CentsToDollars(price),
		SpotPerKWh:  CentsToDollars(iv.SpotPerKWh),
		StartTime:   iv.StartTime,
		EndTime:     iv.EndTime,
		NEMTime:     iv.NEMTime,
		Renewables:  iv.Renewables,
		Descriptor:  iv.Descriptor,
		SpikeStatus: iv.SpikeStatus,
		Estimate:    estimate,
	}
	if ap := iv.AdvancedPrice; ap != nil {
		cp.AdvancedPrice = &models.AdvancedPrice{
			Low:       *CentsToDollars(&ap.Low),
			Predicted: *CentsToDollars(&ap.Predicted),
			High:      *CentsToDollars(&ap.High),
		}
	}
	if t := iv.TariffInformation; t != nil {
		cp.DemandWindow = t.DemandWindow
		cp.TariffPeriod = t.Period
		cp.TariffSeason = t.Season
		cp.TariffBlock = t.Block
	}
	return cp
}

// ProcessIntervals splits a response into current prices per channel and,
// when withForecasts is set, start-ordered forecasts with the current
// interval first. Historical intervals are ignored.
func ProcessIntervals(intervals []Interval, mode string, withForecasts bool) models.PriceSnapshot {
	current := make(map[string]models.ChannelPrice)
	raw := make(map[string][]Interval)

	for _, iv := range intervals {
		ch := iv.Channel()
		if ch == "" {
			continue
		}
		switch iv.Type {
		case typeCurrent:
			current[ch] = iv.ToChannelPrice(mode)
		case typeForecast:
			raw[ch] = append(raw[ch], iv)
		}
	}

	snap := models.PriceSnapshot{Current: current}
	if !withForecasts {
		return snap
	}

	snap.Forecasts = make(map[string][]models.ChannelPrice)
	for ch, cp := range current {
		snap.Forecasts[ch] = append([]models.ChannelPrice{cp}, buildForecasts(raw[ch], mode)...)
	}
	for ch, ivs := range raw {
		if _, ok := current[ch]; !ok && len(ivs) > 0 {
			snap.Forecasts[ch] = buildForecasts(ivs, mode)
		}
	}
	return snap
}

func buildForecasts(ivs []Interval, mode string) []models.ChannelPrice {
	sorted := append([]Interval(nil), ivs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })
	out := make([]models.ChannelPrice, len(sorted))
	for i, iv := range sorted {
		out[i] = iv.ToChannelPrice(mode)
	}
	return out
}
