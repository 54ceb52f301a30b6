package models

// Requests for diagnostics HTTP endpoints.

type ObservationsRequest struct {
	Limit int `query:"limit" json:"limit" default:"20" validate:"gte=1,lte=100"`
}

type CurrentPriceRequest struct {
	Channel   string `query:"channel" json:"channel" validate:"omitempty,oneof=general feed_in controlled_load"`
	Forecasts bool   `query:"forecasts" json:"forecasts"`
}
