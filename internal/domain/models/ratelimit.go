package models

import "time"

// RateLimitInfo is the quota state reported by the upstream RateLimit headers.
type RateLimitInfo struct {
	Limit         int       `json:"limit"`
	Remaining     int       `json:"remaining"`
	ResetSeconds  int       `json:"reset_seconds"`
	WindowSeconds int       `json:"window_seconds"`
	Policy        string    `json:"policy"`
	ResetAt       time.Time `json:"reset_at"`
}
