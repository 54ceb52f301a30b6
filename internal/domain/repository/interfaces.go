package repository

import (
	"context"

	"AmberPull/internal/domain/models"
)

// PriceAPI is the upstream REST price source.
type PriceAPI interface {
	FetchCurrentPrices(ctx context.Context, siteID string, next, resolution int) (*models.PriceFetch, error)
	FetchSites(ctx context.Context) ([]models.Site, error)
}

// PriceStream pushes current-interval prices until ctx is done.
type PriceStream interface {
	Run(ctx context.Context, onUpdate func(models.PriceSnapshot)) error
	IsConnected() bool
}

// ObservationStore persists the rolling observation window.
type ObservationStore interface {
	Load(ctx context.Context) ([]models.Observation, error)
	Save(ctx context.Context, observations []models.Observation) error
}

// PriceSink receives confirmed interval prices.
type PriceSink interface {
	Init(ctx context.Context) error
	Write(ctx context.Context, prices []models.ConfirmedPrice) error
	Close() error
}

type Metrics interface {
	RecordPoll(kind string)
	RecordRateLimited()
	RecordError(kind string)
	RecordConfirmation(delaySeconds float64)
	RecordBudget(k int)
	RecordSchedule(polls int)
	RecordObservations(n int)
	RecordLastPrice(channel string, price float64)
	RecordLatency(op string, seconds float64)
}
