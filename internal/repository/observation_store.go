package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AmberPull/internal/domain/models"
	domrepo "AmberPull/internal/domain/repository"
	"AmberPull/internal/services/polling"
	"AmberPull/pkg/cache"
	applogger "AmberPull/pkg/logger"
)

const observationStoreVersion = 1

type storedObservations struct {
	Version      int                  `json:"version"`
	SavedAt      time.Time            `json:"saved_at"`
	Observations []models.Observation `json:"observations"`
}

// CacheObservationStore implements ObservationStore on top of cache.Service,
// so it runs against Redis or the in-memory cache alike.
type CacheObservationStore struct {
	cache cache.Service
	key   string
	ttl   time.Duration
	now   func() time.Time
	l     *applogger.Logger
}

var _ domrepo.ObservationStore = (*CacheObservationStore)(nil)

type ObservationStoreOption func(*CacheObservationStore)

// WithObservationTTL expires the stored window; zero keeps it forever.
func WithObservationTTL(ttl time.Duration) ObservationStoreOption {
	return func(s *CacheObservationStore) { s.ttl = ttl }
}

func WithObservationLogger(l *applogger.Logger) ObservationStoreOption {
	return func(s *CacheObservationStore) { s.l = l }
}

func NewObservationStore(c cache.Service, siteID string, opts ...ObservationStoreOption) *CacheObservationStore {
	s := &CacheObservationStore{
		cache: c,
		key:   ObservationKey(siteID),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.l = applogger.OrNop(s.l).With("observation_store")
	return s
}

// ObservationKey is the cache key for a site's observation window.
func ObservationKey(siteID string) string {
	return cache.GenerateKey("cdf_observations", siteID)
}

// Key is the cache key holding this site's window.
func (s *CacheObservationStore) Key() string { return s.key }

// Load returns the persisted window, or the cold-start corpus when nothing
// usable is stored. Invalid entries are dropped.
func (s *CacheObservationStore) Load(ctx context.Context) ([]models.Observation, error) {
	var doc storedObservations
	err := s.cache.Get(ctx, s.key, &doc)
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		s.l.Info("no stored observations, using cold start")
		return polling.ColdStartObservations(), nil
	case err != nil:
		return nil, fmt.Errorf("load observations: %w", err)
	}
	if doc.Version != observationStoreVersion {
		s.l.Warn("unsupported observation store version, using cold start",
			applogger.Int("version", doc.Version))
		return polling.ColdStartObservations(), nil
	}

	out := make([]models.Observation, 0, len(doc.Observations))
	for _, o := range doc.Observations {
		if o.Validate() != nil {
			continue
		}
		out = append(out, o)
	}
	if dropped := len(doc.Observations) - len(out); dropped > 0 {
		s.l.Warn("dropped invalid stored observations", applogger.Int("dropped", dropped))
	}
	if len(out) == 0 {
		return polling.ColdStartObservations(), nil
	}
	s.l.Debug("loaded observations", applogger.Int("count", len(out)))
	return out, nil
}

// Save replaces the stored window.
func (s *CacheObservationStore) Save(ctx context.Context, observations []models.Observation) error {
	doc := storedObservations{
		Version:      observationStoreVersion,
		SavedAt:      s.now().UTC(),
		Observations: observations,
	}
	if doc.Observations == nil {
		doc.Observations = []models.Observation{}
	}
	if err := s.cache.Set(ctx, s.key, doc, s.ttl); err != nil {
		return fmt.Errorf("save observations: %w", err)
	}
	return nil
}
