package search

import (
	"context"
	"fmt"
	"time"

	"github.com/blueberrycongee/dinescout/internal/cache"
	"github.com/blueberrycongee/dinescout/pkg/types"
)

// Service is the cached search step.
type Service struct {
	provider Provider
	cache    *cache.Orchestrator[types.PlacesPage]
	keys     *cache.KeyGenerator
	timeout  time.Duration
}

// NewService creates a search service. Provider calls are bounded by timeout.
func NewService(provider Provider, orch *cache.Orchestrator[types.PlacesPage], keys *cache.KeyGenerator, timeout time.Duration) *Service {
	if keys == nil {
		keys = cache.NewKeyGenerator("")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{provider: provider, cache: orch, keys: keys, timeout: timeout}
}

// Key returns the cache key of q.
func (s *Service) Key(q types.SearchQuery) string {
	return s.keys.Generate(cache.KeyParams{
		Query:   q.Text,
		Lat:     q.Location.Lat,
		Lng:     q.Location.Lng,
		Place:   q.Location.Place,
		Filters: q.Filters,
	})
}

// Search returns the places for q, from cache when possible.
func (s *Service) Search(ctx context.Context, q types.SearchQuery) (types.PlacesPage, error) {
	page, err := s.cache.Get(ctx, s.Key(q), cache.TTLForQuery(q.Text), func(ctx context.Context) (types.PlacesPage, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.provider.Search(ctx, q)
	})
	if err != nil {
		return types.PlacesPage{}, fmt.Errorf("search places: %w", err)
	}
	return page, nil
}
