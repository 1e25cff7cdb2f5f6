package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/mastery-engine/internal/domain/sprint"
)

// SprintCache memoises daily sprints. Implements query.SprintCache.
type SprintCache struct {
	cache *Cache
}

// NewSprintCache creates a new SprintCache.
func NewSprintCache(cache *Cache) *SprintCache {
	return &SprintCache{cache: cache}
}

// Get returns the cached sprint, ok=false on miss.
func (s *SprintCache) Get(ctx context.Context, accountID string, day time.Time) ([]sprint.Item, bool, error) {
	var items []sprint.Item
	err := s.cache.Get(ctx, SprintKey(accountID, day), &items)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return items, true, nil
}

// Set stores the sprint for the day.
func (s *SprintCache) Set(ctx context.Context, accountID string, day time.Time, items []sprint.Item) error {
	return s.cache.Set(ctx, SprintKey(accountID, day), items, TTLSprint)
}
