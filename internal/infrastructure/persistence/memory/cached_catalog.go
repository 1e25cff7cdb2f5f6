package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alem-hub/mastery-engine/internal/domain/catalog"
)

// CachedCatalog serves reads from an in-memory snapshot of a slower catalog
// (postgres) and refreshes it after ttl. Concurrent refreshes collapse into
// one List call.
type CachedCatalog struct {
	source catalog.Catalog
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	snapshot *Catalog
	loadedAt time.Time
}

var _ catalog.Catalog = (*CachedCatalog)(nil)

// NewCachedCatalog wraps source. ttl <= 0 means load once and keep.
func NewCachedCatalog(source catalog.Catalog, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{source: source, ttl: ttl, now: time.Now}
}

func (c *CachedCatalog) current(ctx context.Context) (*Catalog, error) {
	c.mu.RLock()
	snap, loadedAt := c.snapshot, c.loadedAt
	c.mu.RUnlock()

	if snap != nil && (c.ttl <= 0 || c.now().Sub(loadedAt) < c.ttl) {
		return snap, nil
	}

	v, err, _ := c.group.Do("catalog", func() (interface{}, error) {
		problems, err := c.source.List(ctx)
		if err != nil {
			return nil, err
		}
		fresh, err := NewCatalog(problems)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.snapshot, c.loadedAt = fresh, c.now()
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		// stale data beats no data
		if snap != nil {
			return snap, nil
		}
		return nil, err
	}
	return v.(*Catalog), nil
}

// Invalidate drops the snapshot; the next read reloads.
func (c *CachedCatalog) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.mu.Unlock()
}

// List implements catalog.Catalog.
func (c *CachedCatalog) List(ctx context.Context) ([]catalog.ProblemSummary, error) {
	snap, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return snap.List(ctx)
}

// Get implements catalog.Catalog.
func (c *CachedCatalog) Get(ctx context.Context, id string) (catalog.ProblemSummary, error) {
	snap, err := c.current(ctx)
	if err != nil {
		return catalog.ProblemSummary{}, err
	}
	return snap.Get(ctx, id)
}

// GetByIDs implements catalog.Catalog.
func (c *CachedCatalog) GetByIDs(ctx context.Context, ids []string) (map[string]catalog.ProblemSummary, error) {
	snap, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return snap.GetByIDs(ctx, ids)
}
