package memory

import (
	"context"
	"sort"

	"github.com/alem-hub/mastery-engine/internal/domain/catalog"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
)

// Catalog is an immutable in-memory problem catalog.
type Catalog struct {
	byID   map[string]catalog.ProblemSummary
	sorted []catalog.ProblemSummary
}

var _ catalog.Catalog = (*Catalog)(nil)

// NewCatalog validates and indexes the given problems. Later duplicates
// replace earlier ones.
func NewCatalog(problems []catalog.ProblemSummary) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]catalog.ProblemSummary, len(problems))}
	for _, p := range problems {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		c.byID[p.ID] = p
	}
	c.sorted = make([]catalog.ProblemSummary, 0, len(c.byID))
	for _, p := range c.byID {
		c.sorted = append(c.sorted, p)
	}
	sort.Slice(c.sorted, func(i, j int) bool { return c.sorted[i].ID < c.sorted[j].ID })
	return c, nil
}

// List implements catalog.Catalog.
func (c *Catalog) List(ctx context.Context) ([]catalog.ProblemSummary, error) {
	out := make([]catalog.ProblemSummary, len(c.sorted))
	copy(out, c.sorted)
	return out, nil
}

// Get implements catalog.Catalog.
func (c *Catalog) Get(ctx context.Context, id string) (catalog.ProblemSummary, error) {
	p, ok := c.byID[id]
	if !ok {
		return catalog.ProblemSummary{}, shared.ErrProblemNotFound
	}
	return p, nil
}

// GetByIDs implements catalog.Catalog.
func (c *Catalog) GetByIDs(ctx context.Context, ids []string) (map[string]catalog.ProblemSummary, error) {
	out := make(map[string]catalog.ProblemSummary, len(ids))
	for _, id := range ids {
		if p, ok := c.byID[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
