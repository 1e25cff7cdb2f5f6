package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/mastery-engine/internal/domain/catalog"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
)

// CatalogRepository implements catalog.Catalog over the problems table.
type CatalogRepository struct {
	conn *Connection
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

var _ catalog.Catalog = (*CatalogRepository)(nil)

func scanProblem(row pgx.CollectableRow) (catalog.ProblemSummary, error) {
	var (
		p          catalog.ProblemSummary
		difficulty string
	)
	err := row.Scan(&p.ID, &p.Category, &difficulty, &p.XPReward)
	p.Difficulty = catalog.Difficulty(difficulty)
	return p, err
}

// List implements catalog.Catalog.
func (r *CatalogRepository) List(ctx context.Context) ([]catalog.ProblemSummary, error) {
	rows, err := r.conn.Pool().Query(ctx, `SELECT id, category, difficulty, xp_reward FROM problems ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list problems: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanProblem)
	if err != nil {
		return nil, fmt.Errorf("failed to scan problems: %w", err)
	}
	return out, nil
}

// Get implements catalog.Catalog.
func (r *CatalogRepository) Get(ctx context.Context, id string) (catalog.ProblemSummary, error) {
	rows, err := r.conn.Pool().Query(ctx, `SELECT id, category, difficulty, xp_reward FROM problems WHERE id = $1`, id)
	if err != nil {
		return catalog.ProblemSummary{}, fmt.Errorf("failed to get problem: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProblem)
	if err != nil {
		if IsNoRows(err) {
			return catalog.ProblemSummary{}, shared.ErrProblemNotFound
		}
		return catalog.ProblemSummary{}, fmt.Errorf("failed to scan problem: %w", err)
	}
	return p, nil
}

// GetByIDs implements catalog.Catalog.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []string) (map[string]catalog.ProblemSummary, error) {
	out := make(map[string]catalog.ProblemSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.conn.Pool().Query(ctx, `SELECT id, category, difficulty, xp_reward FROM problems WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get problems: %w", err)
	}
	list, err := pgx.CollectRows(rows, scanProblem)
	if err != nil {
		return nil, fmt.Errorf("failed to scan problems: %w", err)
	}
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}

// Upsert imports problem summaries in one batch. Used to seed the table
// from the YAML catalog file.
func (r *CatalogRepository) Upsert(ctx context.Context, problems []catalog.ProblemSummary) error {
	batch := &pgx.Batch{}
	for _, p := range problems {
		if err := p.Validate(); err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO problems (id, category, difficulty, xp_reward)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				category = EXCLUDED.category,
				difficulty = EXCLUDED.difficulty,
				xp_reward = EXCLUDED.xp_reward
		`, p.ID, p.Category, string(p.Difficulty), p.XPReward)
	}

	if err := r.conn.Pool().SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert problems: %w", err)
	}
	return nil
}
