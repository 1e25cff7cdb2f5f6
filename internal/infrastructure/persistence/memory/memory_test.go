package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mastery-engine/internal/domain/catalog"
	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func TestLedgerRepository_SaveChecksVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository()
	require.NoError(t, repo.Create(ctx, progress.NewLedger("acc-1", now)))
	require.NoError(t, repo.Create(ctx, progress.NewLedger("acc-1", now)), "create is idempotent")

	prev, err := repo.Get(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), prev.Version)

	next, err := progress.ApplyReward(prev, progress.Reward{ProblemID: "p1", XP: 50}, now)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, prev, next, nil))

	// stale snapshot loses
	err = repo.Save(ctx, prev, next, nil)
	assert.ErrorIs(t, err, shared.ErrVersionConflict)
	assert.True(t, shared.IsConcurrencyConflict(err))

	got, err := repo.Get(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 50, got.TotalXP)
}

func TestLedgerRepository_MutationLog(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository()
	require.NoError(t, repo.Create(ctx, progress.NewLedger("acc-1", now)))

	prev, _ := repo.Get(ctx, "acc-1")
	next, _ := progress.ApplyReward(prev, progress.Reward{ProblemID: "p1", XP: 50}, now)
	m := &progress.AppliedMutation{MutationID: "m1", AccountID: "acc-1", Kind: progress.KindSolve, AppliedAt: now}
	require.NoError(t, repo.Save(ctx, prev, next, m))

	stored, err := repo.FindMutation(ctx, "acc-1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 50, stored.Result.TotalXP)
	assert.Equal(t, int64(2), stored.Result.Version)

	cur, _ := repo.Get(ctx, "acc-1")
	again, _ := progress.ApplyReward(cur, progress.Reward{ProblemID: "p1", XP: 50}, now)
	err = repo.Save(ctx, cur, again, m)
	assert.ErrorIs(t, err, progress.ErrDuplicateMutation)

	_, err = repo.FindMutation(ctx, "acc-1", "missing")
	assert.True(t, shared.IsNotFound(err))

	n, err := repo.PurgeMutations(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = repo.FindMutation(ctx, "acc-1", "m1")
	assert.True(t, shared.IsNotFound(err))
}

func TestLedgerRepository_UnknownAccount(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository()

	_, err := repo.Get(ctx, "ghost")
	assert.ErrorIs(t, err, shared.ErrAccountNotFound)

	l := progress.NewLedger("ghost", now)
	assert.ErrorIs(t, repo.Save(ctx, l, l, nil), shared.ErrAccountNotFound)
}

func TestLedgerRepository_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository()
	require.NoError(t, repo.Create(ctx, progress.NewLedger("acc-1", now)))

	l, _ := repo.Get(ctx, "acc-1")
	l.Mistakes["p9"] = progress.Mistake{ProblemID: "p9"}

	again, _ := repo.Get(ctx, "acc-1")
	assert.Empty(t, again.Mistakes)
}

type countingCatalog struct {
	*Catalog
	calls atomic.Int32
	fail  atomic.Bool
}

func (c *countingCatalog) List(ctx context.Context) ([]catalog.ProblemSummary, error) {
	c.calls.Add(1)
	if c.fail.Load() {
		return nil, errors.New("db down")
	}
	time.Sleep(5 * time.Millisecond)
	return c.Catalog.List(ctx)
}

func newCounting(t *testing.T) *countingCatalog {
	t.Helper()
	base, err := NewCatalog([]catalog.ProblemSummary{
		{ID: "b", Difficulty: catalog.DifficultyBeginner, XPReward: 10},
		{ID: "a", Difficulty: catalog.DifficultyAdvanced, XPReward: 300},
	})
	require.NoError(t, err)
	return &countingCatalog{Catalog: base}
}

func TestCachedCatalog_CollapsesLoads(t *testing.T) {
	src := newCounting(t)
	c := NewCachedCatalog(src, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), "a")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, src.calls.Load(), int32(2))

	list, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", list[0].ID)

	_, err = c.Get(context.Background(), "zzz")
	assert.ErrorIs(t, err, shared.ErrProblemNotFound)
}

func TestCachedCatalog_ExpiresAndServesStale(t *testing.T) {
	src := newCounting(t)
	c := NewCachedCatalog(src, time.Minute)
	clock := now
	c.now = func() time.Time { return clock }

	_, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())

	clock = clock.Add(2 * time.Minute)
	src.fail.Store(true)
	list, err := c.List(context.Background())
	require.NoError(t, err, "stale snapshot is served when reload fails")
	assert.Len(t, list, 2)
	assert.Equal(t, int32(2), src.calls.Load())

	c.Invalidate()
	_, err = c.List(context.Background())
	assert.Error(t, err)
}
