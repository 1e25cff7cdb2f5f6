package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mastery-engine/internal/domain/catalog"
	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
	"github.com/alem-hub/mastery-engine/internal/domain/sprint"
	"github.com/alem-hub/mastery-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/mastery-engine/pkg/logger"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T) (*memory.LedgerRepository, *memory.Catalog) {
	t.Helper()
	problems, err := memory.NewCatalog([]catalog.ProblemSummary{
		{ID: "p1", Category: "arrays", Difficulty: catalog.DifficultyBeginner, XPReward: 50},
		{ID: "p2", Category: "graphs", Difficulty: catalog.DifficultyIntermediate, XPReward: 100},
		{ID: "p3", Category: "dp", Difficulty: catalog.DifficultyAdvanced, XPReward: 300},
		{ID: "p4", Category: "dp", Difficulty: catalog.DifficultyAdvanced, XPReward: 300},
		{ID: "p5", Category: "strings", Difficulty: catalog.DifficultyBeginner, XPReward: 50},
	})
	require.NoError(t, err)

	l := progress.NewLedger("acc-1", now.AddDate(0, 0, -10))
	l, err = progress.ApplyReward(l, progress.Reward{ProblemID: "p1", XP: 50}, now.AddDate(0, 0, -3))
	require.NoError(t, err)
	l, err = progress.RegisterMistake(l, "p2", now.AddDate(0, 0, -2)) // due yesterday
	require.NoError(t, err)
	l, err = progress.RegisterMistake(l, "p3", now) // due tomorrow
	require.NoError(t, err)
	l, err = progress.RegisterMistake(l, "gone", now.AddDate(0, 0, -5)) // removed from catalog
	require.NoError(t, err)

	repo := memory.NewLedgerRepository()
	require.NoError(t, repo.Create(context.Background(), l))
	return repo, problems
}

func TestGetMistakeBank(t *testing.T) {
	repo, problems := seed(t)
	h := NewGetMistakeBankHandler(repo, problems, timeutil.FixedClock{T: now})

	view, err := h.Handle(context.Background(), GetMistakeBankQuery{AccountID: "acc-1"})
	require.NoError(t, err)

	require.Len(t, view.Items, 3)
	assert.Equal(t, "gone", view.Items[0].Problem.ID)
	assert.Empty(t, view.Items[0].Problem.Category)
	assert.Equal(t, "p2", view.Items[1].Problem.ID)
	assert.Equal(t, "graphs", view.Items[1].Problem.Category)
	assert.Equal(t, "p3", view.Items[2].Problem.ID)
	assert.False(t, view.Items[2].Due)
	assert.Equal(t, 2, view.ReadyCount)

	due, err := h.Handle(context.Background(), GetMistakeBankQuery{AccountID: "acc-1", OnlyDue: true})
	require.NoError(t, err)
	assert.Len(t, due.Items, 2)
	assert.Equal(t, 2, due.ReadyCount)

	_, err = h.Handle(context.Background(), GetMistakeBankQuery{AccountID: "nobody"})
	assert.True(t, shared.IsNotFound(err))
}

type mapSprintCache struct {
	items  map[string][]sprint.Item
	getErr error
	sets   int
}

func (c *mapSprintCache) key(id string, day time.Time) string { return id + "/" + timeutil.FormatDate(day) }

func (c *mapSprintCache) Get(_ context.Context, id string, day time.Time) ([]sprint.Item, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.items[c.key(id, day)]
	return v, ok, nil
}

func (c *mapSprintCache) Set(_ context.Context, id string, day time.Time, items []sprint.Item) error {
	c.sets++
	c.items[c.key(id, day)] = items
	return nil
}

func TestGetDailySprint(t *testing.T) {
	repo, problems := seed(t)
	cache := &mapSprintCache{items: map[string][]sprint.Item{}}
	h := NewGetDailySprintHandler(repo, problems, cache, timeutil.FixedClock{T: now}, logger.Nop())

	first, err := h.Handle(context.Background(), GetDailySprintQuery{AccountID: "acc-1"})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	require.Len(t, first.Items, 4)
	assert.Equal(t, sprint.TagReview, first.Items[2].Tag)
	assert.Equal(t, "p1", first.Items[2].Problem.ID)
	assert.Equal(t, timeutil.Date(2024, 3, 10), first.Date)

	second, err := h.Handle(context.Background(), GetDailySprintQuery{AccountID: "acc-1"})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, 1, cache.sets)
}

func TestGetDailySprint_CacheFailureFallsBack(t *testing.T) {
	repo, problems := seed(t)
	cache := &mapSprintCache{items: map[string][]sprint.Item{}, getErr: errors.New("redis down")}
	h := NewGetDailySprintHandler(repo, problems, cache, timeutil.FixedClock{T: now}, logger.Nop())

	view, err := h.Handle(context.Background(), GetDailySprintQuery{AccountID: "acc-1"})
	require.NoError(t, err)
	assert.Len(t, view.Items, 4)

	// without any cache the result is identical: the sprint is seeded per account and day
	plain := NewGetDailySprintHandler(repo, problems, nil, timeutil.FixedClock{T: now.Add(6 * time.Hour)}, logger.Nop())
	again, err := plain.Handle(context.Background(), GetDailySprintQuery{AccountID: "acc-1"})
	require.NoError(t, err)
	assert.Equal(t, view.Items, again.Items)
}

type fakeBoard struct {
	rows []progress.Standing
}

func (b *fakeBoard) Top(_ context.Context, n int, _ time.Time) ([]progress.Standing, error) {
	if n > len(b.rows) {
		n = len(b.rows)
	}
	return b.rows[:n], nil
}

func (b *fakeBoard) Rank(_ context.Context, id string, _ time.Time) (progress.Standing, bool, error) {
	for _, r := range b.rows {
		if r.AccountID == id {
			return r, true, nil
		}
	}
	return progress.Standing{}, false, nil
}

func TestGetLeagueStandings(t *testing.T) {
	board := &fakeBoard{rows: []progress.Standing{
		{AccountID: "a", WeeklyXP: 900, Rank: 1},
		{AccountID: "b", WeeklyXP: 400, Rank: 2},
		{AccountID: "c", WeeklyXP: 50, Rank: 3},
	}}
	h := NewGetLeagueStandingsHandler(board, timeutil.FixedClock{T: now})

	view, err := h.Handle(context.Background(), GetLeagueStandingsQuery{AccountID: "c", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, view.Top, 2)
	require.NotNil(t, view.Self)
	assert.Equal(t, int64(3), view.Self.Rank)
	assert.Equal(t, timeutil.Date(2024, 3, 4), view.WeekStart)

	view, err = h.Handle(context.Background(), GetLeagueStandingsQuery{AccountID: "zzz"})
	require.NoError(t, err)
	assert.Len(t, view.Top, 3)
	assert.Nil(t, view.Self)

	_, err = h.Handle(context.Background(), GetLeagueStandingsQuery{Limit: -1})
	assert.True(t, shared.IsValidation(err))
}
