package sprint

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mastery-engine/internal/domain/catalog"
)

func problem(id string, d catalog.Difficulty) catalog.ProblemSummary {
	return catalog.ProblemSummary{ID: id, Category: "arrays", Difficulty: d, XPReward: 50}
}

func solvedSet(ids ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func tags(items []Item) []Tag {
	out := make([]Tag, 0, len(items))
	for _, it := range items {
		out = append(out, it.Tag)
	}
	return out
}

func TestCompose_FullSprint(t *testing.T) {
	problems := []catalog.ProblemSummary{
		problem("b1", catalog.DifficultyBeginner),
		problem("b2", catalog.DifficultyBeginner),
		problem("i1", catalog.DifficultyIntermediate),
		problem("a1", catalog.DifficultyAdvanced),
		problem("s1", catalog.DifficultyBeginner),
	}

	for seed := uint64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed))
		items := Compose(problems, solvedSet("s1"), rng)

		require.Len(t, items, 4)
		assert.Equal(t, []Tag{TagNew, TagNew, TagReview, TagChallenge}, tags(items))
		assert.Equal(t, "s1", items[2].Problem.ID)

		ids := map[string]bool{}
		for _, it := range items {
			assert.False(t, ids[it.Problem.ID], "duplicate %s", it.Problem.ID)
			ids[it.Problem.ID] = true
		}

		// a1 is the only advanced problem: if it was not drawn as "new", it is the challenge
		if items[0].Problem.ID != "a1" && items[1].Problem.ID != "a1" {
			assert.Equal(t, "a1", items[3].Problem.ID)
		}
	}
}

func TestCompose_ChallengeFallsBackToAnyUnseen(t *testing.T) {
	problems := []catalog.ProblemSummary{
		problem("b1", catalog.DifficultyBeginner),
		problem("b2", catalog.DifficultyBeginner),
		problem("b3", catalog.DifficultyBeginner),
	}

	items := Compose(problems, nil, rand.New(rand.NewPCG(1, 2)))
	require.Len(t, items, 3)
	assert.Equal(t, []Tag{TagNew, TagNew, TagChallenge}, tags(items))
}

func TestCompose_DegradesGracefully(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))

	assert.Empty(t, Compose(nil, nil, rng))

	onlySeen := []catalog.ProblemSummary{problem("s1", catalog.DifficultyAdvanced), problem("s2", catalog.DifficultyBeginner)}
	items := Compose(onlySeen, solvedSet("s1", "s2"), rng)
	require.Len(t, items, 1)
	assert.Equal(t, TagReview, items[0].Tag)

	single := []catalog.ProblemSummary{problem("x", catalog.DifficultyAdvanced)}
	items = Compose(single, nil, rng)
	require.Len(t, items, 1)
	assert.Equal(t, TagNew, items[0].Tag)
}

func TestCompose_DuplicateCatalogEntries(t *testing.T) {
	p := problem("dup", catalog.DifficultyAdvanced)
	items := Compose([]catalog.ProblemSummary{p, p, p}, nil, rand.New(rand.NewPCG(3, 3)))
	assert.Len(t, items, 1)
}

func TestCompose_NeverMoreThanFourAndNoDuplicates(t *testing.T) {
	var problems []catalog.ProblemSummary
	for i := 0; i < 40; i++ {
		d := []catalog.Difficulty{catalog.DifficultyBeginner, catalog.DifficultyIntermediate, catalog.DifficultyAdvanced}[i%3]
		problems = append(problems, problem(fmt.Sprintf("p%02d", i), d))
	}
	solved := solvedSet("p01", "p05", "p09", "p33")

	for seed := uint64(0); seed < 200; seed++ {
		items := Compose(problems, solved, rand.New(rand.NewPCG(seed, 99)))
		require.LessOrEqual(t, len(items), MaxItems)

		seen := map[string]bool{}
		for _, it := range items {
			require.False(t, seen[it.Problem.ID])
			seen[it.Problem.ID] = true
		}
		assert.Equal(t, catalog.DifficultyAdvanced, items[3].Problem.Difficulty)
	}
}

func TestSeedFor_StablePerDay(t *testing.T) {
	morning := time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	tomorrow := time.Date(2024, 3, 11, 0, 0, 1, 0, time.UTC)

	assert.Equal(t, SeedFor("acc-1", morning), SeedFor("acc-1", evening))
	assert.NotEqual(t, SeedFor("acc-1", morning), SeedFor("acc-1", tomorrow))
	assert.NotEqual(t, SeedFor("acc-1", morning), SeedFor("acc-2", morning))

	problems := []catalog.ProblemSummary{
		problem("a", catalog.DifficultyBeginner), problem("b", catalog.DifficultyBeginner),
		problem("c", catalog.DifficultyAdvanced), problem("d", catalog.DifficultyAdvanced),
		problem("e", catalog.DifficultyIntermediate),
	}
	first := Compose(problems, nil, NewDailyRand("acc-1", morning))
	second := Compose(problems, nil, NewDailyRand("acc-1", evening))
	assert.Equal(t, first, second)
}
