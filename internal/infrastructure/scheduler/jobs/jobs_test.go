package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mastery-engine/internal/application/command"
	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/mastery-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/mastery-engine/pkg/logger"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

// Monday of the following week.
var monday = time.Date(2024, 3, 11, 0, 5, 0, 0, time.UTC)

func seedLedger(t *testing.T, repo *memory.LedgerRepository, id string, weeklyXP int) {
	t.Helper()
	l := progress.NewLedger(id, monday.AddDate(0, 0, -6))
	if weeklyXP > 0 {
		var err error
		l, err = progress.ApplyReward(l, progress.Reward{ProblemID: "p", XP: weeklyXP}, monday.AddDate(0, 0, -1))
		require.NoError(t, err)
	}
	require.NoError(t, repo.Create(context.Background(), l))
}

func TestCloseLeagueWeekJob(t *testing.T) {
	repo := memory.NewLedgerRepository()
	seedLedger(t, repo, "winner", 800)
	seedLedger(t, repo, "steady", 200)
	seedLedger(t, repo, "idle", 0)

	clock := timeutil.FixedClock{T: monday}
	mutator := command.NewLedgerMutator(repo, messaging.NopPublisher{}, clock, logger.Nop(), command.LedgerMutatorConfig{})
	job := NewCloseLeagueWeekJob(
		command.NewCloseLeagueWeekHandler(repo, mutator, logger.Nop()),
		DefaultCloseLeagueWeekConfig(),
	)

	assert.Equal(t, "close_league_week", job.Name())
	require.NoError(t, job.Run(context.Background()))

	winner, _ := repo.Get(context.Background(), "winner")
	assert.Equal(t, progress.LeagueSilver, winner.CurrentLeague)
	assert.Zero(t, winner.WeeklyXP)

	steady, _ := repo.Get(context.Background(), "steady")
	assert.Equal(t, progress.LeagueBronze, steady.CurrentLeague)

	// rerun within the same week changes nothing
	require.NoError(t, job.Run(context.Background()))
	again, _ := repo.Get(context.Background(), "winner")
	assert.Equal(t, winner.Version, again.Version)
}

func TestPurgeMutationsJob(t *testing.T) {
	repo := memory.NewLedgerRepository()
	seedLedger(t, repo, "acc", 0)

	ctx := context.Background()
	prev, _ := repo.Get(ctx, "acc")
	next, _ := progress.ApplyReward(prev, progress.Reward{ProblemID: "p", XP: 10}, monday)
	require.NoError(t, repo.Save(ctx, prev, next, &progress.AppliedMutation{
		MutationID: "old", AccountID: "acc", Kind: progress.KindSolve, AppliedAt: monday.AddDate(0, 0, -60),
	}))

	handler := command.NewPurgeMutationsHandler(repo, timeutil.FixedClock{T: monday}, 30*24*time.Hour, logger.Nop())
	require.NoError(t, NewPurgeMutationsJob(handler).Run(ctx))

	_, err := repo.FindMutation(ctx, "acc", "old")
	assert.Error(t, err)
}
