package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mastery-engine/internal/domain/shared"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

func at(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

func TestLevelFor(t *testing.T) {
	cases := map[int]int{0: 1, 900: 1, 999: 1, 1000: 2, 1100: 2, 2500: 3, 10000: 11}
	for xp, want := range cases {
		assert.Equal(t, want, LevelFor(xp), "xp=%d", xp)
	}
	for xp := 0; xp < 5000; xp += 37 {
		assert.Equal(t, xp/1000+1, LevelFor(xp))
	}
}

func TestApplyReward_ScenarioA(t *testing.T) {
	l := NewLedger("acc-1", at(2023, 10, 1, 0))
	l.TotalXP = 900
	l.Level = 1
	l.CurrentStreak = 5
	l.LongestStreak = 5
	l.LastActiveDate = timeutil.Date(2023, 10, 14)

	next, err := ApplyReward(l, Reward{ProblemID: "p1", XP: 200}, at(2023, 10, 15, 9))
	require.NoError(t, err)

	assert.Equal(t, 1100, next.TotalXP)
	assert.Equal(t, 2, next.Level)
	assert.Equal(t, 6, next.CurrentStreak)
	assert.Equal(t, 6, next.LongestStreak)
	assert.Equal(t, timeutil.Date(2023, 10, 15), next.LastActiveDate)
	assert.Equal(t, 1, next.ProblemsSolved)
	assert.Equal(t, 200, next.WeeklyXP)
	assert.Equal(t, 200, next.XPBalance)
	require.Len(t, next.History, 1)
	assert.Equal(t, HistoryEntry{ProblemID: "p1", XPEarned: 200, CompletedAt: at(2023, 10, 15, 9)}, next.History[0])
	assert.NoError(t, next.CheckInvariants())

	// input untouched
	assert.Equal(t, 900, l.TotalXP)
	assert.Empty(t, l.History)
}

func TestApplyReward_ScenarioB_GapResets(t *testing.T) {
	l := NewLedger("acc-1", at(2023, 10, 1, 0))
	l.CurrentStreak = 10
	l.LongestStreak = 12
	l.LastActiveDate = timeutil.Date(2023, 10, 13)

	next, err := ApplyReward(l, Reward{ProblemID: "p1", XP: 10}, at(2023, 10, 15, 12))
	require.NoError(t, err)

	assert.Equal(t, 1, next.CurrentStreak)
	assert.Equal(t, 12, next.LongestStreak)
}

func TestApplyReward_SameDayKeepsStreak(t *testing.T) {
	l := NewLedger("acc-1", at(2023, 10, 1, 0))
	l.CurrentStreak = 3
	l.LongestStreak = 3
	l.LastActiveDate = timeutil.Date(2023, 10, 15)

	first, err := ApplyReward(l, Reward{ProblemID: "p1", XP: 10}, at(2023, 10, 15, 8))
	require.NoError(t, err)
	second, err := ApplyReward(first, Reward{ProblemID: "p2", XP: 10}, at(2023, 10, 15, 23))
	require.NoError(t, err)

	assert.Equal(t, 3, first.CurrentStreak)
	assert.Equal(t, 3, second.CurrentStreak)
	assert.Equal(t, 2, second.ProblemsSolved)
}

func TestApplyReward_ConsecutiveDays(t *testing.T) {
	l := NewLedger("acc-1", at(2023, 10, 1, 0))

	var err error
	for day := 10; day <= 12; day++ {
		l, err = ApplyReward(l, Reward{ProblemID: "p", XP: 5}, at(2023, 10, day, 20))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, l.CurrentStreak)
	assert.GreaterOrEqual(t, l.LongestStreak, 3)
}

func TestApplyReward_UTCMidnightBoundary(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)
	l := NewLedger("acc-1", at(2023, 10, 1, 0))

	// 23:30 UTC on the 14th and 00:30 UTC on the 15th: consecutive UTC days,
	// even though both are the 15th in Almaty.
	l, err := ApplyReward(l, Reward{ProblemID: "p1", XP: 1}, time.Date(2023, 10, 15, 4, 30, 0, 0, almaty))
	require.NoError(t, err)
	l, err = ApplyReward(l, Reward{ProblemID: "p2", XP: 1}, time.Date(2023, 10, 15, 5, 30, 0, 0, almaty))
	require.NoError(t, err)

	assert.Equal(t, 2, l.CurrentStreak)
	assert.Equal(t, timeutil.Date(2023, 10, 15), l.LastActiveDate)
}

func TestApplyReward_ClockSkewDoesNotMoveBackwards(t *testing.T) {
	l := NewLedger("acc-1", at(2023, 10, 1, 0))
	l.CurrentStreak = 4
	l.LongestStreak = 4
	l.LastActiveDate = timeutil.Date(2023, 10, 15)

	next, err := ApplyReward(l, Reward{ProblemID: "p1", XP: 10}, at(2023, 10, 13, 10))
	require.NoError(t, err)

	assert.Equal(t, 4, next.CurrentStreak)
	assert.Equal(t, timeutil.Date(2023, 10, 15), next.LastActiveDate)
	assert.Equal(t, 10, next.TotalXP)
}

func TestApplyReward_Validation(t *testing.T) {
	l := NewLedger("acc-1", at(2023, 10, 1, 0))

	_, err := ApplyReward(l, Reward{ProblemID: "p1", XP: -1}, at(2023, 10, 2, 0))
	assert.True(t, shared.IsValidation(err))

	_, err = ApplyReward(l, Reward{XP: 10}, at(2023, 10, 2, 0))
	assert.True(t, shared.IsValidation(err))

	_, err = ApplyReward(l, Reward{ProblemID: "p1", XP: 1, TimeSpentMinutes: -5}, at(2023, 10, 2, 0))
	assert.True(t, shared.IsValidation(err))
}

func TestPurchase(t *testing.T) {
	l := NewLedger("acc-1", at(2023, 10, 1, 0))
	l, err := ApplyReward(l, Reward{ProblemID: "p1", XP: 300}, at(2023, 10, 2, 0))
	require.NoError(t, err)

	l, err = Purchase(l, "theme-dark", 120, at(2023, 10, 2, 1))
	require.NoError(t, err)
	l, err = Purchase(l, "avatar-cat", 100, at(2023, 10, 2, 2))
	require.NoError(t, err)

	assert.Equal(t, 80, l.XPBalance)
	assert.Equal(t, 300, l.TotalXP)
	assert.Equal(t, []string{"avatar-cat", "theme-dark"}, l.PurchasedItemIDs)

	_, err = Purchase(l, "theme-dark", 0, at(2023, 10, 2, 3))
	assert.ErrorIs(t, err, shared.ErrItemAlreadyOwned)
	assert.True(t, shared.IsValidation(err))

	_, err = Purchase(l, "badge", 81, at(2023, 10, 2, 3))
	assert.ErrorIs(t, err, shared.ErrInsufficientBalance)
}

func TestCloseWeek(t *testing.T) {
	monday := timeutil.Date(2024, 3, 4)
	l := NewLedger("acc-1", monday)
	l.CurrentLeague = LeagueSilver
	l.WeeklyXP = 650

	// still the same week
	same, changed := CloseWeek(l, monday.Add(72*time.Hour))
	assert.False(t, changed)
	assert.Equal(t, 650, same.WeeklyXP)

	next, changed := CloseWeek(l, monday.AddDate(0, 0, 7))
	require.True(t, changed)
	assert.Equal(t, LeagueGold, next.CurrentLeague)
	assert.Zero(t, next.WeeklyXP)
	assert.Equal(t, timeutil.Date(2024, 3, 11), next.WeekStart)

	// idle week demotes
	idle, changed := CloseWeek(next, monday.AddDate(0, 0, 14))
	require.True(t, changed)
	assert.Equal(t, LeagueSilver, idle.CurrentLeague)

	// bounds
	assert.Equal(t, LeagueMaster, LeagueMaster.Promote())
	assert.Equal(t, LeagueBronze, LeagueBronze.Demote())
}

func TestApplyReward_RollsStaleWeek(t *testing.T) {
	monday := timeutil.Date(2024, 3, 4)
	l := NewLedger("acc-1", monday)
	l.CurrentLeague = LeagueSilver
	l.WeeklyXP = 650

	// same week accumulates
	same, err := ApplyReward(l, Reward{ProblemID: "p1", XP: 50}, monday.Add(30*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 700, same.WeeklyXP)
	assert.Equal(t, LeagueSilver, same.CurrentLeague)

	// no worker closed the week: the first reward of the new week does it
	solvedAt := monday.AddDate(0, 0, 8).Add(9 * time.Hour)
	next, err := ApplyReward(same, Reward{ProblemID: "p2", XP: 40}, solvedAt)
	require.NoError(t, err)
	assert.Equal(t, LeagueGold, next.CurrentLeague)
	assert.Equal(t, 40, next.WeeklyXP)
	assert.Equal(t, timeutil.Date(2024, 3, 11), next.WeekStart)
	assert.Equal(t, 740, next.TotalXP)

	var changed, gained bool
	for _, e := range Events(same, next, solvedAt) {
		switch ev := e.(type) {
		case shared.LeagueChangedEvent:
			changed = true
		case shared.XPGainedEvent:
			gained = true
			assert.Equal(t, next.WeekStart, ev.WeekStart)
			assert.Equal(t, 40, ev.WeeklyXP)
		}
	}
	assert.True(t, changed)
	assert.True(t, gained)

	// the worker's close for that week is now a no-op
	_, closed := CloseWeek(next, solvedAt.Add(time.Hour))
	assert.False(t, closed)
}

func TestEvents(t *testing.T) {
	l := NewLedger("acc-1", at(2023, 10, 1, 0))
	l.TotalXP = 950
	l.Level = 1

	next, err := ApplyReward(l, Reward{ProblemID: "p1", XP: 100}, at(2023, 10, 2, 0))
	require.NoError(t, err)

	var types []shared.EventType
	for _, e := range Events(l, next, at(2023, 10, 2, 0)) {
		types = append(types, e.EventType())
	}
	assert.Equal(t, []shared.EventType{shared.EventXPGained, shared.EventLevelUp, shared.EventStreakUpdated}, types)
}
