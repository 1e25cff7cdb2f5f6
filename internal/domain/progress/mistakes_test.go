package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mastery-engine/internal/domain/shared"
)

func TestRegisterMistake_FirstAndRepeat(t *testing.T) {
	now := at(2024, 3, 10, 12)
	l := NewLedger("acc-1", now)

	first, err := RegisterMistake(l, "p1", now)
	require.NoError(t, err)
	m1 := first.Mistakes["p1"]
	assert.Equal(t, 1, m1.RetryCount)
	assert.Equal(t, now.AddDate(0, 0, 1), m1.NextRetryAt)

	second, err := RegisterMistake(first, "p1", now)
	require.NoError(t, err)
	m2 := second.Mistakes["p1"]
	assert.Equal(t, 2, m2.RetryCount)
	assert.True(t, m2.NextRetryAt.After(m1.NextRetryAt))
	assert.Equal(t, now.AddDate(0, 0, 4), m2.NextRetryAt)

	third, err := RegisterMistake(second, "p1", now.AddDate(0, 0, 4))
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, 4+8), third.Mistakes["p1"].NextRetryAt)

	assert.Empty(t, l.Mistakes, "input must not be mutated")
}

func TestRegisterMistake_StrictlyIncreasingOutOfOrder(t *testing.T) {
	now := at(2024, 3, 10, 12)
	l, err := RegisterMistake(NewLedger("acc-1", now), "p1", now)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		l, err = RegisterMistake(l, "p1", now.AddDate(0, 0, 10))
		require.NoError(t, err)
	}
	before := l.Mistakes["p1"]

	// a replayed failure stamped far in the past must still push the date forward
	after, err := RegisterMistake(l, "p1", now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.True(t, after.Mistakes["p1"].NextRetryAt.After(before.NextRetryAt))
	assert.Equal(t, before.RetryCount+1, after.Mistakes["p1"].RetryCount)
}

func TestRegisterMistake_NextRetryStrictlyIncreases(t *testing.T) {
	now := at(2024, 3, 10, 12)
	l := NewLedger("acc-1", now)

	var prev time.Time
	for i := 1; i <= 6; i++ {
		var err error
		l, err = RegisterMistake(l, "p1", now)
		require.NoError(t, err)
		m := l.Mistakes["p1"]
		assert.Equal(t, i, m.RetryCount)
		assert.True(t, m.NextRetryAt.After(prev), "failure %d", i)
		assert.True(t, m.NextRetryAt.After(now))
		prev = m.NextRetryAt
	}
}

func TestRegisterMistake_IntervalCap(t *testing.T) {
	assert.Equal(t, 1, RetryIntervalDays(1))
	assert.Equal(t, 4, RetryIntervalDays(2))
	assert.Equal(t, 8, RetryIntervalDays(3))
	assert.Equal(t, 1<<12, RetryIntervalDays(40))
}

func TestResolveMistake(t *testing.T) {
	now := at(2024, 3, 10, 12)
	l, err := RegisterMistake(NewLedger("acc-1", now), "p1", now)
	require.NoError(t, err)
	l, err = RegisterMistake(l, "p2", now)
	require.NoError(t, err)

	resolved, err := ResolveMistake(l, "p1")
	require.NoError(t, err)
	assert.NotContains(t, resolved.Mistakes, "p1")
	for _, m := range DueMistakes(resolved, now.AddDate(1, 0, 0)) {
		assert.NotEqual(t, "p1", m.ProblemID)
	}

	// absent id is a no-op
	same, err := ResolveMistake(resolved, "missing")
	require.NoError(t, err)
	assert.Len(t, same.Mistakes, 1)

	_, err = ResolveMistake(resolved, "")
	assert.True(t, shared.IsValidation(err))
}

func TestDueMistakes_OrderAndExclusion(t *testing.T) {
	now := at(2024, 3, 10, 12)
	l := NewLedger("acc-1", now)
	l.Mistakes = map[string]Mistake{
		"late":   {ProblemID: "late", RetryCount: 1, NextRetryAt: now.Add(-1 * time.Hour)},
		"oldest": {ProblemID: "oldest", RetryCount: 3, NextRetryAt: now.Add(-72 * time.Hour)},
		"exact":  {ProblemID: "exact", RetryCount: 1, NextRetryAt: now},
		"future": {ProblemID: "future", RetryCount: 2, NextRetryAt: now.Add(time.Minute)},
	}

	due := DueMistakes(l, now)
	ids := make([]string, 0, len(due))
	for _, m := range due {
		ids = append(ids, m.ProblemID)
	}
	assert.Equal(t, []string{"oldest", "late", "exact"}, ids)

	assert.Len(t, MistakeBank(l), 4)
	assert.Equal(t, "future", MistakeBank(l)[3].ProblemID)
}

func TestDiff(t *testing.T) {
	now := at(2024, 3, 10, 12)
	prev, err := RegisterMistake(NewLedger("acc-1", now), "p1", now)
	require.NoError(t, err)
	prev, err = RegisterMistake(prev, "p2", now)
	require.NoError(t, err)

	next, err := ApplyReward(prev, Reward{ProblemID: "p1", XP: 10}, now)
	require.NoError(t, err)
	next, err = ResolveMistake(next, "p1")
	require.NoError(t, err)
	next, err = RegisterMistake(next, "p2", now)
	require.NoError(t, err)

	c := Diff(prev, next)
	require.Len(t, c.NewHistory, 1)
	assert.Equal(t, "p1", c.NewHistory[0].ProblemID)
	require.Len(t, c.UpsertedMistakes, 1)
	assert.Equal(t, "p2", c.UpsertedMistakes[0].ProblemID)
	assert.Equal(t, []string{"p1"}, c.RemovedMistakes)
}
