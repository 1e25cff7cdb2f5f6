package progress

import (
	"time"

	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK / LEVEL CALCULATOR
// ══════════════════════════════════════════════════════════════════════════════

// Reward - результат успешного решения задачи.
type Reward struct {
	ProblemID        string
	XP               int
	TimeSpentMinutes int
}

// Validate проверяет награду до любых изменений.
func (r Reward) Validate() error {
	if r.ProblemID == "" {
		return errEmpty("ApplyReward", "problemId")
	}
	if r.XP < 0 {
		return errNegative("ApplyReward", "xpDelta")
	}
	if r.TimeSpentMinutes < 0 {
		return errNegative("ApplyReward", "timeSpentMinutes")
	}
	return nil
}

// ApplyReward начисляет награду и пересчитывает уровень и серию.
// Даты сравниваются как календарные дни UTC. Вход не изменяется.
//
// Если неделя лиги уже сменилась, а закрытие ещё не прошло, неделя
// закрывается здесь же (CloseWeek), и награда идёт в XP новой недели.
func ApplyReward(l Ledger, r Reward, now time.Time) (Ledger, error) {
	if err := r.Validate(); err != nil {
		return l, err
	}
	now = now.UTC()

	next := l.Clone()
	if !l.WeekStart.IsZero() {
		if rolled, closed := CloseWeek(l, now); closed {
			next = rolled
		}
	}
	next.TotalXP += r.XP
	next.Level = LevelFor(next.TotalXP)
	next.WeeklyXP += r.XP
	next.XPBalance += r.XP
	next.ProblemsSolved++
	next.TimeSpentMinutes += r.TimeSpentMinutes
	next.History = append(next.History, HistoryEntry{
		ProblemID:   r.ProblemID,
		XPEarned:    r.XP,
		CompletedAt: now,
	})

	next.CurrentStreak, next.LastActiveDate = advanceStreak(l.CurrentStreak, l.LastActiveDate, now)
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}

	next.UpdatedAt = now
	return next, nil
}

// advanceStreak возвращает новую серию и дату последней активности.
//
// Тот же день - без изменений; следующий день - +1; разрыв или первая
// активность - 1. Если now раньше lastActive (рассинхрон часов), серия и
// дата не трогаются: дата последней активности никогда не идёт назад.
func advanceStreak(current int, lastActive, now time.Time) (int, time.Time) {
	today := timeutil.DateOf(now)
	if lastActive.IsZero() {
		return 1, today
	}

	switch daysDiff := timeutil.DaysBetween(lastActive, today); {
	case daysDiff == 0:
		if current == 0 {
			return 1, today
		}
		return current, today
	case daysDiff == 1:
		return current + 1, today
	case daysDiff < 0:
		return current, timeutil.DateOf(lastActive)
	default:
		return 1, today
	}
}
