package progress

import (
	"time"

	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEAGUES
// ══════════════════════════════════════════════════════════════════════════════

// League - недельный уровень лиги.
type League string

const (
	LeagueBronze  League = "Bronze"
	LeagueSilver  League = "Silver"
	LeagueGold    League = "Gold"
	LeagueDiamond League = "Diamond"
	LeagueMaster  League = "Master"
)

// leagueOrder - от низшей к высшей.
var leagueOrder = []League{LeagueBronze, LeagueSilver, LeagueGold, LeagueDiamond, LeagueMaster}

const (
	// PromotionWeeklyXP - минимум недельного XP для повышения.
	PromotionWeeklyXP = 500
	// RelegationWeeklyXP - ниже этого порога лига понижается.
	RelegationWeeklyXP = 100
)

// Valid проверяет, что лига известна.
func (lg League) Valid() bool {
	return lg.rank() >= 0
}

func (lg League) rank() int {
	for i, v := range leagueOrder {
		if v == lg {
			return i
		}
	}
	return -1
}

// Promote возвращает следующую лигу (Master остаётся Master).
func (lg League) Promote() League {
	r := lg.rank()
	if r < 0 {
		return LeagueBronze
	}
	if r+1 < len(leagueOrder) {
		return leagueOrder[r+1]
	}
	return lg
}

// Demote возвращает предыдущую лигу (Bronze остаётся Bronze).
func (lg League) Demote() League {
	r := lg.rank()
	if r <= 0 {
		return LeagueBronze
	}
	return leagueOrder[r-1]
}

// CloseWeek подводит итоги недели лиги: повышение, понижение или удержание,
// затем обнуление WeeklyXP. Если неделя ledger'а ещё текущая - ничего не меняется,
// второй результат false. Повторный вызов в ту же неделю безопасен.
func CloseWeek(l Ledger, now time.Time) (Ledger, bool) {
	currentWeek := timeutil.StartOfWeek(now)
	if !l.WeekStart.IsZero() && !l.WeekStart.Before(currentWeek) {
		return l, false
	}

	next := l.Clone()
	switch {
	case l.WeeklyXP >= PromotionWeeklyXP:
		next.CurrentLeague = l.CurrentLeague.Promote()
	case l.WeeklyXP < RelegationWeeklyXP:
		next.CurrentLeague = l.CurrentLeague.Demote()
	}
	next.WeeklyXP = 0
	next.WeekStart = currentWeek
	next.UpdatedAt = now.UTC()
	return next, true
}

// Standing - строка недельной таблицы лиги.
type Standing struct {
	AccountID string `json:"accountId"`
	WeeklyXP  int64  `json:"weeklyXp"`
	Rank      int64  `json:"rank"` // с 1
}
