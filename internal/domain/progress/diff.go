package progress

import (
	"sort"
	"time"

	"github.com/alem-hub/mastery-engine/internal/domain/shared"
)

// Changes - разница между двумя снимками одного ledger'а.
// Хранилища пишут только её, а не весь агрегат.
type Changes struct {
	NewHistory       []HistoryEntry
	UpsertedMistakes []Mistake
	RemovedMistakes  []string
	NewItems         []string
}

// Diff вычисляет Changes. История только дополняется, поэтому новые записи -
// хвост next.History.
func Diff(prev, next Ledger) Changes {
	var c Changes

	if len(next.History) > len(prev.History) {
		c.NewHistory = next.History[len(prev.History):]
	}

	for id, m := range next.Mistakes {
		if old, ok := prev.Mistakes[id]; !ok || !old.sameAs(m) {
			c.UpsertedMistakes = append(c.UpsertedMistakes, m)
		}
	}
	for id := range prev.Mistakes {
		if _, ok := next.Mistakes[id]; !ok {
			c.RemovedMistakes = append(c.RemovedMistakes, id)
		}
	}
	sort.Slice(c.UpsertedMistakes, func(i, j int) bool {
		return c.UpsertedMistakes[i].ProblemID < c.UpsertedMistakes[j].ProblemID
	})
	sort.Strings(c.RemovedMistakes)

	for _, item := range next.PurchasedItemIDs {
		if !prev.Owns(item) {
			c.NewItems = append(c.NewItems, item)
		}
	}

	return c
}

// Events строит доменные события для перехода prev -> next.
func Events(prev, next Ledger, at time.Time) []shared.Event {
	var events []shared.Event
	c := Diff(prev, next)
	id := next.AccountID

	for _, h := range c.NewHistory {
		events = append(events, shared.NewXPGainedEvent(id, h.ProblemID, h.XPEarned, next.TotalXP, next.WeeklyXP, next.WeekStart, at))
	}
	if next.Level > prev.Level {
		events = append(events, shared.NewLevelUpEvent(id, prev.Level, next.Level, at))
	}
	if next.CurrentStreak != prev.CurrentStreak {
		broken := next.CurrentStreak < prev.CurrentStreak
		events = append(events, shared.NewStreakUpdatedEvent(id, next.CurrentStreak, next.LongestStreak, broken, at))
	}
	for _, m := range c.UpsertedMistakes {
		events = append(events, shared.NewMistakeRegisteredEvent(id, m.ProblemID, m.RetryCount, m.NextRetryAt, at))
	}
	for _, pid := range c.RemovedMistakes {
		events = append(events, shared.NewMistakeResolvedEvent(id, pid, at))
	}
	if len(c.NewItems) == 1 {
		price := prev.XPBalance - next.XPBalance + (next.TotalXP - prev.TotalXP)
		events = append(events, shared.NewItemPurchasedEvent(id, c.NewItems[0], price, next.XPBalance, at))
	}
	if next.CurrentLeague != prev.CurrentLeague {
		events = append(events, shared.NewLeagueChangedEvent(id, string(prev.CurrentLeague), string(next.CurrentLeague), prev.WeeklyXP, at))
	}

	return events
}

func (m Mistake) sameAs(o Mistake) bool {
	return m.ProblemID == o.ProblemID &&
		m.RetryCount == o.RetryCount &&
		m.LastFailedAt.Equal(o.LastFailedAt) &&
		m.NextRetryAt.Equal(o.NextRetryAt)
}
