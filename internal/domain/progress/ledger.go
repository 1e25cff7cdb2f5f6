// Package progress содержит агрегат Progress Ledger и чистые функции переходов:
// начисление награды (XP, уровень, серия), банк ошибок (spaced repetition),
// недельные лиги и покупки за XP.
//
// Все переходы принимают снимок и возвращают новый снимок, не изменяя вход.
// Сохранение (атомарное, с проверкой версии) - ответственность вызывающего.
package progress

import (
	"sort"
	"time"

	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONSTANTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// XPPerLevel - порог XP на один уровень.
	XPPerLevel = 1000

	// domainName используется в DomainError.
	domainName = "progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER AGGREGATE
// ══════════════════════════════════════════════════════════════════════════════

// Ledger - авторитетный агрегат прогресса одного аккаунта.
type Ledger struct {
	AccountID string `json:"accountId"`

	// TotalXP - накопленный XP (только растёт).
	TotalXP int `json:"totalXp"`

	// Level - производное значение: TotalXP/1000 + 1.
	Level int `json:"level"`

	CurrentStreak  int `json:"currentStreak"`
	LongestStreak  int `json:"longestStreak"`
	ProblemsSolved int `json:"problemsSolved"`

	// WeeklyXP - XP текущей недели лиги, WeekStart - понедельник этой недели (UTC).
	WeeklyXP      int       `json:"weeklyXp"`
	WeekStart     time.Time `json:"weekStart"`
	CurrentLeague League    `json:"currentLeague"`

	// XPBalance - расходуемый баланс, отдельно от TotalXP.
	XPBalance        int      `json:"xpBalance"`
	TimeSpentMinutes int      `json:"timeSpentMinutes"`
	PurchasedItemIDs []string `json:"purchasedItemIds"`

	// LastActiveDate - календарная дата (полночь UTC). Нулевое значение - активности не было.
	LastActiveDate time.Time `json:"lastActiveDate"`

	History  []HistoryEntry     `json:"history"`
	Mistakes map[string]Mistake `json:"mistakes"`

	// Version - токен оптимистичной блокировки.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HistoryEntry - запись о решённой задаче. История только дополняется.
type HistoryEntry struct {
	ProblemID   string    `json:"problemId"`
	XPEarned    int       `json:"xpEarned"`
	CompletedAt time.Time `json:"completedAt"`
}

// NewLedger создаёт нулевой ledger для нового аккаунта.
func NewLedger(accountID string, now time.Time) Ledger {
	now = now.UTC()
	return Ledger{
		AccountID:        accountID,
		Level:            1,
		CurrentLeague:    LeagueBronze,
		WeekStart:        timeutil.StartOfWeek(now),
		PurchasedItemIDs: []string{},
		History:          []HistoryEntry{},
		Mistakes:         map[string]Mistake{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// LevelFor возвращает уровень для заданного количества XP.
func LevelFor(totalXP int) int {
	if totalXP < 0 {
		totalXP = 0
	}
	return totalXP/XPPerLevel + 1
}

// Clone возвращает глубокую копию, не разделяющую срезы и карты с оригиналом.
func (l Ledger) Clone() Ledger {
	c := l

	c.PurchasedItemIDs = make([]string, len(l.PurchasedItemIDs))
	copy(c.PurchasedItemIDs, l.PurchasedItemIDs)

	c.History = make([]HistoryEntry, len(l.History))
	copy(c.History, l.History)

	c.Mistakes = make(map[string]Mistake, len(l.Mistakes))
	for k, v := range l.Mistakes {
		c.Mistakes[k] = v
	}

	return c
}

// Owns проверяет, куплен ли предмет.
func (l Ledger) Owns(itemID string) bool {
	i := sort.SearchStrings(l.PurchasedItemIDs, itemID)
	return i < len(l.PurchasedItemIDs) && l.PurchasedItemIDs[i] == itemID
}

// SolvedIDs возвращает множество решённых задач, построенное по истории.
func (l Ledger) SolvedIDs() map[string]struct{} {
	solved := make(map[string]struct{}, len(l.History))
	for _, h := range l.History {
		solved[h.ProblemID] = struct{}{}
	}
	return solved
}

// CheckInvariants проверяет инварианты снимка. Используется хранилищами
// перед записью и в тестах.
func (l Ledger) CheckInvariants() error {
	switch {
	case l.AccountID == "":
		return errEmpty("CheckInvariants", "accountId")
	case l.TotalXP < 0 || l.XPBalance < 0 || l.ProblemsSolved < 0 || l.TimeSpentMinutes < 0:
		return errNegative("CheckInvariants", "counters")
	case l.Level != LevelFor(l.TotalXP):
		return errInvariant("level does not match totalXp")
	case l.CurrentStreak < 0 || l.LongestStreak < l.CurrentStreak:
		return errInvariant("longestStreak must be >= currentStreak >= 0")
	case !l.CurrentLeague.Valid():
		return errInvariant("unknown league " + string(l.CurrentLeague))
	}
	return nil
}
