package progress

import (
	"sort"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// MISTAKE BANK (spaced repetition)
// ══════════════════════════════════════════════════════════════════════════════

// maxIntervalExponent ограничивает интервал 2^12 днями (~11 лет).
const maxIntervalExponent = 12

// Mistake - проваленная задача и момент, когда её можно повторить.
type Mistake struct {
	ProblemID    string    `json:"problemId"`
	RetryCount   int       `json:"retryCount"`
	LastFailedAt time.Time `json:"lastFailedAt"`
	NextRetryAt  time.Time `json:"nextRetryDate"`
}

// IsDue - пора ли повторять задачу.
func (m Mistake) IsDue(now time.Time) bool {
	return !m.NextRetryAt.After(now)
}

// RetryIntervalDays - интервал в днях после retryCount-й ошибки.
// Первая ошибка - 1 день, далее 2^retryCount.
func RetryIntervalDays(retryCount int) int {
	if retryCount <= 1 {
		return 1
	}
	if retryCount > maxIntervalExponent {
		retryCount = maxIntervalExponent
	}
	return 1 << retryCount
}

// RegisterMistake записывает неудачную попытку.
//
// NextRetryAt строго растёт вместе с RetryCount: если новое значение не
// позже предыдущего (запросы пришли не по порядку), оно сдвигается на день
// после предыдущего.
func RegisterMistake(l Ledger, problemID string, now time.Time) (Ledger, error) {
	if problemID == "" {
		return l, errEmpty("RegisterMistake", "problemId")
	}
	now = now.UTC()

	next := l.Clone()
	prev, exists := next.Mistakes[problemID]
	if !exists {
		next.Mistakes[problemID] = Mistake{
			ProblemID:    problemID,
			RetryCount:   1,
			LastFailedAt: now,
			NextRetryAt:  now.AddDate(0, 0, RetryIntervalDays(1)),
		}
		next.UpdatedAt = now
		return next, nil
	}

	anchor := now
	if prev.LastFailedAt.After(anchor) {
		anchor = prev.LastFailedAt
	}

	m := prev
	m.RetryCount++
	m.LastFailedAt = anchor
	m.NextRetryAt = anchor.AddDate(0, 0, RetryIntervalDays(m.RetryCount))
	if !m.NextRetryAt.After(prev.NextRetryAt) {
		m.NextRetryAt = prev.NextRetryAt.AddDate(0, 0, 1)
	}

	next.Mistakes[problemID] = m
	next.UpdatedAt = now
	return next, nil
}

// ResolveMistake удаляет задачу из банка ошибок после правильного решения.
// Отсутствующий problemId - не ошибка.
func ResolveMistake(l Ledger, problemID string) (Ledger, error) {
	if problemID == "" {
		return l, errEmpty("ResolveMistake", "problemId")
	}
	if _, ok := l.Mistakes[problemID]; !ok {
		return l, nil
	}

	next := l.Clone()
	delete(next.Mistakes, problemID)
	return next, nil
}

// DueMistakes возвращает только те записи, которые пора повторять,
// от самых просроченных к менее просроченным.
func DueMistakes(l Ledger, now time.Time) []Mistake {
	due := make([]Mistake, 0, len(l.Mistakes))
	for _, m := range l.Mistakes {
		if m.IsDue(now) {
			due = append(due, m)
		}
	}
	sortMistakes(due)
	return due
}

// MistakeBank возвращает все записи в том же порядке, что и DueMistakes.
func MistakeBank(l Ledger) []Mistake {
	all := make([]Mistake, 0, len(l.Mistakes))
	for _, m := range l.Mistakes {
		all = append(all, m)
	}
	sortMistakes(all)
	return all
}

func sortMistakes(ms []Mistake) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].NextRetryAt.Equal(ms[j].NextRetryAt) {
			return ms[i].ProblemID < ms[j].ProblemID
		}
		return ms[i].NextRetryAt.Before(ms[j].NextRetryAt)
	})
}
