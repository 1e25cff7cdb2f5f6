// Package sprint составляет ежедневный спринт: до четырёх задач, сочетающих
// новые, повторение и задачу повышенной сложности.
package sprint

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/alem-hub/mastery-engine/internal/domain/catalog"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

// Tag - роль задачи в спринте.
type Tag string

const (
	TagNew       Tag = "new"
	TagReview    Tag = "review"
	TagChallenge Tag = "challenge"
)

const (
	newCount = 2

	// MaxItems - максимальный размер спринта.
	MaxItems = 4
)

// Item - задача спринта с тегом.
type Item struct {
	Problem catalog.ProblemSummary `json:"problem"`
	Tag     Tag                    `json:"tag"`
}

// Rand - источник случайности. *rand.Rand удовлетворяет интерфейсу.
type Rand interface {
	IntN(n int) int
}

// Compose выбирает спринт из каталога и множества решённых задач.
//
// Порядок приоритета: 2 новые, 1 на повторение, 1 challenge (advanced из
// нерешённых, иначе любая оставшаяся нерешённая). Если пулы малы, спринт
// просто короче. Ошибок не бывает.
func Compose(problems []catalog.ProblemSummary, solved map[string]struct{}, rng Rand) []Item {
	var unseen, seen []catalog.ProblemSummary
	dedup := make(map[string]struct{}, len(problems))
	for _, p := range problems {
		if _, dup := dedup[p.ID]; dup {
			continue
		}
		dedup[p.ID] = struct{}{}

		if _, ok := solved[p.ID]; ok {
			seen = append(seen, p)
		} else {
			unseen = append(unseen, p)
		}
	}

	chosen := make(map[string]struct{}, MaxItems)
	items := make([]Item, 0, MaxItems)
	take := func(p catalog.ProblemSummary, tag Tag) {
		chosen[p.ID] = struct{}{}
		items = append(items, Item{Problem: p, Tag: tag})
	}

	for _, p := range sample(unseen, newCount, rng) {
		take(p, TagNew)
	}
	for _, p := range sample(seen, 1, rng) {
		take(p, TagReview)
	}

	remaining := exclude(unseen, chosen)
	var advanced []catalog.ProblemSummary
	for _, p := range remaining {
		if p.Difficulty == catalog.DifficultyAdvanced {
			advanced = append(advanced, p)
		}
	}
	pool := advanced
	if len(pool) == 0 {
		pool = remaining
	}
	for _, p := range sample(pool, 1, rng) {
		take(p, TagChallenge)
	}

	return items
}

// sample выбирает до n различных элементов равновероятно (частичный Фишер-Йетс).
func sample(pool []catalog.ProblemSummary, n int, rng Rand) []catalog.ProblemSummary {
	if n > len(pool) {
		n = len(pool)
	}
	if n <= 0 {
		return nil
	}

	cp := make([]catalog.ProblemSummary, len(pool))
	copy(cp, pool)
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(cp)-i)
		cp[i], cp[j] = cp[j], cp[i]
	}
	return cp[:n]
}

func exclude(pool []catalog.ProblemSummary, ids map[string]struct{}) []catalog.ProblemSummary {
	out := make([]catalog.ProblemSummary, 0, len(pool))
	for _, p := range pool {
		if _, ok := ids[p.ID]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// SeedFor - детерминированное зерно для аккаунта и календарного дня UTC:
// в течение дня спринт один и тот же.
func SeedFor(accountID string, now time.Time) uint64 {
	h := fnv.New64a()
	h.Write([]byte(accountID))
	h.Write([]byte{0})
	h.Write([]byte(timeutil.FormatDate(timeutil.DateOf(now))))
	return h.Sum64()
}

// NewDailyRand возвращает генератор для спринта дня.
func NewDailyRand(accountID string, now time.Time) *rand.Rand {
	seed := SeedFor(accountID, now)
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
