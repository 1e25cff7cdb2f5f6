// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/mastery-engine/internal/domain/catalog"
	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET MISTAKE BANK QUERY
// Банк ошибок аккаунта: задачи, которые нужно повторить, и когда.
// ══════════════════════════════════════════════════════════════════════════════

// GetMistakeBankQuery содержит параметры запроса.
type GetMistakeBankQuery struct {
	AccountID string

	// OnlyDue - вернуть только задачи, которые пора повторять.
	OnlyDue bool
}

// MistakeView - строка банка ошибок.
type MistakeView struct {
	Problem     catalog.ProblemSummary
	RetryCount  int
	NextRetryAt time.Time
	Due         bool
}

// MistakeBankView - результат запроса.
type MistakeBankView struct {
	AccountID string
	Items     []MistakeView

	// ReadyCount - только задачи, которые пора повторять.
	ReadyCount int
	AsOf       time.Time
}

// GetMistakeBankHandler обрабатывает запрос.
type GetMistakeBankHandler struct {
	ledgers  progress.Repository
	problems catalog.Catalog
	clock    timeutil.Clock
}

// NewGetMistakeBankHandler создаёт обработчик.
func NewGetMistakeBankHandler(ledgers progress.Repository, problems catalog.Catalog, clock timeutil.Clock) *GetMistakeBankHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &GetMistakeBankHandler{ledgers: ledgers, problems: problems, clock: clock}
}

// Handle выполняет запрос.
func (h *GetMistakeBankHandler) Handle(ctx context.Context, q GetMistakeBankQuery) (*MistakeBankView, error) {
	if q.AccountID == "" {
		return nil, shared.Validationf("progress", "GetMistakeBank", "accountId is required")
	}

	l, err := h.ledgers.Get(ctx, q.AccountID)
	if err != nil {
		return nil, fmt.Errorf("get_mistake_bank: %w", err)
	}

	now := h.clock.Now()
	entries := progress.MistakeBank(l)
	if q.OnlyDue {
		entries = progress.DueMistakes(l, now)
	}

	ids := make([]string, 0, len(entries))
	for _, m := range entries {
		ids = append(ids, m.ProblemID)
	}
	summaries, err := h.problems.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get_mistake_bank: load problems: %w", err)
	}

	view := &MistakeBankView{
		AccountID: q.AccountID,
		Items:     make([]MistakeView, 0, len(entries)),
		AsOf:      now,
	}
	for _, m := range entries {
		p, ok := summaries[m.ProblemID]
		if !ok {
			// Задачу убрали из каталога - показываем хотя бы id.
			p = catalog.ProblemSummary{ID: m.ProblemID}
		}
		due := m.IsDue(now)
		if due {
			view.ReadyCount++
		}
		view.Items = append(view.Items, MistakeView{
			Problem:     p,
			RetryCount:  m.RetryCount,
			NextRetryAt: m.NextRetryAt,
			Due:         due,
		})
	}

	return view, nil
}
