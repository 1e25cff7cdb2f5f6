package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/mastery-engine/internal/domain/catalog"
	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
	"github.com/alem-hub/mastery-engine/internal/domain/sprint"
	"github.com/alem-hub/mastery-engine/pkg/logger"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DAILY SPRINT QUERY
// Ежедневный спринт: до 4 задач. Стабилен в течение календарного дня UTC.
// ══════════════════════════════════════════════════════════════════════════════

// SprintCache - кэш спринтов по аккаунту и дню. Реализация - Redis.
type SprintCache interface {
	Get(ctx context.Context, accountID string, day time.Time) ([]sprint.Item, bool, error)
	Set(ctx context.Context, accountID string, day time.Time, items []sprint.Item) error
}

// GetDailySprintQuery содержит параметры запроса.
type GetDailySprintQuery struct {
	AccountID string
}

// DailySprintView - результат запроса.
type DailySprintView struct {
	AccountID string
	Date      time.Time
	Items     []sprint.Item
	FromCache bool
}

// GetDailySprintHandler обрабатывает запрос.
type GetDailySprintHandler struct {
	ledgers  progress.Repository
	problems catalog.Catalog
	cache    SprintCache
	clock    timeutil.Clock
	log      *logger.Logger
}

// NewGetDailySprintHandler создаёт обработчик. cache может быть nil.
func NewGetDailySprintHandler(ledgers progress.Repository, problems catalog.Catalog, cache SprintCache, clock timeutil.Clock, log *logger.Logger) *GetDailySprintHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &GetDailySprintHandler{
		ledgers:  ledgers,
		problems: problems,
		cache:    cache,
		clock:    clock,
		log:      log.With(logger.Component("daily_sprint")),
	}
}

// Handle выполняет запрос. Ошибки кэша не фатальны: спринт детерминирован
// и его всегда можно пересчитать.
func (h *GetDailySprintHandler) Handle(ctx context.Context, q GetDailySprintQuery) (*DailySprintView, error) {
	if q.AccountID == "" {
		return nil, shared.Validationf("sprint", "GetDailySprint", "accountId is required")
	}

	now := h.clock.Now()
	day := timeutil.DateOf(now)
	view := &DailySprintView{AccountID: q.AccountID, Date: day}

	if h.cache != nil {
		items, ok, err := h.cache.Get(ctx, q.AccountID, day)
		switch {
		case err != nil:
			h.log.Warn("sprint cache read failed", logger.AccountID(q.AccountID), logger.Err(err))
		case ok:
			view.Items, view.FromCache = items, true
			return view, nil
		}
	}

	l, err := h.ledgers.Get(ctx, q.AccountID)
	if err != nil {
		return nil, fmt.Errorf("get_daily_sprint: %w", err)
	}
	problems, err := h.problems.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_daily_sprint: list problems: %w", err)
	}

	view.Items = sprint.Compose(problems, l.SolvedIDs(), sprint.NewDailyRand(q.AccountID, now))

	if h.cache != nil {
		if err := h.cache.Set(ctx, q.AccountID, day, view.Items); err != nil {
			h.log.Warn("sprint cache write failed", logger.AccountID(q.AccountID), logger.Err(err))
		}
	}
	return view, nil
}

// GetLedgerHandler возвращает текущий снимок ledger'а.
type GetLedgerHandler struct {
	ledgers progress.Repository
}

// NewGetLedgerHandler создаёт обработчик.
func NewGetLedgerHandler(ledgers progress.Repository) *GetLedgerHandler {
	return &GetLedgerHandler{ledgers: ledgers}
}

// Handle выполняет запрос.
func (h *GetLedgerHandler) Handle(ctx context.Context, accountID string) (progress.Ledger, error) {
	l, err := h.ledgers.Get(ctx, accountID)
	if err != nil {
		return progress.Ledger{}, fmt.Errorf("get_ledger: %w", err)
	}
	return l, nil
}
