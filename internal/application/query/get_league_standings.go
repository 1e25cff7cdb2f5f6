package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEAGUE STANDINGS QUERY
// Недельная таблица лиги: топ-N по недельному XP и позиция аккаунта.
// Таблица - производная проекция, источник истины - ledger.
// ══════════════════════════════════════════════════════════════════════════════

// LeagueBoard - проекция недельного XP. Реализация - Redis ZSET.
type LeagueBoard interface {
	Top(ctx context.Context, n int, at time.Time) ([]progress.Standing, error)
	Rank(ctx context.Context, accountID string, at time.Time) (progress.Standing, bool, error)
}

// GetLeagueStandingsQuery содержит параметры запроса.
type GetLeagueStandingsQuery struct {
	// AccountID - опционально, для собственной позиции.
	AccountID string

	// Limit - количество записей (по умолчанию 20, максимум 100).
	Limit int
}

// Validate нормализует параметры.
func (q *GetLeagueStandingsQuery) Validate() error {
	if q.Limit < 0 {
		return shared.Validationf("league", "GetLeagueStandings", "limit cannot be negative")
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}

// LeagueStandingsView - результат запроса.
type LeagueStandingsView struct {
	WeekStart time.Time
	Top       []progress.Standing
	// Self - nil, если AccountID не задан или XP на этой неделе нет.
	Self *progress.Standing
}

// GetLeagueStandingsHandler обрабатывает запрос.
type GetLeagueStandingsHandler struct {
	board LeagueBoard
	clock timeutil.Clock
}

// NewGetLeagueStandingsHandler создаёт обработчик.
func NewGetLeagueStandingsHandler(board LeagueBoard, clock timeutil.Clock) *GetLeagueStandingsHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &GetLeagueStandingsHandler{board: board, clock: clock}
}

// Handle выполняет запрос.
func (h *GetLeagueStandingsHandler) Handle(ctx context.Context, q GetLeagueStandingsQuery) (*LeagueStandingsView, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	now := h.clock.Now()
	top, err := h.board.Top(ctx, q.Limit, now)
	if err != nil {
		return nil, fmt.Errorf("get_league_standings: %w", err)
	}

	view := &LeagueStandingsView{WeekStart: timeutil.StartOfWeek(now), Top: top}
	if q.AccountID != "" {
		self, ok, err := h.board.Rank(ctx, q.AccountID, now)
		if err != nil {
			return nil, fmt.Errorf("get_league_standings: %w", err)
		}
		if ok {
			view.Self = &self
		}
	}
	return view, nil
}
